package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"DeltaSpirit/pkg/logger"
)

// Transport maintains a websocket subscription to the gateway stream and
// feeds every frame into a Store. It reconnects with a fixed delay until the
// context is cancelled.
type Transport struct {
	url            string
	store          *Store
	log            *logger.Logger
	reconnectDelay time.Duration
	pingInterval   time.Duration
}

// NewTransport creates a stream transport for the given gateway URL
// (ws://host:port/spirit/ws).
func NewTransport(url string, store *Store, log *logger.Logger, reconnectDelay, pingInterval time.Duration) *Transport {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Transport{
		url:            url,
		store:          store,
		log:            log,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Run connects and pumps frames until ctx is cancelled. Connection drops are
// absorbed by reconnecting; the store's staleness check covers the gap.
func (t *Transport) Run(ctx context.Context) error {
	for {
		if err := t.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn("stream disconnected, reconnecting",
				logger.String("url", t.url),
				logger.Duration("delay", t.reconnectDelay),
				logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.reconnectDelay):
		}
	}
}

func (t *Transport) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	t.store.SetConnected(true)
	defer t.store.SetConnected(false)
	t.log.Info("stream connected", logger.String("url", t.url))

	// The connection dies with the context; ReadMessage has no ctx of its own.
	go func() {
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if err := t.store.ApplyFrame(raw); err != nil {
			t.log.Warn("unhandled stream frame", logger.Error(err))
		}
	}
}
