package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/pkg/logger"
)

// Config bounds the hub's in-memory view of the stream.
type Config struct {
	HistoryCap       int           // rolling event window kept for init frames
	InitEvents       int           // events sent to a newly connected client
	HeartbeatTimeout time.Duration // silence after which the spirit reads offline
}

// snapshot is the hub's answer to a state query.
type snapshot struct {
	status models.StatusResponse
	events []*models.SpiritEvent
}

// Hub owns the gateway's live state: connected clients, the rolling event
// history, and the last observed spirit state. All mutation happens on the
// Run goroutine; other goroutines talk to it over channels only.
type Hub struct {
	cfg       Config
	broadcast repository.Broadcaster
	metrics   repository.Metrics
	log       *logger.Logger

	register   chan *session
	unregister chan *session
	snapshots  chan chan snapshot

	startedAt time.Time
}

// NewHub creates a gateway hub. Run must be called before Attach or Snapshot.
func NewHub(cfg Config, broadcast repository.Broadcaster, metrics repository.Metrics, log *logger.Logger) *Hub {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	if cfg.InitEvents <= 0 {
		cfg.InitEvents = 10
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 15 * time.Second
	}
	return &Hub{
		cfg:        cfg,
		broadcast:  broadcast,
		metrics:    metrics,
		log:        log,
		register:   make(chan *session),
		unregister: make(chan *session),
		snapshots:  make(chan chan snapshot),
		startedAt:  time.Now(),
	}
}

// Run drives the hub until ctx is cancelled. It subscribes to the broadcast
// channel and fans every event out to connected clients.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.broadcast.Subscribe(ctx)
	if err != nil {
		return err
	}

	clients := make(map[*session]struct{})
	history := make([]*models.SpiritEvent, 0, h.cfg.HistoryCap)
	var lastEvent *models.SpiritEvent
	var lastHeartbeat time.Time
	state := models.StateDormant

	defer func() {
		for s := range clients {
			s.stop()
		}
		h.metrics.SetConnectedClients(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s := <-h.register:
			clients[s] = struct{}{}
			h.metrics.SetConnectedClients(len(clients))

			n := h.cfg.InitEvents
			if n > len(history) {
				n = len(history)
			}
			init := models.StreamFrame{
				Type: "init",
				Data: models.InitPayload{
					Status: h.statusLocked(state, lastHeartbeat, lastEvent, len(clients)),
					Events: append([]*models.SpiritEvent(nil), history[:n]...),
				},
			}
			if payload, err := json.Marshal(init); err == nil {
				s.trySend(payload)
			}

		case s := <-h.unregister:
			if _, ok := clients[s]; ok {
				delete(clients, s)
				s.stop()
				h.metrics.SetConnectedClients(len(clients))
			}

		case reply := <-h.snapshots:
			n := h.cfg.InitEvents
			if n > len(history) {
				n = len(history)
			}
			reply <- snapshot{
				status: h.statusLocked(state, lastHeartbeat, lastEvent, len(clients)),
				events: append([]*models.SpiritEvent(nil), history[:n]...),
			}

		case raw, ok := <-events:
			if !ok {
				return context.Canceled
			}

			var ev models.SpiritEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				// One malformed payload must not wedge the stream.
				h.log.Warn("dropping malformed broadcast payload", logger.Error(err))
				h.metrics.RecordError("gateway_decode")
				continue
			}

			lastEvent = &ev
			if ev.SpiritState.Valid() {
				state = ev.SpiritState
			}
			if ev.Type == models.EventHeartbeat {
				lastHeartbeat = time.Now()
			}

			history = append([]*models.SpiritEvent{&ev}, history...)
			if len(history) > h.cfg.HistoryCap {
				history = history[:h.cfg.HistoryCap]
			}

			frame, err := json.Marshal(models.StreamFrame{Type: "spirit_event", Data: &ev})
			if err != nil {
				continue
			}
			for s := range clients {
				if !s.trySend(frame) {
					delete(clients, s)
					s.stop()
				}
			}
			h.metrics.SetConnectedClients(len(clients))
		}
	}
}

// statusOffline is what the gateway reports when the daemon has gone silent.
// It is a liveness verdict, not a spirit activity phase.
const statusOffline = "offline"

// statusLocked builds a StatusResponse from loop-owned state. Only the Run
// goroutine may call it. Silence is measured from the last heartbeat, or from
// hub start when none has arrived yet, so a daemon that never heartbeats
// cannot read as alive forever. An error state sticks until cleared by a
// newer event.
func (h *Hub) statusLocked(state models.SpiritState, lastHeartbeat time.Time, lastEvent *models.SpiritEvent, clients int) models.StatusResponse {
	st := string(state)
	var hb int64
	since := h.startedAt
	if !lastHeartbeat.IsZero() {
		hb = lastHeartbeat.UnixMilli()
		since = lastHeartbeat
	}
	if state != models.StateError && time.Since(since) > h.cfg.HeartbeatTimeout {
		st = statusOffline
	}
	return models.StatusResponse{
		Status:           st,
		LastHeartbeat:    hb,
		LastEvent:        lastEvent,
		UptimeSeconds:    int64(time.Since(h.startedAt).Seconds()),
		ConnectedClients: clients,
	}
}

// Snapshot returns the current status and recent events, for the status
// endpoint and new stream clients.
func (h *Hub) Snapshot(ctx context.Context) (models.StatusResponse, []*models.SpiritEvent, error) {
	reply := make(chan snapshot, 1)
	select {
	case h.snapshots <- reply:
	case <-ctx.Done():
		return models.StatusResponse{}, nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap.status, snap.events, nil
	case <-ctx.Done():
		return models.StatusResponse{}, nil, ctx.Err()
	}
}

// Attach adopts an upgraded websocket connection. The hub owns the
// connection from here on and closes it when the client misbehaves or the
// hub shuts down.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn) {
	s := newSession(conn, h.log)

	select {
	case h.register <- s:
	case <-ctx.Done():
		_ = conn.Close()
		return
	}

	go s.writePump()
	s.readPump() // blocks until the client goes away

	select {
	case h.unregister <- s:
	case <-ctx.Done():
		s.stop()
	}
}
