package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"DeltaSpirit/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

// session is one websocket client. Outbound frames go through a buffered
// channel; a client that cannot keep up gets dropped instead of blocking the
// hub loop.
type session struct {
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func newSession(conn *websocket.Conn, log *logger.Logger) *session {
	return &session{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		log:  log,
		done: make(chan struct{}),
	}
}

// trySend queues a frame without blocking. A false return means the client's
// buffer is full and it should be dropped.
func (s *session) trySend(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.stop()
	}()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames (the stream is one-way) and returns when
// the peer disconnects.
func (s *session) readPump() {
	defer s.stop()

	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket client closed unexpectedly", logger.Error(err))
			}
			return
		}
	}
}
