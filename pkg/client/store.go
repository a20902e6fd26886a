package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/pkg/logger"
)

// Config bounds the client store's memory and staleness window.
type Config struct {
	HistoryCap int
	StaleAfter time.Duration
}

// Store is the client-side reducer over the event stream: it tracks the
// spirit's asserted state, keeps a bounded most-recent-first history, and
// degrades to dormant when the stream goes silent. Error state is sticky
// until a new event clears it.
type Store struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu          sync.RWMutex
	state       models.SpiritState
	history     []*models.SpiritEvent
	lastEventAt time.Time
	connected   bool
}

// NewStore creates a client store in the dormant state.
func NewStore(cfg Config, log *logger.Logger) *Store {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Second
	}
	return &Store{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		state: models.StateDormant,
	}
}

// ApplyFrame ingests one raw frame from the stream. Unknown or malformed
// frames are logged and skipped.
func (s *Store) ApplyFrame(raw []byte) error {
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.log.Warn("skipping malformed stream frame", logger.Error(err))
		return nil
	}

	switch frame.Type {
	case "init":
		var init models.InitPayload
		if err := json.Unmarshal(frame.Data, &init); err != nil {
			s.log.Warn("skipping malformed init frame", logger.Error(err))
			return nil
		}
		s.applyInit(&init)
	case "spirit_event":
		var ev models.SpiritEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			s.log.Warn("skipping malformed event frame", logger.Error(err))
			return nil
		}
		s.Apply(&ev)
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

func (s *Store) applyInit(init *models.InitPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = s.history[:0]
	for _, ev := range init.Events {
		if len(s.history) >= s.cfg.HistoryCap {
			break
		}
		s.history = append(s.history, ev)
	}
	if st := models.SpiritState(init.Status.Status); st.Valid() {
		s.state = st
	}
	s.lastEventAt = s.now()
}

// Apply folds one event into the store: immediate state transition on a
// differing spiritState, prepend to history, evict oldest over cap.
func (s *Store) Apply(ev *models.SpiritEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.SpiritState.Valid() && ev.SpiritState != s.state {
		s.state = ev.SpiritState
	}
	s.lastEventAt = s.now()

	s.history = append([]*models.SpiritEvent{ev}, s.history...)
	if len(s.history) > s.cfg.HistoryCap {
		s.history = s.history[:s.cfg.HistoryCap]
	}
}

// RunStalenessCheck forces dormant when the stream has been silent past the
// window. Checked at 1 Hz; error state is never overridden by staleness.
func (s *Store) RunStalenessCheck(done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.checkStale()
		}
	}
}

func (s *Store) checkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastEventAt.IsZero() {
		return
	}
	if s.state == models.StateDormant || s.state == models.StateError {
		return
	}
	if s.now().Sub(s.lastEventAt) > s.cfg.StaleAfter {
		s.state = models.StateDormant
	}
}

// State returns the current spirit state as the client sees it.
func (s *Store) State() models.SpiritState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns a copy of the bounded history, most recent first.
func (s *Store) History() []*models.SpiritEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SpiritEvent, len(s.history))
	copy(out, s.history)
	return out
}

// LastEventAt returns when the store last saw any event.
func (s *Store) LastEventAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEventAt
}

// SetConnected records transport liveness, tracked independently of state
// staleness.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// IsConnected reports transport liveness.
func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
