package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
)

// ClickHouseEventStore implements EventStore on an insert-only MergeTree
// table. Ids are assigned at insert time from a monotonic nanosecond counter,
// which keeps concurrent writers (emitters across daemon restarts) safe
// without coordination.
type ClickHouseEventStore struct {
	db     *sql.DB
	table  string
	lastID atomic.Uint64
}

// NewClickHouseEventStore creates ClickHouse-backed event storage.
func NewClickHouseEventStore(db *sql.DB, table string) repository.EventStore {
	return &ClickHouseEventStore{db: db, table: table}
}

func (s *ClickHouseEventStore) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UInt64,
		ts DateTime64(3),
		type String,
		priority String,
		spirit_state String,
		title String,
		content String,
		metadata String,
		created_at DateTime64(3)
	) ENGINE = MergeTree ORDER BY (ts, id)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("init events table: %w", err)
	}
	return nil
}

// nextID returns a strictly increasing id for this process. Nanosecond
// timestamps keep ids unique across processes for all practical purposes.
func (s *ClickHouseEventStore) nextID() uint64 {
	for {
		now := uint64(time.Now().UnixNano())
		last := s.lastID.Load()
		if now <= last {
			now = last + 1
		}
		if s.lastID.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (s *ClickHouseEventStore) Insert(ctx context.Context, e *models.SpiritEvent) error {
	if e == nil {
		return fmt.Errorf("event is nil")
	}

	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}

	e.ID = s.nextID()
	e.CreatedAt = time.Now()
	if e.Timestamp == 0 {
		e.Timestamp = e.CreatedAt.UnixMilli()
	}

	q := fmt.Sprintf("INSERT INTO %s (id, ts, type, priority, spirit_state, title, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		e.ID,
		time.UnixMilli(e.Timestamp),
		string(e.Type),
		string(e.Priority),
		string(e.SpiritState),
		e.Title,
		e.Content,
		meta,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) Recent(ctx context.Context, limit int) ([]*models.SpiritEvent, error) {
	q := fmt.Sprintf("SELECT id, ts, type, priority, spirit_state, title, content, metadata, created_at FROM %s ORDER BY ts DESC, id DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *ClickHouseEventStore) Query(ctx context.Context, from, to time.Time, limit int) ([]*models.SpiritEvent, error) {
	q := fmt.Sprintf("SELECT id, ts, type, priority, spirit_state, title, content, metadata, created_at FROM %s WHERE ts >= ? AND ts <= ? ORDER BY ts DESC, id DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *ClickHouseEventStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	q := fmt.Sprintf("SELECT count() FROM %s", s.table)
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *ClickHouseEventStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseEventStore) Close() error {
	return nil // pool managed by pkg/clickhouse client
}

func scanEvents(rows *sql.Rows) ([]*models.SpiritEvent, error) {
	var events []*models.SpiritEvent
	for rows.Next() {
		var (
			e    models.SpiritEvent
			ts   time.Time
			typ  string
			prio string
			st   string
			meta string
		)
		if err := rows.Scan(&e.ID, &ts, &typ, &prio, &st, &e.Title, &e.Content, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = ts.UnixMilli()
		e.Type = models.EventType(typ)
		e.Priority = models.Priority(prio)
		e.SpiritState = models.SpiritState(st)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				// Metadata is advisory; a bad row must not fail the query.
				e.Metadata = map[string]interface{}{"_raw": meta}
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
