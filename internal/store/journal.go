package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event is one journaled controller event.
type Event struct {
	Session string          `json:"session_id"`
	Type    string          `json:"type"`
	Phase   string          `json:"phase"`
	Fields  json.RawMessage `json:"fields,omitempty"`
	Time    time.Time       `json:"time"`
}

// Journal persists events in batches from a background goroutine. Append
// never blocks on the database unless the buffer is full.
type Journal struct {
	st    *Store
	log   *slog.Logger
	every time.Duration
	ch    chan Event
	stop  chan struct{}
	done  chan struct{}
}

// NewJournal starts a journal writing to st. Close must be called to
// flush and stop it.
func (s *Store) NewJournal(buffer int, every time.Duration) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	if every <= 0 {
		every = time.Second
	}
	j := &Journal{
		st:    s,
		log:   s.log,
		every: every,
		ch:    make(chan Event, buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go j.loop()
	return j
}

// Append queues e. With a full buffer it falls back to a direct insert.
func (j *Journal) Append(e Event) {
	if e.Time.IsZero() {
		e.Time = j.st.now()
	}
	select {
	case j.ch <- e:
	default:
		j.log.Warn("store: journal buffer full, sync fallback", "session", e.Session, "type", e.Type)
		if err := j.write(context.Background(), []Event{e}); err != nil {
			j.log.Error("store: journal sync fallback", "error", err)
		}
	}
}

// Close drains the buffer and stops the writer.
func (j *Journal) Close() error {
	close(j.stop)
	<-j.done
	return nil
}

func (j *Journal) loop() {
	defer close(j.done)
	ticker := time.NewTicker(j.every)
	defer ticker.Stop()
	batch := make([]Event, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.write(ctx, batch); err != nil {
			j.log.Error("store: journal flush", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= cap(batch) {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stop:
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (j *Journal) write(ctx context.Context, events []Event) error {
	return runTx(ctx, j.st.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO session_events (session_id, type, phase, fields, created_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: journal prepare: %w", err)
		}
		defer stmt.Close()
		for _, e := range events {
			fields := e.Fields
			if len(fields) == 0 {
				fields = json.RawMessage("{}")
			}
			if _, err := stmt.ExecContext(ctx, e.Session, e.Type, e.Phase, string(fields), e.Time.UTC().UnixMilli()); err != nil {
				return fmt.Errorf("store: journal insert: %w", err)
			}
		}
		return nil
	})
}

// Events returns a session's journal in insertion order. limit <= 0 means
// no limit; otherwise the most recent limit events are returned.
func (s *Store) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, type, phase, fields, created_at FROM (
			SELECT * FROM session_events WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var fields string
		var created int64
		if err := rows.Scan(&e.Session, &e.Type, &e.Phase, &fields, &created); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Fields = json.RawMessage(fields)
		e.Time = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
