// Package store persists build sessions in SQLite. The session body is
// opaque JSON owned by the caller; storage state is sealed at rest and
// repair attempts are mirrored into their own table for listing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned by Load for an unknown session ID.
var ErrNotFound = errors.New("store: session not found")

// Config configures the store.
type Config struct {
	Path   string       `yaml:"path"`
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Path == "" {
		c.Path = "scrapewizard.db"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Record is one persisted session.
type Record struct {
	ID      string
	URL     string
	Phase   string
	Outcome string
	// Body is the caller's serialised session, storage state excluded.
	Body []byte
	// StorageState is plaintext here; it is sealed before it hits disk.
	StorageState []byte
	Attempts     []Attempt
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Attempt mirrors one numbered repair attempt.
type Attempt struct {
	Number    int
	Kind      string
	Excerpt   string
	Hint      string
	CreatedAt time.Time
}

// Summary is a listing row.
type Summary struct {
	ID        string    `json:"session_id"`
	URL       string    `json:"url"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome,omitempty"`
	Attempts  int       `json:"repair_attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the SQLite session store.
type Store struct {
	db     *sql.DB
	sealer *Sealer
	log    *slog.Logger
	now    func() time.Time
}

// Open opens the database at cfg.Path. sealer may be nil, in which case
// storage state is never written to disk.
func Open(cfg Config, sealer *Sealer) (*Store, error) {
	cfg.defaults()
	db, err := OpenDB(cfg.Path, WithMkdirAll())
	if err != nil {
		return nil, err
	}
	return New(db, sealer, cfg.Logger), nil
}

// New wraps an already opened database. The schema must be applied, which
// OpenDB and OpenMemory do.
func New(db *sql.DB, sealer *Sealer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, sealer: sealer, log: logger, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts the session row and inserts attempts not yet stored.
// Attempts are append-only: an existing number is left untouched.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	var state []byte
	if len(rec.StorageState) > 0 {
		if s.sealer == nil {
			s.log.Warn("store: no sealing key, storage state not persisted", "session", rec.ID, "env", KeyEnv)
		} else {
			sealed, err := s.sealer.Seal(rec.ID, rec.StorageState)
			if err != nil {
				return fmt.Errorf("store: seal: %w", err)
			}
			state = sealed
		}
	}

	now := s.now().UTC()
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, url, phase, outcome, body, storage_state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				url = excluded.url,
				phase = excluded.phase,
				outcome = excluded.outcome,
				body = excluded.body,
				storage_state = COALESCE(excluded.storage_state, sessions.storage_state),
				updated_at = excluded.updated_at`,
			rec.ID, rec.URL, rec.Phase, rec.Outcome, rec.Body, state, now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return fmt.Errorf("store: save session: %w", err)
		}

		for _, a := range rec.Attempts {
			created := a.CreatedAt
			if created.IsZero() {
				created = now
			}
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO repair_attempts (session_id, number, kind, excerpt, hint, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				rec.ID, a.Number, a.Kind, a.Excerpt, a.Hint, created.UnixMilli())
			if err != nil {
				return fmt.Errorf("store: save attempt %d: %w", a.Number, err)
			}
		}
		return nil
	})
}

// Load returns the session with its attempts ordered by number. A storage
// state that cannot be unsealed (key changed) is dropped with a warning;
// the rest of the session is still usable.
func (s *Store) Load(ctx context.Context, id string) (*Record, error) {
	rec := &Record{ID: id}
	var state []byte
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT url, phase, outcome, body, storage_state, created_at, updated_at
		FROM sessions WHERE id = ?`, id).
		Scan(&rec.URL, &rec.Phase, &rec.Outcome, &rec.Body, &state, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()

	if len(state) > 0 {
		switch {
		case s.sealer == nil:
			s.log.Warn("store: sealed storage state present but no key", "session", id)
		default:
			plain, err := s.sealer.Open(id, state)
			if err != nil {
				s.log.Warn("store: storage state dropped", "session", id, "error", err)
			} else {
				rec.StorageState = plain
			}
		}
	}

	rec.Attempts, err = s.attempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) attempts(ctx context.Context, id string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, kind, excerpt, hint, created_at
		FROM repair_attempts WHERE session_id = ? ORDER BY number`, id)
	if err != nil {
		return nil, fmt.Errorf("store: load attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var created int64
		if err := rows.Scan(&a.Number, &a.Kind, &a.Excerpt, &a.Hint, &created); err != nil {
			return nil, fmt.Errorf("store: scan attempt: %w", err)
		}
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// List returns the most recently updated sessions first. limit <= 0
// means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.url, s.phase, s.outcome, s.updated_at,
			(SELECT COUNT(*) FROM repair_attempts a WHERE a.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC, s.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var updated int64
		if err := rows.Scan(&sm.ID, &sm.URL, &sm.Phase, &sm.Outcome, &updated, &sm.Attempts); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		sm.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Delete removes a session, its attempts, and its journal.
func (s *Store) Delete(ctx context.Context, id string) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_events WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("store: delete events: %w", err)
		}
		return nil
	})
}
