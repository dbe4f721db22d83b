package wizard

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/scrapewizard/internal/store"
)

// SQLStore adapts store.Store to SessionStore.
type SQLStore struct {
	st *store.Store
}

// NewSQLStore wraps st.
func NewSQLStore(st *store.Store) *SQLStore {
	return &SQLStore{st: st}
}

// Save writes the session body, its sealed storage state, and its attempts.
func (s *SQLStore) Save(ctx context.Context, sess *Session) error {
	body, err := sess.Marshal()
	if err != nil {
		return fmt.Errorf("wizard: encode session: %w", err)
	}
	rec := &store.Record{
		ID:           sess.ID,
		URL:          sess.URL,
		Phase:        string(sess.Phase),
		Outcome:      string(sess.Outcome),
		Body:         body,
		StorageState: sess.StorageState,
	}
	for _, a := range sess.Attempts {
		rec.Attempts = append(rec.Attempts, store.Attempt{
			Number:    a.Number,
			Kind:      string(a.Kind),
			Excerpt:   a.Excerpt,
			Hint:      strings.Join(a.Hint, ","),
			CreatedAt: a.At,
		})
	}
	return s.st.Save(ctx, rec)
}

// Load reads a session back, storage state included when it can be unsealed.
func (s *SQLStore) Load(ctx context.Context, id string) (*Session, error) {
	rec, err := s.st.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := UnmarshalSession(rec.Body)
	if err != nil {
		return nil, err
	}
	sess.StorageState = rec.StorageState
	return sess, nil
}

// List returns stored sessions, most recent first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]store.Summary, error) {
	return s.st.List(ctx, limit)
}

// Events returns the session's journal, oldest first.
func (s *SQLStore) Events(ctx context.Context, id string, limit int) ([]store.Event, error) {
	return s.st.Events(ctx, id, limit)
}
