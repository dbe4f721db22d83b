package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestJournalFlushesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, nil)
	j := s.NewJournal(16, time.Hour)
	for i := range 5 {
		j.Append(Event{Session: "sess_a", Type: "transition", Phase: "TEST", Fields: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))})
	}
	j.Append(Event{Session: "sess_b", Type: "scan"})
	require.NoError(t, j.Close())

	ctx := context.Background()
	events, err := s.Events(ctx, "sess_a", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.JSONEq(t, `{"n":0}`, string(events[0].Fields))
	assert.JSONEq(t, `{"n":4}`, string(events[4].Fields))
	assert.True(t, events[0].Time.Before(events[4].Time))

	last, err := s.Events(ctx, "sess_a", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.JSONEq(t, `{"n":3}`, string(last[0].Fields), "limit keeps the most recent, oldest first")

	b, err := s.Events(ctx, "sess_b", 0)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.JSONEq(t, `{}`, string(b[0].Fields))
}

func TestJournalFullBufferWritesThrough(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, nil)
	j := s.NewJournal(1, time.Hour)
	for range 20 {
		j.Append(Event{Session: "sess_a", Type: "run"})
	}
	require.NoError(t, j.Close())

	events, err := s.Events(context.Background(), "sess_a", 0)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestDeleteDropsJournal(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &Record{ID: "sess_a", URL: "https://shop.test", Phase: "INIT", Body: []byte(`{}`)}))

	j := s.NewJournal(4, time.Hour)
	j.Append(Event{Session: "sess_a", Type: "transition"})
	require.NoError(t, j.Close())

	require.NoError(t, s.Delete(ctx, "sess_a"))
	events, err := s.Events(ctx, "sess_a", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
