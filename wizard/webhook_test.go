package wizard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hazyhaar/scrapewizard/internal/guard"
)

func TestWebhookSignsAndFilters(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var got []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, Sign("s3cret", body), r.Header.Get(SignatureHeader))
		var e Event
		assert.NoError(t, json.Unmarshal(body, &e))
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewWebhookSink(WebhookConfig{URL: srv.URL, Secret: "s3cret", AllowPrivate: true}, quiet)
	require.NoError(t, err)

	now := time.Now().UTC()
	w.Emit(Event{Time: now, Session: "s1", Type: EventScan, Phase: PhaseRecon})
	w.Emit(Event{Time: now, Session: "s1", Type: EventTransition, Phase: PhaseAnalysis, Fields: map[string]any{"from": "RECON", "to": "LLM_ANALYSIS"}})
	require.NoError(t, w.Close())
	w.Emit(Event{Session: "s1", Type: EventTransition})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "only transitions are forwarded by default")
	assert.Equal(t, "s1", got[0].Session)
	assert.Equal(t, PhaseAnalysis, got[0].Phase)
	assert.Equal(t, "LLM_ANALYSIS", got[0].Fields["to"])
}

func TestWebhookRejectsPrivateTarget(t *testing.T) {
	_, err := NewWebhookSink(WebhookConfig{URL: "http://127.0.0.1:9/hook"}, quiet)
	assert.ErrorIs(t, err, guard.ErrPrivateHost)

	_, err = NewWebhookSink(WebhookConfig{URL: "ftp://hooks.test/"}, quiet)
	assert.ErrorIs(t, err, guard.ErrUnsafeScheme)
}
