package wizard

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/scrapewizard/internal/guard"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body, prefixed "sha256=".
const SignatureHeader = "X-Signature-256"

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL    string
	Secret string
	// Types selects the forwarded event types. Default: transition.
	Types        []string
	Timeout      time.Duration // per POST; default 5s
	Buffer       int           // default 64
	AllowPrivate bool
}

// WebhookSink POSTs selected events as JSON from a background goroutine.
// Events are dropped with a warning when the buffer is full.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
	log    *slog.Logger

	ch     chan Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewWebhookSink validates the target and starts the sender.
func NewWebhookSink(cfg WebhookConfig, logger *slog.Logger) (*WebhookSink, error) {
	if _, err := guard.ValidateTarget(cfg.URL, cfg.AllowPrivate); err != nil {
		return nil, fmt.Errorf("wizard: webhook: %w", err)
	}
	if len(cfg.Types) == 0 {
		cfg.Types = []string{EventTransition}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger,
		ch:     make(chan Event, cfg.Buffer),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *WebhookSink) Emit(e Event) {
	if !slices.Contains(w.cfg.Types, e.Type) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- e:
	default:
		w.log.Warn("wizard: webhook buffer full, event dropped", "session", e.Session, "type", e.Type)
	}
}

// Close sends what is queued and stops the sender.
func (w *WebhookSink) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	<-w.done
	w.client.CloseIdleConnections()
	return nil
}

func (w *WebhookSink) loop() {
	defer close(w.done)
	for e := range w.ch {
		if err := w.post(e); err != nil {
			w.log.Warn("wizard: webhook", "session", e.Session, "type", e.Type, "error", err)
		}
	}
}

func (w *WebhookSink) post(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.cfg.Secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
