package llm

import (
	"context"
	"log/slog"
	"time"
)

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (c *RetryConfig) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 20 * time.Second
	}
}

type retrying struct {
	next Completer
	cfg  RetryConfig
	log  *slog.Logger
}

// WithRetry retries transient errors with exponential backoff.
func WithRetry(c Completer, cfg RetryConfig, logger *slog.Logger) Completer {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{next: c, cfg: cfg, log: logger}
}

func (r *retrying) Complete(ctx context.Context, req Request) (string, error) {
	delay := r.cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		var out string
		out, err = r.next.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		if !IsTransient(err) || attempt == r.cfg.MaxAttempts {
			return "", err
		}
		r.log.Warn("llm: transient failure, retrying", "attempt", attempt, "delay", delay, "error", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
	return "", err
}
