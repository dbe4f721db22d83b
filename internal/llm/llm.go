// Package llm talks to completion services. Callers depend on Completer
// only; the provider is a startup-time choice.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Request is one completion call.
type Request struct {
	System string
	Prompt string
}

// Completer returns the model's text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string        `yaml:"provider"` // openai | gemini
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float32       `yaml:"temperature"`
	MaxRetries  int           `yaml:"max_retries"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		switch c.Provider {
		case "gemini":
			c.Model = "gemini-2.5-flash"
		default:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New builds the configured provider wrapped with transient-error retry.
func New(ctx context.Context, cfg Config) (Completer, error) {
	cfg.defaults()
	if cfg.APIKey == "" {
		return nil, NewFatalError(fmt.Errorf("llm: %s: missing API key", cfg.Provider))
	}

	var c Completer
	var err error
	switch cfg.Provider {
	case "openai":
		c = newOpenAI(cfg)
	case "gemini":
		c, err = newGemini(ctx, cfg)
	default:
		return nil, NewFatalError(fmt.Errorf("llm: unknown provider %q", cfg.Provider))
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(c, RetryConfig{MaxAttempts: cfg.MaxRetries}, cfg.Logger), nil
}
