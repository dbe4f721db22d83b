// Package browser manages the Chrome instance a session drives: launch in
// headless stealth or visible mode, stealth tabs, storage-state capture,
// and the rod-backed sdk drivers.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode controls how Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota // headless + stealth
	ModeVisible              // visible window for a human operator
)

func (m Mode) String() string {
	if m == ModeVisible {
		return "visible"
	}
	return "headless"
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome.
	RemoteURL string `yaml:"remote"`

	// Bin is an explicit Chrome binary. Empty = rod's managed browser.
	Bin string `yaml:"bin"`

	// ResourceBlocking lists resource types to block during runs
	// (images, fonts, media, stylesheets).
	ResourceBlocking []string `yaml:"resource_blocking"`

	// Xvfb starts a virtual display for visible mode on headless hosts.
	Xvfb        bool   `yaml:"xvfb"`
	XvfbDisplay string `yaml:"xvfb_display"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process at a time. Switching mode relaunches it.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	mode    Mode
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome in the given mode, or connects to the remote one.
// Starting an already running manager in the same mode is a no-op.
func (m *Manager) Start(ctx context.Context, mode Mode) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil && m.mode == mode {
		return m.browser, nil
	}
	if m.browser != nil {
		m.cfg.Logger.Info("browser: switching mode", "from", m.mode, "to", mode)
		m.cleanup()
	}

	b, err := m.launch(ctx, mode)
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.mode = mode
	return b, nil
}

// Browser returns the current handle, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

// Mode returns the mode of the running browser.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context, mode Mode) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		if mode == ModeVisible && m.cfg.Xvfb {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}
		l := launcher.New().Context(ctx)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if mode == ModeVisible {
			l = l.Headless(false)
			if m.cfg.Xvfb {
				l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
			}
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "mode", mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}
