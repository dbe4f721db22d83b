package wizard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/browser"
	"github.com/hazyhaar/scrapewizard/internal/harness"
	"github.com/hazyhaar/scrapewizard/internal/scanner"
	"github.com/hazyhaar/scrapewizard/sdk"
)

// Live is the Environment backed by a real Chrome.
type Live struct {
	mgr     *browser.Manager
	scanner *scanner.Scanner
	harness *harness.Harness
	block   bool
	log     *slog.Logger

	tab *browser.Tab
}

// NewLive builds the live environment from configuration.
func NewLive(cfg *Config, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	bcfg := cfg.Browser
	bcfg.Logger = logger
	return &Live{
		mgr: browser.NewManager(bcfg),
		scanner: scanner.New(scanner.Config{
			Window:         cfg.Scanner.Window,
			SampleInterval: cfg.Scanner.SampleInterval,
			Weights:        cfg.Scanner.Weights.Weights(),
			Logger:         logger,
		}),
		harness: harness.New(harness.Config{
			MaxPagesCap: cfg.Harness.MaxPagesCap,
			Wait:        sdk.WaitOptions{Timeout: cfg.Harness.WaitTimeout},
			Logger:      logger,
		}),
		block: cfg.Harness.BlockResources,
		log:   logger,
	}
}

// page returns a tab showing t.
func (l *Live) page(ctx context.Context, t Target, mode browser.Mode) (*browser.Tab, error) {
	tab, load, err := l.prepare(ctx, t, mode)
	if err != nil {
		return nil, err
	}
	if load != nil {
		if err := load(ctx); err != nil {
			l.closeTab()
			return nil, err
		}
	}
	return tab, nil
}

// prepare returns the tab for t. The open tab is reused when it already
// shows t.URL, so a page a human just left is scanned as is; load is nil
// then. Otherwise a blank tab is opened with the cookies set and load
// navigates it.
func (l *Live) prepare(ctx context.Context, t Target, mode browser.Mode) (*browser.Tab, func(context.Context) error, error) {
	if l.tab != nil && l.mgr.Mode() == mode && l.tab.CurrentURL() == t.URL {
		return l.tab, nil, nil
	}
	l.closeTab()

	if _, err := l.mgr.Start(ctx, mode); err != nil {
		return nil, nil, err
	}
	opts := browser.TabOptions{}
	tab, st, err := l.blank(ctx, t, opts)
	if err != nil {
		return nil, nil, err
	}
	l.tab = tab
	return tab, func(ctx context.Context) error { return l.load(ctx, tab, t, st, opts) }, nil
}

// open loads t in a new tab.
func (l *Live) open(ctx context.Context, t Target, opts browser.TabOptions) (*browser.Tab, error) {
	tab, st, err := l.blank(ctx, t, opts)
	if err != nil {
		return nil, err
	}
	if err := l.load(ctx, tab, t, st, opts); err != nil {
		tab.Close()
		return nil, err
	}
	return tab, nil
}

// blank opens an empty tab with t's cookies set, so they go out with the
// first request. The decoded state is returned for load.
func (l *Live) blank(ctx context.Context, t Target, opts browser.TabOptions) (*browser.Tab, *browser.State, error) {
	st, err := browser.DecodeState(t.StorageState)
	if err != nil {
		l.log.Warn("wizard: ignoring unreadable storage state", "error", err)
		st = nil
	}
	tab, err := browser.OpenTab(ctx, l.mgr, "", opts)
	if err != nil {
		return nil, nil, err
	}
	if st != nil && len(st.Cookies) > 0 {
		if err := tab.Restore(ctx, &browser.State{Cookies: st.Cookies}); err != nil {
			tab.Close()
			return nil, nil, err
		}
	}
	return tab, st, nil
}

// load navigates tab to t. Web storage needs the origin loaded, so when
// the state carries any the page is loaded a second time after restoring
// it.
func (l *Live) load(ctx context.Context, tab *browser.Tab, t Target, st *browser.State, opts browser.TabOptions) error {
	if err := tab.Navigate(ctx, t.URL, opts.NavTimeout); err != nil {
		return err
	}
	if st.Empty() || (len(st.Local) == 0 && len(st.Session) == 0) {
		return nil
	}
	if err := tab.Restore(ctx, &browser.State{Local: st.Local, Session: st.Session}); err != nil {
		return err
	}
	return tab.Navigate(ctx, t.URL, opts.NavTimeout)
}

func (l *Live) closeTab() {
	if l.tab != nil {
		l.tab.Close()
		l.tab = nil
	}
}

func (l *Live) currentMode() browser.Mode {
	if l.mgr.Browser() == nil {
		return browser.ModeHeadless
	}
	return l.mgr.Mode()
}

// Probe scans the target page. A fresh tab is navigated inside the scan
// so the document's own response is observed.
func (l *Live) Probe(ctx context.Context, t Target) (*harvest.ScanProfile, error) {
	tab, load, err := l.prepare(ctx, t, l.currentMode())
	if err != nil {
		return nil, err
	}
	sp, err := l.scanner.Scan(ctx, tab.Page, load)
	if err != nil && load != nil {
		l.closeTab()
	}
	return sp, err
}

// Snapshot returns the target's current DOM.
func (l *Live) Snapshot(ctx context.Context, t Target) (string, error) {
	tab, err := l.page(ctx, t, l.currentMode())
	if err != nil {
		return "", err
	}
	return tab.HTML(ctx)
}

// Handover relaunches Chrome visibly on the target.
func (l *Live) Handover(ctx context.Context, t Target) error {
	_, err := l.page(ctx, t, browser.ModeVisible)
	return err
}

// Capture reads the URL and storage state of the human's tab.
func (l *Live) Capture(ctx context.Context) (Target, error) {
	if l.tab == nil {
		return Target{}, fmt.Errorf("wizard: no tab to capture")
	}
	st, err := l.tab.Capture(ctx)
	if err != nil {
		return Target{}, err
	}
	raw, err := st.Encode()
	if err != nil {
		return Target{}, err
	}
	return Target{URL: st.URL, StorageState: raw}, nil
}

// Execute runs src in a dedicated tab that is closed afterwards.
func (l *Live) Execute(ctx context.Context, t Target, src string, opts harness.RunOptions) (*harvest.ExecutionResult, error) {
	if l.mgr.Browser() == nil {
		if _, err := l.mgr.Start(ctx, browser.ModeHeadless); err != nil {
			return nil, err
		}
	}
	tab, err := l.open(ctx, t, browser.TabOptions{Block: l.block})
	if err != nil {
		return nil, err
	}
	defer tab.Close()

	return l.harness.Run(ctx, browser.NewDriver(ctx, tab.Page), src, opts)
}

// Close shuts the browser down.
func (l *Live) Close() error {
	l.closeTab()
	return l.mgr.Close()
}
