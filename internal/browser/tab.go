package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// DefaultNavTimeout bounds a single navigation.
const DefaultNavTimeout = 30 * time.Second

// Tab is one page of the managed browser.
type Tab struct {
	Page *rod.Page
	URL  string

	mgr         *Manager
	stopBlocker func() error
}

// TabOptions configures OpenTab.
type TabOptions struct {
	// Block applies the manager's resource blocking list.
	Block bool
	// NavTimeout bounds the initial navigation. Zero = DefaultNavTimeout.
	NavTimeout time.Duration
}

// OpenTab creates a tab on the running browser and navigates to pageURL.
// Headless tabs get the stealth patches; visible tabs are left untouched
// so a human sees the site as it is.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, opts TabOptions) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.Mode() == ModeHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, URL: pageURL, mgr: mgr}
	if opts.Block && len(mgr.cfg.ResourceBlocking) > 0 {
		t.stopBlocker = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	if pageURL != "" {
		if err := t.Navigate(ctx, pageURL, opts.NavTimeout); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

// Navigate loads pageURL and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, pageURL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultNavTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	t.URL = pageURL
	return nil
}

// HTML returns the current outer HTML of the document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// CurrentURL returns the URL the tab is on now, which may differ from the
// one it was opened with after redirects or operator navigation.
func (t *Tab) CurrentURL() string {
	info, err := t.Page.Info()
	if err != nil || info == nil {
		return t.URL
	}
	return info.URL
}

// Close closes the tab and its request hijacker.
func (t *Tab) Close() error {
	if t.stopBlocker != nil {
		t.stopBlocker()
		t.stopBlocker = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
