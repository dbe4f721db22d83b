// Package harness runs generated extractors against a live page. It owns
// everything an extractor must not touch: waiting between pages, the
// pagination loop, deduplication, null-row filtering, and output.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/contract"
	"github.com/hazyhaar/scrapewizard/sdk"
)

// SampleRows is how many kept records a result carries for review.
const SampleRows = 10

// Config configures the harness.
type Config struct {
	// MaxPagesCap bounds "follow all pages". Default: 50.
	MaxPagesCap int
	// Grace is how long a timed-out run may take to unwind. Default: 2s.
	Grace time.Duration
	// AllowedImports restricts the interpreter. Default: the extractor contract's list.
	AllowedImports []string
	Wait           sdk.WaitOptions
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxPagesCap <= 0 {
		c.MaxPagesCap = 50
	}
	if c.Grace <= 0 {
		c.Grace = 2 * time.Second
	}
	if len(c.AllowedImports) == 0 {
		c.AllowedImports = contract.Default().AllowedImports
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RunOptions configures one run.
type RunOptions struct {
	MaxPages       int // 0 = follow until exhausted, bounded by MaxPagesCap
	RequiredFields []string
	Formats        []string
	OutDir         string
	Timeout        time.Duration
}

// Harness executes artifacts.
type Harness struct {
	cfg Config
}

// New creates a Harness.
func New(cfg Config) *Harness {
	cfg.defaults()
	return &Harness{cfg: cfg}
}

// Run executes src against the page. Failures of the artifact itself are
// reported in the result with a non-zero exit status; the returned error
// is reserved for harness faults such as unwritable output.
func (h *Harness) Run(ctx context.Context, driver sdk.PageDriver, src string, opts RunOptions) (*harvest.ExecutionResult, error) {
	start := time.Now()
	res := &harvest.ExecutionResult{}
	finish := func() *harvest.ExecutionResult {
		res.DurationMillis = time.Since(start).Milliseconds()
		return res
	}

	ext, err := Load(src, h.cfg.AllowedImports)
	if err != nil {
		res.ExitStatus = 1
		res.Diagnostics = err.Error()
		return finish(), nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 || maxPages > h.cfg.MaxPagesCap {
		maxPages = h.cfg.MaxPagesCap
	}

	col := newCollector(opts.RequiredFields)
	page := sdk.NewPage(driver, h.cfg.Wait)
	done := make(chan loopResult, 1)
	go func() {
		pages, err := h.loop(ctx, ext, driver, page, col, maxPages)
		done <- loopResult{pages: pages, err: err}
	}()

	var lr loopResult
	select {
	case lr = <-done:
	case <-ctx.Done():
		select {
		case lr = <-done:
		case <-time.After(h.cfg.Grace):
			h.cfg.Logger.Warn("harness: extractor did not unwind after timeout")
			res.ExitStatus = 1
			res.Diagnostics = fmt.Sprintf("harness: run timed out: %v", ctx.Err())
			return finish(), nil
		}
	}

	res.PagesVisited = lr.pages
	res.RecordsExtracted = len(col.kept)
	res.Skipped = len(col.skips)
	res.MissingFieldRatio = col.ratio()
	res.EmptyFieldCounts = col.empty
	if len(col.kept) > 0 {
		res.Columns = col.columns()
		res.Sample = col.sample(SampleRows)
	}

	switch {
	case lr.err != nil:
		res.ExitStatus = 1
		res.Diagnostics = lr.err.Error()
		return finish(), nil
	case len(col.kept) == 0:
		res.ExitStatus = 1
		res.Diagnostics = "harness: no records extracted"
		return finish(), nil
	}

	paths, err := writeOutputs(opts.OutDir, opts.Formats, col)
	res.OutputPaths = paths
	if err != nil {
		return finish(), err
	}
	h.cfg.Logger.Info("harness: run complete",
		"records", res.RecordsExtracted, "skipped", res.Skipped,
		"pages", res.PagesVisited, "missing_ratio", res.MissingFieldRatio)
	return finish(), nil
}

type loopResult struct {
	pages int
	err   error
}

func (h *Harness) loop(ctx context.Context, ext *Extractor, driver sdk.PageDriver, page *sdk.Page, col *collector, maxPages int) (int, error) {
	b := ext.Binding
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return n - 1, fmt.Errorf("harness: page %d: %w", n, err)
		}
		if err := call("navigate", func() error { return b.Navigate(page) }); err != nil {
			return n - 1, err
		}

		var items []*sdk.Element
		if err := call("get_items", func() (err error) { items, err = b.GetItems(page); return }); err != nil {
			return n - 1, err
		}
		for i, el := range items {
			if err := ctx.Err(); err != nil {
				return n, fmt.Errorf("harness: page %d: %w", n, err)
			}
			var rec sdk.Record
			if err := call("parse_item", func() (err error) { rec, err = b.ParseItem(el); return }); err != nil {
				return n, fmt.Errorf("item %d: %w", i, err)
			}
			if rec != nil {
				col.add(rec, n)
			}
		}

		if ext.Next == nil || n >= maxPages {
			return n, nil
		}
		var sel string
		if err := call("next_page", func() (err error) { sel, err = ext.Next(page); return }); err != nil {
			return n, err
		}
		if sel == "" {
			return n, nil
		}
		if err := driver.Click(sel); err != nil {
			if errors.Is(err, sdk.ErrNotFound) {
				return n, nil
			}
			return n, fmt.Errorf("harness: click next %q: %w", sel, err)
		}
		if err := sdk.WaitStable(page, ""); err != nil && !errors.Is(err, sdk.ErrNotStable) {
			return n, fmt.Errorf("harness: wait after next: %w", err)
		}
		h.cfg.Logger.Debug("harness: next page", "page", n+1, "selector", sel)
	}
}

// call runs one hook and turns a panic into an error.
func call(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", hook, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", hook, err)
	}
	return nil
}
