// Package analysis packages a DOM snapshot and scan profile for the
// analysis service and parses its structured verdict.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/llm"
)

// ErrMalformed marks a verdict that could not be parsed or validated.
// It is distinct from a "not scrapable" verdict.
var ErrMalformed = errors.New("analysis: malformed verdict")

// Config bounds the request size.
type Config struct {
	MaxSnapshotBytes int
	MaxDigestBytes   int
	Logger           *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxSnapshotBytes <= 0 {
		c.MaxSnapshotBytes = 60_000
	}
	if c.MaxDigestBytes <= 0 {
		c.MaxDigestBytes = 8_000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Snapshot is the packaged page content.
type Snapshot struct {
	HTML      string
	Markdown  string
	Truncated bool
}

// Adapter calls the analysis service.
type Adapter struct {
	llm       llm.Completer
	cfg       Config
	policy    *bluemonday.Policy
	converter *converter.Converter
}

// New creates an Adapter.
func New(c llm.Completer, cfg Config) *Adapter {
	cfg.defaults()
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "id", "role", "aria-label", "rel").Globally()
	p.AllowDataAttributes()
	return &Adapter{
		llm:    c,
		cfg:    cfg,
		policy: p,
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Package sanitises the DOM and derives a markdown digest.
func (a *Adapter) Package(html, pageURL string) Snapshot {
	clean := a.policy.Sanitize(html)
	s := Snapshot{}
	s.HTML, s.Truncated = truncate(clean, a.cfg.MaxSnapshotBytes)

	md, err := a.converter.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		a.cfg.Logger.Debug("analysis: markdown digest failed", "error", err)
	} else {
		s.Markdown, _ = truncate(md, a.cfg.MaxDigestBytes)
	}
	return s
}

// Analyze asks the service for a verdict on the current page.
func (a *Adapter) Analyze(ctx context.Context, html string, sp *harvest.ScanProfile) (*harvest.Verdict, error) {
	snap := a.Package(html, sp.PageURL)
	prompt, err := buildPrompt(snap, sp)
	if err != nil {
		return nil, err
	}
	a.cfg.Logger.Debug("analysis: request", "snapshot_bytes", len(snap.HTML), "truncated", snap.Truncated)

	out, err := a.llm.Complete(ctx, llm.Request{System: systemPrompt, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("analysis: service: %w", err)
	}
	return ParseVerdict(out)
}

const systemPrompt = `You analyse web pages for structured data extraction.
Answer with one JSON object and nothing else:
{"scrapable": bool, "confidence": 0..1, "reason": string,
 "available_fields": [{"name": snake_case, "selector_hint": css, "sample": string}],
 "pagination_strategy": "none" | "next_button" | "load_more" | "infinite_scroll" | "url_param",
 "item_selector_hint": css}`

type profileSummary struct {
	URL        string                `json:"url"`
	Stable     bool                  `json:"stable"`
	Mutation   float64               `json:"mutation_rate"`
	Frameworks []string              `json:"frameworks,omitempty"`
	API        []harvest.NetworkCall `json:"api_calls,omitempty"`
	Pagination string                `json:"pagination_hint,omitempty"`
	SPAShell   bool                  `json:"spa_shell"`
}

func buildPrompt(s Snapshot, sp *harvest.ScanProfile) (string, error) {
	calls := sp.NetworkCalls
	if len(calls) > 10 {
		calls = calls[:10]
	}
	summary, err := json.MarshalIndent(profileSummary{
		URL:        sp.PageURL,
		Stable:     sp.Stable(),
		Mutation:   sp.MutationRate,
		Frameworks: sp.FrameworkSignals,
		API:        calls,
		Pagination: sp.PaginationHint,
		SPAShell:   sp.SPAShell,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("analysis: marshal profile: %w", err)
	}

	var b strings.Builder
	b.WriteString("Scan profile:\n")
	b.Write(summary)
	b.WriteString("\n\nReadable digest:\n")
	b.WriteString(s.Markdown)
	b.WriteString("\n\nSanitised DOM")
	if s.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString(":\n")
	b.WriteString(s.HTML)
	return b.String(), nil
}

var strategies = map[string]string{
	"":                harvest.PaginationNone,
	"none":            harvest.PaginationNone,
	"next_button":     harvest.PaginationNext,
	"next":            harvest.PaginationNext,
	"load_more":       harvest.PaginationLoadMore,
	"infinite_scroll": harvest.PaginationInfinite,
	"url_param":       harvest.PaginationURL,
}

// ParseVerdict extracts and validates a verdict from service output.
func ParseVerdict(out string) (*harvest.Verdict, error) {
	raw := llm.ExtractJSON(out)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformed)
	}
	var v harvest.Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %.2f out of range", ErrMalformed, v.Confidence)
	}
	s, ok := strategies[strings.ToLower(strings.TrimSpace(v.PaginationStrategy))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pagination strategy %q", ErrMalformed, v.PaginationStrategy)
	}
	v.PaginationStrategy = s

	seen := map[string]bool{}
	fields := v.AvailableFields[:0]
	for _, f := range v.AvailableFields {
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		fields = append(fields, f)
	}
	v.AvailableFields = fields
	if v.Scrapable && len(v.AvailableFields) == 0 {
		return nil, fmt.Errorf("%w: scrapable verdict without fields", ErrMalformed)
	}
	return &v, nil
}

func truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	return strings.ToValidUTF8(s[:n], ""), true
}
