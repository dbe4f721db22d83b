package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/llm"
)

const verdictJSON = "```json\n" + `{
  "scrapable": true,
  "confidence": 0.9,
  "reason": "product grid",
  "available_fields": [
    {"name": "title", "selector_hint": ".title", "sample": "Widget"},
    {"name": "price", "selector_hint": ".price"},
    {"name": "title", "selector_hint": "h2"}
  ],
  "pagination_strategy": "next",
}` + "\n```"

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict(verdictJSON)
	require.NoError(t, err)
	assert.True(t, v.Scrapable)
	assert.Equal(t, harvest.PaginationNext, v.PaginationStrategy)
	assert.Equal(t, []string{"title", "price"}, v.FieldNames())
}

func TestParseVerdictMalformed(t *testing.T) {
	tests := []string{
		"I cannot help with that.",
		`{"scrapable": "yes"}`,
		`{"scrapable": true, "confidence": 3}`,
		`{"scrapable": true, "confidence": 0.5, "available_fields": []}`,
		`{"scrapable": false, "pagination_strategy": "teleport"}`,
	}
	for _, in := range tests {
		_, err := ParseVerdict(in)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}

func TestNotScrapableIsNotMalformed(t *testing.T) {
	v, err := ParseVerdict(`{"scrapable": false, "confidence": 0.8, "reason": "login wall"}`)
	require.NoError(t, err)
	assert.False(t, v.Scrapable)
	assert.Equal(t, harvest.PaginationNone, v.PaginationStrategy)
}

func TestPackageSanitises(t *testing.T) {
	a := New(nil, Config{MaxSnapshotBytes: 10_000})
	html := `<html><body><script>alert(1)</script><div class="card" id="c1"><h2 class="title">Widget</h2></div></body></html>`
	s := a.Package(html, "https://shop.test")

	assert.NotContains(t, s.HTML, "<script")
	assert.Contains(t, s.HTML, `class="card"`)
	assert.Contains(t, s.Markdown, "Widget")
	assert.False(t, s.Truncated)
}

func TestPackageTruncates(t *testing.T) {
	a := New(nil, Config{MaxSnapshotBytes: 50})
	s := a.Package("<p>"+strings.Repeat("é", 100)+"</p>", "https://x.test")
	assert.True(t, s.Truncated)
	assert.LessOrEqual(t, len(s.HTML), 50)
}

func TestAnalyze(t *testing.T) {
	var got llm.Request
	c := llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return verdictJSON, nil
	})
	a := New(c, Config{})
	sp := &harvest.ScanProfile{PageURL: "https://shop.test", FrameworkSignals: []string{"react"}}

	v, err := a.Analyze(context.Background(), `<div class="card">x</div>`, sp)
	require.NoError(t, err)
	assert.Len(t, v.AvailableFields, 2)
	assert.Contains(t, got.Prompt, "react")
	assert.Contains(t, got.System, "pagination_strategy")
}

func TestAnalyzeServiceError(t *testing.T) {
	c := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("connection refused")
	})
	_, err := New(c, Config{}).Analyze(context.Background(), "<p>x</p>", &harvest.ScanProfile{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
}
