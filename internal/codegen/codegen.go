// Package codegen asks the generation service for extractor source and
// pulls exactly one artifact out of its answer.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"log/slog"
	"strings"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/contract"
	"github.com/hazyhaar/scrapewizard/internal/llm"
)

var (
	// ErrNoArtifact means the response holds no Go source.
	ErrNoArtifact = errors.New("codegen: no artifact in response")
	// ErrMultipleArtifacts means the response holds more than one file.
	ErrMultipleArtifacts = errors.New("codegen: more than one artifact in response")
	// ErrIncomplete means the source does not parse as a Go file.
	ErrIncomplete = errors.New("codegen: artifact is not a complete Go file")
)

// Request is one generation, repair, or structural-fix call.
type Request struct {
	Contract   *contract.Contract
	Verdict    *harvest.Verdict
	Profile    *harvest.ScanProfile
	Prior      *harvest.Artifact
	Repair     *harvest.RepairContext
	Violations []contract.Violation
}

// Kind names the request for logs.
func (r *Request) Kind() string {
	switch {
	case len(r.Violations) > 0:
		return "structural_fix"
	case r.Repair != nil:
		return "repair"
	default:
		return "generate"
	}
}

// Generator calls the generation service.
type Generator struct {
	llm llm.Completer
	log *slog.Logger
}

// New creates a Generator.
func New(c llm.Completer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: c, log: logger}
}

// Generate returns the source of one extractor.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if req.Contract == nil {
		req.Contract = contract.Default()
	}
	g.log.Debug("codegen: request", "kind", req.Kind())

	out, err := g.llm.Complete(ctx, llm.Request{
		System: req.Contract.Describe(),
		Prompt: buildPrompt(&req),
	})
	if err != nil {
		return "", fmt.Errorf("codegen: service: %w", err)
	}
	return ExtractArtifact(out)
}

func buildPrompt(req *Request) string {
	var b strings.Builder
	if req.Profile != nil {
		fmt.Fprintf(&b, "Target page: %s\n", req.Profile.PageURL)
		if len(req.Profile.FrameworkSignals) > 0 {
			fmt.Fprintf(&b, "Frameworks: %s (content may render late; wait with sdk.WaitStable)\n",
				strings.Join(req.Profile.FrameworkSignals, ", "))
		}
	}
	if v := req.Verdict; v != nil {
		if v.ItemSelectorHint != "" {
			fmt.Fprintf(&b, "Item selector hint: %s\n", v.ItemSelectorHint)
		}
		fmt.Fprintf(&b, "Pagination: %s\n", v.PaginationStrategy)
		b.WriteString("Fields (record keys must match these names):\n")
		for _, f := range v.AvailableFields {
			fmt.Fprintf(&b, "- %s: selector hint %q", f.Name, f.SelectorHint)
			if f.Sample != "" {
				fmt.Fprintf(&b, ", sample %q", f.Sample)
			}
			b.WriteString("\n")
		}
	}

	if req.Prior != nil && (req.Repair != nil || len(req.Violations) > 0) {
		fmt.Fprintf(&b, "\nPrevious version %d:\n```go\n%s\n```\n", req.Prior.Version, req.Prior.Source)
	}
	if len(req.Violations) > 0 {
		b.WriteString("\nThat version breaks the runtime contract:\n")
		for _, v := range req.Violations {
			fmt.Fprintf(&b, "- %s\n", v)
		}
		b.WriteString("Fix only the structure; keep the extraction logic.\n")
	}
	if rc := req.Repair; rc != nil {
		fmt.Fprintf(&b, "\nThe test run failed (%s):\n%s\n", rc.Kind, rc.Diagnostics)
		if len(rc.EmptyFields) > 0 {
			fmt.Fprintf(&b, "Most often empty: %s. Fix the selectors for these fields.\n", strings.Join(rc.EmptyFields, ", "))
		}
		if len(rc.ColumnHints) > 0 {
			fmt.Fprintf(&b, "User feedback, wrong or missing data in: %s.\n", strings.Join(rc.ColumnHints, ", "))
		}
	}
	b.WriteString("\nReturn the complete file in a single ```go block.")
	return b.String()
}

// ExtractArtifact returns the single Go file in a response.
func ExtractArtifact(out string) (string, error) {
	var candidates []string
	for _, blk := range llm.CodeBlocks(out) {
		if blk.Lang != "" && blk.Lang != "go" && blk.Lang != "golang" {
			continue
		}
		if strings.Contains(blk.Body, "package ") {
			candidates = append(candidates, blk.Body)
		}
	}
	if len(candidates) == 0 {
		if s := strings.TrimSpace(out); strings.HasPrefix(s, "package ") {
			candidates = append(candidates, s)
		}
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoArtifact
	case 1:
	default:
		return "", fmt.Errorf("%w: %d files", ErrMultipleArtifacts, len(candidates))
	}

	src := candidates[0] + "\n"
	if _, err := parser.ParseFile(token.NewFileSet(), "extractor.go", src, parser.SkipObjectResolution); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return src, nil
}
