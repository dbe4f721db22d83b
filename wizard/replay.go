package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/guard"
	"github.com/hazyhaar/scrapewizard/internal/harness"
	"github.com/hazyhaar/scrapewizard/internal/snapshot"
	"github.com/hazyhaar/scrapewizard/sdk"
)

// ErrNoArtifact is returned when a session has no extractor to replay.
var ErrNoArtifact = errors.New("wizard: session has no artifact")

// Replay runs the session's current artifact over saved pages, without a
// browser. Outputs land in <output>/<id>/replay; the session is not
// modified.
func Replay(ctx context.Context, cfg *Config, s *Session, docs []*snapshot.Doc, logger *slog.Logger) (*harvest.ExecutionResult, error) {
	if s.Artifact == nil {
		return nil, ErrNoArtifact
	}
	if logger == nil {
		logger = slog.Default()
	}
	page, err := snapshot.New(docs...)
	if err != nil {
		return nil, err
	}
	dir, err := guard.SafePath(cfg.Output.Dir, s.ID)
	if err != nil {
		return nil, err
	}
	formats := s.Decisions.OutputFormats
	if len(formats) == 0 {
		formats = []string{harvest.FormatJSONL}
	}
	var required []string
	if s.Verdict != nil {
		required = s.Verdict.FieldNames()
	}

	h := harness.New(harness.Config{
		MaxPagesCap: cfg.Harness.MaxPagesCap,
		Wait:        sdk.WaitOptions{Timeout: cfg.Harness.WaitTimeout},
		Logger:      logger,
	})
	res, err := h.Run(ctx, page, s.Artifact.Source, harness.RunOptions{
		MaxPages:       len(docs),
		RequiredFields: required,
		Formats:        formats,
		OutDir:         filepath.Join(dir, "replay"),
		Timeout:        cfg.Harness.TestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("wizard: replay %s: %w", s.ID, err)
	}
	logger.Info("wizard: replay",
		"session", s.ID,
		"version", s.Artifact.Version,
		"exit", res.ExitStatus,
		"records", res.RecordsExtracted,
		"pages", res.PagesVisited,
	)
	return res, nil
}
