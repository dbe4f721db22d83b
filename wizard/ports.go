package wizard

import (
	"context"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/codegen"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/harness"
	"github.com/hazyhaar/scrapewizard/internal/store"
)

// Target is a page plus the credentials needed to reach it.
type Target struct {
	URL          string
	StorageState []byte
}

// Environment is the live browser as seen by the controller. The handle
// is owned by one session at a time; no two calls run concurrently.
type Environment interface {
	// Probe loads the target if it is not already the open page and runs
	// a behavioral scan over it.
	Probe(ctx context.Context, t Target) (*harvest.ScanProfile, error)
	// Snapshot returns the current DOM of the target.
	Snapshot(ctx context.Context, t Target) (string, error)
	// Handover opens the target in a browser a human can operate.
	Handover(ctx context.Context, t Target) error
	// Capture reads the page the human left the browser on.
	Capture(ctx context.Context) (Target, error)
	// Execute runs an artifact against a fresh load of the target.
	Execute(ctx context.Context, t Target, src string, opts harness.RunOptions) (*harvest.ExecutionResult, error)
	Close() error
}

// Analyzer is the extraction analysis adapter.
type Analyzer interface {
	Analyze(ctx context.Context, html string, sp *harvest.ScanProfile) (*harvest.Verdict, error)
}

// Generator is the codegen/repair adapter.
type Generator interface {
	Generate(ctx context.Context, req codegen.Request) (string, error)
}

// Prompter resolves gates and waits for a human at suspension points.
type Prompter interface {
	Resolve(ctx context.Context, g gate.Gate) (gate.Resolution, error)
	Await(ctx context.Context, s gate.Suspension) (gate.Resolution, error)
}

// SessionStore persists sessions between transitions.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, limit int) ([]store.Summary, error)
	Events(ctx context.Context, id string, limit int) ([]store.Event, error)
}
