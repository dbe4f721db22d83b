package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/codegen"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/harness"
	"github.com/hazyhaar/scrapewizard/internal/store"
	"github.com/hazyhaar/scrapewizard/sdk/sdktest"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// badSource drops the fixed entry point.
var badSource = strings.Replace(sdktest.CardExtractor, "func Entry()", "func Start()", 1)

func calmProfile() *harvest.ScanProfile {
	return &harvest.ScanProfile{PageURL: "https://shop.test/list", Host: "shop.test"}
}

func goodResult() *harvest.ExecutionResult {
	return &harvest.ExecutionResult{RecordsExtracted: 20, PagesVisited: 1, OutputPaths: []string{"records.jsonl"}}
}

func failResult(diag string) *harvest.ExecutionResult {
	return &harvest.ExecutionResult{ExitStatus: 1, Diagnostics: diag}
}

type execCall struct {
	Target Target
	Src    string
	Opts   harness.RunOptions
}

type fakeEnv struct {
	mu        sync.Mutex
	profiles  []*harvest.ScanProfile
	probeErr  error
	html      string
	results   []*harvest.ExecutionResult
	captured  Target
	probes    []Target
	handovers []Target
	execs     []execCall
}

func (f *fakeEnv) Probe(_ context.Context, t Target) (*harvest.ScanProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, t)
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if len(f.profiles) == 0 {
		return calmProfile(), nil
	}
	p := f.profiles[0]
	if len(f.profiles) > 1 {
		f.profiles = f.profiles[1:]
	}
	return p, nil
}

func (f *fakeEnv) Snapshot(context.Context, Target) (string, error) {
	if f.html == "" {
		return "<html><body><div class=card>x</div></body></html>", nil
	}
	return f.html, nil
}

func (f *fakeEnv) Handover(_ context.Context, t Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handovers = append(f.handovers, t)
	return nil
}

func (f *fakeEnv) Capture(context.Context) (Target, error) {
	return f.captured, nil
}

func (f *fakeEnv) Execute(_ context.Context, t Target, src string, opts harness.RunOptions) (*harvest.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{Target: t, Src: src, Opts: opts})
	if len(f.results) == 0 {
		return goodResult(), nil
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	cp := *r
	return &cp, nil
}

func (f *fakeEnv) Close() error { return nil }

type fakeAnalyzer struct {
	verdict *harvest.Verdict
	err     error
}

func (a *fakeAnalyzer) Analyze(context.Context, string, *harvest.ScanProfile) (*harvest.Verdict, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.verdict != nil {
		return a.verdict, nil
	}
	return &harvest.Verdict{
		Scrapable:  true,
		Confidence: 0.9,
		AvailableFields: []harvest.FieldSpec{
			{Name: "title", SelectorHint: ".title"},
			{Name: "price", SelectorHint: ".price"},
		},
		PaginationStrategy: harvest.PaginationNext,
	}, nil
}

type genReply struct {
	src string
	err error
}

type fakeGenerator struct {
	mu       sync.Mutex
	replies  []genReply
	requests []codegen.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req codegen.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.replies) == 0 {
		return sdktest.CardExtractor, nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.src, r.err
}

type fakePrompter struct {
	mu      sync.Mutex
	answers map[string][]string // gate id -> successive values
	await   gate.Resolution
	asked   []string
	awaited []gate.Suspension
}

func (p *fakePrompter) Resolve(_ context.Context, g gate.Gate) (gate.Resolution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, g.ID)
	vals := p.answers[g.ID]
	if len(vals) == 0 {
		return gate.Resolution{Status: gate.Resolved, Value: g.Default}, nil
	}
	v := vals[0]
	p.answers[g.ID] = vals[1:]
	if v == "cancel" {
		return gate.Resolution{Status: gate.Cancelled}, nil
	}
	return gate.Resolution{Status: gate.Resolved, Value: v}, nil
}

func (p *fakePrompter) Await(_ context.Context, s gate.Suspension) (gate.Resolution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awaited = append(p.awaited, s)
	if p.await.Status == "" {
		return gate.Resolution{Status: gate.Resolved}, nil
	}
	return p.await, nil
}

type fixture struct {
	cfg    *Config
	env    *fakeEnv
	an     *fakeAnalyzer
	gen    *fakeGenerator
	prompt *fakePrompter
	raw    *store.Store
	store  *SQLStore
	ctrl   *Controller
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Output.Dir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	sealer, err := store.NewSealer("test passphrase")
	if err != nil {
		t.Fatal(err)
	}
	raw := store.New(store.OpenMemory(t), sealer, quiet)
	f := &fixture{
		cfg:    cfg,
		env:    &fakeEnv{},
		an:     &fakeAnalyzer{},
		gen:    &fakeGenerator{},
		prompt: &fakePrompter{answers: map[string][]string{}},
		raw:    raw,
		store:  NewSQLStore(raw),
	}
	f.ctrl = f.controller()
	return f
}

func (f *fixture) controller() *Controller {
	return NewController(f.cfg, Deps{
		Env:       f.env,
		Analyzer:  f.an,
		Generator: f.gen,
		Prompter:  f.prompt,
		Store:     f.store,
		Logger:    quiet,
	})
}

// stepUntil steps s until it reaches phase, failing after max steps.
func (f *fixture) stepUntil(t *testing.T, s *Session, phase Phase) {
	t.Helper()
	for i := 0; s.Phase != phase; i++ {
		if i > 40 {
			t.Fatalf("phase %s not reached, stuck at %s", phase, s.Phase)
		}
		if err := f.ctrl.Step(context.Background(), s); err != nil {
			t.Fatalf("step from %s: %v", s.Phase, err)
		}
	}
}

var errBoom = errors.New("boom")
