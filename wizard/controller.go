// Package wizard is the phase controller: it drives one build session
// from the first scan of a page to a hardened extractor and a final run.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/classify"
	"github.com/hazyhaar/scrapewizard/internal/contract"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/guard"
)

// Deps are the collaborators a Controller drives.
type Deps struct {
	Env       Environment
	Analyzer  Analyzer
	Generator Generator
	// Prompter answers gates and suspensions. Nil resolves defaults and
	// cannot wait for a human.
	Prompter Prompter
	// Store persists the session after every transition. Nil disables it.
	Store    SessionStore
	Events   EventSink
	Contract *contract.Contract
	Logger   *slog.Logger
}

// Controller sequences the phases of a session. It is not safe to run two
// sessions on one Controller concurrently: the browser is shared.
type Controller struct {
	cfg        *Config
	env        Environment
	analyzer   Analyzer
	gen        Generator
	prompter   Prompter
	store      SessionStore
	events     EventSink
	contract   *contract.Contract
	policy     gate.Policy
	classifier *classify.Classifier
	log        *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	hints map[string][]string
}

// NewController wires a Controller. cfg may be nil for defaults.
func NewController(cfg *Config, d Deps) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if d.Prompter == nil {
		d.Prompter = gate.Defaults{}
	}
	if d.Events == nil {
		d.Events = Discard{}
	}
	if d.Contract == nil {
		d.Contract = contract.Default()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Controller{
		cfg:        cfg,
		env:        d.Env,
		analyzer:   d.Analyzer,
		gen:        d.Generator,
		prompter:   d.Prompter,
		store:      d.Store,
		events:     d.Events,
		contract:   d.Contract,
		policy:     gate.NewPolicy(cfg.Scanner.HostilityThreshold),
		classifier: classify.New(cfg.Harness.QualityThreshold),
		log:        d.Logger,
		now:        time.Now,
		hints:      make(map[string][]string),
	}
}

// Run advances s until it reaches FINAL_RUN or ABORTED. On error s is left
// at its last committed phase and can be resumed by calling Run again.
func (c *Controller) Run(ctx context.Context, s *Session) error {
	c.log.Info("wizard: run", "session", s.ID, "url", s.URL, "phase", s.Phase)
	for !s.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Step(ctx, s); err != nil {
			c.log.Error("wizard: step failed", "session", s.ID, "phase", s.Phase, "class", ClassOf(err), "error", err)
			return err
		}
	}
	c.log.Info("wizard: done", "session", s.ID, "phase", s.Phase, "outcome", s.Outcome, "reason", s.Reason)
	return nil
}

// Step performs one transition. The phase handler works on a copy; the
// copy replaces s only once it has been saved.
func (c *Controller) Step(ctx context.Context, s *Session) error {
	if s.Phase.Terminal() {
		return fmt.Errorf("wizard: session %s is already %s", s.ID, s.Phase)
	}
	work, err := s.clone()
	if err != nil {
		return err
	}

	from := s.Phase
	next, err := c.handle(ctx, work)
	if err != nil {
		return err
	}
	if !CanTransition(from, next) {
		return fmt.Errorf("wizard: illegal transition %s -> %s", from, next)
	}

	work.Phase = next
	work.UpdatedAt = c.now().UTC()
	if c.store != nil {
		if err := c.store.Save(ctx, work); err != nil {
			return fmt.Errorf("wizard: save session: %w", err)
		}
	}
	*s = *work

	c.log.Info("wizard: transition", "session", s.ID, "from", from, "to", next)
	c.emit(s, EventTransition, map[string]any{"from": string(from), "to": string(next)})
	return nil
}

// AddHints queues column hints for the session's next repair request.
func (c *Controller) AddHints(sessionID string, hints ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hints {
		if h != "" && !slices.Contains(c.hints[sessionID], h) {
			c.hints[sessionID] = append(c.hints[sessionID], h)
		}
	}
}

func (c *Controller) queuedHints(sessionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.hints[sessionID])
}

func (c *Controller) handle(ctx context.Context, s *Session) (Phase, error) {
	switch s.Phase {
	case PhaseInit:
		if _, err := guard.ValidateTarget(s.URL, c.cfg.AllowPrivateHosts); err != nil {
			return "", err
		}
		return PhaseStealthProbe, nil
	case PhaseStealthProbe:
		return c.stealthProbe(ctx, s)
	case PhaseGuidedAccess:
		return c.suspend(ctx, s, gate.SuspendGuided,
			"Sign in or reach the target page in the browser window, then confirm.", PhaseRecon)
	case PhaseRecon:
		return c.recon(ctx, s)
	case PhaseInteractiveSolve:
		return c.suspend(ctx, s, gate.SuspendCaptcha,
			"Solve the challenge in the browser window, then confirm.", PhaseAnalysis)
	case PhaseAnalysis:
		return c.analyze(ctx, s)
	case PhaseUserConfig:
		return c.userConfig(ctx, s)
	case PhaseCodegen:
		return c.codegen(ctx, s)
	case PhaseTest:
		return c.test(ctx, s)
	case PhaseRepair:
		return c.repair(ctx, s)
	case PhaseHardening:
		return c.finish(ctx, s, false)
	}
	return "", fmt.Errorf("wizard: no handler for phase %q", s.Phase)
}

// resolve answers one gate. In CI mode, or with a prompter that cannot
// ask, the default is taken. ok is false when the operator cancelled.
func (c *Controller) resolve(ctx context.Context, s *Session, g gate.Gate) (value string, ok bool, err error) {
	value = g.Default
	if !c.cfg.CI {
		res, err := c.prompter.Resolve(ctx, g)
		switch {
		case errors.Is(err, gate.ErrNonInteractive):
		case err != nil:
			return "", false, err
		case res.Status == gate.Cancelled:
			c.emit(s, EventGate, map[string]any{"gate": g.ID, "value": "cancelled"})
			return "", false, nil
		case res.Status == gate.Resolved && res.Value != "":
			value = res.Value
		}
	}
	c.emit(s, EventGate, map[string]any{"gate": g.ID, "value": value})
	return value, true, nil
}

func (c *Controller) emit(s *Session, typ string, fields map[string]any) {
	c.events.Emit(Event{
		Time:    c.now().UTC(),
		Session: s.ID,
		Type:    typ,
		Phase:   s.Phase,
		Fields:  fields,
	})
}

func scanFields(sp *harvest.ScanProfile) map[string]any {
	return map[string]any{
		"url":        sp.PageURL,
		"hostility":  sp.HostilityScore,
		"vendors":    sp.BotDefenseSignals,
		"sign_in":    sp.SignIn.Detected,
		"captcha":    sp.CaptchaDetected,
		"auth_host":  sp.AuthHeavyHost,
		"api_calls":  len(sp.NetworkCalls),
		"frameworks": sp.FrameworkSignals,
		"stable":     sp.Stable(),
	}
}
