package wizard

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/codegen"
	"github.com/hazyhaar/scrapewizard/internal/contract"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/guard"
	"github.com/hazyhaar/scrapewizard/internal/harness"
	"github.com/hazyhaar/scrapewizard/internal/llm"
)

func (c *Controller) stealthProbe(ctx context.Context, s *Session) (Phase, error) {
	sp, err := c.env.Probe(ctx, Target{URL: s.URL, StorageState: s.StorageState})
	if err != nil {
		return "", fail(EnvironmentFailure, s.Phase, err)
	}
	s.Profile = sp
	c.emit(s, EventScan, scanFields(sp))

	s.AccessMode, s.AccessReasons = c.policy.AccessMode(sp)
	if s.AccessMode == gate.Guided {
		return PhaseGuidedAccess, nil
	}
	return PhaseRecon, nil
}

// suspend hands the browser to a human and waits for the done signal. On
// success the page the human left becomes the session's current page.
func (c *Controller) suspend(ctx context.Context, s *Session, kind, msg string, next Phase) (Phase, error) {
	if c.cfg.CI {
		return "", fail(EnvironmentFailure, s.Phase, fmt.Errorf("%s needs an operator, unavailable in CI mode", kind))
	}
	t := s.Target()
	if err := c.env.Handover(ctx, t); err != nil {
		return "", fail(EnvironmentFailure, s.Phase, err)
	}

	res, err := c.prompter.Await(ctx, gate.Suspension{Kind: kind, URL: t.URL, Message: msg})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fail(EnvironmentFailure, s.Phase, err)
	}
	switch res.Status {
	case gate.Cancelled:
		s.Outcome = OutcomeFailed
		s.Reason = kind + " cancelled by operator"
		return PhaseAborted, nil
	case gate.TimedOut:
		return "", fail(EnvironmentFailure, s.Phase, fmt.Errorf("%s: timed out waiting for operator", kind))
	}

	got, err := c.env.Capture(ctx)
	if err != nil {
		return "", fail(EnvironmentFailure, s.Phase, err)
	}
	if got.URL != "" {
		s.CurrentURL = got.URL
	}
	if len(got.StorageState) > 0 {
		s.StorageState = got.StorageState
	}
	return next, nil
}

func (c *Controller) recon(ctx context.Context, s *Session) (Phase, error) {
	sp, err := c.env.Probe(ctx, s.Target())
	if err != nil {
		return "", fail(EnvironmentFailure, s.Phase, err)
	}
	s.Profile = sp
	c.emit(s, EventScan, scanFields(sp))

	if sp.CaptchaDetected {
		return PhaseInteractiveSolve, nil
	}
	return PhaseAnalysis, nil
}

func (c *Controller) analyze(ctx context.Context, s *Session) (Phase, error) {
	html, err := c.env.Snapshot(ctx, s.Target())
	if err != nil {
		return "", fail(EnvironmentFailure, s.Phase, err)
	}
	v, err := c.analyzer.Analyze(ctx, html, s.Profile)
	if err != nil {
		return "", fail(AnalysisFailure, s.Phase, err)
	}
	s.Verdict = v
	if !v.Scrapable {
		s.Outcome = OutcomeFailed
		s.Reason = "not scrapable: " + v.Reason
		return PhaseAborted, nil
	}
	return PhaseUserConfig, nil
}

func (c *Controller) userConfig(ctx context.Context, s *Session) (Phase, error) {
	ev := c.policy.Evaluate(s.Profile, s.Verdict, s.Decisions)
	for _, g := range ev.Gates {
		value, ok, err := c.resolve(ctx, s, g)
		if err != nil {
			return "", err
		}
		if !ok {
			s.Outcome = OutcomeFailed
			s.Reason = "cancelled at gate " + g.ID
			return PhaseAborted, nil
		}
		if err := gate.Apply(&s.Decisions, g, value); err != nil {
			return "", err
		}
	}
	gate.Finalize(&s.Decisions)
	return PhaseCodegen, nil
}

func (c *Controller) codegen(ctx context.Context, s *Session) (Phase, error) {
	src, err := c.generate(ctx, s, codegen.Request{
		Contract: c.contract,
		Verdict:  s.Verdict,
		Profile:  s.Profile,
	})
	if err != nil {
		return "", err
	}
	c.install(s, src)
	return PhaseTest, nil
}

// generate obtains one artifact that passes the contract. Service failures
// are retried as fresh requests up to MaxGenerationRetries; contract
// violations go back as structural-fix requests up to MaxStructuralFixes.
// Neither touches the repair attempt counter.
func (c *Controller) generate(ctx context.Context, s *Session, req codegen.Request) (string, error) {
	failures, fixes := 0, 0
	for {
		src, err := c.gen.Generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			failures++
			if llm.IsFatal(err) || failures > c.cfg.Codegen.MaxGenerationRetries {
				return "", fail(GenerationFailure, s.Phase, err)
			}
			c.emit(s, EventGenRetry, map[string]any{"retry": failures, "error": err.Error()})
			continue
		}

		cerr := c.contract.Check(src)
		if cerr == nil {
			s.Violations = nil
			return src, nil
		}
		ce, ok := contract.AsError(cerr)
		if !ok {
			return "", fail(GenerationFailure, s.Phase, cerr)
		}
		s.Violations = ce.Violations
		c.emit(s, EventViolation, map[string]any{"violations": len(ce.Violations), "first": ce.Violations[0].String()})

		if fixes >= c.cfg.Codegen.MaxStructuralFixes {
			return "", fail(GenerationFailure, s.Phase, fmt.Errorf("structural fixes exhausted: %w", cerr))
		}
		fixes++
		prior := harvest.NewArtifact(0, src)
		req.Prior = &prior
		req.Violations = ce.Violations
	}
}

func (c *Controller) install(s *Session, src string) {
	version := 1
	if s.Artifact != nil {
		version = s.Artifact.Version + 1
	}
	a := harvest.NewArtifact(version, src)
	s.Artifact = &a
	s.LastResult = nil
}

// sessionDir is where the session's runs and bundle are written.
func (c *Controller) sessionDir(s *Session) (string, error) {
	return guard.SafePath(c.cfg.Output.Dir, s.ID)
}

func (c *Controller) runOptions(s *Session, test bool) (harness.RunOptions, error) {
	dir, err := c.sessionDir(s)
	if err != nil {
		return harness.RunOptions{}, err
	}
	opts := harness.RunOptions{
		MaxPages:       s.Decisions.MaxPages,
		RequiredFields: s.Verdict.FieldNames(),
		Formats:        s.Decisions.OutputFormats,
		OutDir:         dir,
		Timeout:        c.cfg.Harness.RunTimeout,
	}
	if test {
		opts.MaxPages = 1
		opts.OutDir = filepath.Join(dir, "test")
		opts.Timeout = c.cfg.Harness.TestTimeout
	}
	return opts, nil
}

func (c *Controller) execute(ctx context.Context, s *Session, test bool) (*harvest.ExecutionResult, error) {
	if s.Artifact == nil {
		return nil, fmt.Errorf("wizard: %s without an artifact", s.Phase)
	}
	opts, err := c.runOptions(s, test)
	if err != nil {
		return nil, err
	}
	res, err := c.env.Execute(ctx, s.Target(), s.Artifact.Source, opts)
	if err != nil {
		return nil, fail(EnvironmentFailure, s.Phase, err)
	}
	s.LastResult = res
	c.emit(s, EventRun, map[string]any{
		"version": s.Artifact.Version,
		"exit":    res.ExitStatus,
		"records": res.RecordsExtracted,
		"pages":   res.PagesVisited,
		"missing": res.MissingFieldRatio,
		"skipped": res.Skipped,
	})
	return res, nil
}

func (c *Controller) test(ctx context.Context, s *Session) (Phase, error) {
	res, err := c.execute(ctx, s, true)
	if err != nil {
		return "", err
	}
	kind := c.classifier.Classify(res)
	s.LastKind = kind
	if kind == "" {
		return c.review(ctx, s, res)
	}

	class := ExecutionFailure
	if kind == harvest.KindDataQuality {
		class = QualityFailure
	}
	c.emit(s, EventClassified, map[string]any{"kind": string(kind), "class": string(class), "missing": res.MissingFieldRatio})
	return PhaseRepair, nil
}

// review lets the user look at a passing test run before the final run.
func (c *Controller) review(ctx context.Context, s *Session, res *harvest.ExecutionResult) (Phase, error) {
	g := gate.ReviewGate(res)
	value, ok, err := c.resolve(ctx, s, g)
	if err != nil {
		return "", err
	}
	if !ok {
		value = gate.Abort
	}
	switch value {
	case gate.Approve:
		return PhaseHardening, nil
	case gate.FixColumns:
		for _, f := range gate.SparseColumns(res) {
			if !slices.Contains(s.Decisions.ColumnHints, f) {
				s.Decisions.ColumnHints = append(s.Decisions.ColumnHints, f)
			}
		}
		s.LastKind = harvest.KindDataQuality
		c.emit(s, EventClassified, map[string]any{"kind": string(s.LastKind), "class": string(QualityFailure), "missing": res.MissingFieldRatio})
		return PhaseRepair, nil
	case gate.Retry:
		return PhaseCodegen, nil
	default:
		s.Outcome = OutcomeFailed
		s.Reason = "test data rejected at review"
		return PhaseAborted, nil
	}
}

// repair checks the budget before dispatching, so the counter never runs
// past the maximum.
func (c *Controller) repair(ctx context.Context, s *Session) (Phase, error) {
	if s.AttemptCount >= c.cfg.Codegen.MaxRepairAttempts {
		return c.recover(ctx, s)
	}
	if s.LastResult == nil || s.Artifact == nil {
		return "", fmt.Errorf("wizard: repair without a failed run")
	}

	for _, h := range c.queuedHints(s.ID) {
		if !slices.Contains(s.Decisions.ColumnHints, h) {
			s.Decisions.ColumnHints = append(s.Decisions.ColumnHints, h)
		}
	}
	rc := c.classifier.RepairContext(s.LastResult, s.LastKind, s.Decisions.ColumnHints)

	s.AttemptCount++
	s.LastAttempt++
	s.Attempts = append(s.Attempts, RepairAttempt{
		Number:          s.LastAttempt,
		Kind:            s.LastKind,
		Excerpt:         rc.Diagnostics,
		Hint:            rc.EmptyFields,
		ArtifactVersion: s.Artifact.Version,
		At:              c.now().UTC(),
	})
	c.emit(s, EventRepair, map[string]any{"number": s.LastAttempt, "kind": string(s.LastKind), "budget": s.AttemptCount})

	src, err := c.generate(ctx, s, codegen.Request{
		Contract: c.contract,
		Verdict:  s.Verdict,
		Profile:  s.Profile,
		Prior:    s.Artifact,
		Repair:   &rc,
	})
	if err != nil {
		return "", err
	}
	c.install(s, src)
	return PhaseTest, nil
}

func (c *Controller) recover(ctx context.Context, s *Session) (Phase, error) {
	g := gate.RecoveryGate(s.LastKind, s.AttemptCount)
	value, ok, err := c.resolve(ctx, s, g)
	if err != nil {
		return "", err
	}
	if !ok {
		value = gate.Abort
	}
	if err := gate.Apply(&s.Decisions, g, value); err != nil {
		return "", err
	}

	switch value {
	case gate.RetryConfig:
		s.AttemptCount = 0
		gate.Reset(&s.Decisions)
		return PhaseUserConfig, nil
	case gate.AcceptPartial:
		return c.finish(ctx, s, true)
	default:
		s.Outcome = OutcomeFailed
		s.Reason = fmt.Sprintf("repair budget exhausted after %d attempts (last: %s)", s.AttemptCount, s.LastKind)
		return PhaseAborted, nil
	}
}

// finish runs the artifact with the user's pagination decision, writes the
// bundle, and records the outcome.
func (c *Controller) finish(ctx context.Context, s *Session, partial bool) (Phase, error) {
	res, err := c.execute(ctx, s, false)
	if err != nil {
		return "", err
	}

	kind := c.classifier.Classify(res)
	switch {
	case kind == "" && !partial:
		s.Outcome = OutcomeCompleted
	case res.Succeeded() && res.RecordsExtracted > 0:
		s.Outcome = OutcomePartial
	default:
		s.Outcome = OutcomeFailed
		s.Reason = "final run: " + string(kind)
	}
	if kind != "" {
		s.LastKind = kind
	}

	dir, err := c.sessionDir(s)
	if err != nil {
		return "", err
	}
	if err := writeBundle(dir, s); err != nil {
		return "", fail(EnvironmentFailure, s.Phase, err)
	}
	s.BundleDir = dir
	return PhaseFinalRun, nil
}
