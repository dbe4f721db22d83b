package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/internal/browser"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/llm"
	"github.com/hazyhaar/scrapewizard/sdk/sdktest"
)

func TestProbeRoutesByHostility(t *testing.T) {
	tests := []struct {
		name    string
		profile *harvest.ScanProfile
		want    Phase
	}{
		{"calm page", &harvest.ScanProfile{HostilityScore: 39}, PhaseRecon},
		{"at threshold", &harvest.ScanProfile{HostilityScore: 40}, PhaseGuidedAccess},
		{"bot defense", &harvest.ScanProfile{HostilityScore: 90, BotDefenseSignals: []string{"cloudflare", "datadome"}}, PhaseGuidedAccess},
		{"auth-heavy host", &harvest.ScanProfile{Host: "www.linkedin.com", AuthHeavyHost: true, HostilityScore: 85}, PhaseGuidedAccess},
		{"sign-in wall", &harvest.ScanProfile{HostilityScore: 25, SignIn: harvest.SignInSignal{Detected: true, Indicators: []string{"password_field"}}}, PhaseGuidedAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.env.profiles = []*harvest.ScanProfile{tt.profile}
			s := NewSession("https://shop.test/list")

			require.NoError(t, f.ctrl.Step(context.Background(), s))
			assert.Equal(t, PhaseStealthProbe, s.Phase)
			require.NoError(t, f.ctrl.Step(context.Background(), s))
			assert.Equal(t, tt.want, s.Phase)
		})
	}
}

func TestThresholdFromConfig(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Scanner.HostilityThreshold = 60 })
	f.env.profiles = []*harvest.ScanProfile{{HostilityScore: 45}}
	s := NewSession("https://shop.test/list")
	f.stepUntil(t, s, PhaseRecon)
	assert.Equal(t, gate.Automatic, s.AccessMode)
}

func TestCIGuidedAccessIsEnvironmentFailure(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CI = true })
	f.env.profiles = []*harvest.ScanProfile{{HostilityScore: 90, BotDefenseSignals: []string{"akamai"}}}
	s := NewSession("https://shop.test/list")

	err := f.ctrl.Run(context.Background(), s)
	require.Error(t, err)
	assert.True(t, IsEnvironmentFailure(err), "got %v", err)
	assert.Equal(t, PhaseGuidedAccess, s.Phase)
	assert.Empty(t, f.prompt.awaited, "CI never waits for a human")
	assert.Empty(t, f.env.handovers)

	stored, err := f.store.Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseGuidedAccess, stored.Phase, "session is resumable")
}

func TestCIInteractiveSolveIsEnvironmentFailure(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CI = true })
	f.env.profiles = []*harvest.ScanProfile{calmProfile(), {CaptchaDetected: true, CaptchaIndicators: []string{"widget:g-recaptcha"}}}
	s := NewSession("https://shop.test/list")

	err := f.ctrl.Run(context.Background(), s)
	assert.True(t, IsEnvironmentFailure(err), "got %v", err)
	assert.Equal(t, PhaseInteractiveSolve, s.Phase)
}

func TestGuidedAccessRescansCurrentPage(t *testing.T) {
	f := newFixture(t, nil)
	f.env.profiles = []*harvest.ScanProfile{{HostilityScore: 85, AuthHeavyHost: true}, calmProfile()}
	state := []byte(`{"url":"https://shop.test/account/orders","cookies":[{"name":"sid","value":"1"}]}`)
	f.env.captured = Target{URL: "https://shop.test/account/orders", StorageState: state}
	s := NewSession("https://shop.test/login")

	f.stepUntil(t, s, PhaseRecon)
	require.Len(t, f.prompt.awaited, 1)
	assert.Equal(t, gate.SuspendGuided, f.prompt.awaited[0].Kind)
	assert.Equal(t, "https://shop.test/login", f.env.handovers[0].URL)
	assert.Equal(t, "https://shop.test/account/orders", s.CurrentURL)
	assert.Equal(t, state, s.StorageState)

	f.stepUntil(t, s, PhaseAnalysis)
	last := f.env.probes[len(f.env.probes)-1]
	assert.Equal(t, "https://shop.test/account/orders", last.URL, "recon scans the current page")
	assert.Equal(t, state, last.StorageState)

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	for _, e := range f.env.execs {
		assert.Equal(t, "https://shop.test/account/orders", e.Target.URL)
		assert.Equal(t, state, e.Target.StorageState)
	}
}

func TestGuidedAccessCancelAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.env.profiles = []*harvest.ScanProfile{{HostilityScore: 50}}
	f.prompt.await = gate.Resolution{Status: gate.Cancelled}
	s := NewSession("https://shop.test/")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseAborted, s.Phase)
	assert.Equal(t, OutcomeFailed, s.Outcome)
	assert.Contains(t, s.Reason, "cancelled")
}

func TestGuidedAccessTimeoutIsResumable(t *testing.T) {
	f := newFixture(t, nil)
	f.env.profiles = []*harvest.ScanProfile{{HostilityScore: 50}}
	f.prompt.await = gate.Resolution{Status: gate.TimedOut}
	s := NewSession("https://shop.test/")

	err := f.ctrl.Run(context.Background(), s)
	assert.True(t, IsEnvironmentFailure(err))
	assert.Equal(t, PhaseGuidedAccess, s.Phase)
}

func TestCaptchaSuspendsThenAnalyses(t *testing.T) {
	f := newFixture(t, nil)
	f.env.profiles = []*harvest.ScanProfile{calmProfile(), {CaptchaDetected: true}}
	f.env.captured = Target{URL: "https://shop.test/list?solved=1", StorageState: []byte(`{"cookies":[]}`)}
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseInteractiveSolve)
	f.stepUntil(t, s, PhaseAnalysis)
	require.Len(t, f.prompt.awaited, 1)
	assert.Equal(t, gate.SuspendCaptcha, f.prompt.awaited[0].Kind)
	assert.Equal(t, "https://shop.test/list?solved=1", s.CurrentURL)
}

func TestEnvironmentFailureLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t, nil)
	s := NewSession("https://shop.test/list")
	f.stepUntil(t, s, PhaseRecon)
	before, err := s.Marshal()
	require.NoError(t, err)

	f.env.probeErr = errors.New("browser: connect: connection refused")
	err = f.ctrl.Step(context.Background(), s)
	assert.True(t, IsEnvironmentFailure(err))

	after, err := s.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	stored, err := f.store.Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseRecon, stored.Phase)
}

func TestAnalysisFailureIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.an.err = errors.New("analysis: malformed verdict")
	s := NewSession("https://shop.test/list")

	err := f.ctrl.Run(context.Background(), s)
	assert.True(t, IsAnalysisFailure(err))
	assert.Equal(t, PhaseAnalysis, s.Phase)
	assert.Empty(t, f.gen.requests, "no codegen after an analysis failure")
}

func TestNotScrapableAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.an.verdict = &harvest.Verdict{Scrapable: false, Confidence: 0.8, Reason: "login wall"}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseAborted, s.Phase)
	assert.Equal(t, OutcomeFailed, s.Outcome)
	assert.Contains(t, s.Reason, "login wall")
}

func TestUserConfigGates(t *testing.T) {
	f := newFixture(t, nil)
	f.prompt.answers[gate.OutputFormat] = []string{"jsonl+csv+json"}
	f.prompt.answers[gate.Pagination] = []string{"all"}
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseCodegen)
	assert.Equal(t, []string{gate.OutputFormat, gate.Pagination}, f.prompt.asked)
	assert.Equal(t, []string{"jsonl", "csv", "json"}, s.Decisions.OutputFormats)
	assert.Equal(t, 0, s.Decisions.MaxPages)

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	require.Len(t, f.env.execs, 2)
	assert.Equal(t, 1, f.env.execs[0].Opts.MaxPages, "test run is one page")
	assert.Equal(t, f.cfg.Harness.TestTimeout, f.env.execs[0].Opts.Timeout)
	assert.Equal(t, 0, f.env.execs[1].Opts.MaxPages, "final run follows the decision")
	assert.Equal(t, f.cfg.Harness.RunTimeout, f.env.execs[1].Opts.Timeout)
	assert.Equal(t, []string{"title", "price"}, f.env.execs[1].Opts.RequiredFields)
}

func TestUserConfigCancelAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.prompt.answers[gate.OutputFormat] = []string{"cancel"}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseAborted, s.Phase)
	assert.Equal(t, OutcomeFailed, s.Outcome)
	assert.Equal(t, "cancelled at gate "+gate.OutputFormat, s.Reason)
	assert.Empty(t, f.gen.requests)
}

func sparseResult() *harvest.ExecutionResult {
	return &harvest.ExecutionResult{
		RecordsExtracted:  10,
		PagesVisited:      1,
		MissingFieldRatio: 0.08,
		EmptyFieldCounts:  map[string]int{"price": 8},
	}
}

func TestReviewFixColumnsRepairsWithHints(t *testing.T) {
	f := newFixture(t, nil)
	f.env.results = []*harvest.ExecutionResult{sparseResult(), goodResult()}
	f.prompt.answers[gate.Review] = []string{gate.FixColumns, gate.Approve}
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseTest)
	require.NoError(t, f.ctrl.Step(context.Background(), s))
	assert.Equal(t, PhaseRepair, s.Phase)
	assert.Equal(t, harvest.KindDataQuality, s.LastKind)
	assert.Equal(t, []string{"price"}, s.Decisions.ColumnHints)

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	assert.Equal(t, OutcomeCompleted, s.Outcome)
	require.Len(t, f.gen.requests, 2)
	rc := f.gen.requests[1].Repair
	require.NotNil(t, rc)
	assert.Equal(t, harvest.KindDataQuality, rc.Kind)
	assert.Equal(t, []string{"price"}, rc.ColumnHints)
	assert.Equal(t, []string{"price"}, rc.EmptyFields)
	require.Len(t, s.Attempts, 1)
	assert.Equal(t, 1, s.AttemptCount)
}

func TestReviewRetryRegenerates(t *testing.T) {
	f := newFixture(t, nil)
	f.prompt.answers[gate.Review] = []string{gate.Retry, gate.Approve}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	require.Len(t, f.gen.requests, 2)
	assert.Nil(t, f.gen.requests[1].Repair, "retry is a fresh generation")
	assert.Equal(t, 2, s.Artifact.Version)
	assert.Zero(t, s.AttemptCount)
}

func TestReviewAbortFails(t *testing.T) {
	for _, answer := range []string{gate.Abort, "cancel"} {
		t.Run(answer, func(t *testing.T) {
			f := newFixture(t, nil)
			f.prompt.answers[gate.Review] = []string{answer}
			s := NewSession("https://shop.test/list")

			require.NoError(t, f.ctrl.Run(context.Background(), s))
			assert.Equal(t, PhaseAborted, s.Phase)
			assert.Equal(t, OutcomeFailed, s.Outcome)
			assert.Contains(t, s.Reason, "review")
			assert.Len(t, f.env.execs, 1, "no final run")
		})
	}
}

func TestCIApprovesReview(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CI = true })
	f.env.results = []*harvest.ExecutionResult{sparseResult()}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	assert.NotContains(t, f.prompt.asked, gate.Review)
	assert.Empty(t, s.Decisions.ColumnHints)
}

func TestCIResolvesDefaults(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CI = true })
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseCodegen)
	assert.Empty(t, f.prompt.asked, "CI never prompts")
	assert.Equal(t, []string{"jsonl", "csv"}, s.Decisions.OutputFormats)
	assert.Equal(t, 5, s.Decisions.MaxPages)
}

func TestContractViolationSkipsRepairBudget(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.replies = []genReply{{src: badSource}, {src: sdktest.CardExtractor}}
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseTest)
	assert.Zero(t, s.AttemptCount)
	assert.Empty(t, s.Attempts)
	assert.Empty(t, s.Violations)
	assert.Equal(t, 1, s.Artifact.Version)
	assert.Equal(t, sdktest.CardExtractor, s.Artifact.Source)

	require.Len(t, f.gen.requests, 2)
	fix := f.gen.requests[1]
	assert.Equal(t, "structural_fix", fix.Kind())
	assert.NotEmpty(t, fix.Violations)
	assert.Equal(t, badSource, fix.Prior.Source)
}

func TestStructuralFixesExhausted(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Codegen.MaxStructuralFixes = 1 })
	f.gen.replies = []genReply{{src: badSource}, {src: badSource}, {src: sdktest.CardExtractor}}
	s := NewSession("https://shop.test/list")

	err := f.ctrl.Run(context.Background(), s)
	assert.True(t, IsGenerationFailure(err), "got %v", err)
	assert.Equal(t, PhaseCodegen, s.Phase)
	assert.Len(t, f.gen.requests, 2)
	assert.Zero(t, s.AttemptCount)
}

func TestGenerationFailureRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.replies = []genReply{
		{err: llm.NewTransientError(errBoom)},
		{err: errors.New("codegen: no artifact in response")},
		{src: sdktest.CardExtractor},
	}
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseTest)
	assert.Len(t, f.gen.requests, 3)
	for _, r := range f.gen.requests {
		assert.Equal(t, "generate", r.Kind(), "retries are fresh requests")
	}
}

func TestGenerationFailureCap(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.replies = []genReply{{err: errBoom}, {err: errBoom}, {err: errBoom}, {src: sdktest.CardExtractor}}
	s := NewSession("https://shop.test/list")

	err := f.ctrl.Run(context.Background(), s)
	assert.True(t, IsGenerationFailure(err))
	assert.Len(t, f.gen.requests, 1+f.cfg.Codegen.MaxGenerationRetries)
	assert.Equal(t, PhaseCodegen, s.Phase)
}

func TestFatalGenerationErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.replies = []genReply{{err: llm.NewFatalError(errors.New("401 invalid api key"))}}
	s := NewSession("https://shop.test/list")

	err := f.ctrl.Run(context.Background(), s)
	assert.True(t, IsGenerationFailure(err))
	assert.Len(t, f.gen.requests, 1)
}

func TestRepairBudgetOpensRecoveryGate(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CI = true })
	f.env.results = []*harvest.ExecutionResult{failResult("sdk: selector not found: .card")}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseAborted, s.Phase)
	assert.Equal(t, OutcomeFailed, s.Outcome)
	assert.Equal(t, gate.Abort, s.Decisions.Recovery, "CI takes the recovery default")

	require.Len(t, s.Attempts, 3)
	for i, a := range s.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, harvest.KindSelectorNotFound, a.Kind)
		assert.Equal(t, i+1, a.ArtifactVersion)
	}
	assert.Equal(t, 3, s.AttemptCount)
	assert.Len(t, f.gen.requests, 4, "one generation plus three repairs, no fourth")
	assert.Len(t, f.env.execs, 4)
	for _, r := range f.gen.requests[1:] {
		assert.Equal(t, "repair", r.Kind())
		assert.Equal(t, harvest.KindSelectorNotFound, r.Repair.Kind)
	}

	stored, err := f.store.Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Attempts, 3)
}

func TestRetryConfigResetsBudgetKeepsNumbering(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Codegen.MaxRepairAttempts = 1 })
	f.env.results = []*harvest.ExecutionResult{failResult("context deadline exceeded")}
	f.prompt.answers[gate.Recovery] = []string{gate.RetryConfig, gate.Abort}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseAborted, s.Phase)

	require.Len(t, s.Attempts, 2)
	assert.Equal(t, 1, s.Attempts[0].Number)
	assert.Equal(t, 2, s.Attempts[1].Number)
	assert.Equal(t, harvest.KindTimeout, s.Attempts[1].Kind)
	assert.Equal(t, 1, s.AttemptCount)
	assert.Equal(t, 2, s.LastAttempt)

	outputAsked := 0
	for _, id := range f.prompt.asked {
		if id == gate.OutputFormat {
			outputAsked++
		}
	}
	assert.Equal(t, 2, outputAsked, "retry_config asks the config gates again")
}

func TestContractViolationDuringRepairKeepsCounter(t *testing.T) {
	f := newFixture(t, nil)
	f.env.results = []*harvest.ExecutionResult{failResult("sdk: selector not found: .card"), goodResult()}
	f.gen.replies = []genReply{{src: sdktest.CardExtractor}, {src: badSource}, {src: sdktest.CardExtractor}}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	assert.Equal(t, 1, s.AttemptCount)
	assert.Len(t, s.Attempts, 1)
	require.Len(t, f.gen.requests, 3)
	assert.Equal(t, "structural_fix", f.gen.requests[2].Kind())
	assert.NotNil(t, f.gen.requests[2].Repair, "structural fix keeps the repair context")
}

func TestQualityFirewall(t *testing.T) {
	f := newFixture(t, nil)
	sparse := &harvest.ExecutionResult{
		RecordsExtracted:  100,
		MissingFieldRatio: 0.85,
		EmptyFieldCounts:  map[string]int{"price": 85, "title": 2},
	}
	f.env.results = []*harvest.ExecutionResult{sparse, goodResult()}
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseTest)
	require.NoError(t, f.ctrl.Step(context.Background(), s))
	assert.Equal(t, PhaseRepair, s.Phase, "exit 0 is not enough")
	assert.Equal(t, harvest.KindDataQuality, s.LastKind)

	require.NoError(t, f.ctrl.Step(context.Background(), s))
	require.Len(t, s.Attempts, 1)
	assert.Equal(t, []string{"price", "title"}, s.Attempts[0].Hint)
	rc := f.gen.requests[len(f.gen.requests)-1].Repair
	require.NotNil(t, rc)
	assert.Equal(t, harvest.KindDataQuality, rc.Kind)
	assert.Equal(t, []string{"price", "title"}, rc.EmptyFields)

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	assert.Equal(t, OutcomeCompleted, s.Outcome)
}

func TestColumnHintsReachRepair(t *testing.T) {
	f := newFixture(t, nil)
	f.env.results = []*harvest.ExecutionResult{failResult("sdk: selector not found: .price"), goodResult()}
	s := NewSession("https://shop.test/list")

	f.stepUntil(t, s, PhaseRepair)
	f.ctrl.AddHints(s.ID, "price is in span.amount", "price is in span.amount")
	require.NoError(t, f.ctrl.Step(context.Background(), s))

	rc := f.gen.requests[len(f.gen.requests)-1].Repair
	assert.Equal(t, []string{"price is in span.amount"}, rc.ColumnHints)
	assert.Equal(t, []string{"price is in span.amount"}, s.Decisions.ColumnHints)
}

func TestAcceptPartial(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Codegen.MaxRepairAttempts = 1 })
	sparse := &harvest.ExecutionResult{RecordsExtracted: 10, MissingFieldRatio: 0.5, EmptyFieldCounts: map[string]int{"price": 5}}
	f.env.results = []*harvest.ExecutionResult{sparse}
	f.prompt.answers[gate.Recovery] = []string{gate.AcceptPartial}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	assert.Equal(t, OutcomePartial, s.Outcome)
	assert.Equal(t, gate.AcceptPartial, s.Decisions.Recovery)

	m, err := ReadManifest(s.BundleDir)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, m.Outcome)
}

func TestHardeningWritesBundle(t *testing.T) {
	f := newFixture(t, nil)
	final := goodResult()
	final.Columns = []string{"title", "price"}
	final.Sample = []map[string]string{
		{"title": "Widget", "price": "9.99"},
		{"title": "<b>Gadget</b>", "price": ""},
	}
	f.env.results = []*harvest.ExecutionResult{goodResult(), final}
	s := NewSession("https://shop.test/list")

	require.NoError(t, f.ctrl.Run(context.Background(), s))
	assert.Equal(t, PhaseFinalRun, s.Phase)
	assert.Equal(t, OutcomeCompleted, s.Outcome)
	assert.Equal(t, filepath.Join(f.cfg.Output.Dir, s.ID), s.BundleDir)

	src, err := os.ReadFile(filepath.Join(s.BundleDir, "extractor.go"))
	require.NoError(t, err)
	assert.Equal(t, sdktest.CardExtractor, string(src))

	m, err := ReadManifest(s.BundleDir)
	require.NoError(t, err)
	assert.Equal(t, s.ID, m.SessionID)
	assert.Equal(t, s.Artifact.Hash, m.Artifact.Hash)
	assert.Equal(t, []string{"jsonl", "csv"}, m.Decisions.OutputFormats)
	assert.Len(t, m.Fields, 2)

	report, err := os.ReadFile(filepath.Join(s.BundleDir, "report.html"))
	require.NoError(t, err)
	html := string(report)
	assert.Contains(t, html, "https://shop.test/list")
	assert.Contains(t, html, m.WrittenAt.Format(time.RFC3339))
	assert.Contains(t, html, "20 rows from 1 pages")
	assert.Contains(t, html, "<th>title</th><th>price</th>")
	assert.Contains(t, html, "<td>Widget</td><td>9.99</td>")
	assert.Contains(t, html, "&lt;b&gt;Gadget&lt;/b&gt;", "cell values are escaped")
	assert.NotContains(t, html, "<b>Gadget")

	assert.Equal(t, filepath.Join(s.BundleDir, "test"), f.env.execs[0].Opts.OutDir)
	assert.Equal(t, s.BundleDir, f.env.execs[1].Opts.OutDir)

	err = f.ctrl.Step(context.Background(), s)
	assert.Error(t, err, "terminal sessions do not step")
}

func TestSessionRoundTripResumes(t *testing.T) {
	phases := []Phase{
		PhaseStealthProbe, PhaseGuidedAccess, PhaseRecon, PhaseInteractiveSolve, PhaseAnalysis,
		PhaseUserConfig, PhaseCodegen, PhaseTest, PhaseRepair, PhaseHardening,
	}
	for _, stop := range phases {
		t.Run(string(stop), func(t *testing.T) {
			f := newFixture(t, nil)
			f.env.profiles = []*harvest.ScanProfile{
				{HostilityScore: 85, BotDefenseSignals: []string{"datadome"}},
				{CaptchaDetected: true, CaptchaIndicators: []string{"widget:h-captcha"}},
				calmProfile(),
			}
			f.env.captured = Target{URL: "https://shop.test/list?page=1"}
			f.env.results = []*harvest.ExecutionResult{failResult("sdk: selector not found: .card"), goodResult()}
			f.prompt.answers[gate.Pagination] = []string{"10"}
			s := NewSession("https://shop.test/list")
			s.StorageState = []byte(`{"cookies":[{"name":"sid","value":"x"}]}`)
			f.stepUntil(t, s, stop)

			loaded, err := f.store.Load(context.Background(), s.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(s, loaded, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}

			resumed := f.controller()
			require.NoError(t, resumed.Run(context.Background(), loaded))
			assert.Equal(t, PhaseFinalRun, loaded.Phase)
			assert.Equal(t, OutcomeCompleted, loaded.Outcome)
			assert.Equal(t, 10, loaded.Decisions.MaxPages)
			assert.Equal(t, "https://shop.test/list?page=1", loaded.CurrentURL)
			require.Len(t, f.prompt.awaited, 2, "each suspension is awaited once")
			assert.Equal(t, gate.SuspendGuided, f.prompt.awaited[0].Kind)
			assert.Equal(t, gate.SuspendCaptcha, f.prompt.awaited[1].Kind)
		})
	}
}

func TestSessionMarshalOmitsStorageState(t *testing.T) {
	s := NewSession("https://shop.test/")
	s.StorageState = []byte("secret-cookie")
	b, err := s.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret-cookie")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "INIT", raw["phase"])

	_, err = UnmarshalSession([]byte(`{"phase":"NOPE"}`))
	assert.Error(t, err)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSession("https://shop.test/")
	assert.ErrorIs(t, f.ctrl.Run(ctx, s), context.Canceled)
	assert.Equal(t, PhaseInit, s.Phase)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(PhaseStealthProbe, PhaseGuidedAccess))
	assert.True(t, CanTransition(PhaseRepair, PhaseUserConfig))
	assert.True(t, CanTransition(PhaseTest, PhaseRepair))
	assert.True(t, CanTransition(PhaseTest, PhaseCodegen))
	assert.False(t, CanTransition(PhaseStealthProbe, PhaseAnalysis))
	assert.False(t, CanTransition(PhaseRepair, PhaseRepair))
	assert.False(t, CanTransition(PhaseFinalRun, PhaseTest))
	assert.True(t, PhaseAborted.Valid())
	assert.False(t, Phase("NOPE").Valid())
}

func TestStorageStateSurvivesStoreWithBrowserShape(t *testing.T) {
	f := newFixture(t, nil)
	st := &browser.State{URL: "https://shop.test/", Cookies: []browser.Cookie{{Name: "sid", Value: "abc", Domain: "shop.test", Path: "/"}}}
	raw, err := st.Encode()
	require.NoError(t, err)

	s := NewSession("https://shop.test/")
	s.StorageState = raw
	require.NoError(t, f.ctrl.Step(context.Background(), s))

	loaded, err := f.store.Load(context.Background(), s.ID)
	require.NoError(t, err)
	got, err := browser.DecodeState(loaded.StorageState)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestInitRejectsUnsafeTargets(t *testing.T) {
	f := newFixture(t, nil)
	for _, u := range []string{"file:///etc/passwd", "http://127.0.0.1:8080/admin", "not a url"} {
		s := NewSession(u)
		assert.Error(t, f.ctrl.Step(context.Background(), s), u)
		assert.Equal(t, PhaseInit, s.Phase)
	}
	assert.Empty(t, f.env.probes)

	f = newFixture(t, func(c *Config) { c.AllowPrivateHosts = true })
	s := NewSession("http://127.0.0.1:8080/catalog")
	require.NoError(t, f.ctrl.Step(context.Background(), s))
	assert.Equal(t, PhaseStealthProbe, s.Phase)
}
