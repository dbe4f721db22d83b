package gate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/scrapewizard/harvest"
)

func TestAccessMode(t *testing.T) {
	p := NewPolicy(0)
	tests := []struct {
		name    string
		profile harvest.ScanProfile
		want    Mode
	}{
		{"calm page", harvest.ScanProfile{HostilityScore: 10}, Automatic},
		{"just below threshold", harvest.ScanProfile{HostilityScore: 39}, Automatic},
		{"at threshold", harvest.ScanProfile{HostilityScore: 40}, Guided},
		{"auth host", harvest.ScanProfile{HostilityScore: 0, AuthHeavyHost: true}, Guided},
		{"sign-in", harvest.ScanProfile{SignIn: harvest.SignInSignal{Detected: true}}, Guided},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := p.AccessMode(&tt.profile)
			assert.Equal(t, tt.want, got)
			if got == Guided {
				assert.NotEmpty(t, reasons)
			}
		})
	}
}

func TestThresholdIsConfigurable(t *testing.T) {
	p := NewPolicy(70)
	mode, _ := p.AccessMode(&harvest.ScanProfile{HostilityScore: 45})
	assert.Equal(t, Automatic, mode)
}

func TestEvaluateGates(t *testing.T) {
	p := NewPolicy(0)
	sp := &harvest.ScanProfile{}
	v := &harvest.Verdict{Scrapable: true, PaginationStrategy: harvest.PaginationNext}

	ev := p.Evaluate(sp, v, harvest.Decisions{})
	require.Len(t, ev.Gates, 2)
	assert.Equal(t, OutputFormat, ev.Gates[0].ID)
	assert.Equal(t, Pagination, ev.Gates[1].ID)

	prior := harvest.Decisions{Resolved: map[string]string{OutputFormat: "jsonl+csv"}}
	ev = p.Evaluate(sp, v, prior)
	require.Len(t, ev.Gates, 1)
	assert.Equal(t, Pagination, ev.Gates[0].ID)

	ev = p.Evaluate(sp, &harvest.Verdict{PaginationStrategy: harvest.PaginationNone}, harvest.Decisions{})
	require.Len(t, ev.Gates, 1, "no pagination gate without pagination")
}

func TestApply(t *testing.T) {
	var d harvest.Decisions
	gates := ConfigGates(&harvest.Verdict{PaginationStrategy: harvest.PaginationNext}, nil)

	require.NoError(t, Apply(&d, gates[0], "jsonl+csv+json"))
	assert.Equal(t, []string{"jsonl", "csv", "json"}, d.OutputFormats)

	require.NoError(t, Apply(&d, gates[1], "all"))
	assert.Equal(t, 0, d.MaxPages)
	require.NoError(t, Apply(&d, gates[1], "10"))
	assert.Equal(t, 10, d.MaxPages)

	assert.Error(t, Apply(&d, gates[1], "7"))

	require.NoError(t, Apply(&d, RecoveryGate(harvest.KindTimeout, 3), AcceptPartial))
	assert.Equal(t, AcceptPartial, d.Recovery)

	Reset(&d)
	assert.Empty(t, d.Resolved)
	assert.Empty(t, d.Recovery)
}

func TestFinalize(t *testing.T) {
	var d harvest.Decisions
	Finalize(&d)
	assert.Equal(t, []string{"jsonl", "csv"}, d.OutputFormats)
	assert.Equal(t, 1, d.MaxPages)
}

func TestReviewGate(t *testing.T) {
	res := &harvest.ExecutionResult{
		RecordsExtracted: 10,
		EmptyFieldCounts: map[string]int{"price": 6, "title": 5, "sku": 10},
	}
	assert.Equal(t, []string{"price", "sku"}, SparseColumns(res), "exactly half is not sparse")

	g := ReviewGate(res)
	assert.Equal(t, Review, g.ID)
	assert.Equal(t, Approve, g.Default)
	assert.Contains(t, g.Prompt, "10 records")
	assert.Contains(t, g.Prompt, "price, sku")
	assert.True(t, g.Valid(FixColumns))

	clean := ReviewGate(&harvest.ExecutionResult{RecordsExtracted: 3})
	assert.NotContains(t, clean.Prompt, "empty")
	assert.Nil(t, SparseColumns(&harvest.ExecutionResult{}))
}

func TestDefaultsPrompter(t *testing.T) {
	r, err := Defaults{}.Resolve(context.Background(), RecoveryGate(harvest.KindUnknown, 3))
	require.NoError(t, err)
	assert.Equal(t, Abort, r.Value)

	_, err = Defaults{}.Await(context.Background(), Suspension{Kind: SuspendGuided})
	assert.ErrorIs(t, err, ErrNonInteractive)
}

func TestTerminalResolve(t *testing.T) {
	g := Gate{ID: OutputFormat, Prompt: "formats", Options: []string{"a", "b"}, Default: "a"}
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("nope\n2\n"), &out)

	r, err := term.Resolve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, Resolution{Status: Resolved, Value: "b"}, r)
	assert.Contains(t, out.String(), "unknown choice")
}

func TestTerminalDefaultAndEOF(t *testing.T) {
	g := Gate{ID: OutputFormat, Options: []string{"a", "b"}, Default: "a"}
	term := NewTerminal(strings.NewReader("\n"), &bytes.Buffer{})

	r, err := term.Resolve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, "a", r.Value)

	r, err = term.Await(context.Background(), Suspension{Message: "log in"})
	require.NoError(t, err)
	assert.Equal(t, Cancelled, r.Status)
}

func TestChannelAnswer(t *testing.T) {
	c := NewChannel(0)
	assert.ErrorIs(t, c.Answer(Resolution{Status: Resolved}), ErrNothingPending)

	done := make(chan Resolution, 1)
	go func() {
		r, _ := c.Await(context.Background(), Suspension{Kind: SuspendGuided, URL: "https://x.test"})
		done <- r
	}()

	require.Eventually(t, func() bool { return c.Pending().Suspension != nil }, time.Second, time.Millisecond)
	require.NoError(t, c.Answer(Resolution{Status: Resolved}))

	select {
	case r := <-done:
		assert.Equal(t, Resolved, r.Status)
	case <-time.After(time.Second):
		t.Fatal("await did not return")
	}
	assert.Nil(t, c.Pending().Suspension)
}

func TestChannelRejectsInvalidOption(t *testing.T) {
	c := NewChannel(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, RecoveryGate(harvest.KindUnknown, 3))
		errc <- err
	}()
	require.Eventually(t, func() bool { return c.Pending().Gate != nil }, time.Second, time.Millisecond)
	assert.Error(t, c.Answer(Resolution{Status: Resolved, Value: "maybe"}))

	cancel()
	assert.True(t, errors.Is(<-errc, context.Canceled))
}

func TestChannelTimeout(t *testing.T) {
	c := NewChannel(10 * time.Millisecond)
	r, err := c.Await(context.Background(), Suspension{Kind: SuspendCaptcha})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, r.Status)
}

func TestChannelDropsLateAnswer(t *testing.T) {
	c := NewChannel(10 * time.Millisecond)
	r, err := c.Await(context.Background(), Suspension{Kind: SuspendCaptcha})
	require.NoError(t, err)
	require.Equal(t, TimedOut, r.Status)

	// An answer that raced the timeout lands in the buffer after the wait ended.
	c.answers <- answer{seq: c.seq, r: Resolution{Status: Cancelled}}

	c.Timeout = 0
	done := make(chan Resolution, 1)
	go func() {
		r, _ := c.Resolve(context.Background(), RecoveryGate(harvest.KindUnknown, 3))
		done <- r
	}()
	require.Eventually(t, func() bool { return c.Pending().Gate != nil }, time.Second, time.Millisecond)
	require.NoError(t, c.Answer(Resolution{Status: Resolved, Value: Abort}))

	select {
	case r := <-done:
		assert.Equal(t, Resolution{Status: Resolved, Value: Abort}, r)
	case <-time.After(time.Second):
		t.Fatal("resolve did not return")
	}
}
