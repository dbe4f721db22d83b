package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status discriminates a Resolution.
type Status string

const (
	Resolved  Status = "resolved"
	Cancelled Status = "cancelled"
	TimedOut  Status = "timed_out"
)

// Resolution is the outcome of a blocking human interaction.
type Resolution struct {
	Status Status `json:"status"`
	Value  string `json:"value,omitempty"`
}

// Suspension kinds.
const (
	SuspendGuided  = "guided_access"
	SuspendCaptcha = "interactive_solve"
)

// Suspension asks the operator to act in the browser and signal completion.
type Suspension struct {
	Kind    string `json:"kind"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

// ErrNonInteractive is returned by prompters that cannot wait for a human.
var ErrNonInteractive = errors.New("gate: no human available")

// ErrNothingPending is returned when an answer arrives with nothing asked.
var ErrNothingPending = errors.New("gate: nothing pending")

// Defaults resolves every gate to its default and never waits.
type Defaults struct{}

func (Defaults) Resolve(_ context.Context, g Gate) (Resolution, error) {
	return Resolution{Status: Resolved, Value: g.Default}, nil
}

func (Defaults) Await(context.Context, Suspension) (Resolution, error) {
	return Resolution{}, ErrNonInteractive
}

// Terminal prompts on a writer and reads answers line by line.
type Terminal struct {
	out   io.Writer
	lines chan string
	once  sync.Once
	in    io.Reader
}

// NewTerminal returns a terminal prompter.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, lines: make(chan string)}
}

func (t *Terminal) start() {
	t.once.Do(func() {
		go func() {
			sc := bufio.NewScanner(t.in)
			for sc.Scan() {
				t.lines <- sc.Text()
			}
			close(t.lines)
		}()
	})
}

func (t *Terminal) readLine(ctx context.Context) (string, bool, error) {
	t.start()
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case l, ok := <-t.lines:
		return strings.TrimSpace(l), ok, nil
	}
}

// Resolve asks for one gate. Empty input picks the default; options may be
// chosen by value or by 1-based index.
func (t *Terminal) Resolve(ctx context.Context, g Gate) (Resolution, error) {
	for {
		fmt.Fprintf(t.out, "%s\n", g.Prompt)
		for i, o := range g.Options {
			mark := " "
			if o == g.Default {
				mark = "*"
			}
			fmt.Fprintf(t.out, " %s %d) %s\n", mark, i+1, o)
		}
		fmt.Fprint(t.out, "> ")

		line, ok, err := t.readLine(ctx)
		if err != nil {
			return Resolution{}, err
		}
		if !ok {
			return Resolution{Status: Cancelled}, nil
		}
		if line == "" {
			return Resolution{Status: Resolved, Value: g.Default}, nil
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(g.Options) {
			return Resolution{Status: Resolved, Value: g.Options[n-1]}, nil
		}
		if g.Valid(line) {
			return Resolution{Status: Resolved, Value: line}, nil
		}
		fmt.Fprintf(t.out, "unknown choice %q\n", line)
	}
}

// Await prints the instruction and blocks until Enter. "abort" cancels.
func (t *Terminal) Await(ctx context.Context, s Suspension) (Resolution, error) {
	fmt.Fprintf(t.out, "%s\n  %s\nPress Enter when done (or type abort): ", s.Message, s.URL)
	line, ok, err := t.readLine(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if !ok || strings.EqualFold(line, "abort") {
		return Resolution{Status: Cancelled}, nil
	}
	return Resolution{Status: Resolved}, nil
}

// Pending is what a Channel prompter is currently waiting on.
type Pending struct {
	Gate       *Gate       `json:"gate,omitempty"`
	Suspension *Suspension `json:"suspension,omitempty"`
}

// Channel waits for answers delivered from another goroutine, typically
// the studio HTTP API or MCP tools. A zero Timeout waits until the
// context ends.
type Channel struct {
	Timeout time.Duration

	mu      sync.Mutex
	pending Pending
	seq     uint64 // current wait
	answers chan answer
}

// answer is tagged with the wait it was given for; a late answer to a
// finished wait is dropped by the next one.
type answer struct {
	seq uint64
	r   Resolution
}

// NewChannel returns a Channel prompter.
func NewChannel(timeout time.Duration) *Channel {
	return &Channel{Timeout: timeout, answers: make(chan answer, 1)}
}

func (c *Channel) Resolve(ctx context.Context, g Gate) (Resolution, error) {
	r, err := c.wait(ctx, Pending{Gate: &g})
	if err == nil && r.Status == Resolved && r.Value == "" {
		r.Value = g.Default
	}
	return r, err
}

func (c *Channel) Await(ctx context.Context, s Suspension) (Resolution, error) {
	return c.wait(ctx, Pending{Suspension: &s})
}

func (c *Channel) wait(ctx context.Context, p Pending) (Resolution, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.pending = p
	select {
	case <-c.answers:
	default:
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.seq == seq {
			c.pending = Pending{}
		}
		c.mu.Unlock()
	}()

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		t := time.NewTimer(c.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case a := <-c.answers:
			if a.seq != seq {
				continue
			}
			return a.r, nil
		case <-timeout:
			return Resolution{Status: TimedOut}, nil
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		}
	}
}

// Pending returns what is currently awaited.
func (c *Channel) Pending() Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Answer delivers a resolution to the current wait.
func (c *Channel) Answer(r Resolution) error {
	c.mu.Lock()
	p, seq := c.pending, c.seq
	c.mu.Unlock()
	if p.Gate == nil && p.Suspension == nil {
		return ErrNothingPending
	}
	if p.Gate != nil && r.Status == Resolved && r.Value != "" && !p.Gate.Valid(r.Value) {
		return fmt.Errorf("gate: %q is not an option of %s", r.Value, p.Gate.ID)
	}
	select {
	case c.answers <- answer{seq: seq, r: r}:
		return nil
	default:
		return errors.New("gate: answer already queued")
	}
}
