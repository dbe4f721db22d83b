// Package gate evaluates decision gates: which access mode a page needs and
// which user confirmations are still outstanding.
package gate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/scrapewizard/harvest"
)

// DefaultThreshold is the hostility score from which Guided access is forced.
const DefaultThreshold = 40

// Mode is the access mode.
type Mode string

const (
	Automatic Mode = "automatic"
	Guided    Mode = "guided"
)

// Gate IDs.
const (
	OutputFormat = "output_format"
	Pagination   = "pagination"
	Recovery     = "recovery"
	Review       = "review"
)

// Recovery choices.
const (
	RetryConfig   = "retry_config"
	AcceptPartial = "accept_partial"
	Abort         = "abort"
)

// Review choices.
const (
	Approve    = "approve"
	FixColumns = "fix_columns"
	Retry      = "retry"
)

// Gate is a checkpoint requiring a user choice.
type Gate struct {
	ID       string   `json:"gate_id"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Default  string   `json:"default"`
	Resolved string   `json:"resolved_value,omitempty"`
}

// Valid reports whether v is one of the gate's options.
func (g Gate) Valid(v string) bool {
	for _, o := range g.Options {
		if o == v {
			return true
		}
	}
	return false
}

// Evaluation is the evaluator's output.
type Evaluation struct {
	Mode    Mode     `json:"mode"`
	Reasons []string `json:"reasons,omitempty"`
	Gates   []Gate   `json:"gates,omitempty"` // unresolved, in asking order
}

// Policy holds the tunable evaluation knobs.
type Policy struct {
	Threshold int
}

// NewPolicy returns a Policy; a non-positive threshold selects DefaultThreshold.
func NewPolicy(threshold int) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Policy{Threshold: threshold}
}

// AccessMode decides Automatic vs Guided for a scan.
func (p Policy) AccessMode(sp *harvest.ScanProfile) (Mode, []string) {
	var reasons []string
	if sp.HostilityScore >= p.Threshold {
		reasons = append(reasons, fmt.Sprintf("hostility %d >= %d", sp.HostilityScore, p.Threshold))
	}
	if sp.AuthHeavyHost {
		reasons = append(reasons, "auth-heavy host "+sp.Host)
	}
	if sp.SignIn.Detected {
		reasons = append(reasons, "sign-in required ("+strings.Join(sp.SignIn.Indicators, ", ")+")")
	}
	if len(reasons) > 0 {
		return Guided, reasons
	}
	return Automatic, nil
}

// Evaluate maps a scan, an optional verdict, and prior choices to the
// access mode and the gates still to resolve. It has no side effects.
func (p Policy) Evaluate(sp *harvest.ScanProfile, v *harvest.Verdict, prior harvest.Decisions) Evaluation {
	mode, reasons := p.AccessMode(sp)
	ev := Evaluation{Mode: mode, Reasons: reasons}
	if v == nil {
		return ev
	}
	for _, g := range ConfigGates(v, sp) {
		if _, done := prior.Resolved[g.ID]; done {
			continue
		}
		ev.Gates = append(ev.Gates, g)
	}
	return ev
}

// ConfigGates returns the USER_CONFIG gates for a verdict.
func ConfigGates(v *harvest.Verdict, sp *harvest.ScanProfile) []Gate {
	gates := []Gate{{
		ID:      OutputFormat,
		Prompt:  "Output formats",
		Options: []string{"jsonl+csv", "jsonl+csv+json"},
		Default: "jsonl+csv",
	}}
	if v.Paginated() || (sp != nil && sp.PaginationHint != "") {
		gates = append(gates, Gate{
			ID:      Pagination,
			Prompt:  fmt.Sprintf("Pages to follow (%s detected)", strategy(v)),
			Options: []string{"1", "5", "10", "all"},
			Default: "5",
		})
	}
	return gates
}

func strategy(v *harvest.Verdict) string {
	if v.Paginated() {
		return v.PaginationStrategy
	}
	return "next link"
}

// RecoveryGate is opened when the repair budget is exhausted.
func RecoveryGate(kind harvest.ErrorKind, attempts int) Gate {
	return Gate{
		ID:      Recovery,
		Prompt:  fmt.Sprintf("Repair budget exhausted after %d attempts (last: %s)", attempts, kind),
		Options: []string{RetryConfig, AcceptPartial, Abort},
		Default: Abort,
	}
}

// SparseColumns returns the fields empty in more than half of the records,
// sorted by name.
func SparseColumns(r *harvest.ExecutionResult) []string {
	if r == nil || r.RecordsExtracted == 0 {
		return nil
	}
	var cols []string
	for f, n := range r.EmptyFieldCounts {
		if n*2 > r.RecordsExtracted {
			cols = append(cols, f)
		}
	}
	sort.Strings(cols)
	return cols
}

// ReviewGate is opened after a passing test run so the user can look at
// the data before the final run.
func ReviewGate(r *harvest.ExecutionResult) Gate {
	prompt := fmt.Sprintf("Test run extracted %d records", r.RecordsExtracted)
	if cols := SparseColumns(r); len(cols) > 0 {
		prompt += "; mostly empty: " + strings.Join(cols, ", ")
	}
	return Gate{
		ID:      Review,
		Prompt:  prompt,
		Options: []string{Approve, FixColumns, Retry, Abort},
		Default: Approve,
	}
}

// Apply records a resolved gate into the decisions.
func Apply(d *harvest.Decisions, g Gate, value string) error {
	if !g.Valid(value) {
		return fmt.Errorf("gate: %q is not an option of %s", value, g.ID)
	}
	if d.Resolved == nil {
		d.Resolved = make(map[string]string)
	}
	switch g.ID {
	case OutputFormat:
		d.OutputFormats = strings.Split(value, "+")
	case Pagination:
		if value == "all" {
			d.MaxPages = 0
		} else {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("gate: pagination: %w", err)
			}
			d.MaxPages = n
		}
	case Recovery:
		d.Recovery = value
	}
	d.Resolved[g.ID] = value
	return nil
}

// Finalize fills decisions no gate asked about.
func Finalize(d *harvest.Decisions) {
	if len(d.OutputFormats) == 0 {
		d.OutputFormats = []string{harvest.FormatJSONL, harvest.FormatCSV}
	}
	if _, ok := d.Resolved[Pagination]; !ok && d.MaxPages == 0 {
		d.MaxPages = 1
	}
}

// Reset forgets configuration choices so USER_CONFIG asks again.
func Reset(d *harvest.Decisions) {
	delete(d.Resolved, OutputFormat)
	delete(d.Resolved, Pagination)
	delete(d.Resolved, Recovery)
	d.Recovery = ""
}
