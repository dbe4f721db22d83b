// Package classify maps a failed run's diagnostics to an error kind.
//
// Classification is best effort: rules are tried in order and the first
// match wins. KindUnknown is a real outcome and still consumes a repair
// attempt.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/scrapewizard/harvest"
)

// DefaultQualityThreshold is the missing-field ratio at or above which a
// structurally successful run is rejected.
const DefaultQualityThreshold = 0.20

// ExcerptLen bounds the diagnostics carried into a repair request.
const ExcerptLen = 1500

type rule struct {
	kind harvest.ErrorKind
	re   *regexp.Regexp
}

var rules = []rule{
	{harvest.KindSyntaxError, regexp.MustCompile(`(?i)(expected ['"\w]|syntax error|undefined: |cannot use |missing return|declared and not used)`)},
	{harvest.KindImportError, regexp.MustCompile(`(?i)(import cycle|unable to find source|forbidden import|could not import|cannot find package)`)},
	{harvest.KindTimeout, regexp.MustCompile(`(?i)(deadline exceeded|timed out|timeout|did not stabilise)`)},
	{harvest.KindSelectorNotFound, regexp.MustCompile(`(?i)(selector not found|no records extracted|element not found|nil pointer dereference|no items matched)`)},
}

// Classifier labels execution results.
type Classifier struct {
	QualityThreshold float64
}

// New returns a Classifier with the given quality threshold.
// A non-positive threshold selects DefaultQualityThreshold.
func New(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultQualityThreshold
	}
	return &Classifier{QualityThreshold: threshold}
}

// QualityFailed reports whether a successful run is too sparse. A run
// passes only with a ratio strictly below the threshold.
func (c *Classifier) QualityFailed(r *harvest.ExecutionResult) bool {
	return r.ExitStatus == 0 && r.MissingFieldRatio >= c.QualityThreshold
}

// Classify returns the kind for r. A passing run yields "".
func (c *Classifier) Classify(r *harvest.ExecutionResult) harvest.ErrorKind {
	if c.QualityFailed(r) {
		return harvest.KindDataQuality
	}
	if r.ExitStatus == 0 {
		return ""
	}
	return ClassifyText(r.Diagnostics)
}

// ClassifyText applies the ordered text rules.
func ClassifyText(diag string) harvest.ErrorKind {
	for _, r := range rules {
		if r.re.MatchString(diag) {
			return r.kind
		}
	}
	return harvest.KindUnknown
}

// Excerpt keeps the tail of diagnostics, where the failing frame usually is.
func Excerpt(diag string) string {
	diag = strings.TrimSpace(diag)
	if len(diag) <= ExcerptLen {
		return diag
	}
	return "…" + diag[len(diag)-ExcerptLen:]
}

// MostEmpty returns up to n field names ordered by empty count, descending.
// Ties break alphabetically.
func MostEmpty(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for k, v := range counts {
		if v > 0 {
			names = append(names, k)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// RepairContext builds the repair request context for a classified failure.
func (c *Classifier) RepairContext(r *harvest.ExecutionResult, kind harvest.ErrorKind, hints []string) harvest.RepairContext {
	rc := harvest.RepairContext{
		Kind:        kind,
		Diagnostics: Excerpt(r.Diagnostics),
		ColumnHints: hints,
	}
	if kind == harvest.KindDataQuality {
		rc.EmptyFields = MostEmpty(r.EmptyFieldCounts, 3)
	}
	return rc
}
