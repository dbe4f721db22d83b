package harvest

// Artifact is one generated extractor version.
type Artifact struct {
	Version int    `json:"version"`
	Source  string `json:"source"`
	Hash    string `json:"hash"`
}

// ExecutionResult is the outcome of running an artifact.
type ExecutionResult struct {
	ExitStatus        int            `json:"exit_status"`
	Diagnostics       string         `json:"raw_diagnostics"`
	RecordsExtracted  int            `json:"records_extracted"`
	MissingFieldRatio float64        `json:"missing_field_ratio"`
	EmptyFieldCounts  map[string]int `json:"empty_field_counts,omitempty"`
	Skipped           int            `json:"skipped"`
	PagesVisited      int            `json:"pages_visited"`
	OutputPaths       []string       `json:"output_paths"`
	DurationMillis    int64          `json:"duration_ms"`

	// Columns and Sample hold the output header and the first kept records.
	Columns []string            `json:"columns,omitempty"`
	Sample  []map[string]string `json:"sample,omitempty"`
}

// Succeeded reports a structurally successful run.
func (r *ExecutionResult) Succeeded() bool {
	return r.ExitStatus == 0
}

// Skip reasons recorded in the skip log.
const (
	SkipDuplicate = "duplicate"
	SkipEmpty     = "empty"
)

// SkipEntry is one line of the skip log.
type SkipEntry struct {
	Reason string `json:"reason"`
	Hash   string `json:"hash"`
	Page   int    `json:"page"`
}

// ErrorKind is the closed set of failure classes driving repair.
type ErrorKind string

const (
	KindSelectorNotFound  ErrorKind = "selector_not_found"
	KindTimeout           ErrorKind = "timeout"
	KindImportError       ErrorKind = "import_error"
	KindSyntaxError       ErrorKind = "syntax_error"
	KindDataQuality       ErrorKind = "data_quality_failure"
	KindContractViolation ErrorKind = "contract_violation"
	KindUnknown           ErrorKind = "unknown"
)

// RepairContext is what a repair request carries besides the prior artifact.
type RepairContext struct {
	Kind        ErrorKind `json:"error_kind"`
	Diagnostics string    `json:"diagnostics_excerpt"`
	EmptyFields []string  `json:"empty_fields,omitempty"` // most frequently empty first
	ColumnHints []string  `json:"column_hints,omitempty"`
}
