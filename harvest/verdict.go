package harvest

// Pagination strategies reported by the analysis service.
const (
	PaginationNone     = "none"
	PaginationNext     = "next_button"
	PaginationLoadMore = "load_more"
	PaginationInfinite = "infinite_scroll"
	PaginationURL      = "url_param"
)

// Verdict is the analysis service's structured answer about a page.
type Verdict struct {
	Scrapable          bool        `json:"scrapable"`
	Confidence         float64     `json:"confidence"`
	Reason             string      `json:"reason"`
	AvailableFields    []FieldSpec `json:"available_fields"`
	PaginationStrategy string      `json:"pagination_strategy"`
	ItemSelectorHint   string      `json:"item_selector_hint,omitempty"`
}

// FieldSpec describes one extractable field.
type FieldSpec struct {
	Name         string `json:"name"`
	SelectorHint string `json:"selector_hint"`
	Sample       string `json:"sample,omitempty"`
}

// FieldNames returns the names of the available fields in order.
func (v *Verdict) FieldNames() []string {
	names := make([]string, 0, len(v.AvailableFields))
	for _, f := range v.AvailableFields {
		names = append(names, f.Name)
	}
	return names
}

// Paginated reports whether the verdict names a pagination strategy.
func (v *Verdict) Paginated() bool {
	return v.PaginationStrategy != "" && v.PaginationStrategy != PaginationNone
}

// Output formats written by the harness sink.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// Decisions holds the user's resolved gate values.
type Decisions struct {
	OutputFormats []string          `json:"output_formats"`
	MaxPages      int               `json:"max_pages"` // 0 = follow until exhausted (capped by config)
	Recovery      string            `json:"recovery,omitempty"`
	Resolved      map[string]string `json:"resolved,omitempty"` // gate_id -> raw resolved value
	ColumnHints   []string          `json:"column_hints,omitempty"`
}
