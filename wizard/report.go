package wizard

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"
)

const bundleReport = "report.html"

// reportView is the template projection of a finished session.
type reportView struct {
	SessionID string
	URL       string
	WrittenAt string
	Outcome   Outcome
	Records   int
	Pages     int
	Columns   []string
	Rows      [][]string
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>scrapewizard: {{.URL}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:1000px;margin:2rem auto;padding:0 1rem;color:#222;background:#fafafa}
h1{font-size:1.3rem;border-bottom:2px solid #e0e0e0;padding-bottom:.5rem;word-break:break-all}
.meta{font-size:.85rem;color:#666}
table{border-collapse:collapse;width:100%;background:#fff;font-size:.85rem}
th,td{border:1px solid #e0e0e0;padding:.3rem .5rem;text-align:left;vertical-align:top}
th{background:#f0f0f0}
.empty{color:#999;font-style:italic}
</style></head><body>
<h1>{{.URL}}</h1>
<p class="meta">{{.SessionID}} &middot; {{.WrittenAt}} &middot; {{.Outcome}} &middot; {{.Records}} rows from {{.Pages}} pages</p>
{{- if .Rows}}
<table><thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead><tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody></table>
{{- else}}
<p class="empty">No rows extracted.</p>
{{- end}}
</body></html>
`))

func newReportView(s *Session, at time.Time) reportView {
	v := reportView{
		SessionID: s.ID,
		URL:       s.URL,
		WrittenAt: at.Format(time.RFC3339),
		Outcome:   s.Outcome,
	}
	res := s.LastResult
	if res == nil {
		return v
	}
	v.Records = res.RecordsExtracted
	v.Pages = res.PagesVisited
	v.Columns = res.Columns
	if len(v.Columns) == 0 && s.Verdict != nil {
		v.Columns = s.Verdict.FieldNames()
	}
	for _, rec := range res.Sample {
		row := make([]string, len(v.Columns))
		for i, c := range v.Columns {
			row[i] = rec[c]
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}

func renderReport(w io.Writer, v reportView) error {
	return reportTmpl.Execute(w, v)
}

func writeReport(dir string, s *Session, at time.Time) error {
	f, err := os.Create(filepath.Join(dir, bundleReport))
	if err != nil {
		return fmt.Errorf("bundle: report: %w", err)
	}
	if err := renderReport(f, newReportView(s, at)); err != nil {
		f.Close()
		return fmt.Errorf("bundle: render report: %w", err)
	}
	return f.Close()
}
