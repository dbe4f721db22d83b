package harness

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/sdk"
)

// writeOutputs writes the kept records to every format plus the skip log.
// Each file goes through a temp file and a rename.
func writeOutputs(dir string, formats []string, c *collector) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("harness: output dir: %w", err)
	}
	cols := c.columns()

	var paths []string
	for _, f := range formats {
		var name string
		var write func(io.Writer) error
		switch f {
		case harvest.FormatJSONL:
			name, write = "records.jsonl", func(w io.Writer) error { return writeJSONL(w, c.kept) }
		case harvest.FormatCSV:
			name, write = "records.csv", func(w io.Writer) error { return writeCSV(w, cols, c.kept) }
		case harvest.FormatJSON:
			name, write = "records.json", func(w io.Writer) error { return writeJSON(w, c.kept) }
		default:
			return paths, fmt.Errorf("harness: unknown output format %q", f)
		}
		p := filepath.Join(dir, name)
		if err := atomicWrite(p, write); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	p := filepath.Join(dir, "skipped.jsonl")
	err := atomicWrite(p, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, s := range c.skips {
			if err := enc.Encode(s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return paths, err
	}
	return append(paths, p), nil
}

func atomicWrite(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("harness: create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return fmt.Errorf("harness: write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("harness: flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("harness: close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSONL(w io.Writer, recs []sdk.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, recs []sdk.Record) error {
	if recs == nil {
		recs = []sdk.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func writeCSV(w io.Writer, cols []string, recs []sdk.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for _, r := range recs {
		for i, c := range cols {
			row[i] = r[c]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
