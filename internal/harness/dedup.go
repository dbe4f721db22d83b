package harness

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"maps"
	"sort"
	"strings"

	"github.com/hazyhaar/scrapewizard/harvest"
	"github.com/hazyhaar/scrapewizard/sdk"
)

// Hash identifies a record by its full content: keys sorted, values
// trimmed and lowercased.
func Hash(r sdk.Record) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		field(h, k)
		field(h, strings.ToLower(strings.TrimSpace(r[k])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// field writes s length-prefixed so no key/value split can collide.
func field(w io.Writer, s string) {
	var n [binary.MaxVarintLen64]byte
	w.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	io.WriteString(w, s)
}

// collector keeps unique, non-empty records and logs the rest.
type collector struct {
	required []string
	seen     map[string]bool
	kept     []sdk.Record
	skips    []harvest.SkipEntry
	empty    map[string]int
	sparse   int
}

func newCollector(required []string) *collector {
	return &collector{required: required, seen: map[string]bool{}, empty: map[string]int{}}
}

func (c *collector) fields(r sdk.Record) []string {
	if len(c.required) > 0 {
		return c.required
	}
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

// add returns true when the record was kept.
func (c *collector) add(r sdk.Record, page int) bool {
	hash := Hash(r)
	fields := c.fields(r)

	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(r[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) == len(fields) {
		c.skips = append(c.skips, harvest.SkipEntry{Reason: harvest.SkipEmpty, Hash: hash, Page: page})
		return false
	}
	if c.seen[hash] {
		c.skips = append(c.skips, harvest.SkipEntry{Reason: harvest.SkipDuplicate, Hash: hash, Page: page})
		return false
	}
	c.seen[hash] = true
	c.kept = append(c.kept, r)
	if len(missing) > 0 {
		c.sparse++
		for _, f := range missing {
			c.empty[f]++
		}
	}
	return true
}

// ratio is the share of kept records with at least one required field empty.
func (c *collector) ratio() float64 {
	if len(c.kept) == 0 {
		return 0
	}
	return float64(c.sparse) / float64(len(c.kept))
}

// columns lists required fields first, then any extra keys sorted.
func (c *collector) columns() []string {
	cols := append([]string(nil), c.required...)
	known := map[string]bool{}
	for _, k := range cols {
		known[k] = true
	}
	var extra []string
	for _, r := range c.kept {
		for k := range r {
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

// sample copies the first n kept records.
func (c *collector) sample(n int) []map[string]string {
	if len(c.kept) < n {
		n = len(c.kept)
	}
	out := make([]map[string]string, 0, n)
	for _, r := range c.kept[:n] {
		out = append(out, maps.Clone(map[string]string(r)))
	}
	return out
}
