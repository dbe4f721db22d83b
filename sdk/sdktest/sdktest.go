// Package sdktest provides in-memory sdk drivers for tests.
package sdktest

import (
	"sync"

	"github.com/hazyhaar/scrapewizard/sdk"
)

// Element is a fake node. Children are keyed by the exact selector string.
type Element struct {
	Value    string
	Attrs    map[string]string
	Children map[string][]*Element
}

// Item builds an element whose fields are reachable as ".<name>" children.
func Item(fields map[string]string) *Element {
	e := &Element{Children: make(map[string][]*Element, len(fields))}
	for k, v := range fields {
		e.Children["."+k] = []*Element{{Value: v}}
	}
	return e
}

func (e *Element) Text() (string, error) { return e.Value, nil }

func (e *Element) Attr(name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Query(selector string) (sdk.ElementDriver, error) {
	c := e.Children[selector]
	if len(c) == 0 {
		return nil, sdk.ErrNotFound
	}
	return c[0], nil
}

func (e *Element) QueryAll(selector string) ([]sdk.ElementDriver, error) {
	return drivers(e.Children[selector]), nil
}

// Doc is one page state.
type Doc struct {
	URL   string
	HTML  string
	Nodes map[string][]*Element
}

// Page is a fake page walking through Docs. Clicking NextSelector moves to
// the following Doc; clicking it on the last Doc returns sdk.ErrNotFound.
type Page struct {
	Docs         []Doc
	NextSelector string

	mu     sync.Mutex
	idx    int
	clicks []string
}

// NewPage builds a single-document page.
func NewPage(url string, nodes map[string][]*Element) *Page {
	return &Page{Docs: []Doc{{URL: url, Nodes: nodes}}}
}

func (p *Page) cur() Doc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Docs[p.idx]
}

func (p *Page) URL() string { return p.cur().URL }

func (p *Page) HTML() (string, error) { return p.cur().HTML, nil }

func (p *Page) Query(selector string) (sdk.ElementDriver, error) {
	n := p.cur().Nodes[selector]
	if len(n) == 0 {
		return nil, sdk.ErrNotFound
	}
	return n[0], nil
}

func (p *Page) QueryAll(selector string) ([]sdk.ElementDriver, error) {
	return drivers(p.cur().Nodes[selector]), nil
}

func (p *Page) NodeCount(selector string) (int, error) {
	d := p.cur()
	if selector == "*" {
		total := 0
		for _, n := range d.Nodes {
			total += len(n)
		}
		return total, nil
	}
	return len(d.Nodes[selector]), nil
}

func (p *Page) Click(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	if selector != "" && selector == p.NextSelector {
		if p.idx+1 >= len(p.Docs) {
			return sdk.ErrNotFound
		}
		p.idx++
		return nil
	}
	if len(p.Docs[p.idx].Nodes[selector]) == 0 {
		return sdk.ErrNotFound
	}
	return nil
}

// Clicks returns every selector clicked so far.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func drivers(els []*Element) []sdk.ElementDriver {
	out := make([]sdk.ElementDriver, 0, len(els))
	for _, e := range els {
		out = append(out, e)
	}
	return out
}
