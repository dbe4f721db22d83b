// Package snapshot serves saved HTML documents as an sdk.PageDriver so an
// extractor can be replayed without a browser. Clicking a link whose href
// resolves to another loaded document moves to it; any other matched
// click is a no-op.
package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/scrapewizard/sdk"
)

// Doc is one parsed document.
type Doc struct {
	URL  string
	root *html.Node
}

// Parse reads one document served at pageURL.
func Parse(pageURL string, r io.Reader) (*Doc, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", pageURL, err)
	}
	return &Doc{URL: pageURL, root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(pageURL, doc string) (*Doc, error) {
	return Parse(pageURL, strings.NewReader(doc))
}

// ParseFile reads a saved page from disk.
func ParseFile(pageURL, path string) (*Doc, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer f.Close()
	return Parse(pageURL, f)
}

// Page walks a set of documents starting at the first one.
type Page struct {
	mu    sync.Mutex
	docs  []*Doc
	cur   int
	byURL map[string]int
}

// New builds a page over docs. The first doc is the landing page.
func New(docs ...*Doc) (*Page, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("snapshot: no documents")
	}
	p := &Page{docs: docs, byURL: make(map[string]int, len(docs))}
	for i, d := range docs {
		p.byURL[normalize(d.URL)] = i
	}
	return p, nil
}

func (p *Page) doc() *Doc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.docs[p.cur]
}

func (p *Page) URL() string { return p.doc().URL }

func (p *Page) HTML() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc().root); err != nil {
		return "", fmt.Errorf("snapshot: render: %w", err)
	}
	return buf.String(), nil
}

func (p *Page) Query(selector string) (sdk.ElementDriver, error) {
	n := query(p.doc().root, selector)
	if n == nil {
		return nil, sdk.ErrNotFound
	}
	return element{n}, nil
}

func (p *Page) QueryAll(selector string) ([]sdk.ElementDriver, error) {
	return wrap(queryAll(p.doc().root, selector)), nil
}

func (p *Page) NodeCount(selector string) (int, error) {
	return len(queryAll(p.doc().root, selector)), nil
}

// Click follows the first match when it links to a loaded document. A link
// to a document that was not loaded ends pagination with sdk.ErrNotFound.
func (p *Page) Click(selector string) error {
	d := p.doc()
	n := query(d.root, selector)
	if n == nil {
		return sdk.ErrNotFound
	}
	href, ok := lookup(n, "href")
	if !ok {
		if a := closestAnchor(n); a != nil {
			href, ok = lookup(a, "href")
		}
	}
	if !ok {
		return nil
	}
	target, err := resolve(d.URL, href)
	if err != nil {
		return sdk.ErrNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i, loaded := p.byURL[normalize(target)]
	if !loaded {
		return sdk.ErrNotFound
	}
	p.cur = i
	return nil
}

func closestAnchor(n *html.Node) *html.Node {
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			return n
		}
	}
	return nil
}

func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(h).String(), nil
}

func normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

type element struct{ n *html.Node }

func (e element) Text() (string, error) { return text(e.n), nil }

func (e element) Attr(name string) (string, bool, error) {
	v, ok := lookup(e.n, name)
	return v, ok, nil
}

func (e element) Query(selector string) (sdk.ElementDriver, error) {
	n := query(e.n, selector)
	if n == nil {
		return nil, sdk.ErrNotFound
	}
	return element{n}, nil
}

func (e element) QueryAll(selector string) ([]sdk.ElementDriver, error) {
	return wrap(queryAll(e.n, selector)), nil
}

func wrap(nodes []*html.Node) []sdk.ElementDriver {
	out := make([]sdk.ElementDriver, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, element{n})
	}
	return out
}

// text joins the visible text under n with single spaces.
func text(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}
