package snapshot

import (
	"strings"

	"golang.org/x/net/html"
)

// Supported selector subset:
//   - *, tag, .class, #id, .a.b (every class must be present)
//   - [attr], [attr=val], tag[attr="val"]
//   - descendant combinator: "ul.items li"
//   - child combinator: "ul > li"
//   - groups: "h2, h3"
//
// Pseudo-classes and sibling combinators are not supported and match nothing.

type simple struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasVal  bool
	bad     bool
}

type step struct {
	sel   simple
	child bool // ">" before this step
}

type compound []step

func compile(selector string) []compound {
	var out []compound
	for _, group := range strings.Split(selector, ",") {
		if c := parseCompound(group); len(c) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func parseCompound(s string) compound {
	s = strings.ReplaceAll(s, ">", " > ")
	var c compound
	child := false
	for _, tok := range strings.Fields(s) {
		if tok == ">" {
			child = true
			continue
		}
		c = append(c, step{sel: parseSimple(tok), child: child})
		child = false
	}
	return c
}

func parseSimple(sel string) simple {
	var s simple
	if strings.ContainsAny(sel, ":+~") {
		s.bad = true
		return s
	}
	if i := strings.IndexByte(sel, '['); i >= 0 {
		attr := strings.TrimSuffix(sel[i+1:], "]")
		sel = sel[:i]
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			s.attrKey = attr[:eq]
			s.attrVal = strings.Trim(attr[eq+1:], `"'`)
			s.hasVal = true
		} else {
			s.attrKey = attr
		}
	}
	if i := strings.IndexByte(sel, '.'); i >= 0 {
		for _, c := range strings.Split(sel[i+1:], ".") {
			if c != "" {
				s.classes = append(s.classes, c)
			}
		}
		sel = sel[:i]
	}
	if i := strings.IndexByte(sel, '#'); i >= 0 {
		s.id = sel[i+1:]
		sel = sel[:i]
	}
	if s.tag = strings.ToLower(sel); s.tag == "*" {
		s.tag = ""
	}
	return s
}

func (s simple) match(n *html.Node) bool {
	if s.bad || n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range s.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	if s.attrKey != "" {
		v, ok := lookup(n, s.attrKey)
		if !ok || (s.hasVal && v != s.attrVal) {
			return false
		}
	}
	return true
}

// matches reports whether n satisfies c, walking ancestors up to (not
// including) scope.
func (c compound) matches(n, scope *html.Node) bool {
	last := len(c) - 1
	if !c[last].sel.match(n) {
		return false
	}
	return c.ancestors(n, scope, last)
}

func (c compound) ancestors(n, scope *html.Node, i int) bool {
	if i == 0 {
		return true
	}
	prev := c[i-1]
	for p := n.Parent; p != nil && p != scope; p = p.Parent {
		if prev.sel.match(p) && c.ancestors(p, scope, i-1) {
			return true
		}
		if c[i].child {
			return false
		}
	}
	return false
}

// queryAll returns the descendants of root matching selector in document
// order, without duplicates.
func queryAll(root *html.Node, selector string) []*html.Node {
	groups := compile(selector)
	if len(groups) == 0 {
		return nil
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			for _, g := range groups {
				if g.matches(c, root) {
					out = append(out, c)
					break
				}
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func query(root *html.Node, selector string) *html.Node {
	if all := queryAll(root, selector); len(all) > 0 {
		return all[0]
	}
	return nil
}

func lookup(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookup(n, key)
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
