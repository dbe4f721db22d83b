package scanner

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// domSignals is everything read from one serialised DOM.
type domSignals struct {
	title       string
	scripts     []string // script and iframe src values
	ids         []string // lowercase
	classes     []string // lowercase
	frameworks  []string
	signIn      map[string]bool // indicator kind -> seen
	captcha     []string
	nextHint    string
	textBytes   int
	markupBytes int
}

const (
	indPassword  = "password_field"
	indLoginLink = "login_link"
	indLoginText = "login_text"
	indLoginForm = "login_form"
	indLoginURL  = "login_url"
)

// readDOM parses html and collects the static signals.
func readDOM(src string) *domSignals {
	d := &domSignals{signIn: map[string]bool{}}
	d.markupBytes = len(src)

	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return d
	}
	fw := map[string]bool{}
	var walk func(n *html.Node, skipText bool)
	walk = func(n *html.Node, skipText bool) {
		switch n.Type {
		case html.TextNode:
			if !skipText {
				d.textBytes += len(strings.TrimSpace(n.Data))
			}
		case html.ElementNode:
			d.element(n, fw)
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript {
				skipText = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skipText)
		}
	}
	walk(doc, false)

	for _, name := range []string{"react", "next.js", "vue", "nuxt", "angular", "svelte", "jquery"} {
		if fw[name] {
			d.frameworks = append(d.frameworks, name)
		}
	}
	return d
}

func (d *domSignals) element(n *html.Node, fw map[string]bool) {
	id := strings.ToLower(attr(n, "id"))
	class := strings.ToLower(attr(n, "class"))
	if id != "" {
		d.ids = append(d.ids, id)
	}
	if class != "" {
		d.classes = append(d.classes, class)
	}

	for _, a := range n.Attr {
		switch {
		case a.Key == "data-reactroot":
			fw["react"] = true
		case strings.HasPrefix(a.Key, "data-v-"):
			fw["vue"] = true
		case a.Key == "ng-version" || strings.HasPrefix(a.Key, "_ngcontent"):
			fw["angular"] = true
		}
	}
	if strings.Contains(class, "svelte-") {
		fw["svelte"] = true
	}
	switch id {
	case "__next_data__", "__next":
		fw["next.js"] = true
		fw["react"] = true
	case "__nuxt":
		fw["nuxt"] = true
		fw["vue"] = true
	}
	for _, frag := range captchaClasses {
		if strings.Contains(class, frag) || strings.Contains(id, frag) {
			d.captcha = append(d.captcha, "widget:"+frag)
			break
		}
	}

	switch n.DataAtom {
	case atom.Title:
		if n.FirstChild != nil {
			d.title = strings.TrimSpace(n.FirstChild.Data)
		}
	case atom.Script, atom.Iframe:
		src := attr(n, "src")
		if src == "" {
			return
		}
		d.scripts = append(d.scripts, src)
		ls := strings.ToLower(src)
		switch {
		case strings.Contains(ls, "/_next/"):
			fw["next.js"] = true
			fw["react"] = true
		case strings.Contains(ls, "/_nuxt/"):
			fw["nuxt"] = true
			fw["vue"] = true
		case strings.Contains(ls, "react"):
			fw["react"] = true
		case strings.Contains(ls, "vue"):
			fw["vue"] = true
		case strings.Contains(ls, "angular"):
			fw["angular"] = true
		case strings.Contains(ls, "jquery"):
			fw["jquery"] = true
		}
		if f := containsAny(ls, captchaScripts); f != "" {
			d.captcha = append(d.captcha, "script:"+f)
		}
	case atom.Input:
		if strings.EqualFold(attr(n, "type"), "password") {
			d.signIn[indPassword] = true
		}
	case atom.Form:
		if loginPathPattern.MatchString(attr(n, "action")) {
			d.signIn[indLoginForm] = true
		}
	case atom.A, atom.Button:
		text := strings.TrimSpace(textOf(n))
		if n.DataAtom == atom.A && (loginPathPattern.MatchString(attr(n, "href")) || loginPathPattern.MatchString(id)) {
			d.signIn[indLoginLink] = true
		}
		if loginTextPattern.MatchString(text) {
			d.signIn[indLoginText] = true
		}
		if d.nextHint == "" {
			d.nextHint = nextSelector(n, text)
		}
	}
}

// nextSelector returns a selector for a next-page or load-more control.
func nextSelector(n *html.Node, text string) string {
	label := strings.ToLower(attr(n, "aria-label"))
	isNext := strings.EqualFold(attr(n, "rel"), "next") ||
		nextTextPattern.MatchString(text) ||
		strings.Contains(label, "next page") ||
		moreTextPattern.MatchString(text)
	if !isNext {
		return ""
	}
	tag := n.Data
	if strings.EqualFold(attr(n, "rel"), "next") {
		return tag + `[rel="next"]`
	}
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	if label != "" {
		return fmt.Sprintf("%s[aria-label=%q]", tag, attr(n, "aria-label"))
	}
	if cls := strings.Fields(attr(n, "class")); len(cls) > 0 {
		return tag + "." + strings.Join(cls[:min(2, len(cls))], ".")
	}
	return ""
}

// spaShell reports a page whose markup dwarfs its visible text, the usual
// shape of a client-rendered shell before hydration.
func (d *domSignals) spaShell() bool {
	if d.markupBytes < 256 {
		return true
	}
	if float64(d.textBytes)/float64(d.markupBytes) < 0.10 {
		return true
	}
	return d.textBytes < 200
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
