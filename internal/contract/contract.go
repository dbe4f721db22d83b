// Package contract defines the extraction contract for generated extractors
// and checks source against it statically, before anything is interpreted.
package contract

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/scrapewizard/sdk"
)

// Hook is one extension point.
type Hook struct {
	Name      string
	Signature string // parameter and result types, e.g. "(*sdk.Page) error"
	Required  bool
	Doc       string
}

// Contract is the permitted shape of generated logic. It is static for the
// lifetime of a session.
type Contract struct {
	Package        string
	Hooks          []Hook
	EntryName      string
	EntrySource    string
	AllowedImports []string
	Primitives     []string // sdk infrastructure calls an extractor may make
	Forbidden      []string // selector names that must not appear
	ClickOnlyIn    string   // the one hook allowed to click
}

// Default returns the extractor contract.
func Default() *Contract {
	return &Contract{
		Package: "extractor",
		Hooks: []Hook{
			{Name: "Navigate", Signature: "(*sdk.Page) error", Required: true,
				Doc: "runs once per page on arrival; may dismiss overlays and wait for content"},
			{Name: "GetItems", Signature: "(*sdk.Page) ([]*sdk.Element, error)", Required: true,
				Doc: "returns the repeated item elements on the current page"},
			{Name: "ParseItem", Signature: "(*sdk.Element) (sdk.Record, error)", Required: true,
				Doc: "returns the field values of one item"},
			{Name: "NextPage", Signature: "(*sdk.Page) (string, error)",
				Doc: "returns the CSS selector of the next-page control, or \"\" on the last page"},
		},
		EntryName:   "Entry",
		EntrySource: "func Entry() *sdk.Binding { return sdk.Bind(Navigate, GetItems, ParseItem) }",
		AllowedImports: []string{
			"strings", "strconv", "regexp", "fmt", "errors", "math", "time", "unicode",
			sdk.ImportPath,
		},
		Primitives:  []string{"WaitStable"},
		Forbidden:   []string{"Exit", "WriteFile", "Create", "OpenFile", "Paginate", "Goto", "Getenv", "Command"},
		ClickOnlyIn: "Navigate",
	}
}

// hook returns the named hook, if any.
func (c *Contract) hook(name string) (Hook, bool) {
	for _, h := range c.Hooks {
		if h.Name == name {
			return h, true
		}
	}
	return Hook{}, false
}

func (c *Contract) allowed(path string) bool {
	for _, p := range c.AllowedImports {
		if p == path {
			return true
		}
	}
	return false
}

// Describe renders the contract as plain text for a generation request.
func (c *Contract) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one Go source file in package %s.\n", c.Package)
	fmt.Fprintf(&b, "Import the runtime as %q.\n\n", sdk.ImportPath)
	b.WriteString("Define these functions with exactly these signatures:\n")
	for _, h := range c.Hooks {
		req := "required"
		if !h.Required {
			req = "optional"
		}
		fmt.Fprintf(&b, "- func %s%s  (%s) %s\n", h.Name, h.Signature, req, h.Doc)
	}
	fmt.Fprintf(&b, "\nKeep this entry point verbatim:\n%s\n\n", c.EntrySource)
	fmt.Fprintf(&b, "Allowed imports: %s.\n", strings.Join(c.AllowedImports, ", "))
	fmt.Fprintf(&b, "The only infrastructure call available is sdk.%s(page, selector).\n", strings.Join(c.Primitives, ", sdk."))
	b.WriteString("Page: URL(), HTML(), Find(sel), FindAll(sel), Exists(sel), Click(sel).\n")
	b.WriteString("Element: Text(), Attr(name), Find(sel), FindAll(sel), TextOf(sel), AttrOf(sel, name).\n")
	fmt.Fprintf(&b, "Only %s may call Click. Never paginate, write files, exit, or start goroutines:\n", c.ClickOnlyIn)
	b.WriteString("the harness loops pages, deduplicates, and writes output.\n")
	return b.String()
}
