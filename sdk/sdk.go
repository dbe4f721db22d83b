// Package sdk is the whole surface available to generated extractors.
//
// An extractor is a Go source file in package extractor that imports this
// package and defines three hooks:
//
//	func Navigate(p *sdk.Page) error
//	func GetItems(p *sdk.Page) ([]*sdk.Element, error)
//	func ParseItem(el *sdk.Element) (sdk.Record, error)
//
// plus the fixed entry point
//
//	func Entry() *sdk.Binding { return sdk.Bind(Navigate, GetItems, ParseItem) }
//
// and optionally
//
//	func NextPage(p *sdk.Page) (string, error)
//
// which returns the selector of the next-page control ("" when done).
// Waiting, pagination, deduplication and output belong to the harness;
// the only infrastructure call an extractor may make is WaitStable.
package sdk

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a selector matches nothing.
var ErrNotFound = errors.New("sdk: selector not found")

// PageDriver is implemented by the browser engine.
type PageDriver interface {
	URL() string
	HTML() (string, error)
	Query(selector string) (ElementDriver, error)
	QueryAll(selector string) ([]ElementDriver, error)
	NodeCount(selector string) (int, error)
	Click(selector string) error
}

// ElementDriver is implemented by the browser engine.
type ElementDriver interface {
	Text() (string, error)
	Attr(name string) (string, bool, error)
	Query(selector string) (ElementDriver, error)
	QueryAll(selector string) ([]ElementDriver, error)
}

// Record is one extracted item: field name to value.
type Record map[string]string

// Binding ties the three mandatory hooks together.
type Binding struct {
	Navigate  func(*Page) error
	GetItems  func(*Page) ([]*Element, error)
	ParseItem func(*Element) (Record, error)
}

// Bind builds the Binding returned by an extractor's Entry function.
func Bind(navigate func(*Page) error, getItems func(*Page) ([]*Element, error), parseItem func(*Element) (Record, error)) *Binding {
	return &Binding{Navigate: navigate, GetItems: getItems, ParseItem: parseItem}
}

// Valid reports whether all hooks are set.
func (b *Binding) Valid() bool {
	return b != nil && b.Navigate != nil && b.GetItems != nil && b.ParseItem != nil
}

// Page is the current document as seen by an extractor.
type Page struct {
	d    PageDriver
	wait WaitOptions
}

// NewPage wraps a driver. Harness code only.
func NewPage(d PageDriver, wait WaitOptions) *Page {
	return &Page{d: d, wait: wait.withDefaults()}
}

// URL returns the current page URL.
func (p *Page) URL() string { return p.d.URL() }

// HTML returns the serialised document.
func (p *Page) HTML() (string, error) { return p.d.HTML() }

// Find returns the first element matching selector.
func (p *Page) Find(selector string) (*Element, error) {
	ed, err := p.d.Query(selector)
	if err != nil {
		return nil, err
	}
	return &Element{d: ed}, nil
}

// FindAll returns every element matching selector. No match is not an error.
func (p *Page) FindAll(selector string) ([]*Element, error) {
	eds, err := p.d.QueryAll(selector)
	if err != nil {
		return nil, err
	}
	return wrap(eds), nil
}

// Exists reports whether selector matches at least one element.
func (p *Page) Exists(selector string) bool {
	n, err := p.d.NodeCount(selector)
	return err == nil && n > 0
}

// Click clicks the first element matching selector. Extractors may only
// click from Navigate, for example to dismiss a consent overlay.
func (p *Page) Click(selector string) error {
	return p.d.Click(selector)
}

// Element is one node inside the page.
type Element struct {
	d ElementDriver
}

// NewElement wraps a driver. Harness and test code only.
func NewElement(d ElementDriver) *Element { return &Element{d: d} }

// Text returns the trimmed text content, or "" when unavailable.
func (e *Element) Text() string {
	s, err := e.d.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Attr returns the attribute value, or "".
func (e *Element) Attr(name string) string {
	v, ok, err := e.d.Attr(name)
	if err != nil || !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Find returns the first descendant matching selector.
func (e *Element) Find(selector string) (*Element, error) {
	ed, err := e.d.Query(selector)
	if err != nil {
		return nil, err
	}
	return &Element{d: ed}, nil
}

// FindAll returns every descendant matching selector.
func (e *Element) FindAll(selector string) []*Element {
	eds, err := e.d.QueryAll(selector)
	if err != nil {
		return nil
	}
	return wrap(eds)
}

// TextOf returns the text of the first descendant matching selector, or "".
func (e *Element) TextOf(selector string) string {
	child, err := e.Find(selector)
	if err != nil {
		return ""
	}
	return child.Text()
}

// AttrOf returns an attribute of the first descendant matching selector, or "".
func (e *Element) AttrOf(selector, name string) string {
	child, err := e.Find(selector)
	if err != nil {
		return ""
	}
	return child.Attr(name)
}

func wrap(eds []ElementDriver) []*Element {
	out := make([]*Element, 0, len(eds))
	for _, ed := range eds {
		out = append(out, &Element{d: ed})
	}
	return out
}
