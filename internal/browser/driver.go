package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/scrapewizard/sdk"
)

// Driver adapts a rod page to sdk.PageDriver. Queries never wait: a
// missing selector is reported as sdk.ErrNotFound immediately, and
// waiting is left to sdk.WaitStable.
type Driver struct {
	page *rod.Page
}

// NewDriver binds the page to ctx and wraps it.
func NewDriver(ctx context.Context, page *rod.Page) *Driver {
	return &Driver{page: page.Context(ctx)}
}

// URL returns the current document URL.
func (d *Driver) URL() string {
	info, err := d.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

// HTML returns the document's outer HTML.
func (d *Driver) HTML() (string, error) {
	return d.page.HTML()
}

// Query returns the first element matching selector.
func (d *Driver) Query(selector string) (sdk.ElementDriver, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", sdk.ErrNotFound, selector)
	}
	return &elementDriver{el: els.First()}, nil
}

// QueryAll returns every element matching selector.
func (d *Driver) QueryAll(selector string) ([]sdk.ElementDriver, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrap(els), nil
}

// NodeCount counts nodes matching selector.
func (d *Driver) NodeCount(selector string) (int, error) {
	res, err := d.page.Eval(`(s) => document.querySelectorAll(s).length`, selector)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// Click clicks the first element matching selector. A click that triggers
// a navigation waits for the next load event.
func (d *Driver) Click(selector string) error {
	els, err := d.page.Elements(selector)
	if err != nil {
		return err
	}
	if len(els) == 0 {
		return fmt.Errorf("%w: %s", sdk.ErrNotFound, selector)
	}
	if err := els.First().Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	_ = d.page.WaitLoad()
	return nil
}

type elementDriver struct {
	el *rod.Element
}

func (e *elementDriver) Text() (string, error) {
	return e.el.Text()
}

func (e *elementDriver) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *elementDriver) Query(selector string) (sdk.ElementDriver, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", sdk.ErrNotFound, selector)
	}
	return &elementDriver{el: els.First()}, nil
}

func (e *elementDriver) QueryAll(selector string) ([]sdk.ElementDriver, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrap(els), nil
}

func wrap(els rod.Elements) []sdk.ElementDriver {
	out := make([]sdk.ElementDriver, 0, len(els))
	for _, el := range els {
		out = append(out, &elementDriver{el: el})
	}
	return out
}
