package harness

import (
	"fmt"
	"path"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/hazyhaar/scrapewizard/sdk"
)

// NextFunc is the optional next-page hook.
type NextFunc func(*sdk.Page) (string, error)

// Extractor is a loaded artifact.
type Extractor struct {
	Binding *sdk.Binding
	Next    NextFunc
}

// symbols restricts the interpreter's stdlib to the allowed imports.
func symbols(allowed []string) map[string]map[string]reflect.Value {
	out := make(map[string]map[string]reflect.Value, len(allowed))
	for _, p := range allowed {
		key := p + "/" + path.Base(p)
		if syms, ok := stdlib.Symbols[key]; ok {
			out[key] = syms
		}
	}
	return out
}

// Load interprets src and resolves its hooks.
func Load(src string, allowed []string) (ext *Extractor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("harness: load: panic: %v", r)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(symbols(allowed)); err != nil {
		return nil, fmt.Errorf("harness: load stdlib: %w", err)
	}
	if err := i.Use(sdk.Symbols); err != nil {
		return nil, fmt.Errorf("harness: load sdk: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("harness: compile: %w", err)
	}

	v, err := i.Eval("extractor.Entry")
	if err != nil {
		return nil, fmt.Errorf("harness: entry: %w", err)
	}
	entry, ok := v.Interface().(func() *sdk.Binding)
	if !ok {
		return nil, fmt.Errorf("harness: entry has type %s", v.Type())
	}
	b := entry()
	if !b.Valid() {
		return nil, fmt.Errorf("harness: entry returned an incomplete binding")
	}

	ext = &Extractor{Binding: b}
	if nv, err := i.Eval("extractor.NextPage"); err == nil {
		if fn, ok := nv.Interface().(func(*sdk.Page) (string, error)); ok {
			ext.Next = fn
		}
	}
	return ext, nil
}
