package sdk

import "reflect"

// ImportPath is the path extractors import this package under.
const ImportPath = "github.com/hazyhaar/scrapewizard/sdk"

// Symbols exports the extractor surface to the yaegi interpreter.
// Only what an extractor is allowed to touch is listed.
var Symbols = map[string]map[string]reflect.Value{
	ImportPath + "/sdk": {
		"Page":         reflect.ValueOf((*Page)(nil)),
		"Element":      reflect.ValueOf((*Element)(nil)),
		"Record":       reflect.ValueOf((*Record)(nil)),
		"Binding":      reflect.ValueOf((*Binding)(nil)),
		"Bind":         reflect.ValueOf(Bind),
		"WaitStable":   reflect.ValueOf(WaitStable),
		"ErrNotFound":  reflect.ValueOf(&ErrNotFound).Elem(),
		"ErrNotStable": reflect.ValueOf(&ErrNotStable).Elem(),
	},
}
