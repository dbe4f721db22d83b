package contract

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"strconv"
	"strings"
)

// Violation is one breach of the contract.
type Violation struct {
	Rule    string `json:"rule"`
	Pos     string `json:"pos,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Pos != "" {
		return fmt.Sprintf("%s: %s: %s", v.Pos, v.Rule, v.Message)
	}
	return v.Rule + ": " + v.Message
}

// Error carries every violation found in one artifact.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "contract: " + strings.Join(parts, "; ")
}

// AsError extracts a contract *Error from err.
func AsError(err error) (*Error, bool) {
	var ce *Error
	ok := errors.As(err, &ce)
	return ce, ok
}

// Check validates src against the contract. It returns nil when the artifact
// conforms, or an *Error listing every violation.
func (c *Contract) Check(src string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "extractor.go", src, parser.SkipObjectResolution)
	if err != nil {
		return &Error{Violations: []Violation{{Rule: "parse", Message: err.Error()}}}
	}

	ck := &checker{c: c, fset: fset, seen: map[string]int{}}
	ck.checkPackage(file)
	ck.checkImports(file)
	ck.checkDecls(file)
	ck.checkHooks()

	if len(ck.out) == 0 {
		return nil
	}
	return &Error{Violations: ck.out}
}

type checker struct {
	c    *Contract
	fset *token.FileSet
	seen map[string]int
	out  []Violation
	sdk  string // local name of the sdk import
}

func (k *checker) add(pos token.Pos, rule, format string, args ...any) {
	v := Violation{Rule: rule, Message: fmt.Sprintf(format, args...)}
	if pos.IsValid() {
		p := k.fset.Position(pos)
		v.Pos = fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	k.out = append(k.out, v)
}

func (k *checker) checkPackage(f *ast.File) {
	if f.Name.Name != k.c.Package {
		k.add(f.Name.Pos(), "package", "package is %q, want %q", f.Name.Name, k.c.Package)
	}
}

func (k *checker) checkImports(f *ast.File) {
	for _, imp := range f.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if !k.c.allowed(path) {
			k.add(imp.Pos(), "import", "forbidden import %q", path)
			continue
		}
		if imp.Name != nil && (imp.Name.Name == "." || imp.Name.Name == "_") {
			k.add(imp.Pos(), "import", "import %q must not be %s-imported", path, imp.Name.Name)
			continue
		}
		if strings.HasSuffix(path, "/sdk") {
			k.sdk = "sdk"
			if imp.Name != nil {
				k.sdk = imp.Name.Name
			}
		}
	}
	if k.sdk == "" {
		k.add(token.NoPos, "import", "runtime package is not imported")
	} else if k.sdk != "sdk" {
		k.add(token.NoPos, "import", "runtime package must be imported as sdk, not %s", k.sdk)
	}
}

func (k *checker) checkDecls(f *ast.File) {
	for _, d := range f.Decls {
		fn, ok := d.(*ast.FuncDecl)
		if ok {
			k.checkFunc(fn)
		}
		k.walk(d, ok && fn.Recv == nil && fn.Name.Name == k.c.ClickOnlyIn)
	}
}

func (k *checker) checkFunc(fn *ast.FuncDecl) {
	name := fn.Name.Name
	if fn.Recv != nil {
		return
	}
	if name == "init" || name == "main" {
		k.add(fn.Pos(), "entry", "func %s is not allowed", name)
		return
	}
	k.seen[name]++

	if name == k.c.EntryName {
		k.checkEntry(fn)
		return
	}
	h, ok := k.c.hook(name)
	if !ok {
		return
	}
	if got := signature(fn.Type); got != h.Signature {
		k.add(fn.Pos(), "signature", "func %s%s, want %s%s", name, got, name, h.Signature)
	}
}

// checkEntry is structural: the body must be exactly the canonical Bind call.
func (k *checker) checkEntry(fn *ast.FuncDecl) {
	if got := signature(fn.Type); got != "() *sdk.Binding" {
		k.add(fn.Pos(), "entry", "func %s%s, want %s() *sdk.Binding", fn.Name.Name, got, fn.Name.Name)
		return
	}
	if fn.Body == nil || len(fn.Body.List) != 1 {
		k.add(fn.Pos(), "entry", "entry point was modified")
		return
	}
	ret, ok := fn.Body.List[0].(*ast.ReturnStmt)
	if !ok || len(ret.Results) != 1 {
		k.add(fn.Pos(), "entry", "entry point was modified")
		return
	}
	if types.ExprString(ret.Results[0]) != "sdk.Bind(Navigate, GetItems, ParseItem)" {
		k.add(ret.Pos(), "entry", "entry point was modified: %s", types.ExprString(ret.Results[0]))
	}
}

func (k *checker) checkHooks() {
	if k.seen[k.c.EntryName] == 0 {
		k.add(token.NoPos, "entry", "missing func %s", k.c.EntryName)
	}
	if k.seen[k.c.EntryName] > 1 {
		k.add(token.NoPos, "entry", "func %s declared %d times", k.c.EntryName, k.seen[k.c.EntryName])
	}
	for _, h := range k.c.Hooks {
		n := k.seen[h.Name]
		switch {
		case n == 0 && h.Required:
			k.add(token.NoPos, "hook", "missing func %s%s", h.Name, h.Signature)
		case n > 1:
			k.add(token.NoPos, "hook", "func %s declared %d times", h.Name, n)
		}
	}
}

// walk flags forbidden selectors, goroutines, and clicks outside the one
// hook allowed to click.
func (k *checker) walk(n ast.Node, mayClick bool) {
	forbidden := make(map[string]bool, len(k.c.Forbidden))
	for _, f := range k.c.Forbidden {
		forbidden[f] = true
	}
	ast.Inspect(n, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.GoStmt:
			k.add(x.Pos(), "concurrency", "goroutines are not allowed")
		case *ast.SelectorExpr:
			if forbidden[x.Sel.Name] {
				k.add(x.Pos(), "forbidden", "%s is infrastructure-only", types.ExprString(x))
			}
			// Method values count too: click := p.Click.
			if x.Sel.Name == "Click" && !mayClick {
				k.add(x.Pos(), "pagination", "Click outside %s; return the selector from NextPage instead", k.c.ClickOnlyIn)
			}
		}
		return true
	})
}

// signature renders parameter and result types without names.
func signature(ft *ast.FuncType) string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(fieldTypes(ft.Params))
	b.WriteString(")")
	if ft.Results == nil || len(ft.Results.List) == 0 {
		return b.String()
	}
	res := fieldTypes(ft.Results)
	if len(ft.Results.List) == 1 && len(ft.Results.List[0].Names) <= 1 {
		b.WriteString(" " + res)
	} else {
		b.WriteString(" (" + res + ")")
	}
	return b.String()
}

func fieldTypes(fl *ast.FieldList) string {
	if fl == nil {
		return ""
	}
	var parts []string
	for _, f := range fl.List {
		t := types.ExprString(f.Type)
		n := len(f.Names)
		if n == 0 {
			n = 1
		}
		for range n {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ", ")
}
