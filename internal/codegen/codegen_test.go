// Tests the pure (LLVM-free) parts of the generator: return-tag
// classification,
// literal classification, the pass-1 literal filter and the builtin
// dispatch table's name coverage. IR-emission behaviour is exercised
// end-to-end through the driver, not here: constructing llvm contexts in
// unit tests buys little over verifying the emitted module, which the
// pipeline already does on every compile.
package codegen

import (
	"testing"

	"franz/internal/ast"
	"franz/internal/frontend"
	"franz/internal/typeinfer"
)

func parseFn(t *testing.T, src string) *ast.Node {
	t.Helper()
	root, err := frontend.Parse(src)
	if err != nil {
		t.Fatalf("parse error: %s", err)
	}
	fn := root.Children[0].Children[1]
	if fn.Op != ast.FUNCTION {
		t.Fatalf("expected FUNCTION RHS, got %s", fn.Op)
	}
	if err := typeinfer.Infer(fn); err != nil {
		t.Fatalf("inference error: %s", err)
	}
	return fn
}

func TestDetermineReturnTag(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want int
	}{
		{"closure literal in tail position", `f = {-> <- {x -> <- x}}`, TagClosure},
		{"parameter reference is dynamic", `f = {x -> <- x}`, TagDynamic},
		{"inferred int", `f = {n -> <- (add n 1)}`, TagInt},
		{"inferred float", `f = {x -> <- (multiply x 2.5)}`, TagFloat},
		{"string literal is a pointer", `f = {-> <- "hi"}`, TagPointer},
		{"println body is void", `f = {-> (println 1)}`, TagVoid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fn := parseFn(t, c.src)
			if got := determineReturnTag(fn, fn.Type); got != c.want {
				t.Fatalf("got tag %d, want %d", got, c.want)
			}
		})
	}
}

func TestClosureTagBeatsDynamic(t *testing.T) {
	// A body whose terminal expression is a function literal must be
	// CLOSURE even though the literal is built from a parameter.
	fn := parseFn(t, `const = {x -> <- {-> <- x}}`)
	if got := determineReturnTag(fn, fn.Type); got != TagClosure {
		t.Fatalf("got tag %d, want TagClosure", got)
	}
}

func TestIsLiteralTree(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{`x = 1`, true},
		{`x = 2.5`, true},
		{`x = "s"`, true},
		{`x = [1, 2, 3]`, true},
		{`x = [1, [2, "s"]]`, true},
		{`x = (add 1 2)`, false},
		{`x = [1, (add 1 2)]`, false},
		{`x = y`, false},
	}
	for _, c := range cases {
		root, err := frontend.Parse(c.src)
		if err != nil {
			t.Fatalf("parse error for %q: %s", c.src, err)
		}
		rhs := root.Children[0].Children[1]
		if got := isLiteralTree(rhs); got != c.want {
			t.Fatalf("%q: got %v, want %v", c.src, got, c.want)
		}
	}
}

func TestClassifyLiteral(t *testing.T) {
	cases := []struct {
		node *ast.Node
		want ast.Kind
	}{
		{&ast.Node{Op: ast.INT, Value: int64(1)}, ast.KindInt},
		{&ast.Node{Op: ast.FLOAT, Value: 1.5}, ast.KindFloat},
		{&ast.Node{Op: ast.STRING, Value: "s"}, ast.KindString},
		{&ast.Node{Op: ast.LIST}, ast.KindList},
		{&ast.Node{Op: ast.IDENTIFIER, Value: "x"}, ast.KindUnknown},
	}
	for _, c := range cases {
		if got := classifyLiteral(c.node); got != c.want {
			t.Fatalf("%s: got %s, want %s", c.node.Op, got, c.want)
		}
	}
}

func TestIsZeroOrVoid(t *testing.T) {
	if !isZeroOrVoid(&ast.Node{Op: ast.INT, Value: int64(0)}) {
		t.Fatal("literal 0 must not break a loop")
	}
	if !isZeroOrVoid(&ast.Node{Op: ast.IDENTIFIER, Value: "void"}) {
		t.Fatal("void must not break a loop")
	}
	if isZeroOrVoid(&ast.Node{Op: ast.INT, Value: int64(1)}) {
		t.Fatal("a non-zero return must break the loop")
	}
}

// TestBuiltinTableCoverage pins the observable builtin name list: every
// name the CLI surface documents must be present in the dispatch table.
func TestBuiltinTableCoverage(t *testing.T) {
	documented := []string{
		"add", "subtract", "multiply", "divide", "remainder",
		"is", "less-than", "greater-than",
		"if", "when", "unless", "cond",
		"loop", "while", "break", "continue",
		"map", "filter", "reduce", "map2", "dict_map", "dict_filter",
		"println", "print", "read-line",
		"read_file", "write_file",
		"ref", "deref", "set!",
		"variant", "match",
		"type", "format-int", "format-float",
		"use", "use_as", "use_with",
		"list", "nth", "length", "append",
		"dict", "dict-get", "dict-set", "dict-keys",
	}
	for _, name := range documented {
		if _, ok := builtinTable[name]; !ok {
			t.Fatalf("builtin %q is documented but missing from the dispatch table", name)
		}
	}
}

// TestCorrectTag pins the post-compilation tag correction: a tentative
// POINTER tag from UNKNOWN inference is re-derived from the LLVM shape the
// compiled return values actually had, while authoritative tags and mixed
// observations are left alone.
func TestCorrectTag(t *testing.T) {
	cases := []struct {
		name string
		tag  int
		ctx  fnContext
		want int
	}{
		{"int shape corrects pointer", TagPointer, fnContext{observed: ast.KindInt, observedSet: true}, TagInt},
		{"float shape corrects pointer", TagPointer, fnContext{observed: ast.KindFloat, observedSet: true}, TagFloat},
		{"pointer shape stays pointer", TagPointer, fnContext{observed: ast.KindUnknown, observedSet: true}, TagPointer},
		{"no observation stays tentative", TagPointer, fnContext{}, TagPointer},
		{"mixed shapes stay pointer", TagPointer, fnContext{observed: ast.KindInt, observedSet: true, observedMixed: true}, TagPointer},
		{"inference-authoritative int untouched", TagInt, fnContext{observed: ast.KindFloat, observedSet: true}, TagInt},
		{"dynamic untouched", TagDynamic, fnContext{observed: ast.KindInt, observedSet: true}, TagDynamic},
		{"closure untouched", TagClosure, fnContext{observed: ast.KindInt, observedSet: true}, TagClosure},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := c.ctx
			if got := correctTag(c.tag, &ctx); got != c.want {
				t.Fatalf("got tag %d, want %d", got, c.want)
			}
		})
	}
}

func TestTagTypeNames(t *testing.T) {
	want := map[int]string{
		TagInt:     "int",
		TagFloat:   "float",
		TagPointer: "pointer",
		TagClosure: "closure",
		TagVoid:    "void",
	}
	for tag, name := range want {
		if tagTypeNames[tag] != name {
			t.Fatalf("tag %d: got %q, want %q", tag, tagTypeNames[tag], name)
		}
	}
}
