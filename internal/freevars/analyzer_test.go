// Tests the analyzer against parsed function literals: capture discovery,
// parameter
// and local-binding exclusion, de-duplication, first-discovery ordering,
// and free-variable bubbling out of nested literals.
package freevars

import (
	"reflect"
	"testing"

	"franz/internal/ast"
	"franz/internal/frontend"
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
	return fn
}

func TestAnalyze(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "references with no bindings are free, in discovery order",
			src:  `f = {-> <- (add a b)}`,
			want: []string{"add", "a", "b"},
		},
		{
			name: "parameters are not free",
			src:  `f = {x -> <- (add x a)}`,
			want: []string{"add", "a"},
		},
		{
			name: "locals bound by assignment are not free",
			src:  `f = {-> y = 1; <- (add y a)}`,
			want: []string{"add", "a"},
		},
		{
			name: "duplicates collapse to first sighting",
			src:  `f = {-> <- (add a (multiply a a))}`,
			want: []string{"add", "a", "multiply"},
		},
		{
			name: "no free variables",
			src:  `f = {x y -> <- x}`,
			want: nil,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fn := parseFn(t, c.src)
			Analyze(fn)
			if !reflect.DeepEqual(fn.FreeVars, c.want) {
				t.Fatalf("got %v, want %v", fn.FreeVars, c.want)
			}
		})
	}
}

func TestNestedClosureBubblesFreeVars(t *testing.T) {
	// The inner literal's free variables are also free in the outer when
	// the outer does not bind them; outer-bound names stop at the outer.
	fn := parseFn(t, `f = {x -> inner = {y -> <- (add x y a)}; <- inner}`)
	Analyze(fn)
	want := []string{"add", "a"}
	if !reflect.DeepEqual(fn.FreeVars, want) {
		t.Fatalf("outer free vars: got %v, want %v", fn.FreeVars, want)
	}

	inner := fn.Children[1].Children[0].Children[1]
	if inner.Op != ast.FUNCTION {
		t.Fatalf("expected inner FUNCTION, got %s", inner.Op)
	}
	wantInner := []string{"add", "x", "a"}
	if !reflect.DeepEqual(inner.FreeVars, wantInner) {
		t.Fatalf("inner free vars: got %v, want %v", inner.FreeVars, wantInner)
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	fn := parseFn(t, `f = {-> <- (add a b)}`)
	Analyze(fn)
	first := append([]string(nil), fn.FreeVars...)
	Analyze(fn)
	if !reflect.DeepEqual(fn.FreeVars, first) {
		t.Fatalf("second run changed the result: %v vs %v", fn.FreeVars, first)
	}
}
