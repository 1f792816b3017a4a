// Tests type inference against parsed function literals: named fixture
// cases with hand-written expectations, t.Fatalf on the first divergence.
package typeinfer

import (
	"testing"

	"franz/internal/ast"
	"franz/internal/compileerr"
	"franz/internal/frontend"
)

// parseFn parses `f = <literal>` and returns the FUNCTION node.
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

func TestInferArithmetic(t *testing.T) {
	cases := []struct {
		name   string
		src    string
		params []ast.Kind
		ret    ast.Kind
	}{
		{
			name:   "int constraint from literal operand",
			src:    `inc = {n -> <- (add n 1)}`,
			params: []ast.Kind{ast.KindInt},
			ret:    ast.KindInt,
		},
		{
			name:   "float promotes over int",
			src:    `scale = {x -> <- (multiply x 2.5)}`,
			params: []ast.Kind{ast.KindFloat},
			ret:    ast.KindFloat,
		},
		{
			name:   "comparison yields int",
			src:    `zero = {n -> <- (is n 0)}`,
			params: []ast.Kind{ast.KindInt},
			ret:    ast.KindInt,
		},
		{
			name:   "two params share the int family",
			src:    `hyp = {a b -> <- (add (multiply a a) (multiply b b))}`,
			params: []ast.Kind{ast.KindInt, ast.KindInt},
			ret:    ast.KindInt,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fn := parseFn(t, c.src)
			if err := Infer(fn); err != nil {
				t.Fatalf("unexpected inference error: %s", err)
			}
			sig := fn.Type
			if sig.Return != c.ret {
				t.Fatalf("return: got %s, want %s", sig.Return, c.ret)
			}
			for i, want := range c.params {
				if sig.Params[i] != want {
					t.Fatalf("param %d: got %s, want %s", i, sig.Params[i], want)
				}
			}
		})
	}
}

func TestIdentityAcrossTypeFamilies(t *testing.T) {
	fn := parseFn(t, `id = {x -> <- x}`)
	if err := Infer(fn); err != nil {
		t.Fatalf("unexpected inference error: %s", err)
	}
	sig := fn.Type
	if !sig.IdentityParam {
		t.Fatal("expected the return expression to be flagged as a parameter reference")
	}
	if sig.ParamIndex != 0 {
		t.Fatalf("expected param index 0, got %d", sig.ParamIndex)
	}
	if sig.Return != ast.KindUnknown {
		t.Fatalf("expected UNKNOWN return for polymorphic identity, got %s", sig.Return)
	}
	if sig.Params[0] != ast.KindUnknown {
		t.Fatalf("expected UNKNOWN parameter for polymorphic identity, got %s", sig.Params[0])
	}
}

func TestSecondParameterIdentity(t *testing.T) {
	fn := parseFn(t, `snd = {a b -> <- b}`)
	if err := Infer(fn); err != nil {
		t.Fatalf("unexpected inference error: %s", err)
	}
	if !fn.Type.IdentityParam || fn.Type.ParamIndex != 1 {
		t.Fatalf("expected identity on param 1, got %+v", fn.Type)
	}
}

func TestBranchUnification(t *testing.T) {
	fn := parseFn(t, `factorial = {n -> <- (if (is n 0) {<- 1} {<- (multiply n 2)})}`)
	if err := Infer(fn); err != nil {
		t.Fatalf("unexpected inference error: %s", err)
	}
	if fn.Type.Return != ast.KindInt {
		t.Fatalf("expected INT return from agreeing branches, got %s", fn.Type.Return)
	}
	if fn.Type.Params[0] != ast.KindInt {
		t.Fatalf("expected n constrained to INT inside the else branch, got %s", fn.Type.Params[0])
	}
}

func TestDisagreeingBranchesStayOpen(t *testing.T) {
	fn := parseFn(t, `f = {n -> <- (if (is n 0) {<- 1} {<- "zero"})}`)
	if err := Infer(fn); err != nil {
		t.Fatalf("unexpected inference error: %s", err)
	}
	if fn.Type.Return != ast.KindUnknown {
		t.Fatalf("expected UNKNOWN return from disagreeing branches, got %s", fn.Type.Return)
	}
}

func TestTypeMismatch(t *testing.T) {
	fn := parseFn(t, `bad = {x -> <- (add x "one")}`)
	err := Infer(fn)
	if err == nil {
		t.Fatal("expected a TypeMismatch error")
	}
	ce, ok := err.(*compileerr.CompileError)
	if !ok || ce.Kind != compileerr.TypeMismatch {
		t.Fatalf("expected TypeMismatch, got %v", err)
	}
}

func TestNumericFamilyConflictDefersToRuntime(t *testing.T) {
	// A parameter seen as int then float stays inside the numeric family:
	// float wins, no error.
	fn := parseFn(t, `f = {x -> y = (add x 1); <- (add x 1.5)}`)
	if err := Infer(fn); err != nil {
		t.Fatalf("numeric-family widening must not error: %s", err)
	}
	if fn.Type.Params[0] != ast.KindFloat {
		t.Fatalf("expected float to win the numeric family, got %s", fn.Type.Params[0])
	}
}

func TestIdempotence(t *testing.T) {
	fn := parseFn(t, `inc = {n -> <- (add n 1)}`)
	if err := Infer(fn); err != nil {
		t.Fatalf("first run: %s", err)
	}
	first := *fn.Type
	if err := Infer(fn); err != nil {
		t.Fatalf("second run: %s", err)
	}
	second := *fn.Type
	if first.Return != second.Return || first.IdentityParam != second.IdentityParam ||
		first.ParamIndex != second.ParamIndex || len(first.Params) != len(second.Params) {
		t.Fatalf("inference is not idempotent: %+v vs %+v", first, second)
	}
	for i := range first.Params {
		if first.Params[i] != second.Params[i] {
			t.Fatalf("param %d drifted between runs: %s vs %s", i, first.Params[i], second.Params[i])
		}
	}
}
