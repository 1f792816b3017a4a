// Package typeinfer implements Hindley-Milner-style type inference over
// function literals: given a FUNCTION node, it fills in a parameter-type
// vector and a return-type classification drawn from {INT, FLOAT, STRING,
// LIST, VOID, UNKNOWN}.
//
// Every parameter starts as UNKNOWN; arithmetic operators constrain their
// operands to the numeric family, with float promoting over int, and
// anything still UNKNOWN after the walk signals a polymorphic function
// that the generator compiles against the universal return ABI.
package typeinfer

import (
	"franz/internal/ast"
	"franz/internal/compileerr"
)

// stdlibSignatures gives the canonical return types for built-ins callable
// from arithmetic/return contexts.
var stdlibSignatures = map[string]ast.Kind{
	"add": ast.KindInt, "subtract": ast.KindInt, "multiply": ast.KindInt, "divide": ast.KindInt, "remainder": ast.KindInt,
	"length": ast.KindInt, "nth": ast.KindUnknown,
	"format-int": ast.KindString, "format-float": ast.KindString,
	"is": ast.KindInt,
}

// Infer runs inference over fn, filling in fn.Type, or returns a
// TypeMismatch error if a numeric operator sees a non-numeric operand.
// Infer is idempotent: the constraint environment is rebuilt from scratch
// each call and depends only on fn's own content.
func Infer(fn *ast.Node) error {
	if fn.Op != ast.FUNCTION {
		return compileerr.New(compileerr.TypeMismatch, fn.Line, "Infer expects a FUNCTION node, got %s", fn.Op)
	}

	env := newEnv()
	paramNames := make([]string, 0, len(fn.Children[0].Children))
	for _, p := range fn.Children[0].Children {
		name := p.Value.(string)
		paramNames = append(paramNames, name)
		env.declare(name)
	}

	sig := &ast.Signature{Params: make([]ast.Kind, len(paramNames))}

	ret, identity, idx, err := inferBody(fn.Children[1], env, paramNames)
	if err != nil {
		return err
	}
	for i, name := range paramNames {
		sig.Params[i] = env.kindOf(name)
	}
	sig.Return = ret
	sig.IdentityParam = identity
	sig.ParamIndex = idx
	fn.Type = sig
	return nil
}

// env tracks, per parameter/local name, the single type family it has
// committed to. The rule is first-use-wins: once a name's kind is set from
// KindUnknown to a concrete kind, a later conflicting use inside the same
// family is not a re-inference error; it is deferred to the tag-directed
// runtime fix-up the generated code performs at parameter-binding time. A
// conflict between the numeric family and a non-numeric one (string/list)
// under an arithmetic operator is a hard TypeMismatch; inference never
// silently downgrades.
type env struct {
	kinds map[string]ast.Kind
}

func newEnv() *env { return &env{kinds: make(map[string]ast.Kind)} }

func (e *env) declare(name string) { e.kinds[name] = ast.KindUnknown }

func (e *env) kindOf(name string) ast.Kind { return e.kinds[name] }

func (e *env) constrain(name string, k ast.Kind, line int) error {
	cur, ok := e.kinds[name]
	if !ok {
		// Not a tracked parameter/local (e.g. a captured free variable); no
		// constraint to record.
		return nil
	}
	if cur == ast.KindUnknown {
		e.kinds[name] = k
		return nil
	}
	if cur == k {
		return nil
	}
	if isNumeric(cur) && isNumeric(k) {
		// Width promotion: first-use-wins only fixes which family a name
		// commits to; within the numeric family itself float always promotes.
		if k == ast.KindFloat {
			e.kinds[name] = ast.KindFloat
		}
		return nil
	}
	if isNumeric(cur) != isNumeric(k) {
		return compileerr.New(compileerr.TypeMismatch, line,
			"identifier %q used as both %s and %s", name, cur, k)
	}
	// Two non-numeric, non-equal kinds (e.g. string vs list): first use
	// wins, deferred to the runtime tag-directed fix-up rather than failing.
	return nil
}

func isNumeric(k ast.Kind) bool { return k == ast.KindInt || k == ast.KindFloat }

// inferBody walks a function body's STATEMENT node, returning the
// classification of its return value (an explicit `<-` expression, or,
// absent one, the body's terminal expression, since bodies return their
// last expression implicitly), whether that expression is a bare parameter
// reference (and if so, which parameter), and propagating any
// TypeMismatch.
func inferBody(body *ast.Node, e *env, params []string) (ast.Kind, bool, int, error) {
	ret := ast.KindVoid
	identity := false
	idx := 0
	sawReturn := false
	for i, stmt := range body.Children {
		if stmt.Op == ast.RETURN {
			k, isIdent, pidx, err := inferExpr(stmt.Children[0], e, params)
			if err != nil {
				return 0, false, 0, err
			}
			ret = k
			identity = isIdent && stmt.Children[0].Op == ast.IDENTIFIER
			idx = pidx
			sawReturn = true
			continue
		}
		k, isIdent, pidx, err := inferExpr(stmt, e, params)
		if err != nil {
			return 0, false, 0, err
		}
		if !sawReturn && i == len(body.Children)-1 {
			ret = k
			identity = isIdent && stmt.Op == ast.IDENTIFIER
			idx = pidx
		}
	}
	return ret, identity, idx, nil
}

var arithmetic = map[string]bool{"add": true, "subtract": true, "multiply": true, "divide": true, "remainder": true}
var comparison = map[string]bool{"is": true, "less-than": true, "greater-than": true}

// thunkKind classifies a control-flow operand: a parameter-less function
// literal is a block whose kind is its body's return kind; anything else
// is an ordinary expression.
func thunkKind(n *ast.Node, e *env, params []string) (ast.Kind, error) {
	if n.Op == ast.FUNCTION && len(n.Children[0].Children) == 0 {
		k, _, _, err := inferBody(n.Children[1], e, params)
		return k, err
	}
	k, _, _, err := inferExpr(n, e, params)
	return k, err
}

// inferExpr classifies a single expression node, constraining any
// parameter/local identifiers it touches along the way.
func inferExpr(n *ast.Node, e *env, params []string) (ast.Kind, bool, int, error) {
	switch n.Op {
	case ast.INT:
		return ast.KindInt, false, 0, nil
	case ast.FLOAT:
		return ast.KindFloat, false, 0, nil
	case ast.STRING:
		return ast.KindString, false, 0, nil
	case ast.LIST:
		for _, c := range n.Children {
			if _, _, _, err := inferExpr(c, e, params); err != nil {
				return 0, false, 0, err
			}
		}
		return ast.KindList, false, 0, nil
	case ast.IDENTIFIER:
		name := n.Value.(string)
		for i, p := range params {
			if p == name {
				return e.kindOf(name), true, i, nil
			}
		}
		if k, ok := e.kinds[name]; ok {
			return k, false, 0, nil
		}
		return ast.KindUnknown, false, 0, nil
	case ast.ASSIGNMENT:
		k, _, _, err := inferExpr(n.Children[1], e, params)
		if err != nil {
			return 0, false, 0, err
		}
		name := n.Children[0].Value.(string)
		if _, ok := e.kinds[name]; !ok {
			e.kinds[name] = k
		} else if err := e.constrain(name, k, n.Line); err != nil {
			return 0, false, 0, err
		}
		return k, false, 0, nil
	case ast.FUNCTION:
		// A nested function literal returned as the terminal expression is
		// classified CLOSURE during lowering, not here; inference only needs
		// to know it is not a numeric/identity result.
		return ast.KindUnknown, false, 0, nil
	case ast.APPLICATION:
		return inferApplication(n, e, params)
	case ast.STATEMENT:
		var last ast.Kind = ast.KindVoid
		for _, c := range n.Children {
			k, _, _, err := inferExpr(c, e, params)
			if err != nil {
				return 0, false, 0, err
			}
			last = k
		}
		return last, false, 0, nil
	case ast.RETURN:
		return inferExpr(n.Children[0], e, params)
	default:
		return ast.KindUnknown, false, 0, nil
	}
}

func inferApplication(n *ast.Node, e *env, params []string) (ast.Kind, bool, int, error) {
	head := n.Children[0]
	args := n.Children[1].Children

	argKinds := make([]ast.Kind, len(args))
	for i, a := range args {
		k, _, _, err := inferExpr(a, e, params)
		if err != nil {
			return 0, false, 0, err
		}
		argKinds[i] = k
	}

	if head.Op != ast.IDENTIFIER {
		return ast.KindUnknown, false, 0, nil
	}
	name := head.Value.(string)

	if arithmetic[name] {
		result := ast.KindInt
		for _, k := range argKinds {
			if k != ast.KindUnknown && !isNumeric(k) {
				return 0, false, 0, compileerr.New(compileerr.TypeMismatch, n.Line,
					"operator %q requires numeric operands, got %s", name, k)
			}
			if k == ast.KindFloat {
				result = ast.KindFloat
			}
		}
		for i := range argKinds {
			if args[i].Op == ast.IDENTIFIER {
				// An identifier operand joins the expression's numeric kind:
				// int by default, float as soon as any operand is a float.
				if err := e.constrain(args[i].Value.(string), result, n.Line); err != nil {
					return 0, false, 0, err
				}
			}
		}
		// Re-derive the result after constraints may have promoted a
		// parameter to float.
		for _, a := range args {
			if a.Op == ast.IDENTIFIER && e.kindOf(a.Value.(string)) == ast.KindFloat {
				result = ast.KindFloat
			}
		}
		return result, false, 0, nil
	}
	if comparison[name] {
		// A comparison always yields INT, but a concrete operand still
		// teaches us about the others: `(is n 0)` commits n to the int
		// family, `(is s "x")` to string.
		concrete := ast.KindUnknown
		for _, k := range argKinds {
			if k != ast.KindUnknown && k != ast.KindVoid {
				concrete = k
				break
			}
		}
		if concrete != ast.KindUnknown {
			for i, a := range args {
				if a.Op == ast.IDENTIFIER && argKinds[i] == ast.KindUnknown {
					if err := e.constrain(a.Value.(string), concrete, n.Line); err != nil {
						return 0, false, 0, err
					}
				}
			}
		}
		return ast.KindInt, false, 0, nil
	}
	switch name {
	case "if":
		// Branch thunks are blocks, not values: walk their bodies so the
		// constraints inside them land, and unify the two branch kinds.
		if len(args) == 3 {
			tk, err := thunkKind(args[1], e, params)
			if err != nil {
				return 0, false, 0, err
			}
			ek, err := thunkKind(args[2], e, params)
			if err != nil {
				return 0, false, 0, err
			}
			if tk == ek {
				return tk, false, 0, nil
			}
			if isNumeric(tk) && isNumeric(ek) {
				return ast.KindFloat, false, 0, nil
			}
		}
		return ast.KindUnknown, false, 0, nil
	case "println", "print":
		return ast.KindVoid, false, 0, nil
	case "when", "unless", "cond", "loop", "while", "match":
		// One arm is always void (or the loop may run zero times), so the
		// expression's own kind stays open; the bodies are still walked for
		// their constraints.
		for _, a := range args {
			if _, err := thunkKind(a, e, params); err != nil {
				return 0, false, 0, err
			}
		}
		return ast.KindUnknown, false, 0, nil
	}
	if sig, ok := stdlibSignatures[name]; ok {
		return sig, false, 0, nil
	}
	// User function or unknown: the generator consults its own return-tag
	// table for calls it can resolve; here, in isolation, an unresolved
	// call is UNKNOWN, signalling a polymorphic result.
	return ast.KindUnknown, false, 0, nil
}
