// Package freevars implements the free-variable analyzer: for every
// function literal, compute the set of identifiers referenced in its body
// that are neither parameters nor locally bound, in first-discovery
// order: the order the closure environment record is laid out in later.
//
// Nested function literals re-run the analyzer recursively; an inner
// function's free variables are also free in the outer function when the
// outer does not bind them, which is what makes arbitrary-depth nesting
// work.
package freevars

import "franz/internal/ast"

// Analyze walks fn, a FUNCTION node, writing fn.FreeVars in place.
// Analyze is pure otherwise: it writes nothing but the FreeVars field of fn
// and of the function literals nested in it, and
// running it twice on the same node yields the same FreeVars content
// (though a fresh backing array).
func Analyze(fn *ast.Node) {
	if fn == nil || fn.Op != ast.FUNCTION {
		return
	}
	bound := newBoundSet()
	for _, p := range fn.Children[0].Children {
		bound.bind(p.Value.(string))
	}
	free := newOrderedSet()
	walk(fn.Children[1], bound, free)
	fn.FreeVars = free.order
}

// boundSet is a stack of scopes of locally bound names: parameters and
// assignment targets introduced inside the current function body. Nested
// BLOCK-like scopes push/pop in LIFO order exactly like the generator's
// own scope stack (internal/codegen), because both are modeling the same
// lexical scoping rule.
type boundSet struct {
	scopes []map[string]bool
}

func newBoundSet() *boundSet {
	return &boundSet{scopes: []map[string]bool{{}}}
}

func (b *boundSet) push() {
	b.scopes = append(b.scopes, map[string]bool{})
}

func (b *boundSet) pop() {
	b.scopes = b.scopes[:len(b.scopes)-1]
}

func (b *boundSet) bind(name string) {
	b.scopes[len(b.scopes)-1][name] = true
}

func (b *boundSet) has(name string) bool {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if b.scopes[i][name] {
			return true
		}
	}
	return false
}

// orderedSet de-duplicates free-variable names while preserving the order
// each was first discovered, since the environment record's field layout
// depends on that order.
type orderedSet struct {
	seen  map[string]bool
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(name string) {
	if s.seen[name] {
		return
	}
	s.seen[name] = true
	s.order = append(s.order, name)
}

// walk recursively visits n, recording any IDENTIFIER reference not bound
// in scope as free, and re-running the analyzer on nested FUNCTION
// literals so their own free variables (filtered against what they bind)
// bubble up into the enclosing function's free set too.
func walk(n *ast.Node, bound *boundSet, free *orderedSet) {
	if n == nil {
		return
	}
	switch n.Op {
	case ast.IDENTIFIER:
		name := n.Value.(string)
		if !bound.has(name) {
			free.add(name)
		}
	case ast.ASSIGNMENT:
		// The RHS is evaluated in the current scope (it may itself reference
		// the name being bound only for recursive function literals, a case
		// the generator's forward declarations handle, not this pass).
		walk(n.Children[1], bound, free)
		bound.bind(n.Children[0].Value.(string))
	case ast.FUNCTION:
		inner := &ast.Node{Op: ast.FUNCTION, Children: n.Children}
		Analyze(inner)
		for _, name := range inner.FreeVars {
			if !bound.has(name) {
				free.add(name)
			}
		}
		n.FreeVars = inner.FreeVars
	case ast.STATEMENT:
		bound.push()
		for _, c := range n.Children {
			walk(c, bound, free)
		}
		bound.pop()
	default:
		for _, c := range n.Children {
			walk(c, bound, free)
		}
	}
}
