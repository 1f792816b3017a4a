// Package ast defines the uniform syntax tree node produced by the frontend
// and consumed read-only by the free-variable analyzer, type inferencer,
// closure lowering pass and IR generator.
package ast

import (
	"fmt"
	"strings"
)

// Opcode differentiates the kinds of node in the syntax tree.
type Opcode int

// Node is a single node in the syntax tree. Nodes are owned by the parser
// and borrowed read-only by every later pass except the free-variable
// analyzer, which writes FreeVars in place.
type Node struct {
	Op       Opcode
	Value    interface{} // string/int/float payload for leaf nodes.
	Children []*Node
	Line     int
	Mutable  bool // set on ASSIGNMENT targets declared with the mutable-binding form.

	FreeVars []string // populated by the free-variable analyzer; insertion order significant.

	// Type is filled in by the type inferencer for FUNCTION nodes: the
	// inferred parameter types line up 1:1 with the parameter identifier
	// children, Return is the inferred return classification.
	Type *Signature
}

// Signature is the inference result for a single function literal.
type Signature struct {
	Params []Kind
	Return Kind
	// IdentityParam is set when the return expression is a direct parameter
	// reference; ParamIndex identifies which one. This is what later drives
	// the DYNAMIC closure return tag.
	IdentityParam bool
	ParamIndex    int
}

// String renders a signature the way franz-check's --show-types reports
// it, e.g. "(int, unknown) -> int".
func (s *Signature) String() string {
	if s == nil {
		return "<no signature>"
	}
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, ", ") + ") -> " + s.Return.String()
}

// Kind is a source-level type classification, the alphabet the type
// inferencer works over.
type Kind int

const (
	KindUnknown Kind = iota
	KindInt
	KindFloat
	KindString
	KindList
	KindVoid
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindVoid:
		return "void"
	default:
		return "unknown"
	}
}

const (
	INT Opcode = iota
	FLOAT
	STRING
	IDENTIFIER
	LIST
	ASSIGNMENT
	APPLICATION
	STATEMENT
	FUNCTION
	RETURN
)

var names = [...]string{
	"INT", "FLOAT", "STRING", "IDENTIFIER", "LIST",
	"ASSIGNMENT", "APPLICATION", "STATEMENT", "FUNCTION", "RETURN",
}

// String returns the opcode's print-friendly name, e.g. for -d traces.
func (o Opcode) String() string {
	if int(o) < 0 || int(o) >= len(names) {
		return fmt.Sprintf("OPCODE(%d)", int(o))
	}
	return names[o]
}

// String returns a print-friendly single-line description of n: opcode
// name plus payload, quoting string data.
func (n *Node) String() string {
	if n == nil {
		return "<nil node>"
	}
	switch n.Op {
	case INT:
		return fmt.Sprintf("INT [%d]", n.Value)
	case FLOAT:
		return fmt.Sprintf("FLOAT [%v]", n.Value)
	case STRING:
		return fmt.Sprintf("STRING [%q]", n.Value)
	case IDENTIFIER:
		return fmt.Sprintf("IDENTIFIER [%s]", n.Value)
	default:
		if n.Value != nil {
			return fmt.Sprintf("%s [%v]", n.Op, n.Value)
		}
		return n.Op.String()
	}
}

// Print recursively dumps n and its children, indenting one level per
// depth. Used behind -d.
func (n *Node) Print(depth int) {
	if n == nil {
		fmt.Printf("%*c%s\n", depth<<1, ' ', "<nil>")
		return
	}
	fmt.Printf("%*c%s\n", depth<<1, ' ', n.String())
	for _, c := range n.Children {
		c.Print(depth + 1)
	}
}

// IsLeaf reports whether n carries no sub-expressions.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}
