package ast

import "testing"

func TestOpcodeString(t *testing.T) {
	cases := map[Opcode]string{
		INT:         "INT",
		FLOAT:       "FLOAT",
		STRING:      "STRING",
		IDENTIFIER:  "IDENTIFIER",
		LIST:        "LIST",
		ASSIGNMENT:  "ASSIGNMENT",
		APPLICATION: "APPLICATION",
		STATEMENT:   "STATEMENT",
		FUNCTION:    "FUNCTION",
		RETURN:      "RETURN",
	}
	for op, want := range cases {
		if op.String() != want {
			t.Fatalf("got %q, want %q", op.String(), want)
		}
	}
	if Opcode(99).String() != "OPCODE(99)" {
		t.Fatalf("out-of-range opcode: got %q", Opcode(99).String())
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindInt:     "int",
		KindFloat:   "float",
		KindString:  "string",
		KindList:    "list",
		KindVoid:    "void",
		KindUnknown: "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Fatalf("got %q, want %q", k.String(), want)
		}
	}
}

func TestNodeString(t *testing.T) {
	n := &Node{Op: INT, Value: int64(42)}
	if n.String() != "INT [42]" {
		t.Fatalf("got %q", n.String())
	}
	var nilNode *Node
	if nilNode.String() != "<nil node>" {
		t.Fatalf("got %q", nilNode.String())
	}
}
