// Tests the lexer by verifying that a short Franz snippet is tokenized in
// the expected order: a hand-built expected item slice compared against
// the lexer's live output.
package frontend

import "testing"

func TestLexerBasic(t *testing.T) {
	src := `inc = {n -> <- (add n 1)}`

	l := newLexer(src)
	go l.run()

	exp := []item{
		{typ: itemIdentifier, val: "inc"},
		{typ: itemAssign, val: "="},
		{typ: itemLBrace, val: "{"},
		{typ: itemIdentifier, val: "n"},
		{typ: itemArrow, val: "->"},
		{typ: itemReturn, val: "<-"},
		{typ: itemLParen, val: "("},
		{typ: itemIdentifier, val: "add"},
		{typ: itemIdentifier, val: "n"},
		{typ: itemInt, val: "1"},
		{typ: itemRParen, val: ")"},
		{typ: itemRBrace, val: "}"},
		{typ: itemEOF, val: ""},
	}

	for i, want := range exp {
		got := l.nextItem()
		if got.typ != want.typ || got.val != want.val {
			t.Fatalf("token %d: got %+v, want typ=%d val=%q", i, got, want.typ, want.val)
		}
	}
}

func TestLexerStringEscape(t *testing.T) {
	l := newLexer(`"hi\nthere"`)
	go l.run()
	got := l.nextItem()
	if got.typ != itemString {
		t.Fatalf("expected itemString, got %+v", got)
	}
	if got.val != "hi\nthere" {
		t.Fatalf("expected escape to be processed, got %q", got.val)
	}
}

func TestLexerComment(t *testing.T) {
	l := newLexer("x = 1 // trailing comment\ny = 2")
	go l.run()
	var vals []string
	for {
		it := l.nextItem()
		if it.typ == itemEOF {
			break
		}
		vals = append(vals, it.val)
	}
	want := []string{"x", "=", "1", "y", "=", "2"}
	if len(vals) != len(want) {
		t.Fatalf("got %d tokens %v, want %v", len(vals), vals, want)
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("token %d: got %q, want %q", i, vals[i], want[i])
		}
	}
}
