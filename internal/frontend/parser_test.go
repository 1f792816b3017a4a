package frontend

import (
	"testing"

	"franz/internal/ast"
)

func TestParseFactorial(t *testing.T) {
	src := `factorial = {n -> <- (if (is n 0) {<- 1} {<- (multiply n (factorial (subtract n 1)))})}`
	root, err := Parse(src)
	if err != nil {
		t.Fatalf("unexpected parse error: %s", err)
	}
	if root.Op != ast.STATEMENT || len(root.Children) != 1 {
		t.Fatalf("expected single top-level statement, got %s with %d children", root.Op, len(root.Children))
	}
	assign := root.Children[0]
	if assign.Op != ast.ASSIGNMENT {
		t.Fatalf("expected ASSIGNMENT, got %s", assign.Op)
	}
	fn := assign.Children[1]
	if fn.Op != ast.FUNCTION {
		t.Fatalf("expected FUNCTION RHS, got %s", fn.Op)
	}
}

func TestParseList(t *testing.T) {
	root, err := Parse(`nums = [1, 2, 3]`)
	if err != nil {
		t.Fatalf("unexpected parse error: %s", err)
	}
	list := root.Children[0].Children[1]
	if list.Op != ast.LIST || len(list.Children) != 3 {
		t.Fatalf("expected LIST with 3 children, got %s with %d", list.Op, len(list.Children))
	}
}

func TestParseCircularImportShape(t *testing.T) {
	root, err := Parse(`(use "b.franz" {->})`)
	if err != nil {
		t.Fatalf("unexpected parse error: %s", err)
	}
	app := root.Children[0]
	if app.Op != ast.APPLICATION {
		t.Fatalf("expected APPLICATION, got %s", app.Op)
	}
	if app.Children[0].Value.(string) != "use" {
		t.Fatalf("expected head identifier 'use', got %v", app.Children[0].Value)
	}
}
