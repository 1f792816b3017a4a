// Tests the module loader against real files in a temporary directory:
// splice expansion,
// cycle detection with the numbered chain report, the diamond-import
// single-load rule, the depth cap, use_as prefixing and use_with grants.
package module

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"franz/internal/ast"
	"franz/internal/compileerr"
	"franz/internal/frontend"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %s", name, err)
	}
}

func parseRoot(t *testing.T, src string) *ast.Node {
	t.Helper()
	root, err := frontend.Parse(src)
	if err != nil {
		t.Fatalf("parse error: %s", err)
	}
	return root
}

func TestExpandSplicesImportAheadOfCaller(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.franz", `inc = {x -> <- (add x 1)}`)

	root := parseRoot(t, `(use "lib.franz") (println (inc 1))`)
	l := NewLoader(dir)
	if err := l.Expand(root); err != nil {
		t.Fatalf("unexpected expand error: %s", err)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 top-level nodes after expansion, got %d", len(root.Children))
	}
	if root.Children[0].Op != ast.ASSIGNMENT || root.Children[0].Children[0].Value.(string) != "inc" {
		t.Fatalf("expected the imported assignment spliced first, got %s", root.Children[0])
	}
}

func TestExpandInvokesCallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.franz", `v = 1`)

	root := parseRoot(t, `(use "lib.franz" {-> (println 1)})`)
	l := NewLoader(dir)
	if err := l.Expand(root); err != nil {
		t.Fatalf("unexpected expand error: %s", err)
	}
	last := root.Children[len(root.Children)-1]
	if last.Op != ast.APPLICATION || last.Children[0].Op != ast.FUNCTION {
		t.Fatalf("expected a trailing callback application, got %s", last)
	}
}

func TestCircularImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.franz", `(use "b.franz" {->})`)
	writeFile(t, dir, "b.franz", `(use "a.franz" {->})`)

	root := parseRoot(t, `(use "a.franz" {->})`)
	l := NewLoader(dir)
	err := l.Expand(root)
	if err == nil {
		t.Fatal("expected a CircularImport error")
	}
	ce, ok := err.(*compileerr.CompileError)
	if !ok || ce.Kind != compileerr.CircularImport {
		t.Fatalf("expected CircularImport, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "a.franz") || !strings.Contains(msg, "b.franz") {
		t.Fatalf("cycle report must name both files, got: %s", msg)
	}
	if !strings.Contains(msg, "CYCLE BACK TO [1]") {
		t.Fatalf("cycle report must point back into the chain, got: %s", msg)
	}
}

func TestDiamondImportLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared.franz", `shared_val = 1`)
	writeFile(t, dir, "left.franz", `(use "shared.franz")`)
	writeFile(t, dir, "right.franz", `(use "shared.franz")`)

	root := parseRoot(t, `(use "left.franz") (use "right.franz")`)
	l := NewLoader(dir)
	if err := l.Expand(root); err != nil {
		t.Fatalf("unexpected expand error: %s", err)
	}
	count := 0
	for _, n := range root.Children {
		if n.Op == ast.ASSIGNMENT && n.Children[0].Value.(string) == "shared_val" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("shared module must splice exactly once, got %d copies", count)
	}
}

func TestImportDepthCap(t *testing.T) {
	if testing.Short() {
		t.Skip("writes several hundred fixture files")
	}
	dir := t.TempDir()
	const depth = maxImportDepth + 4
	for i := 0; i < depth; i++ {
		content := fmt.Sprintf(`(use "m%d.franz")`, i+1)
		if i == depth-1 {
			content = `leaf = 1`
		}
		writeFile(t, dir, fmt.Sprintf("m%d.franz", i), content)
	}
	root := parseRoot(t, `(use "m0.franz")`)
	l := NewLoader(dir)
	err := l.Expand(root)
	if err == nil {
		t.Fatal("expected the depth cap to trip")
	}
	ce, ok := err.(*compileerr.CompileError)
	if !ok || ce.Kind != compileerr.CircularImport {
		t.Fatalf("expected CircularImport from the depth cap, got %v", err)
	}
}

func TestUseAsPrefixesBindings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "m.franz", `inc = {x -> <- (add x 1)}
twice = {x -> <- (inc (inc x))}`)

	root := parseRoot(t, `(use_as "m.franz" math)`)
	l := NewLoader(dir)
	if err := l.Expand(root); err != nil {
		t.Fatalf("unexpected expand error: %s", err)
	}
	names := make([]string, 0, len(root.Children))
	for _, n := range root.Children {
		if n.Op == ast.ASSIGNMENT {
			names = append(names, n.Children[0].Value.(string))
		}
	}
	if len(names) != 2 || names[0] != "math.inc" || names[1] != "math.twice" {
		t.Fatalf("expected prefixed bindings, got %v", names)
	}
	// Internal references are rewritten too.
	body := root.Children[1].Children[1]
	found := false
	var walk func(n *ast.Node)
	walk = func(n *ast.Node) {
		if n.Op == ast.IDENTIFIER && n.Value == "math.inc" {
			found = true
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(body)
	if !found {
		t.Fatal("expected the module's own call sites rewritten to the prefixed name")
	}
}

func TestUseWithGrants(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plugin.franz", `(println "hello")`)

	root := parseRoot(t, `(use_with ["io"] "plugin.franz")`)
	l := NewLoader(dir)
	if err := l.Expand(root); err != nil {
		t.Fatalf("unexpected expand error: %s", err)
	}
	if len(l.Grants()) == 0 {
		t.Fatal("expected the spliced nodes registered under the io grant")
	}
	for _, grant := range l.Grants() {
		if !grant.Allows("println") {
			t.Fatal("io grant must allow println")
		}
		if grant.Allows("read_file") {
			t.Fatal("io grant must not allow read_file")
		}
		if !grant.Allows("if") {
			t.Fatal("core forms are always allowed")
		}
	}
}

func TestUnknownCapability(t *testing.T) {
	if _, err := NewGrant([]string{"network"}, 1); err == nil {
		t.Fatal("expected an error for an unknown capability name")
	}
}

func TestNilGrantIsUnrestricted(t *testing.T) {
	var g *Grant
	if !g.Allows("read_file") {
		t.Fatal("a module imported without use_with must be unrestricted")
	}
}

func TestMissingImportFile(t *testing.T) {
	dir := t.TempDir()
	root := parseRoot(t, `(use "absent.franz")`)
	l := NewLoader(dir)
	if err := l.Expand(root); err == nil {
		t.Fatal("expected an error for a missing module file")
	}
	_ = os.Remove(filepath.Join(dir, "absent.franz"))
}
