// Package module resolves `use`/`use_as`/`use_with` forms into parsed
// ASTs spliced ahead of the importing code, detects import cycles via an
// import stack, and gates which builtins a capability-restricted module
// may call.
package module

import (
	"fmt"
	"path/filepath"
	"strings"

	"franz/internal/ast"
	"franz/internal/compileerr"
	"franz/internal/frontend"
)

// maxImportDepth bounds the import stack: a real program very rarely
// nests imports more than a handful deep, so this catches a pathological
// or cyclic chain long before the process call stack itself is at risk.
const maxImportDepth = 256

// Loader resolves Franz source files into parsed ASTs and splices them
// into the importing module's top-level statement list. Each distinct
// path loads exactly once per compilation: a diamond-shaped import graph
// must not define the same functions twice.
type Loader struct {
	baseDir string
	stack   []importFrame
	loaded  map[string]bool
	grants  map[*ast.Node]*Grant
}

type importFrame struct {
	path string
	line int
}

func NewLoader(baseDir string) *Loader {
	return &Loader{
		baseDir: baseDir,
		loaded:  make(map[string]bool),
		grants:  make(map[*ast.Node]*Grant),
	}
}

// Grants reports, per spliced top-level node, the use_with capability
// grant it was imported under. Nodes absent from the map are
// unrestricted.
func (l *Loader) Grants() map[*ast.Node]*Grant {
	return l.grants
}

// Expand rewrites root's top-level statement list in place: every
// use/use_as/use_with form is replaced by the imported file's (already
// recursively expanded) statements, followed, for imports carrying a
// callback, by an application invoking it. Splicing ahead of the
// importing code gives the generator's forward-declaration pass a
// complete picture of every function across the whole program before any
// body is lowered.
func (l *Loader) Expand(root *ast.Node) error {
	expanded := make([]*ast.Node, 0, len(root.Children))
	for _, n := range root.Children {
		form, ok := importForm(n)
		if !ok {
			expanded = append(expanded, n)
			continue
		}
		nodes, err := l.expandImport(n, form)
		if err != nil {
			return err
		}
		expanded = append(expanded, nodes...)
	}
	root.Children = expanded
	return nil
}

// importForm reports whether n is a top-level use/use_as/use_with
// application, returning which.
func importForm(n *ast.Node) (string, bool) {
	if n.Op != ast.APPLICATION || n.Children[0].Op != ast.IDENTIFIER {
		return "", false
	}
	name := n.Children[0].Value.(string)
	if name == "use" || name == "use_as" || name == "use_with" {
		return name, true
	}
	return "", false
}

// expandImport resolves one import form into the statement nodes that
// replace it.
func (l *Loader) expandImport(n *ast.Node, form string) ([]*ast.Node, error) {
	args := n.Children[1].Children

	var grant *Grant
	var pathArg *ast.Node
	var rest []*ast.Node
	switch form {
	case "use_with":
		// (use_with ["io", "fs"] "path" callback?)
		if len(args) < 2 || args[0].Op != ast.LIST {
			return nil, compileerr.New(compileerr.ParseError, n.Line,
				"use_with requires a capability list as its first argument")
		}
		names := make([]string, 0, len(args[0].Children))
		for _, c := range args[0].Children {
			if c.Op != ast.STRING {
				return nil, compileerr.New(compileerr.ParseError, n.Line,
					"use_with capabilities must be string literals")
			}
			names = append(names, c.Value.(string))
		}
		var err error
		grant, err = NewGrant(names, n.Line)
		if err != nil {
			return nil, err
		}
		pathArg = args[1]
		rest = args[2:]
	default:
		if len(args) < 1 {
			return nil, compileerr.New(compileerr.ParseError, n.Line,
				"%s requires a string path as its first argument", form)
		}
		pathArg = args[0]
		rest = args[1:]
	}
	if pathArg.Op != ast.STRING {
		return nil, compileerr.New(compileerr.ParseError, n.Line,
			"%s requires a string path, got %s", form, pathArg.Op)
	}
	path := pathArg.Value.(string)

	imported, err := l.load(path, n.Line)
	if err != nil {
		return nil, err
	}

	var nodes []*ast.Node
	if imported != nil {
		if form == "use_as" {
			if len(rest) < 1 || rest[0].Op != ast.IDENTIFIER && rest[0].Op != ast.STRING {
				return nil, compileerr.New(compileerr.ParseError, n.Line,
					"use_as requires a module name after the path")
			}
			prefixModule(imported, fmt.Sprint(rest[0].Value))
			rest = rest[1:]
		}
		nodes = imported.Children
		if grant != nil {
			for _, in := range nodes {
				l.grants[in] = grant
			}
		}
	}

	// A trailing function-literal callback runs after the module's own
	// top-level statements.
	if form != "use_as" {
		for _, cb := range rest {
			if cb.Op != ast.FUNCTION {
				continue
			}
			nodes = append(nodes, &ast.Node{
				Op:   ast.APPLICATION,
				Line: n.Line,
				Children: []*ast.Node{
					cb,
					{Op: ast.STATEMENT},
				},
			})
		}
	}
	return nodes, nil
}

// load resolves and parses path relative to the importing file's
// directory, keeping the frame on the import stack through the recursive
// expansion of the imported file's own imports, so a cycle anywhere in
// the chain is caught at the moment it would re-enter an open file.
func (l *Loader) load(path string, line int) (*ast.Node, error) {
	base := l.baseDir
	if len(l.stack) > 0 {
		base = filepath.Dir(l.stack[len(l.stack)-1].path)
	}
	abs := filepath.Join(base, path)

	for i, frame := range l.stack {
		if frame.path == abs {
			return nil, compileerr.New(compileerr.CircularImport, line,
				"circular import:\n%s CYCLE BACK TO [%d] %s", l.chainString(), i+1, abs)
		}
	}
	if len(l.stack) >= maxImportDepth {
		return nil, compileerr.New(compileerr.CircularImport, line,
			"import depth exceeds %d, probable cycle through %s", maxImportDepth, abs)
	}
	if l.loaded[abs] {
		// Diamond import: symbols are already spliced in; nothing to add.
		return nil, nil
	}
	l.loaded[abs] = true

	src, err := readModuleSource(abs)
	if err != nil {
		return nil, compileerr.Wrap(compileerr.ParseError, line, err, "loading %s", abs)
	}

	l.stack = append(l.stack, importFrame{path: abs, line: line})
	root, err := frontend.Parse(src)
	if err == nil {
		err = l.Expand(root)
	}
	l.stack = l.stack[:len(l.stack)-1]
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (l *Loader) chainString() string {
	var b strings.Builder
	for i, frame := range l.stack {
		fmt.Fprintf(&b, " [%d] %s\n", i+1, frame.path)
	}
	return b.String()
}

// prefixModule renames every top-level binding of an imported module to
// `name.binding`, rewriting references throughout the module's own code so
// its internals keep resolving, while the importer reaches everything
// through the qualified names.
func prefixModule(root *ast.Node, name string) {
	exported := make(map[string]bool)
	for _, n := range root.Children {
		if n.Op == ast.ASSIGNMENT {
			exported[n.Children[0].Value.(string)] = true
		}
	}
	rewriteIdents(root, exported, name+".")
}

func rewriteIdents(n *ast.Node, names map[string]bool, prefix string) {
	if n == nil {
		return
	}
	if n.Op == ast.IDENTIFIER {
		if s, ok := n.Value.(string); ok && names[s] {
			n.Value = prefix + s
		}
	}
	for _, c := range n.Children {
		rewriteIdents(c, names, prefix)
	}
}
