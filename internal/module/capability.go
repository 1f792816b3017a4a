// capability.go implements the `use_with` whitelist: a module imported
// with an explicit capability set may only reach the builtins that set
// grants, so a sandboxed plugin module can be trusted not to touch the
// filesystem just by looking at its import line rather than auditing its
// whole body.
package module

import "franz/internal/compileerr"

// Capability names a grantable builtin group. The set deliberately mirrors
// the `use_with` surface in the scoping grammar rather than every builtin
// individually: per-function whitelisting would let a careless module list
// grow unboundedly as new builtins are added.
type Capability string

const (
	CapIO   Capability = "io"
	CapFS   Capability = "fs"
	CapMath Capability = "math"
)

var capabilityBuiltins = map[Capability][]string{
	CapIO:   {"println", "print", "read-line", "terminal-rows", "terminal-columns", "repeat-string"},
	CapFS:   {"read_file", "write_file"},
	CapMath: {"add", "subtract", "multiply", "divide", "remainder"},
}

// coreBuiltins are the structural forms every module may always use:
// control flow, comparison, bindings, data construction and traversal.
// Capabilities gate effects and arithmetic, not the language itself.
var coreBuiltins = map[string]bool{
	"is": true, "less-than": true, "greater-than": true,
	"if": true, "when": true, "unless": true, "cond": true,
	"loop": true, "while": true, "break": true, "continue": true,
	"list": true, "nth": true, "length": true, "append": true,
	"map": true, "filter": true, "reduce": true, "map2": true,
	"dict": true, "dict-get": true, "dict-set": true, "dict-keys": true,
	"dict_map": true, "dict_filter": true,
	"ref": true, "deref": true, "set!": true,
	"variant": true, "match": true,
	"type": true, "format-int": true, "format-float": true,
	"use": true, "use_as": true, "use_with": true,
}

// Grant is the resolved permission set attached to one `use_with` import:
// the union of every builtin name its requested capabilities unlock.
type Grant struct {
	allowed map[string]bool
}

// NewGrant builds a Grant from the capability names listed in a
// `(use_with ["io", "fs"] "path")` form, rejecting any name that isn't one of
// the capabilities capability.go knows about.
func NewGrant(names []string, line int) (*Grant, error) {
	g := &Grant{allowed: make(map[string]bool)}
	for _, name := range names {
		builtins, ok := capabilityBuiltins[Capability(name)]
		if !ok {
			return nil, compileerr.New(compileerr.CapabilityDenied, line, "unknown capability %q", name)
		}
		for _, b := range builtins {
			g.allowed[b] = true
		}
	}
	return g, nil
}

// Allows reports whether builtin is reachable under this grant. A module
// loaded via plain `use`/`use_as` (no Grant at all) is unrestricted; the
// nil check here is what lets callers pass a nil *Grant for that case
// without every call site needing its own nil guard.
func (g *Grant) Allows(builtin string) bool {
	if g == nil {
		return true
	}
	return coreBuiltins[builtin] || g.allowed[builtin]
}

// Check returns a CapabilityDenied error if builtin is not reachable under
// grant, naming the builtin and line so the error mirrors the precision of
// compileerr's other Kind values.
func Check(grant *Grant, builtin string, line int) error {
	if grant.Allows(builtin) {
		return nil
	}
	return compileerr.New(compileerr.CapabilityDenied, line,
		"builtin %q is not reachable under this module's capability grant", builtin)
}
