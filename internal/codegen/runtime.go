// runtime.go declares the LLVM function types for every symbol the C
// runtime library exports: boxing/unboxing, list/dict operations, print,
// file I/O, terminal I/O and the libc helpers the runtime itself
// re-exports. Each is declared into the module once and looked up by name
// thereafter via m.NamedFunction.
package codegen

import "tinygo.org/x/go-llvm"

// runtimeFn describes one runtime/libc symbol's signature.
type runtimeFn struct {
	name     string
	params   func(g *Generator) []llvm.Type
	ret      func(g *Generator) llvm.Type
	variadic bool
}

func (g *Generator) runtimeSignatures() []runtimeFn {
	i8p := func(g *Generator) llvm.Type { return g.i8p }
	i64 := func(g *Generator) llvm.Type { return g.i64 }
	i32 := func(g *Generator) llvm.Type { return g.i32 }
	f64 := func(g *Generator) llvm.Type { return g.f64 }
	voidT := func(g *Generator) llvm.Type { return g.Ctx.VoidType() }

	return []runtimeFn{
		// Boxing: produce a self-describing Generic pointer.
		{"franz_box_int", func(g *Generator) []llvm.Type { return []llvm.Type{i64(g)} }, i8p, false},
		{"franz_box_float", func(g *Generator) []llvm.Type { return []llvm.Type{f64(g)} }, i8p, false},
		{"franz_box_string", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i8p, false},
		{"franz_box_closure", func(g *Generator) []llvm.Type { return []llvm.Type{i64(g)} }, i8p, false},
		{"franz_box_pointer_smart", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i8p, false},
		{"franz_box_list", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i8p, false},

		// Unboxing.
		{"franz_unbox_int", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i64, false},
		{"franz_unbox_float", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, f64, false},
		{"franz_unbox_string", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i8p, false},
		{"franz_unbox_pointer", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i8p, false},

		// List operations.
		{"franz_list_new", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i64(g)} }, i8p, true},
		{"franz_list_nth", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i64(g)} }, i8p, false},
		{"franz_list_length", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i64, false},
		{"franz_list_append", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i8p(g)} }, i8p, false},

		// Dict operations.
		{"franz_dict_new", func(g *Generator) []llvm.Type { return []llvm.Type{} }, i8p, false},
		{"franz_dict_get", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i8p(g)} }, i8p, false},
		{"franz_dict_set", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i8p(g), i8p(g)} }, i8p, false},
		{"franz_dict_keys", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i8p, false},

		// Print and terminal I/O.
		{"franz_print_generic", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, voidT, false},
		{"franz_read_line", func(g *Generator) []llvm.Type { return []llvm.Type{} }, i8p, false},
		{"franz_get_terminal_rows", func(g *Generator) []llvm.Type { return []llvm.Type{} }, i64, false},
		{"franz_get_terminal_columns", func(g *Generator) []llvm.Type { return []llvm.Type{} }, i64, false},
		{"franz_repeat_string", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i64(g)} }, i8p, false},

		// File I/O.
		{"readFile", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i8p, false},
		{"writeFile", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i8p(g)} }, i32, false},

		// libc.
		{"malloc", func(g *Generator) []llvm.Type { return []llvm.Type{i64(g)} }, i8p, false},
		{"realloc", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i64(g)} }, i8p, false},
		{"printf", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i32, true},
		{"snprintf", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i64(g), i8p(g)} }, i32, true},
		{"puts", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i32, false},
		{"strlen", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g)} }, i64, false},
		{"strcmp", func(g *Generator) []llvm.Type { return []llvm.Type{i8p(g), i8p(g)} }, i32, false},
		{"pow", func(g *Generator) []llvm.Type { return []llvm.Type{f64(g), f64(g)} }, f64, false},
		{"sqrt", func(g *Generator) []llvm.Type { return []llvm.Type{f64(g)} }, f64, false},
		{"rand", func(g *Generator) []llvm.Type { return []llvm.Type{} }, i32, false},
	}
}

// declareRuntime adds every runtime/libc extern declaration to the module
// up front: nearly every builtin touches one of these, and doing it once
// here keeps runtime(name) a simple cached lookup rather than a
// declare-on-demand branch repeated in a dozen builtin compilers.
func (g *Generator) declareRuntime() {
	for _, fn := range g.runtimeSignatures() {
		ftyp := llvm.FunctionType(fn.ret(g), fn.params(g), fn.variadic)
		llvm.AddFunction(g.Module, fn.name, ftyp)
	}
}

// runtime returns the declared LLVM function value for a runtime/libc
// symbol, panicking only if declareRuntime's table and call sites drift:
// a programmer error, not a user-facing one.
func (g *Generator) runtime(name string) llvm.Value {
	fn := g.Module.NamedFunction(name)
	if fn.IsNil() {
		panic("codegen: runtime symbol " + name + " was not declared")
	}
	return fn
}

// reservedNames lists identifiers a Franz program may never bind: the
// entry point and libc symbols the generated module links against.
var reservedNames = []string{"main", "printf", "atoi", "atof"}

func isReserved(name string) bool {
	for _, r := range reservedNames {
		if r == name {
			return true
		}
	}
	return false
}

// seedGlobalSymbols populates g.globalSymbols with every built-in name:
// arithmetic, comparison, control-flow heads, list/dict ops, I/O, ADTs,
// refs and module-loading forms. Names here are never eligible for
// capture and are looked up by builtins.go's dispatch table, not
// m.NamedFunction.
func (g *Generator) seedGlobalSymbols() {
	builtinNames := []string{
		"add", "subtract", "multiply", "divide", "remainder",
		"is", "less-than", "greater-than",
		"if", "when", "unless", "cond",
		"loop", "while", "break", "continue",
		"map", "filter", "reduce", "map2", "dict_map", "dict_filter",
		"println", "print", "read-line",
		"read_file", "write_file",
		"terminal-rows", "terminal-columns", "repeat-string",
		"ref", "deref", "set!",
		"variant", "match",
		"type", "format-int", "format-float",
		"use", "use_as", "use_with",
		"list", "nth", "length", "append",
		"dict", "dict-get", "dict-set", "dict-keys",
	}
	for _, n := range builtinNames {
		g.globalSymbols[n] = true
	}
}
