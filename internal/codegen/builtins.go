// builtins.go holds the string-keyed dispatch table forms like `add` and
// `if` are compiled through. Keeping builtins in one flat map rather than
// a big switch inside genApplication keeps the user-visible name list in
// one place and lets control.go/listops.go add entries without touching
// callconv.go.
package codegen

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/compileerr"
)

type builtinCompiler func(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error)

var builtinTable map[string]builtinCompiler

func init() {
	builtinTable = map[string]builtinCompiler{
		"add":       arithOp(llvm.Builder.CreateAdd, llvm.Builder.CreateFAdd),
		"subtract":  arithOp(llvm.Builder.CreateSub, llvm.Builder.CreateFSub),
		"multiply":  arithOp(llvm.Builder.CreateMul, llvm.Builder.CreateFMul),
		"divide":    genDivide,
		"remainder": arithOp(llvm.Builder.CreateSRem, llvm.Builder.CreateFRem),

		"is":           cmpOp(llvm.IntEQ, llvm.FloatOEQ),
		"less-than":    cmpOp(llvm.IntSLT, llvm.FloatOLT),
		"greater-than": cmpOp(llvm.IntSGT, llvm.FloatOGT),

		"if":     genIf,
		"when":   genWhen,
		"unless": genUnless,
		"cond":   genCond,

		"loop":     genLoop,
		"while":    genWhile,
		"break":    genBreak,
		"continue": genContinue,

		"println":   genPrintln,
		"print":     genPrint,
		"read-line": genReadLine,

		"read_file":  genReadFile,
		"write_file": genWriteFile,

		"terminal-rows":    runtimeNullary("franz_get_terminal_rows"),
		"terminal-columns": runtimeNullary("franz_get_terminal_columns"),
		"repeat-string":    genRepeatString,

		"ref":   genRef,
		"deref": genDeref,
		"set!":  genSetBang,

		"list":   genListBuiltin,
		"nth":    genNth,
		"length": genLength,
		"append": genAppend,

		"map":         genMap,
		"filter":      genFilter,
		"reduce":      genReduce,
		"map2":        genMap2,
		"dict_map":    genDictMap,
		"dict_filter": genDictFilter,

		"dict":      genDictNew,
		"dict-get":  genDictGet,
		"dict-set":  genDictSet,
		"dict-keys": genDictKeys,

		"type":         genType,
		"format-int":   genFormatInt,
		"format-float": genFormatFloat,

		"variant": genVariant,
		"match":   genMatch,

		"use":      importOutsideTopLevel,
		"use_as":   importOutsideTopLevel,
		"use_with": importOutsideTopLevel,
	}
}

// importOutsideTopLevel rejects a use/use_as/use_with form that survived
// the loader's top-level expansion: imports nested inside expressions have
// no sensible splice point.
func importOutsideTopLevel(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	return llvm.Value{}, compileerr.New(compileerr.UnsupportedOpcode, n.Line,
		"%s is only valid at the top level of a module", n.Children[0].Value)
}

// arithOp builds a builtinCompiler for a variadic numeric operator: all
// operands are compiled, tracked Generics are unboxed, everything is
// promoted to double if any operand is a float (float wins),
// then the fold runs left to right.
func arithOp(intOp, floatOp func(llvm.Builder, llvm.Value, llvm.Value, string) llvm.Value) builtinCompiler {
	return func(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
		vals, useFloat, err := g.numericOperands(n, args)
		if err != nil {
			return llvm.Value{}, err
		}
		acc := vals[0]
		for _, v := range vals[1:] {
			if useFloat {
				acc = floatOp(g.Builder, acc, v, "")
			} else {
				acc = intOp(g.Builder, acc, v, "")
			}
		}
		return acc, nil
	}
}

// genDivide is arithOp's division instance plus the literal-zero divisor
// check: a constant zero anywhere after the first operand is a
// compile-time error, while a dynamic zero stays undefined behaviour per
// LLVM integer-division semantics.
func genDivide(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) < 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line,
			"divide expects at least 2 arguments, got %d", len(args))
	}
	for _, a := range args[1:] {
		if a.Op == ast.INT && a.Value.(int64) == 0 {
			return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line, "division by zero")
		}
		if a.Op == ast.FLOAT && a.Value.(float64) == 0 {
			return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line, "division by zero")
		}
	}
	return arithOp(llvm.Builder.CreateSDiv, llvm.Builder.CreateFDiv)(g, n, args)
}

// numericOperands compiles every operand of a variadic arithmetic form,
// unboxes tracked Generics, and promotes the lot to double when any
// operand is float-kinded.
func (g *Generator) numericOperands(n *ast.Node, args []*ast.Node) ([]llvm.Value, bool, error) {
	if len(args) < 2 {
		return nil, false, compileerr.New(compileerr.ArgumentCount, n.Line,
			"%s expects at least 2 arguments, got %d", n.Children[0].Value, len(args))
	}
	vals := make([]llvm.Value, len(args))
	useFloat := false
	for i, a := range args {
		v, k, err := g.genTyped(a)
		if err != nil {
			return nil, false, err
		}
		if k == ast.KindString || k == ast.KindList {
			return nil, false, compileerr.New(compileerr.TypeMismatch, n.Line,
				"operator %q requires numeric operands, got %s", n.Children[0].Value, k)
		}
		vals[i] = v
		if k == ast.KindFloat || v.Type() == g.f64 {
			useFloat = true
		}
	}
	for i, v := range vals {
		if v.Type().TypeKind() == llvm.PointerTypeKind {
			// A Generic operand: unbox to whichever family the expression
			// settled on.
			if useFloat {
				v = g.Builder.CreateCall(g.runtime("franz_unbox_float"), []llvm.Value{g.toI8p(v)}, "")
			} else {
				v = g.Builder.CreateCall(g.runtime("franz_unbox_int"), []llvm.Value{g.toI8p(v)}, "")
			}
		}
		if useFloat && v.Type() != g.f64 {
			v = g.Builder.CreateSIToFP(g.widenToI64(v), g.f64, "")
		}
		if !useFloat && v.Type() != g.i64 {
			v = g.widenToI64(v)
		}
		vals[i] = v
	}
	return vals, useFloat, nil
}

// cmpOp builds a type-aware comparison: numeric operands compare after
// promotion, strings compare via strcmp, and a void operand known at
// compile time folds to a constant; the voidVariables map is what keeps
// `(is x void)` from conflating void with numeric zero.
func cmpOp(iPred llvm.IntPredicate, fPred llvm.FloatPredicate) builtinCompiler {
	return func(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
		if len(args) != 2 {
			return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line,
				"%s expects 2 arguments, got %d", n.Children[0].Value, len(args))
		}
		lv, lk, err := g.genTyped(args[0])
		if err != nil {
			return llvm.Value{}, err
		}
		rv, rk, err := g.genTyped(args[1])
		if err != nil {
			return llvm.Value{}, err
		}

		if lk == ast.KindVoid || rk == ast.KindVoid {
			eq := int64(0)
			if lk == rk && iPred == llvm.IntEQ {
				eq = 1
			}
			return llvm.ConstInt(g.i64, uint64(eq), false), nil
		}
		if lk == ast.KindString && rk == ast.KindString {
			cmp := g.Builder.CreateCall(g.runtime("strcmp"), []llvm.Value{g.toI8p(lv), g.toI8p(rv)}, "")
			res := g.Builder.CreateICmp(iPred, cmp, llvm.ConstInt(g.i32, 0, false), "")
			return g.Builder.CreateZExt(res, g.i64, ""), nil
		}

		useFloat := lk == ast.KindFloat || rk == ast.KindFloat || lv.Type() == g.f64 || rv.Type() == g.f64
		lnum := g.asNumeric(lv, useFloat)
		rnum := g.asNumeric(rv, useFloat)
		var cmp llvm.Value
		if useFloat {
			cmp = g.Builder.CreateFCmp(fPred, lnum, rnum, "")
		} else {
			cmp = g.Builder.CreateICmp(iPred, lnum, rnum, "")
		}
		return g.Builder.CreateZExt(cmp, g.i64, ""), nil
	}
}

// asNumeric coerces a compiled value to i64 or double for comparison,
// unboxing Generics along the way.
func (g *Generator) asNumeric(v llvm.Value, useFloat bool) llvm.Value {
	if v.Type().TypeKind() == llvm.PointerTypeKind {
		if useFloat {
			return g.Builder.CreateCall(g.runtime("franz_unbox_float"), []llvm.Value{g.toI8p(v)}, "")
		}
		return g.Builder.CreateCall(g.runtime("franz_unbox_int"), []llvm.Value{g.toI8p(v)}, "")
	}
	if useFloat {
		if v.Type() == g.f64 {
			return v
		}
		return g.Builder.CreateSIToFP(g.widenToI64(v), g.f64, "")
	}
	return g.widenToI64(v)
}

func genPrintln(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	return genPrintImpl(g, n, args)
}

func genPrint(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	return genPrintImpl(g, n, args)
}

// genPrintImpl boxes the argument and hands it to franz_print_generic,
// which renders any Generic (int, float, string, list, dict, closure)
// in the runtime's canonical print format. print and println both lower
// to this same call, so the generated code does not tell them apart.
func genPrintImpl(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "print expects 1 argument")
	}
	v, k, err := g.genTyped(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	boxed := g.boxValue(v, k)
	g.Builder.CreateCall(g.runtime("franz_print_generic"), []llvm.Value{boxed}, "")
	return llvm.ConstNull(g.i8p), nil
}

func genReadLine(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 0 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "read-line expects no arguments")
	}
	return g.Builder.CreateCall(g.runtime("franz_read_line"), nil, ""), nil
}

func genReadFile(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "read_file expects 1 argument (path)")
	}
	path, _, err := g.genTyped(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("readFile"), []llvm.Value{g.toI8p(path)}, ""), nil
}

func genWriteFile(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "write_file expects 2 arguments (path, content)")
	}
	path, _, err := g.genTyped(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	content, _, err := g.genTyped(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	res := g.Builder.CreateCall(g.runtime("writeFile"), []llvm.Value{g.toI8p(path), g.toI8p(content)}, "")
	return g.Builder.CreateZExt(res, g.i64, ""), nil
}

// runtimeNullary adapts a zero-argument runtime query into a builtin.
func runtimeNullary(symbol string) builtinCompiler {
	return func(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
		if len(args) != 0 {
			return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line,
				"%s expects no arguments", n.Children[0].Value)
		}
		return g.Builder.CreateCall(g.runtime(symbol), nil, ""), nil
	}
}

func genRepeatString(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "repeat-string expects 2 arguments (string, count)")
	}
	s, _, err := g.genTyped(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	c, _, err := g.genTyped(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("franz_repeat_string"),
		[]llvm.Value{g.toI8p(s), g.asNumeric(c, false)}, ""), nil
}

// genFormatInt renders an integer in a given base (default 10). The bases
// the formatter supports are exactly those printf can express; asking for
// another one is a compile-time error, not a silent fallback.
func genFormatInt(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "format-int expects 1 or 2 arguments (value, base)")
	}
	format := "%ld"
	if len(args) == 2 {
		if args[1].Op != ast.INT {
			return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line, "format-int base must be an integer literal")
		}
		switch args[1].Value.(int64) {
		case 8:
			format = "%lo"
		case 10:
			format = "%ld"
		case 16:
			format = "%lx"
		default:
			return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line,
				"format-int: unsupported base %d", args[1].Value)
		}
	}
	v, _, err := g.genTyped(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.snprintfToBuffer(32, format, g.asNumeric(v, false)), nil
}

// genFormatFloat renders a float with a given precision (default 6,
// clamped to 17; the longest decimal run that still round-trips a
// double).
func genFormatFloat(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "format-float expects 1 or 2 arguments (value, precision)")
	}
	precision := int64(6)
	if len(args) == 2 {
		if args[1].Op != ast.INT {
			return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line, "format-float precision must be an integer literal")
		}
		precision = args[1].Value.(int64)
		if precision > 17 {
			precision = 17
		}
		if precision < 0 {
			precision = 0
		}
	}
	v, _, err := g.genTyped(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	format := fmt.Sprintf("%%.%df", precision)
	return g.snprintfToBuffer(64, format, g.asNumeric(v, true)), nil
}

// snprintfToBuffer emits malloc+snprintf and returns the filled buffer.
func (g *Generator) snprintfToBuffer(size int, format string, v llvm.Value) llvm.Value {
	buf := g.Builder.CreateCall(g.runtime("malloc"), []llvm.Value{llvm.ConstInt(g.i64, uint64(size), false)}, "fmt.buf")
	fstr := g.Builder.CreateGlobalStringPtr(format, "L_FMT")
	g.Builder.CreateCall(g.runtime("snprintf"),
		[]llvm.Value{buf, llvm.ConstInt(g.i64, uint64(size), false), fstr, v}, "")
	return buf
}
