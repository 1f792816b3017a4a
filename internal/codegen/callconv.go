// callconv.go is the universal-value calling convention: every closure
// call site passes an (i64 value, i32 tag) pair per argument and receives
// the universal i8* back, re-typed through the closure record's
// return_tag (or, for DYNAMIC, through the runtime tag of the argument
// param_index names). Direct calls to top-level functions skip all of it
// and use the natural ABI inference produced; that asymmetry is the whole
// point: the monomorphic path stays unboxed while first-class and
// higher-order calls stay possible.
package codegen

import (
	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/compileerr"
)

// genApplication dispatches `(head arg...)`: builtins first (arithmetic,
// comparison, control flow, list/dict/io/ADT/ref forms, module loading),
// then a user-defined top-level function, then a closure value reached
// through an identifier or a nested application (e.g. `((compose f g) 1)`).
func (g *Generator) genApplication(n *ast.Node) (llvm.Value, error) {
	head := n.Children[0]
	args := n.Children[1].Children
	tail := g.takeTailPosition()

	if head.Op == ast.IDENTIFIER {
		name := head.Value.(string)
		if fn, ok := builtinTable[name]; ok {
			if g.grant != nil && !g.grant.Allows(name) {
				return llvm.Value{}, compileerr.New(compileerr.CapabilityDenied, n.Line,
					"builtin %q is not reachable under this module's capability grant", name)
			}
			return fn(g, n, args)
		}
		if llfn, ok := g.functions[name]; ok {
			if _, shadowed := g.lookup(name); !shadowed {
				return g.callNamedFunction(n, llfn, name, args, tail)
			}
		}
		if _, ok := g.lookup(name); ok {
			// Anything bound locally might hold a closure value: a parameter,
			// a captured variable, a stored lambda. The universal ABI makes
			// every such value a potential callee.
			return g.callClosureValue(n, name, args, tail)
		}
		return llvm.Value{}, compileerr.New(compileerr.UndefinedVariable, n.Line,
			"undefined function %q", name)
	}

	// Higher-order call: the head is itself an expression producing a
	// closure value, e.g. `((compose f g) 1)`.
	headVal, _, err := g.gen(head)
	if err != nil {
		return llvm.Value{}, err
	}
	return g.callClosureRecordAST(n, headVal, args, tail)
}

// callNamedFunction calls a top-level function through its natural
// signature, adapting each argument to the inferred parameter kind and
// re-typing a DYNAMIC result from the statically known kind of the
// argument the function's param_index forwards.
func (g *Generator) callNamedFunction(n *ast.Node, llfn llvm.Value, name string, args []*ast.Node, tail bool) (llvm.Value, error) {
	sig := g.fnSigs[name]
	if len(args) != len(sig.Params) {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line,
			"%s expects %d arguments, got %d", name, len(sig.Params), len(args))
	}

	callArgs := make([]llvm.Value, len(args))
	argKinds := make([]ast.Kind, len(args))
	for i, a := range args {
		v, k, err := g.genTyped(a)
		if err != nil {
			return llvm.Value{}, err
		}
		argKinds[i] = k
		callArgs[i] = g.adaptToNatural(v, k, sig.Params[i])
	}

	result := g.Builder.CreateCall(llfn, callArgs, "")
	if tail {
		result.SetTailCall(true)
	}

	if g.returnTypeTags[name] != TagDynamic {
		return result, nil
	}
	// DYNAMIC: the result is the forwarded parameter; its static kind at
	// this call site is the matching argument's kind.
	switch argKinds[sig.ParamIndex] {
	case ast.KindInt:
		return g.Builder.CreatePtrToInt(result, g.i64, ""), nil
	case ast.KindFloat:
		return g.Builder.CreateBitCast(g.Builder.CreatePtrToInt(result, g.i64, ""), g.f64, ""), nil
	default:
		return result, nil
	}
}

// adaptToNatural converts a compiled argument of kind k to the LLVM shape
// a natural parameter of kind target expects.
func (g *Generator) adaptToNatural(v llvm.Value, k, target ast.Kind) llvm.Value {
	switch target {
	case ast.KindInt:
		switch {
		case v.Type() == g.f64:
			return g.Builder.CreateFPToSI(v, g.i64, "")
		case v.Type().TypeKind() == llvm.PointerTypeKind:
			return g.Builder.CreateCall(g.runtime("franz_unbox_int"), []llvm.Value{g.toI8p(v)}, "")
		default:
			return g.widenToI64(v)
		}
	case ast.KindFloat:
		switch {
		case v.Type() == g.f64:
			return v
		case v.Type().TypeKind() == llvm.PointerTypeKind:
			return g.Builder.CreateCall(g.runtime("franz_unbox_float"), []llvm.Value{g.toI8p(v)}, "")
		default:
			return g.Builder.CreateSIToFP(g.widenToI64(v), g.f64, "")
		}
	case ast.KindString, ast.KindList:
		if v.Type().TypeKind() == llvm.PointerTypeKind {
			return g.toI8p(v)
		}
		return g.boxValue(v, k)
	default:
		// UNKNOWN parameters travel in the raw i64 universal slot.
		return g.toSlot(v)
	}
}

// callClosureValue loads a local holding a boxed closure record and
// dispatches through the record.
func (g *Generator) callClosureValue(n *ast.Node, name string, args []*ast.Node, tail bool) (llvm.Value, error) {
	v, err := g.genLoad(name, n.Line)
	if err != nil {
		return llvm.Value{}, err
	}
	return g.callClosureRecordAST(n, v, args, tail)
}

// callClosureRecordAST compiles the argument expressions and performs the
// full call-site protocol against closureVal.
func (g *Generator) callClosureRecordAST(n *ast.Node, closureVal llvm.Value, args []*ast.Node, tail bool) (llvm.Value, error) {
	pairs := make([]universalArg, len(args))
	for i, a := range args {
		v, k, err := g.genTyped(a)
		if err != nil {
			return llvm.Value{}, err
		}
		pairs[i] = g.toUniversal(v, k)
	}
	return g.callClosureRecord(closureVal, pairs, tail), nil
}

// universalArg is one argument in universal form: the i64 payload and its
// runtime i32 tag.
type universalArg struct {
	val llvm.Value
	tag llvm.Value
}

// toUniversal packs a compiled value and its static kind into the
// universal (value, tag) pair the callee receives. Floats cross as their
// bit pattern; every pointer-shaped value crosses as POINTER regardless of
// whether it is a string, a list, a Generic or a closure record.
func (g *Generator) toUniversal(v llvm.Value, k ast.Kind) universalArg {
	if k == ast.KindVoid {
		return universalArg{llvm.ConstInt(g.i64, 0, false), llvm.ConstInt(g.i32, TagVoid, false)}
	}
	switch v.Type().TypeKind() {
	case llvm.DoubleTypeKind:
		return universalArg{g.Builder.CreateBitCast(v, g.i64, ""), llvm.ConstInt(g.i32, TagFloat, false)}
	case llvm.PointerTypeKind:
		return universalArg{g.Builder.CreatePtrToInt(v, g.i64, ""), llvm.ConstInt(g.i32, TagPointer, false)}
	default:
		return universalArg{g.widenToI64(v), llvm.ConstInt(g.i32, TagInt, false)}
	}
}

// callClosureRecord is the call-site protocol over already-packed
// arguments: unbox the record, pull out all four fields, call through the
// function pointer typed for this arity, then re-type the i8* result. The
// result is always normalized into a Generic i8*, the single source of
// runtime Generic values returned from closures, because with the tag
// only known at runtime there is no narrower static shape to give it.
func (g *Generator) callClosureRecord(closureVal llvm.Value, pairs []universalArg, tail bool) llvm.Value {
	recPtrRaw := g.Builder.CreateCall(g.runtime("franz_unbox_pointer"), []llvm.Value{g.toI8p(closureVal)}, "")
	recType := g.closureRecordType()
	recPtr := g.Builder.CreateBitCast(recPtrRaw, llvm.PointerType(recType, 0), "rec")

	fnRaw := g.Builder.CreateLoad(g.Builder.CreateStructGEP(recPtr, 0, ""), "fn.raw")
	envPtr := g.Builder.CreateLoad(g.Builder.CreateStructGEP(recPtr, 1, ""), "env.ptr")
	retTag := g.Builder.CreateLoad(g.Builder.CreateStructGEP(recPtr, 2, ""), "ret.tag")
	paramIdx := g.Builder.CreateLoad(g.Builder.CreateStructGEP(recPtr, 3, ""), "param.idx")

	ftyp := g.universalFnType(len(pairs))
	fnPtr := g.Builder.CreateBitCast(fnRaw, llvm.PointerType(ftyp, 0), "fn.ptr")

	callArgs := make([]llvm.Value, 0, 1+2*len(pairs))
	callArgs = append(callArgs, envPtr)
	for _, p := range pairs {
		callArgs = append(callArgs, p.val, p.tag)
	}
	raw := g.Builder.CreateCall(fnPtr, callArgs, "")
	if tail {
		raw.SetTailCall(true)
	}

	// Effective tag: DYNAMIC forwards the runtime tag of the argument
	// param_index names; every other tag stands on its own.
	effTag := retTag
	if len(pairs) > 0 {
		isDyn := g.Builder.CreateICmp(llvm.IntEQ, retTag, llvm.ConstInt(g.i32, TagDynamic, false), "")
		forwarded := pairs[0].tag
		for i := 1; i < len(pairs); i++ {
			match := g.Builder.CreateICmp(llvm.IntEQ, paramIdx, llvm.ConstInt(g.i32, uint64(i), false), "")
			forwarded = g.Builder.CreateSelect(match, pairs[i].tag, forwarded, "")
		}
		effTag = g.Builder.CreateSelect(isDyn, forwarded, retTag, "eff.tag")
	}

	return g.tagDispatch(effTag, g.i8p,
		func() llvm.Value {
			// POINTER, CLOSURE and anything unexpected: franz_box_pointer_smart
			// is a no-op on a value that is already a Generic.
			return g.Builder.CreateCall(g.runtime("franz_box_pointer_smart"), []llvm.Value{raw}, "")
		},
		map[int]func() llvm.Value{
			TagInt: func() llvm.Value {
				i := g.Builder.CreatePtrToInt(raw, g.i64, "")
				return g.Builder.CreateCall(g.runtime("franz_box_int"), []llvm.Value{i}, "")
			},
			TagFloat: func() llvm.Value {
				f := g.Builder.CreateBitCast(g.Builder.CreatePtrToInt(raw, g.i64, ""), g.f64, "")
				return g.Builder.CreateCall(g.runtime("franz_box_float"), []llvm.Value{f}, "")
			},
			TagVoid: func() llvm.Value {
				return llvm.ConstNull(g.i8p)
			},
		})
}

// toSlot converts a native LLVM value into the raw i64 universal slot.
func (g *Generator) toSlot(v llvm.Value) llvm.Value {
	switch v.Type().TypeKind() {
	case llvm.DoubleTypeKind:
		return g.Builder.CreateBitCast(v, g.i64, "")
	case llvm.PointerTypeKind:
		return g.Builder.CreatePtrToInt(v, g.i64, "")
	default:
		return g.widenToI64(v)
	}
}

func (g *Generator) widenToI64(v llvm.Value) llvm.Value {
	if v.Type() == g.i64 {
		return v
	}
	return g.Builder.CreateZExt(v, g.i64, "")
}

// toI8p bitcasts any pointer value to i8*; non-pointers are boxed.
func (g *Generator) toI8p(v llvm.Value) llvm.Value {
	if v.Type().TypeKind() == llvm.PointerTypeKind {
		if v.Type() == g.i8p {
			return v
		}
		return g.Builder.CreateBitCast(v, g.i8p, "")
	}
	return g.boxValue(v, ast.KindUnknown)
}
