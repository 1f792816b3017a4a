// expr.go compiles the non-function-literal expression and statement
// forms: assignment, list literals and return. The boxValue/unboxValue
// pair is the bridge between the raw LLVM values gen() produces for
// literals and the i8* Generic representation every value crosses a
// dynamic call boundary as.
package codegen

import (
	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/compileerr"
)

// boxValue wraps a raw i64/f64/i8* value into a Generic i8* using the
// runtime's franz_box_* family, keyed by the source kind so later
// unboxing and the `type` builtin can recover it without re-inspecting
// LLVM IR types (which erase Franz's int/float/string/list distinction
// once everything is an i8*).
func (g *Generator) boxValue(v llvm.Value, k ast.Kind) llvm.Value {
	switch k {
	case ast.KindInt:
		return g.Builder.CreateCall(g.runtime("franz_box_int"), []llvm.Value{g.widenToI64(v)}, "")
	case ast.KindFloat:
		return g.Builder.CreateCall(g.runtime("franz_box_float"), []llvm.Value{v}, "")
	case ast.KindString:
		return g.Builder.CreateCall(g.runtime("franz_box_string"), []llvm.Value{v}, "")
	case ast.KindList:
		return g.Builder.CreateCall(g.runtime("franz_box_list"), []llvm.Value{v}, "")
	case ast.KindVoid:
		return llvm.ConstNull(g.i8p)
	default:
		switch v.Type().TypeKind() {
		case llvm.PointerTypeKind:
			return g.Builder.CreateCall(g.runtime("franz_box_pointer_smart"), []llvm.Value{g.toI8p(v)}, "")
		case llvm.DoubleTypeKind:
			return g.Builder.CreateCall(g.runtime("franz_box_float"), []llvm.Value{v}, "")
		default:
			return g.Builder.CreateCall(g.runtime("franz_box_int"), []llvm.Value{g.widenToI64(v)}, "")
		}
	}
}

// unboxValue is boxValue's inverse, used whenever a Generic must become
// the native LLVM type an operator needs.
func (g *Generator) unboxValue(v llvm.Value, k ast.Kind) llvm.Value {
	switch k {
	case ast.KindInt:
		return g.Builder.CreateCall(g.runtime("franz_unbox_int"), []llvm.Value{v}, "")
	case ast.KindFloat:
		return g.Builder.CreateCall(g.runtime("franz_unbox_float"), []llvm.Value{v}, "")
	case ast.KindString:
		return g.Builder.CreateCall(g.runtime("franz_unbox_string"), []llvm.Value{v}, "")
	default:
		return g.Builder.CreateCall(g.runtime("franz_unbox_pointer"), []llvm.Value{v}, "")
	}
}

// genAssignment compiles `name = expr`. At module scope a fresh name
// becomes an LLVM global (so function bodies can reach it); inside a
// function a fresh immutable name binds the SSA value directly and a
// `mut` name gets an alloca. Rebinding through mutable storage (an
// alloca, a global, or a captured environment slot) stores through it;
// rebinding an SSA-bound name in its own scope is ImmutableReassignment.
func (g *Generator) genAssignment(n *ast.Node) (llvm.Value, error) {
	name := n.Children[0].Value.(string)
	if g.globalSymbols[name] {
		return llvm.Value{}, compileerr.New(compileerr.UndefinedVariable, n.Line,
			"%q shadows a builtin name", name)
	}
	if _, ok := g.functions[name]; ok {
		if _, shadowed := g.lookup(name); !shadowed {
			return llvm.Value{}, compileerr.New(compileerr.ImmutableReassignment, n.Line,
				"%q names a function and cannot be reassigned", name)
		}
	}

	rhs := n.Children[1]
	v, k, err := g.genTyped(rhs)
	if err != nil {
		return llvm.Value{}, err
	}

	if s, ok := g.currentScope()[name]; ok && !s.addr && !n.Mutable {
		return llvm.Value{}, compileerr.New(compileerr.ImmutableReassignment, n.Line,
			"%q is already bound in this scope", name)
	}

	if s, ok := g.lookup(name); ok && s.addr {
		if s.global && !n.Mutable && !g.mutables[name] {
			return llvm.Value{}, compileerr.New(compileerr.ImmutableReassignment, n.Line,
				"%q is already bound at module scope", name)
		}
		g.storeThrough(s.val, v, k)
		g.noteKind(name, rhs, k)
		return v, nil
	}

	_, inFn := g.currentFnContext()
	switch {
	case !inFn:
		global := llvm.AddGlobal(g.Module, v.Type(), name)
		global.SetInitializer(llvm.ConstNull(v.Type()))
		g.Builder.CreateStore(v, global)
		g.currentScope()[name] = symbol{val: global, addr: true, global: true}
		if n.Mutable {
			g.mutables[name] = true
		}
	case n.Mutable:
		alloca := g.Builder.CreateAlloca(v.Type(), name)
		g.Builder.CreateStore(v, alloca)
		g.bindAddr(name, alloca)
		g.mutables[name] = true
	default:
		g.bind(name, v)
	}
	g.noteKind(name, rhs, k)
	return v, nil
}

// storeThrough writes v into existing storage, boxing when the slot holds
// Generics (captured environment slots always do).
func (g *Generator) storeThrough(addr, v llvm.Value, k ast.Kind) {
	elem := addr.Type().ElementType()
	if elem == v.Type() {
		g.Builder.CreateStore(v, addr)
		return
	}
	if elem == g.i8p {
		g.Builder.CreateStore(g.boxValue(v, k), addr)
		return
	}
	if elem == g.i64 && v.Type() == g.f64 {
		g.Builder.CreateStore(g.Builder.CreateBitCast(v, g.i64, ""), addr)
		return
	}
	g.Builder.CreateStore(g.Builder.CreateBitCast(v, elem, ""), addr)
}

// noteKind records the per-name metadata every later pass consults: the
// source kind for `type`, Generic-ness for auto-unboxing, void-ness for
// `is`, and closure-ness for call dispatch.
func (g *Generator) noteKind(name string, rhs *ast.Node, k ast.Kind) {
	g.typeMetadata[name] = k
	delete(g.genericVars, name)
	delete(g.voidVars, name)
	delete(g.closures, name)
	switch {
	case k == ast.KindVoid:
		g.voidVars[name] = true
	case k == ast.KindList || k == ast.KindUnknown:
		g.genericVars[name] = true
	}
	if rhs.Op == ast.FUNCTION {
		g.closures[name] = true
	}
	if rhs.Op == ast.APPLICATION && rhs.Children[0].Op == ast.IDENTIFIER {
		if tag, ok := g.returnTypeTags[rhs.Children[0].Value.(string)]; ok && tag == TagClosure {
			g.closures[name] = true
		}
	}
}

// genList compiles a [a, b, c] literal by boxing each element and handing
// the slice to franz_list_new, which copies the elements into a runtime-
// managed heap list.
func (g *Generator) genList(n *ast.Node) (llvm.Value, error) {
	count := llvm.ConstInt(g.i64, uint64(len(n.Children)), false)
	args := []llvm.Value{llvm.ConstNull(g.i8p), count}
	for _, c := range n.Children {
		v, k, err := g.genTyped(c)
		if err != nil {
			return llvm.Value{}, err
		}
		args = append(args, g.boxValue(v, k))
	}
	return g.Builder.CreateCall(g.runtime("franz_list_new"), args, ""), nil
}

func classifyLiteral(n *ast.Node) ast.Kind {
	switch n.Op {
	case ast.INT:
		return ast.KindInt
	case ast.FLOAT:
		return ast.KindFloat
	case ast.STRING:
		return ast.KindString
	case ast.LIST:
		return ast.KindList
	default:
		return ast.KindUnknown
	}
}

// genTyped compiles an expression and reports the Kind downstream
// consumers should treat it as, combining the parser's literal
// classification, per-name metadata and the value's own LLVM shape.
func (g *Generator) genTyped(n *ast.Node) (llvm.Value, ast.Kind, error) {
	v, _, err := g.gen(n)
	if err != nil {
		return llvm.Value{}, 0, err
	}
	return v, g.exprKind(n, v), nil
}

// exprKind classifies an already-compiled expression.
func (g *Generator) exprKind(n *ast.Node, v llvm.Value) ast.Kind {
	switch n.Op {
	case ast.INT, ast.FLOAT, ast.STRING, ast.LIST:
		return classifyLiteral(n)
	case ast.FUNCTION:
		return ast.KindUnknown
	case ast.IDENTIFIER:
		name := n.Value.(string)
		if name == "void" || g.voidVars[name] {
			return ast.KindVoid
		}
		if k, ok := g.typeMetadata[name]; ok && k != ast.KindUnknown {
			return k
		}
		if g.genericVars[name] {
			return ast.KindUnknown
		}
	case ast.APPLICATION:
		if n.Children[0].Op == ast.IDENTIFIER {
			if tag, ok := g.returnTypeTags[n.Children[0].Value.(string)]; ok {
				switch tag {
				case TagInt:
					return ast.KindInt
				case TagFloat:
					return ast.KindFloat
				case TagVoid:
					return ast.KindVoid
				}
			}
		}
	}
	switch v.Type().TypeKind() {
	case llvm.DoubleTypeKind:
		return ast.KindFloat
	case llvm.PointerTypeKind:
		return ast.KindUnknown
	default:
		return ast.KindInt
	}
}

// genReturn compiles `<- expr`. Inside a loop it is an early exit: the
// value is stored into the loop's result cell and control branches to the
// loop's exit block; except that a literal zero or void keeps the loop
// running, so accidental "return of nothing" cannot silently break
// iteration. Otherwise it emits `ret`, adapted to the enclosing function's
// ABI: the universal i8* for closures and wrappers, the natural type for
// top-level functions.
func (g *Generator) genReturn(n *ast.Node) (llvm.Value, bool, error) {
	expr := n.Children[0]

	if g.loopExit.Size() > 0 {
		if isZeroOrVoid(expr) {
			return llvm.ConstNull(g.i8p), false, nil
		}
		v, k, err := g.genTyped(expr)
		if err != nil {
			return llvm.Value{}, true, err
		}
		cell := g.loopResult.Peek().(llvm.Value)
		g.Builder.CreateStore(g.boxValue(v, k), cell)
		g.Builder.CreateBr(g.loopExit.Peek().(llvm.BasicBlock))
		return v, true, nil
	}

	ctx, ok := g.currentFnContext()
	if !ok {
		return llvm.Value{}, true, compileerr.New(compileerr.UnsupportedOpcode, n.Line,
			"<- outside of a function body")
	}

	if expr.Op == ast.FUNCTION {
		v, err := g.lowerAnonymousFunction(expr)
		if err != nil {
			return llvm.Value{}, true, err
		}
		// A returned closure is already a Generic i8*; both ABIs pass it
		// through unchanged.
		boxed := g.toI8p(v)
		g.observeReturnShape(ctx, boxed)
		g.Builder.CreateRet(boxed)
		return v, true, nil
	}

	if g.Opt.EnableTCO && expr.Op == ast.APPLICATION {
		g.inTailPosition = true
	}
	v, _, err := g.gen(expr)
	if err != nil {
		return llvm.Value{}, true, err
	}

	if ctx.universal {
		g.observeReturnShape(ctx, v)
		g.Builder.CreateRet(g.universalRet(v, ctx.retKind))
		return v, true, nil
	}
	// Natural ABI. A polymorphic function whose first compiled return
	// value is a native int or float diverges from its tentative
	// declaration: recreate it with the correct return type and reparent
	// the blocks before emitting the ret. A DYNAMIC-tagged function
	// (polymorphic identity) is not a divergence; its result is re-typed
	// per call site from the forwarded argument tag.
	if g.divergesFromDeclaration(ctx) {
		switch v.Type().TypeKind() {
		case llvm.IntegerTypeKind:
			g.recreateFunction(ctx, ast.KindInt)
		case llvm.DoubleTypeKind:
			g.recreateFunction(ctx, ast.KindFloat)
		}
	}
	g.observeReturnShape(ctx, v)
	switch ctx.retKind {
	case ast.KindInt:
		g.Builder.CreateRet(g.shapeToInt(v))
	case ast.KindFloat:
		g.Builder.CreateRet(g.shapeToFloat(v))
	default:
		g.Builder.CreateRet(g.nativeToI8p(v))
	}
	return v, true, nil
}

// universalRet encodes a return value for the universal i8* ABI honoring
// the inferred return kind: an INT return carries the integer itself
// through inttoptr (unboxing first if the value is a Generic), a FLOAT
// return carries its bit pattern, anything else is a pointer.
func (g *Generator) universalRet(v llvm.Value, k ast.Kind) llvm.Value {
	switch k {
	case ast.KindInt:
		return g.Builder.CreateIntToPtr(g.shapeToInt(v), g.i8p, "")
	case ast.KindFloat:
		bits := g.Builder.CreateBitCast(g.shapeToFloat(v), g.i64, "")
		return g.Builder.CreateIntToPtr(bits, g.i8p, "")
	default:
		return g.nativeToI8p(v)
	}
}

// shapeToInt reconciles a value with an inferred i64 return: floats
// truncate, Generics unbox, integers pass through. Inference is
// authoritative, so the declared type never changes; the value converts.
func (g *Generator) shapeToInt(v llvm.Value) llvm.Value {
	switch v.Type().TypeKind() {
	case llvm.DoubleTypeKind:
		return g.Builder.CreateFPToSI(v, g.i64, "")
	case llvm.PointerTypeKind:
		return g.Builder.CreateCall(g.runtime("franz_unbox_int"), []llvm.Value{g.toI8p(v)}, "")
	default:
		return g.widenToI64(v)
	}
}

func (g *Generator) shapeToFloat(v llvm.Value) llvm.Value {
	switch v.Type().TypeKind() {
	case llvm.DoubleTypeKind:
		return v
	case llvm.PointerTypeKind:
		return g.Builder.CreateCall(g.runtime("franz_unbox_float"), []llvm.Value{g.toI8p(v)}, "")
	default:
		return g.Builder.CreateSIToFP(g.widenToI64(v), g.f64, "")
	}
}

// isZeroOrVoid reports whether expr is the literal integer 0 or the void
// identifier.
func isZeroOrVoid(expr *ast.Node) bool {
	if expr.Op == ast.INT {
		return expr.Value.(int64) == 0
	}
	return expr.Op == ast.IDENTIFIER && expr.Value.(string) == "void"
}
