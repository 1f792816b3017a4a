// closure.go lowers every function literal into an LLVM function plus,
// where it has free variables, a heap-allocated environment record, all
// reachable through the uniform four-field closure record
// {fn_ptr, env_ptr, return_tag, param_index}: a context-plus-function
// doubleword widened with the two tag words a dynamically typed caller
// needs to decode the universal i8* return.
package codegen

import (
	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/compileerr"
	"franz/internal/freevars"
	"franz/internal/typeinfer"
	"franz/internal/util"
)

// envRecordType returns the LLVM struct type for a closure's environment:
// one i8* slot per captured variable, in the order freevars.Analyze
// discovered them (the field layout written by makeEnvironment and read
// back by the capture bindings in lowerClosureBody).
func (g *Generator) envRecordType(captured []string) llvm.Type {
	fields := make([]llvm.Type, len(captured))
	for i := range captured {
		fields[i] = g.i8p
	}
	return g.Ctx.StructType(fields, false)
}

// closureRecordType is the uniform four-field value every Franz function
// value carries at runtime: function pointer, environment pointer, a
// return-type tag, and the parameter index a DYNAMIC return forwards its
// tag from.
func (g *Generator) closureRecordType() llvm.Type {
	return g.Ctx.StructType([]llvm.Type{g.i8p, g.i8p, g.i32, g.i32}, false)
}

// universalFnType is the LLVM signature shared by every closure and
// wrapper: an environment pointer first, then an (i64 value, i32 tag) pair
// per source parameter, returning the universal i8*.
func (g *Generator) universalFnType(arity int) llvm.Type {
	params := make([]llvm.Type, 0, 1+2*arity)
	params = append(params, g.i8p)
	for i := 0; i < arity; i++ {
		params = append(params, g.i64, g.i32)
	}
	return llvm.FunctionType(g.i8p, params, false)
}

// naturalParamType maps an inferred parameter kind onto the LLVM type a
// direct-called top-level function receives it as. UNKNOWN parameters
// travel in the raw i64 universal slot even on the natural path, so a
// polymorphic function's signature never depends on what its callers pass.
func (g *Generator) naturalParamType(k ast.Kind) llvm.Type {
	switch k {
	case ast.KindInt:
		return g.i64
	case ast.KindFloat:
		return g.f64
	case ast.KindString, ast.KindList:
		return g.i8p
	default:
		return g.i64
	}
}

// naturalReturnType maps an inferred return kind onto a direct call's LLVM
// result type. Anything not concretely INT or FLOAT comes back as the
// universal i8* and is re-typed by the caller from the return tag.
func (g *Generator) naturalReturnType(k ast.Kind) llvm.Type {
	switch k {
	case ast.KindInt:
		return g.i64
	case ast.KindFloat:
		return g.f64
	default:
		return g.i8p
	}
}

// determineReturnTag classifies a function's return value into one of the
// Tag* constants, with the precedence a call site depends on: a nested
// function literal in tail position is always CLOSURE; a bare parameter
// reference is DYNAMIC (the call site re-tags the result from the matching
// argument); INT/FLOAT from inference are authoritative. The POINTER
// fallback here is tentative when inference came back UNKNOWN: once the
// body compiles, the tag is corrected against the actual LLVM type of the
// terminal value (integer -> INT, floating -> FLOAT, pointer -> POINTER)
// by correctTag/recreateFunction.
func determineReturnTag(fn *ast.Node, sig *ast.Signature) int {
	if tailReturnsFunction(fn.Children[1]) {
		return TagClosure
	}
	if sig.IdentityParam {
		return TagDynamic
	}
	switch sig.Return {
	case ast.KindInt:
		return TagInt
	case ast.KindFloat:
		return TagFloat
	case ast.KindVoid:
		return TagVoid
	default:
		return TagPointer
	}
}

// tailReturnsFunction reports whether a function body's return value (an
// explicit `<-` expression, or the implicitly returned terminal
// expression) is itself a FUNCTION literal.
func tailReturnsFunction(body *ast.Node) bool {
	for _, stmt := range body.Children {
		if stmt.Op == ast.RETURN {
			return stmt.Children[0].Op == ast.FUNCTION
		}
	}
	if len(body.Children) == 0 {
		return false
	}
	return body.Children[len(body.Children)-1].Op == ast.FUNCTION
}

// captures filters a function's free variables against globalSymbols and
// the top-level function table: names resolvable at module scope are never
// captured, they stay reachable as module symbols.
func (g *Generator) captures(fn *ast.Node) []string {
	out := make([]string, 0, len(fn.FreeVars))
	for _, name := range fn.FreeVars {
		if g.globalSymbols[name] || name == "void" {
			continue
		}
		if _, ok := g.functions[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}

// forwardDeclare analyzes and infers a top-level named function and adds
// an LLVM declaration with its natural signature to g.functions, recording
// the signature and return tag, so that pass3's bodies (compiled
// afterward, in any order) can call it; this is what makes mutual
// recursion between top-level functions work without a dependency-ordered
// topological sort.
func (g *Generator) forwardDeclare(name string, fn *ast.Node) error {
	if isReserved(name) {
		return compileerr.New(compileerr.UndefinedVariable, fn.Line, "%q is a reserved name", name)
	}
	freevars.Analyze(fn)
	if err := typeinfer.Infer(fn); err != nil {
		return err
	}
	sig := fn.Type

	params := fn.Children[0].Children
	paramTypes := make([]llvm.Type, len(params))
	for i := range params {
		paramTypes[i] = g.naturalParamType(sig.Params[i])
	}
	ftyp := llvm.FunctionType(g.naturalReturnType(sig.Return), paramTypes, false)
	llfn := llvm.AddFunction(g.Module, util.NewLabel(util.LabelLambda)+"_"+name, ftyp)

	g.functions[name] = llfn
	g.fnSigs[name] = sig
	g.returnTypeTags[name] = determineReturnTag(fn, sig)
	delete(g.globalSymbols, name) // a user definition is never a builtin.
	return nil
}

// lowerNamedFunction compiles a previously forward-declared top-level
// function's body through the natural ABI: parameters arrive already
// typed per inference, the return leaves through the natural return type,
// and module-level bindings stay reachable without capture.
func (g *Generator) lowerNamedFunction(name string, fn *ast.Node) error {
	llfn := g.functions[name]
	sig := g.fnSigs[name]

	entry := g.Ctx.AddBasicBlock(llfn, "entry")
	savedBlock := g.Builder.GetInsertBlock()
	g.Builder.SetInsertPointAtEnd(entry)
	restoreLoops := g.freshLoopStacks()
	defer restoreLoops()

	ctx := &fnContext{universal: false, retKind: sig.Return, fn: llfn, name: name}
	g.scopes.Push(ctx)
	g.pushScope()

	for i, p := range fn.Children[0].Children {
		pname := p.Value.(string)
		ptype := g.naturalParamType(sig.Params[i])
		alloca := g.Builder.CreateAlloca(ptype, pname)
		g.Builder.CreateStore(ctx.fn.Param(i), alloca)
		g.bindAddr(pname, alloca)
		g.typeMetadata[pname] = sig.Params[i]
	}

	last, ret, err := g.gen(fn.Children[1])
	g.popScope()
	g.scopes.Pop()
	if err != nil {
		return err
	}
	if !ret {
		// Bodies return their last expression implicitly. For a polymorphic
		// function whose terminal value turns out to be a native int or
		// float, the tentative declaration diverges from the body: recreate
		// it with the correct return type before emitting the ret.
		if last.IsNil() {
			g.Builder.CreateRet(llvm.ConstNull(g.naturalReturnType(ctx.retKind)))
		} else {
			if g.divergesFromDeclaration(ctx) {
				switch last.Type().TypeKind() {
				case llvm.IntegerTypeKind:
					g.recreateFunction(ctx, ast.KindInt)
				case llvm.DoubleTypeKind:
					g.recreateFunction(ctx, ast.KindFloat)
				}
			}
			g.observeReturnShape(ctx, last)
			switch ctx.retKind {
			case ast.KindInt:
				g.Builder.CreateRet(g.shapeToInt(last))
			case ast.KindFloat:
				g.Builder.CreateRet(g.shapeToFloat(last))
			default:
				g.Builder.CreateRet(g.nativeToI8p(last))
			}
		}
	}

	if savedBlock.C != nil {
		g.Builder.SetInsertPointAtEnd(savedBlock)
	}
	return nil
}

// lowerAnonymousFunction handles a FUNCTION literal appearing anywhere
// other than as the direct RHS of a top-level assignment: it closes over
// its free variables through a heap-allocated environment (never on the
// stack: a closure can outlive the call that created it, e.g. a counter
// returned to its caller) and yields a boxed closure record.
func (g *Generator) lowerAnonymousFunction(fn *ast.Node) (llvm.Value, error) {
	freevars.Analyze(fn)
	if err := typeinfer.Infer(fn); err != nil {
		return llvm.Value{}, err
	}
	sig := fn.Type
	captured := g.captures(fn)

	arity := len(fn.Children[0].Children)
	llfn := llvm.AddFunction(g.Module, util.NewLabel(util.LabelClosure), g.universalFnType(arity))

	ctx, err := g.lowerClosureBody(llfn, fn, captured)
	if err != nil {
		return llvm.Value{}, err
	}

	env := g.makeEnvironment(captured)
	tag := correctTag(determineReturnTag(fn, sig), ctx)
	return g.packClosure(llfn, env, tag, sig.ParamIndex), nil
}

// correctTag replaces a tentative POINTER tag (inference came back
// UNKNOWN) with the tag derived from the actual LLVM type the compiled
// return values had: integer -> INT, floating -> FLOAT, pointer stays
// POINTER. Mixed shapes keep POINTER, the only decoding that is safe for
// all of them.
func correctTag(tag int, ctx *fnContext) int {
	if tag != TagPointer || !ctx.observedSet || ctx.observedMixed {
		return tag
	}
	switch ctx.observed {
	case ast.KindInt:
		return TagInt
	case ast.KindFloat:
		return TagFloat
	default:
		return tag
	}
}

// lowerClosureBody emits llfn's entry block under the universal ABI: cast
// the environment argument back to the environment record, bind each
// capture to its slot (reads load through it, writes store through it, so
// a closure can mutate its own captured state across calls), then bind
// each (value, tag) parameter pair, tag-normalized to its inferred type.
func (g *Generator) lowerClosureBody(llfn llvm.Value, fn *ast.Node, captured []string) (*fnContext, error) {
	sig := fn.Type
	entry := g.Ctx.AddBasicBlock(llfn, "entry")
	savedBlock := g.Builder.GetInsertBlock()
	g.Builder.SetInsertPointAtEnd(entry)
	restoreLoops := g.freshLoopStacks()
	defer restoreLoops()

	ctx := &fnContext{universal: true, retKind: sig.Return, fn: llfn}
	g.scopes.Push(ctx)
	g.pushScope()

	if len(captured) > 0 {
		recType := g.envRecordType(captured)
		envPtr := g.Builder.CreateBitCast(llfn.Param(0), llvm.PointerType(recType, 0), "env")
		for i, name := range captured {
			slot := g.Builder.CreateStructGEP(envPtr, i, name+".slot")
			g.bindAddr(name, slot)
			g.genericVars[name] = true
			g.typeMetadata[name] = ast.KindUnknown
		}
	}

	for i, p := range fn.Children[0].Children {
		name := p.Value.(string)
		val := llfn.Param(1 + 2*i)
		tag := llfn.Param(2 + 2*i)
		g.paramTypeTags[name] = tag
		g.bindParam(name, val, tag, sig.Params[i])
	}

	last, ret, err := g.gen(fn.Children[1])
	g.popScope()
	g.scopes.Pop()
	if err != nil {
		return nil, err
	}
	if !ret {
		// Bodies return their last expression implicitly.
		if last.IsNil() {
			g.Builder.CreateRet(llvm.ConstNull(g.i8p))
		} else {
			g.observeReturnShape(ctx, last)
			g.Builder.CreateRet(g.universalRet(last, sig.Return))
		}
	}

	if savedBlock.C != nil {
		g.Builder.SetInsertPointAtEnd(savedBlock)
	}
	return ctx, nil
}

// bindParam materializes one universal (value, tag) parameter pair as a
// local of its inferred kind, fixing up with a tag-directed conversion at
// runtime when the caller's tag disagrees with the inference. UNKNOWN
// parameters keep the raw i64 slot: a polymorphic body only ever forwards
// them or hands them to tag-aware helpers.
func (g *Generator) bindParam(name string, val, tag llvm.Value, k ast.Kind) {
	var typed llvm.Value
	var ptype llvm.Type
	switch k {
	case ast.KindInt:
		typed = g.normalizeToInt(val, tag)
		ptype = g.i64
	case ast.KindFloat:
		typed = g.normalizeToFloat(val, tag)
		ptype = g.f64
	case ast.KindString, ast.KindList:
		typed = g.Builder.CreateIntToPtr(val, g.i8p, name+".ptr")
		ptype = g.i8p
	default:
		typed = val
		ptype = g.i64
	}
	alloca := g.Builder.CreateAlloca(ptype, name)
	g.Builder.CreateStore(typed, alloca)
	g.bindAddr(name, alloca)
	g.typeMetadata[name] = k
}

// tagDispatch emits a switch over a runtime tag value with one block per
// interesting tag plus a default, merging all results through a phi of
// resType. Each case callback is invoked with the builder positioned in
// its block and returns the value that flows into the phi.
func (g *Generator) tagDispatch(tag llvm.Value, resType llvm.Type, def func() llvm.Value, cases map[int]func() llvm.Value) llvm.Value {
	fn := g.Builder.GetInsertBlock().Parent()
	defBlock := g.Ctx.AddBasicBlock(fn, "tag.def")
	mergeBlock := g.Ctx.AddBasicBlock(fn, "tag.merge")

	sw := g.Builder.CreateSwitch(tag, defBlock, len(cases))
	type incoming struct {
		v llvm.Value
		b llvm.BasicBlock
	}
	var ins []incoming

	for t, emit := range cases {
		block := g.Ctx.AddBasicBlock(fn, "tag.case")
		sw.AddCase(llvm.ConstInt(g.i32, uint64(t), false), block)
		g.Builder.SetInsertPointAtEnd(block)
		v := emit()
		ins = append(ins, incoming{v, g.Builder.GetInsertBlock()})
		g.Builder.CreateBr(mergeBlock)
	}

	g.Builder.SetInsertPointAtEnd(defBlock)
	dv := def()
	ins = append(ins, incoming{dv, g.Builder.GetInsertBlock()})
	g.Builder.CreateBr(mergeBlock)

	g.Builder.SetInsertPointAtEnd(mergeBlock)
	phi := g.Builder.CreatePHI(resType, "tag.phi")
	vals := make([]llvm.Value, len(ins))
	blocks := make([]llvm.BasicBlock, len(ins))
	for i, in := range ins {
		vals[i] = in.v
		blocks[i] = in.b
	}
	phi.AddIncoming(vals, blocks)
	return phi
}

// normalizeToInt converts a universal (value, tag) pair to i64: FLOAT
// payloads are truncated, POINTER payloads unboxed, everything else is the
// integer already.
func (g *Generator) normalizeToInt(val, tag llvm.Value) llvm.Value {
	return g.tagDispatch(tag, g.i64,
		func() llvm.Value { return val },
		map[int]func() llvm.Value{
			TagFloat: func() llvm.Value {
				return g.Builder.CreateFPToSI(g.Builder.CreateBitCast(val, g.f64, ""), g.i64, "")
			},
			TagPointer: func() llvm.Value {
				p := g.Builder.CreateIntToPtr(val, g.i8p, "")
				return g.Builder.CreateCall(g.runtime("franz_unbox_int"), []llvm.Value{p}, "")
			},
		})
}

// normalizeToFloat converts a universal (value, tag) pair to double.
func (g *Generator) normalizeToFloat(val, tag llvm.Value) llvm.Value {
	return g.tagDispatch(tag, g.f64,
		func() llvm.Value { return g.Builder.CreateBitCast(val, g.f64, "") },
		map[int]func() llvm.Value{
			TagInt: func() llvm.Value {
				return g.Builder.CreateSIToFP(val, g.f64, "")
			},
			TagPointer: func() llvm.Value {
				p := g.Builder.CreateIntToPtr(val, g.i8p, "")
				return g.Builder.CreateCall(g.runtime("franz_unbox_float"), []llvm.Value{p}, "")
			},
		})
}

// makeEnvironment heap-allocates an environment record sized for the
// captured names, boxes each current binding's value into its slot
// (captures are by value at creation time; the slots themselves are the
// closure's mutable state thereafter) and returns the record as i8*.
func (g *Generator) makeEnvironment(captured []string) llvm.Value {
	if len(captured) == 0 {
		return llvm.ConstNull(g.i8p)
	}
	recType := g.envRecordType(captured)
	raw := g.Builder.CreateCall(g.runtime("malloc"), []llvm.Value{llvm.SizeOf(recType)}, "env.raw")
	envPtr := g.Builder.CreateBitCast(raw, llvm.PointerType(recType, 0), "env")

	for i, name := range captured {
		slot := g.Builder.CreateStructGEP(envPtr, i, name+".slot")
		s, ok := g.lookup(name)
		if !ok {
			// A free variable with no visible binding may still resolve to a
			// module-level symbol at the call site, so this is not fatal; its
			// slot stays null.
			g.Builder.CreateStore(llvm.ConstNull(g.i8p), slot)
			continue
		}
		v := s.val
		if s.addr {
			v = g.Builder.CreateLoad(v, "")
		}
		g.Builder.CreateStore(g.boxValue(v, g.typeMetadata[name]), slot)
	}
	return raw
}

// packClosure heap-allocates and fills the four-field closure record,
// returning it boxed as an i8* Generic via franz_box_closure, so a
// closure is, at the ABI level, indistinguishable from any other boxed
// value until a call site inspects it.
func (g *Generator) packClosure(fn, env llvm.Value, tag, paramIndex int) llvm.Value {
	recType := g.closureRecordType()
	raw := g.Builder.CreateCall(g.runtime("malloc"), []llvm.Value{llvm.SizeOf(recType)}, "closure.raw")
	recPtr := g.Builder.CreateBitCast(raw, llvm.PointerType(recType, 0), "closure.rec")

	fnSlot := g.Builder.CreateStructGEP(recPtr, 0, "fn.slot")
	g.Builder.CreateStore(g.Builder.CreateBitCast(fn, g.i8p, ""), fnSlot)
	envSlot := g.Builder.CreateStructGEP(recPtr, 1, "env.slot")
	g.Builder.CreateStore(env, envSlot)
	tagSlot := g.Builder.CreateStructGEP(recPtr, 2, "tag.slot")
	g.Builder.CreateStore(llvm.ConstInt(g.i32, uint64(tag), false), tagSlot)
	idxSlot := g.Builder.CreateStructGEP(recPtr, 3, "idx.slot")
	g.Builder.CreateStore(llvm.ConstInt(g.i32, uint64(paramIndex), false), idxSlot)

	asInt := g.Builder.CreatePtrToInt(raw, g.i64, "")
	return g.Builder.CreateCall(g.runtime("franz_box_closure"), []llvm.Value{asInt}, "")
}

// closureValueForFunction adapts a top-level function into a first-class
// closure value: a cached wrapper with the universal signature normalizes
// each (value, tag) pair to the natural parameter types, calls the real
// function, and re-casts the result to i8*. The closure record holds the
// wrapper, a null environment, and the function's recorded return tag.
func (g *Generator) closureValueForFunction(name string) (llvm.Value, error) {
	sig := g.fnSigs[name]
	wrapper, ok := g.wrappers[name]
	if !ok {
		var err error
		wrapper, err = g.emitWrapper(name)
		if err != nil {
			return llvm.Value{}, err
		}
		g.wrappers[name] = wrapper
	}
	return g.packClosure(wrapper, llvm.ConstNull(g.i8p), g.returnTypeTags[name], sig.ParamIndex), nil
}

// emitWrapper generates the universal-to-natural ABI adapter for one
// top-level function.
func (g *Generator) emitWrapper(name string) (llvm.Value, error) {
	target := g.functions[name]
	sig := g.fnSigs[name]
	arity := len(sig.Params)

	wrapper := llvm.AddFunction(g.Module, util.NewLabel(util.LabelWrapper)+"_"+name, g.universalFnType(arity))
	savedBlock := g.Builder.GetInsertBlock()
	entry := g.Ctx.AddBasicBlock(wrapper, "entry")
	g.Builder.SetInsertPointAtEnd(entry)

	args := make([]llvm.Value, arity)
	for i := 0; i < arity; i++ {
		val := wrapper.Param(1 + 2*i)
		tag := wrapper.Param(2 + 2*i)
		switch sig.Params[i] {
		case ast.KindInt:
			args[i] = g.normalizeToInt(val, tag)
		case ast.KindFloat:
			args[i] = g.normalizeToFloat(val, tag)
		case ast.KindString, ast.KindList:
			args[i] = g.Builder.CreateIntToPtr(val, g.i8p, "")
		default:
			args[i] = val
		}
	}

	result := g.Builder.CreateCall(target, args, "")
	g.Builder.CreateRet(g.nativeToI8p(result))

	if savedBlock.C != nil {
		g.Builder.SetInsertPointAtEnd(savedBlock)
	}
	return wrapper, nil
}

// divergesFromDeclaration reports whether a natural-ABI function body is
// in the state where signature correction applies: its inferred return
// kind is UNKNOWN, its tentative tag is the POINTER fallback (DYNAMIC and
// CLOSURE tags are not divergences; they decode correctly as declared),
// and no return has been emitted yet, so the declaration can still be
// retyped wholesale.
func (g *Generator) divergesFromDeclaration(ctx *fnContext) bool {
	return !ctx.universal &&
		ctx.name != "" &&
		ctx.retKind == ast.KindUnknown &&
		!ctx.observedSet &&
		g.returnTypeTags[ctx.name] == TagPointer
}

// observeReturnShape records the LLVM shape of one compiled return value
// on the enclosing function's context, so the tentative forward-declared
// tag (and, on the natural ABI, the declaration itself) can be corrected
// against what the body actually produces.
func (g *Generator) observeReturnShape(ctx *fnContext, v llvm.Value) {
	var k ast.Kind
	switch v.Type().TypeKind() {
	case llvm.IntegerTypeKind:
		k = ast.KindInt
	case llvm.DoubleTypeKind:
		k = ast.KindFloat
	default:
		k = ast.KindUnknown // pointer-shaped
	}
	if !ctx.observedSet {
		ctx.observed = k
		ctx.observedSet = true
		return
	}
	if ctx.observed != k {
		ctx.observedMixed = true
	}
}

// recreateFunction is the signature-correction path for a polymorphic
// top-level function whose body turns out to return a native int or
// float: the tentative declaration (universal i8* return, POINTER tag)
// from pass 2 is wrong, so a fresh function with the corrected return
// type is created, every basic block compiled so far is reparented onto
// it, parameter references are rewired to the new parameters, any call
// sites already emitted against the old declaration keep working through
// a cast, and the old declaration is deleted. The context and the
// per-function tables are updated in place so the rest of the body (and
// every later caller) compiles against the corrected signature.
func (g *Generator) recreateFunction(ctx *fnContext, k ast.Kind) {
	old := ctx.fn

	paramCount := old.ParamsCount()
	paramTypes := make([]llvm.Type, paramCount)
	for i := 0; i < paramCount; i++ {
		paramTypes[i] = old.Param(i).Type()
	}
	ftyp := llvm.FunctionType(g.naturalReturnType(k), paramTypes, false)
	fresh := llvm.AddFunction(g.Module, util.NewLabel(util.LabelLambda)+"_"+ctx.name, ftyp)

	// Reparent every block onto the new function, preserving order. The
	// builder's insert block moves with the rest, so emission continues
	// seamlessly inside the new function.
	blocks := old.BasicBlocks()
	if len(blocks) > 0 {
		tmp := g.Ctx.AddBasicBlock(fresh, "reparent.tmp")
		for _, bb := range blocks {
			bb.MoveBefore(tmp)
		}
		tmp.EraseFromParent()
	}
	for i := 0; i < paramCount; i++ {
		old.Param(i).ReplaceAllUsesWith(fresh.Param(i))
	}

	// Callers compiled before this body still reference the old
	// declaration; route them through a cast so their call sites stay
	// valid. They decode with the tentative tag they saw at their own
	// compile time; callers compiled from here on see the corrected one.
	old.ReplaceAllUsesWith(llvm.ConstBitCast(fresh, old.Type()))
	old.EraseFromParentAsFunction()

	ctx.fn = fresh
	ctx.retKind = k
	if ctx.name != "" {
		g.functions[ctx.name] = fresh
		if sig := g.fnSigs[ctx.name]; sig != nil {
			sig.Return = k
		}
		if k == ast.KindFloat {
			g.returnTypeTags[ctx.name] = TagFloat
		} else {
			g.returnTypeTags[ctx.name] = TagInt
		}
		// A wrapper emitted against the old declaration decodes with the
		// old tag; drop it so the next first-class use builds a correct one.
		delete(g.wrappers, ctx.name)
	}
}

// freshLoopStacks swaps in empty loop-control stacks for the duration of
// one function body: a `<-`/break/continue inside a closure defined within
// a loop must never branch into the enclosing function's blocks. The
// returned func restores the outer stacks.
func (g *Generator) freshLoopStacks() func() {
	savedExit, savedIncr, savedResult := g.loopExit, g.loopIncr, g.loopResult
	g.loopExit, g.loopIncr, g.loopResult = &util.Stack{}, &util.Stack{}, &util.Stack{}
	return func() {
		g.loopExit, g.loopIncr, g.loopResult = savedExit, savedIncr, savedResult
	}
}

// nativeToI8p casts any native value to the universal i8* return shape:
// integers widen and go through inttoptr, floats take the bitcast route
// (ptrtoint(inttoptr(x)) == x, so both survive the pointer-shaped trip
// intact), pointers pass through.
func (g *Generator) nativeToI8p(v llvm.Value) llvm.Value {
	switch v.Type().TypeKind() {
	case llvm.PointerTypeKind:
		return g.Builder.CreateBitCast(v, g.i8p, "")
	case llvm.DoubleTypeKind:
		return g.Builder.CreateIntToPtr(g.Builder.CreateBitCast(v, g.i64, ""), g.i8p, "")
	default:
		iv := v
		if v.Type() != g.i64 {
			iv = g.Builder.CreateZExt(v, g.i64, "")
		}
		return g.Builder.CreateIntToPtr(iv, g.i8p, "")
	}
}
