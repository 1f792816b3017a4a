// control.go compiles the branching and looping builtins. Each one takes
// its operand sub-expressions as raw *ast.Node children rather than
// pre-evaluated values (unlike the arithmetic builtins in builtins.go)
// because branches must be compiled into their own basic blocks, not
// evaluated eagerly. A parameter-less function literal in branch or loop
// position is a block, not a value: its body is inlined into the branch's
// basic block, and a `<-` at its top level yields the branch's value
// (or, inside a loop, exits the loop).
package codegen

import (
	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/compileerr"
)

// genBranch compiles a control-flow operand. `{-> ...}` thunks are
// inlined; anything else compiles as an ordinary expression.
func (g *Generator) genBranch(n *ast.Node) (llvm.Value, bool, error) {
	if n.Op == ast.FUNCTION && len(n.Children[0].Children) == 0 {
		last := llvm.ConstNull(g.i8p)
		for _, stmt := range n.Children[1].Children {
			if stmt.Op == ast.RETURN && g.loopExit.Size() == 0 {
				// Top-level `<-` in a branch thunk yields the branch value.
				v, _, err := g.gen(stmt.Children[0])
				return v, false, err
			}
			v, ret, err := g.gen(stmt)
			if err != nil {
				return v, ret, err
			}
			if ret {
				return v, true, nil
			}
			last = v
		}
		return last, false, nil
	}
	return g.gen(n)
}

func genIf(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 3 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "if expects 3 arguments (cond, then, else)")
	}
	cond, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	condBool := g.truthy(cond)

	fn := g.Builder.GetInsertBlock().Parent()
	thenBlock := g.Ctx.AddBasicBlock(fn, "if.then")
	elseBlock := g.Ctx.AddBasicBlock(fn, "if.else")
	mergeBlock := g.Ctx.AddBasicBlock(fn, "if.merge")

	g.Builder.CreateCondBr(condBool, thenBlock, elseBlock)

	g.Builder.SetInsertPointAtEnd(thenBlock)
	thenVal, thenRet, err := g.genBranch(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	thenEnd := g.Builder.GetInsertBlock()

	g.Builder.SetInsertPointAtEnd(elseBlock)
	elseVal, elseRet, err := g.genBranch(args[2])
	if err != nil {
		return llvm.Value{}, err
	}
	elseEnd := g.Builder.GetInsertBlock()

	if thenRet && elseRet {
		// Both arms already terminated (ret or loop exit); the merge block is
		// kept, unreachable, so later sibling compilation still has a valid
		// insert point.
		g.Builder.SetInsertPointAtEnd(mergeBlock)
		g.Builder.CreateUnreachable()
		dead := g.Ctx.AddBasicBlock(fn, "if.dead")
		g.Builder.SetInsertPointAtEnd(dead)
		return llvm.ConstNull(g.i8p), nil
	}

	// If the live arms disagree on LLVM type, reconcile both to Generic
	// i8* inside their own blocks before the branch to the merge.
	phiType := g.i8p
	if !thenRet && !elseRet && thenVal.Type() == elseVal.Type() {
		phiType = thenVal.Type()
	} else {
		if !thenRet {
			g.Builder.SetInsertPointAtEnd(thenEnd)
			thenVal = g.boxValue(thenVal, g.exprKind(args[1], thenVal))
			thenEnd = g.Builder.GetInsertBlock()
		}
		if !elseRet {
			g.Builder.SetInsertPointAtEnd(elseEnd)
			elseVal = g.boxValue(elseVal, g.exprKind(args[2], elseVal))
			elseEnd = g.Builder.GetInsertBlock()
		}
	}
	if !thenRet {
		g.Builder.SetInsertPointAtEnd(thenEnd)
		g.Builder.CreateBr(mergeBlock)
	}
	if !elseRet {
		g.Builder.SetInsertPointAtEnd(elseEnd)
		g.Builder.CreateBr(mergeBlock)
	}

	g.Builder.SetInsertPointAtEnd(mergeBlock)
	if thenRet {
		return elseVal, nil
	}
	if elseRet {
		return thenVal, nil
	}
	phi := g.Builder.CreatePHI(phiType, "if.result")
	phi.AddIncoming([]llvm.Value{thenVal, elseVal}, []llvm.BasicBlock{thenEnd, elseEnd})
	return phi, nil
}

func genWhen(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "when expects 2 arguments")
	}
	return genIf(g, n, []*ast.Node{args[0], args[1], voidBranch(n.Line)})
}

func genUnless(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "unless expects 2 arguments")
	}
	return genIf(g, n, []*ast.Node{args[0], voidBranch(n.Line), args[1]})
}

func voidBranch(line int) *ast.Node {
	return &ast.Node{Op: ast.IDENTIFIER, Value: "void", Line: line}
}

// genCond compiles a flat list of (predicate, body) pairs; optionally
// followed by a trailing default body; as a cascading if/else-if chain
// with early exit on the first matching clause.
func genCond(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) < 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "cond expects (predicate, body) pairs")
	}
	var build func(i int) *ast.Node
	build = func(i int) *ast.Node {
		if i >= len(args) {
			return voidBranch(n.Line)
		}
		if i == len(args)-1 {
			// A trailing unpaired body is the default clause.
			return args[i]
		}
		return &ast.Node{Op: ast.APPLICATION, Line: n.Line, Children: []*ast.Node{
			{Op: ast.IDENTIFIER, Value: "if", Line: n.Line},
			{Op: ast.STATEMENT, Children: []*ast.Node{args[i], args[i+1], build(i + 2)}},
		}}
	}
	v, _, err := g.gen(build(0))
	return v, err
}

// truthy converts any compiled value into an i1 for a conditional branch:
// Franz has no distinct boolean type, integer zero is false, float zero is
// false, a null pointer (void) is false, and a non-null Generic is tested
// by its unboxed integer value.
func (g *Generator) truthy(v llvm.Value) llvm.Value {
	switch v.Type().TypeKind() {
	case llvm.PointerTypeKind:
		fn := g.Builder.GetInsertBlock().Parent()
		nonNull := g.Ctx.AddBasicBlock(fn, "truthy.nonnull")
		merge := g.Ctx.AddBasicBlock(fn, "truthy.merge")

		entry := g.Builder.GetInsertBlock()
		asInt := g.Builder.CreatePtrToInt(v, g.i64, "")
		isNull := g.Builder.CreateICmp(llvm.IntEQ, asInt, llvm.ConstInt(g.i64, 0, false), "")
		g.Builder.CreateCondBr(isNull, merge, nonNull)

		g.Builder.SetInsertPointAtEnd(nonNull)
		iv := g.Builder.CreateCall(g.runtime("franz_unbox_int"), []llvm.Value{g.toI8p(v)}, "")
		t := g.Builder.CreateICmp(llvm.IntNE, iv, llvm.ConstInt(g.i64, 0, false), "")
		nonNullEnd := g.Builder.GetInsertBlock()
		g.Builder.CreateBr(merge)

		g.Builder.SetInsertPointAtEnd(merge)
		phi := g.Builder.CreatePHI(g.Ctx.Int1Type(), "truthy")
		phi.AddIncoming(
			[]llvm.Value{llvm.ConstInt(g.Ctx.Int1Type(), 0, false), t},
			[]llvm.BasicBlock{entry, nonNullEnd})
		return phi
	case llvm.DoubleTypeKind:
		return g.Builder.CreateFCmp(llvm.FloatONE, v, llvm.ConstFloat(g.f64, 0), "")
	default:
		return g.Builder.CreateICmp(llvm.IntNE, v, llvm.ConstInt(v.Type(), 0, false), "")
	}
}

// genLoop compiles `(loop count body)`, a fixed-count loop; genWhile
// compiles `(while cond body)`, a condition-checked loop. Both push their
// exit/increment blocks and an i8* result cell so break/continue and
// early-exit `<-` inside body resolve to the innermost enclosing loop.
func genLoop(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "loop expects 2 arguments (count, body)")
	}
	count, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	count = g.asNumeric(count, false)

	fn := g.Builder.GetInsertBlock().Parent()
	counter := g.Builder.CreateAlloca(g.i64, "loop.i")
	g.Builder.CreateStore(llvm.ConstInt(g.i64, 0, false), counter)
	result := g.Builder.CreateAlloca(g.i8p, "loop.result")
	g.Builder.CreateStore(llvm.ConstNull(g.i8p), result)

	condBlock := g.Ctx.AddBasicBlock(fn, "loop.cond")
	bodyBlock := g.Ctx.AddBasicBlock(fn, "loop.body")
	incrBlock := g.Ctx.AddBasicBlock(fn, "loop.incr")
	exitBlock := g.Ctx.AddBasicBlock(fn, "loop.exit")

	g.Builder.CreateBr(condBlock)
	g.Builder.SetInsertPointAtEnd(condBlock)
	cur := g.Builder.CreateLoad(counter, "")
	test := g.Builder.CreateICmp(llvm.IntSLT, cur, count, "")
	g.Builder.CreateCondBr(test, bodyBlock, exitBlock)

	g.loopExit.Push(exitBlock)
	g.loopIncr.Push(incrBlock)
	g.loopResult.Push(result)
	g.Builder.SetInsertPointAtEnd(bodyBlock)
	_, ret, err := g.genBranch(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	if !ret {
		g.Builder.CreateBr(incrBlock)
	}
	g.loopExit.Pop()
	g.loopIncr.Pop()
	g.loopResult.Pop()

	g.Builder.SetInsertPointAtEnd(incrBlock)
	next := g.Builder.CreateAdd(g.Builder.CreateLoad(counter, ""), llvm.ConstInt(g.i64, 1, false), "")
	g.Builder.CreateStore(next, counter)
	g.Builder.CreateBr(condBlock)

	g.Builder.SetInsertPointAtEnd(exitBlock)
	return g.Builder.CreateLoad(result, ""), nil
}

func genWhile(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "while expects 2 arguments (cond, body)")
	}
	fn := g.Builder.GetInsertBlock().Parent()
	result := g.Builder.CreateAlloca(g.i8p, "while.result")
	g.Builder.CreateStore(llvm.ConstNull(g.i8p), result)

	condBlock := g.Ctx.AddBasicBlock(fn, "while.cond")
	bodyBlock := g.Ctx.AddBasicBlock(fn, "while.body")
	exitBlock := g.Ctx.AddBasicBlock(fn, "while.exit")

	g.Builder.CreateBr(condBlock)
	g.Builder.SetInsertPointAtEnd(condBlock)
	cond, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	g.Builder.CreateCondBr(g.truthy(cond), bodyBlock, exitBlock)

	g.loopExit.Push(exitBlock)
	g.loopIncr.Push(condBlock)
	g.loopResult.Push(result)
	g.Builder.SetInsertPointAtEnd(bodyBlock)
	_, ret, err := g.genBranch(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	if !ret {
		g.Builder.CreateBr(condBlock)
	}
	g.loopExit.Pop()
	g.loopIncr.Pop()
	g.loopResult.Pop()

	g.Builder.SetInsertPointAtEnd(exitBlock)
	return g.Builder.CreateLoad(result, ""), nil
}

func genBreak(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	exit := g.loopExit.Peek()
	if exit == nil {
		return llvm.Value{}, compileerr.New(compileerr.UnsupportedOpcode, n.Line, "break outside of a loop")
	}
	g.Builder.CreateBr(exit.(llvm.BasicBlock))
	// Keep a valid insert point for whatever dead code follows the break.
	dead := g.Ctx.AddBasicBlock(g.Builder.GetInsertBlock().Parent(), "break.dead")
	g.Builder.SetInsertPointAtEnd(dead)
	return llvm.ConstNull(g.i8p), nil
}

func genContinue(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	incr := g.loopIncr.Peek()
	if incr == nil {
		return llvm.Value{}, compileerr.New(compileerr.UnsupportedOpcode, n.Line, "continue outside of a loop")
	}
	g.Builder.CreateBr(incr.(llvm.BasicBlock))
	dead := g.Ctx.AddBasicBlock(g.Builder.GetInsertBlock().Parent(), "continue.dead")
	g.Builder.SetInsertPointAtEnd(dead)
	return llvm.ConstNull(g.i8p), nil
}
