// listops.go compiles the ref/deref/set!, list/dict, higher-order
// (map/filter/reduce/map2/dict_map/dict_filter), type-introspection and
// ADT (variant/match) builtins, all of which delegate their actual
// storage/traversal work to the runtime library declared in runtime.go.
// Every per-element callback goes through callClosureRecord, so the
// higher-order builtins automatically speak the universal calling
// convention and the closure record layout.
package codegen

import (
	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/compileerr"
)

// genRef boxes a value into a one-slot heap cell, distinct from a plain
// assignment's storage because a ref is a first-class value that can be
// passed to and returned from functions.
func genRef(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "ref expects 1 argument")
	}
	v, k, err := g.genTyped(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	boxed := g.boxValue(v, k)
	raw := g.Builder.CreateCall(g.runtime("malloc"), []llvm.Value{llvm.SizeOf(g.i8p)}, "ref.raw")
	cell := g.Builder.CreateBitCast(raw, llvm.PointerType(g.i8p, 0), "ref.cell")
	g.Builder.CreateStore(boxed, cell)
	return g.Builder.CreateCall(g.runtime("franz_box_pointer_smart"), []llvm.Value{raw}, ""), nil
}

func genDeref(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "deref expects 1 argument")
	}
	v, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	raw := g.Builder.CreateCall(g.runtime("franz_unbox_pointer"), []llvm.Value{g.toI8p(v)}, "")
	cell := g.Builder.CreateBitCast(raw, llvm.PointerType(g.i8p, 0), "ref.cell")
	return g.Builder.CreateLoad(cell, ""), nil
}

// genSetBang mutates the cell a ref value points at. Unlike genAssignment,
// set! never checks immutability: it operates on the heap cell itself, not
// on the host variable holding the ref.
func genSetBang(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "set! expects 2 arguments (ref, value)")
	}
	refVal, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	newVal, k, err := g.genTyped(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	boxed := g.boxValue(newVal, k)
	raw := g.Builder.CreateCall(g.runtime("franz_unbox_pointer"), []llvm.Value{g.toI8p(refVal)}, "")
	cell := g.Builder.CreateBitCast(raw, llvm.PointerType(g.i8p, 0), "ref.cell")
	g.Builder.CreateStore(boxed, cell)
	return boxed, nil
}

func genListBuiltin(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	lit := &ast.Node{Op: ast.LIST, Line: n.Line, Children: args}
	return g.genList(lit)
}

func genNth(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "nth expects 2 arguments (list, index)")
	}
	list, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	idx, _, err := g.gen(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("franz_list_nth"),
		[]llvm.Value{g.toI8p(list), g.asNumeric(idx, false)}, ""), nil
}

func genLength(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "length expects 1 argument")
	}
	v, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("franz_list_length"), []llvm.Value{g.toI8p(v)}, ""), nil
}

func genAppend(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "append expects 2 arguments")
	}
	list, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	v, k, err := g.genTyped(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("franz_list_append"),
		[]llvm.Value{g.toI8p(list), g.boxValue(v, k)}, ""), nil
}

// listLoop emits the shared counting-loop skeleton of every list-driven
// higher-order builtin: a counter from 0 to length, with body invoked per
// index while the builder sits in the loop's body block.
func (g *Generator) listLoop(length llvm.Value, body func(i llvm.Value)) {
	fn := g.Builder.GetInsertBlock().Parent()
	counter := g.Builder.CreateAlloca(g.i64, "hof.i")
	g.Builder.CreateStore(llvm.ConstInt(g.i64, 0, false), counter)

	condBlock := g.Ctx.AddBasicBlock(fn, "hof.cond")
	bodyBlock := g.Ctx.AddBasicBlock(fn, "hof.body")
	exitBlock := g.Ctx.AddBasicBlock(fn, "hof.exit")
	g.Builder.CreateBr(condBlock)

	g.Builder.SetInsertPointAtEnd(condBlock)
	i := g.Builder.CreateLoad(counter, "")
	g.Builder.CreateCondBr(g.Builder.CreateICmp(llvm.IntSLT, i, length, ""), bodyBlock, exitBlock)

	g.Builder.SetInsertPointAtEnd(bodyBlock)
	body(i)
	next := g.Builder.CreateAdd(g.Builder.CreateLoad(counter, ""), llvm.ConstInt(g.i64, 1, false), "")
	g.Builder.CreateStore(next, counter)
	g.Builder.CreateBr(condBlock)

	g.Builder.SetInsertPointAtEnd(exitBlock)
}

// pointerArg wraps an already-Generic i8* value as a universal argument.
func (g *Generator) pointerArg(v llvm.Value) universalArg {
	return universalArg{g.Builder.CreatePtrToInt(v, g.i64, ""), llvm.ConstInt(g.i32, TagPointer, false)}
}

// intArg wraps a raw i64 as a universal argument.
func (g *Generator) intArg(v llvm.Value) universalArg {
	return universalArg{v, llvm.ConstInt(g.i32, TagInt, false)}
}

func genMap(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "map expects 2 arguments (list, fn)")
	}
	return g.mapOrFilter(n, args[0], args[1], false)
}

func genFilter(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "filter expects 2 arguments (list, fn)")
	}
	return g.mapOrFilter(n, args[0], args[1], true)
}

// mapOrFilter walks source, calling fn with (item, index) per element; map
// keeps fn's result, filter keeps the original element only when fn's
// result is truthy.
func (g *Generator) mapOrFilter(n *ast.Node, listNode, fnNode *ast.Node, isFilter bool) (llvm.Value, error) {
	list, _, err := g.gen(listNode)
	if err != nil {
		return llvm.Value{}, err
	}
	fnVal, _, err := g.gen(fnNode)
	if err != nil {
		return llvm.Value{}, err
	}
	list = g.toI8p(list)
	length := g.Builder.CreateCall(g.runtime("franz_list_length"), []llvm.Value{list}, "")

	resultCell := g.Builder.CreateAlloca(g.i8p, "hof.result")
	empty := g.Builder.CreateCall(g.runtime("franz_list_new"),
		[]llvm.Value{llvm.ConstNull(g.i8p), llvm.ConstInt(g.i64, 0, false)}, "")
	g.Builder.CreateStore(empty, resultCell)

	g.listLoop(length, func(i llvm.Value) {
		elem := g.Builder.CreateCall(g.runtime("franz_list_nth"), []llvm.Value{list, i}, "")
		r := g.callClosureRecord(fnVal, []universalArg{g.pointerArg(elem), g.intArg(i)}, false)
		if isFilter {
			kept := g.truthy(r)
			fn := g.Builder.GetInsertBlock().Parent()
			keepBlock := g.Ctx.AddBasicBlock(fn, "filter.keep")
			skipBlock := g.Ctx.AddBasicBlock(fn, "filter.skip")
			g.Builder.CreateCondBr(kept, keepBlock, skipBlock)
			g.Builder.SetInsertPointAtEnd(keepBlock)
			appended := g.Builder.CreateCall(g.runtime("franz_list_append"),
				[]llvm.Value{g.Builder.CreateLoad(resultCell, ""), elem}, "")
			g.Builder.CreateStore(appended, resultCell)
			g.Builder.CreateBr(skipBlock)
			g.Builder.SetInsertPointAtEnd(skipBlock)
		} else {
			appended := g.Builder.CreateCall(g.runtime("franz_list_append"),
				[]llvm.Value{g.Builder.CreateLoad(resultCell, ""), r}, "")
			g.Builder.CreateStore(appended, resultCell)
		}
	})
	return g.Builder.CreateLoad(resultCell, ""), nil
}

// genReduce folds a list through fn called with (acc, item, index). With
// no initial value supplied the accumulator starts as void (a null
// Generic), so the callback's first invocation can detect it with
// `(is acc void)`.
func genReduce(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "reduce expects 2 or 3 arguments (list, fn, init)")
	}
	list, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	fnVal, _, err := g.gen(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	acc := llvm.ConstNull(g.i8p)
	if len(args) == 3 {
		v, k, err := g.genTyped(args[2])
		if err != nil {
			return llvm.Value{}, err
		}
		acc = g.boxValue(v, k)
	}
	list = g.toI8p(list)
	length := g.Builder.CreateCall(g.runtime("franz_list_length"), []llvm.Value{list}, "")

	accCell := g.Builder.CreateAlloca(g.i8p, "reduce.acc")
	g.Builder.CreateStore(acc, accCell)

	g.listLoop(length, func(i llvm.Value) {
		cur := g.Builder.CreateLoad(accCell, "")
		// A still-void accumulator crosses as VOID so the callback's tag
		// fix-ups know there is nothing to unbox.
		curInt := g.Builder.CreatePtrToInt(cur, g.i64, "")
		isVoid := g.Builder.CreateICmp(llvm.IntEQ, curInt, llvm.ConstInt(g.i64, 0, false), "")
		accTag := g.Builder.CreateSelect(isVoid,
			llvm.ConstInt(g.i32, TagVoid, false), llvm.ConstInt(g.i32, TagPointer, false), "")
		elem := g.Builder.CreateCall(g.runtime("franz_list_nth"), []llvm.Value{list, i}, "")
		r := g.callClosureRecord(fnVal, []universalArg{
			{curInt, accTag}, g.pointerArg(elem), g.intArg(i),
		}, false)
		g.Builder.CreateStore(r, accCell)
	})
	return g.Builder.CreateLoad(accCell, ""), nil
}

// genMap2 zips two lists through fn called with (item1, item2, index),
// stopping at the first list's length.
func genMap2(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 3 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "map2 expects 3 arguments (list1, list2, fn)")
	}
	l1, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	l2, _, err := g.gen(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	fnVal, _, err := g.gen(args[2])
	if err != nil {
		return llvm.Value{}, err
	}
	l1 = g.toI8p(l1)
	l2 = g.toI8p(l2)
	length := g.Builder.CreateCall(g.runtime("franz_list_length"), []llvm.Value{l1}, "")

	resultCell := g.Builder.CreateAlloca(g.i8p, "map2.result")
	empty := g.Builder.CreateCall(g.runtime("franz_list_new"),
		[]llvm.Value{llvm.ConstNull(g.i8p), llvm.ConstInt(g.i64, 0, false)}, "")
	g.Builder.CreateStore(empty, resultCell)

	g.listLoop(length, func(i llvm.Value) {
		e1 := g.Builder.CreateCall(g.runtime("franz_list_nth"), []llvm.Value{l1, i}, "")
		e2 := g.Builder.CreateCall(g.runtime("franz_list_nth"), []llvm.Value{l2, i}, "")
		r := g.callClosureRecord(fnVal, []universalArg{
			g.pointerArg(e1), g.pointerArg(e2), g.intArg(i),
		}, false)
		appended := g.Builder.CreateCall(g.runtime("franz_list_append"),
			[]llvm.Value{g.Builder.CreateLoad(resultCell, ""), r}, "")
		g.Builder.CreateStore(appended, resultCell)
	})
	return g.Builder.CreateLoad(resultCell, ""), nil
}

// genDictMap rebuilds a dict with fn called per (key, value); genDictFilter
// keeps the entries fn judges truthy.
func genDictMap(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	return g.dictMapOrFilter(n, args, false)
}

func genDictFilter(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	return g.dictMapOrFilter(n, args, true)
}

func (g *Generator) dictMapOrFilter(n *ast.Node, args []*ast.Node, isFilter bool) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line,
			"%s expects 2 arguments (dict, fn)", n.Children[0].Value)
	}
	dict, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	fnVal, _, err := g.gen(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	dict = g.toI8p(dict)
	keys := g.Builder.CreateCall(g.runtime("franz_dict_keys"), []llvm.Value{dict}, "")
	length := g.Builder.CreateCall(g.runtime("franz_list_length"), []llvm.Value{keys}, "")
	out := g.Builder.CreateCall(g.runtime("franz_dict_new"), nil, "")

	g.listLoop(length, func(i llvm.Value) {
		key := g.Builder.CreateCall(g.runtime("franz_list_nth"), []llvm.Value{keys, i}, "")
		val := g.Builder.CreateCall(g.runtime("franz_dict_get"), []llvm.Value{dict, key}, "")
		r := g.callClosureRecord(fnVal, []universalArg{g.pointerArg(key), g.pointerArg(val)}, false)
		if isFilter {
			kept := g.truthy(r)
			fn := g.Builder.GetInsertBlock().Parent()
			keepBlock := g.Ctx.AddBasicBlock(fn, "dict.keep")
			skipBlock := g.Ctx.AddBasicBlock(fn, "dict.skip")
			g.Builder.CreateCondBr(kept, keepBlock, skipBlock)
			g.Builder.SetInsertPointAtEnd(keepBlock)
			g.Builder.CreateCall(g.runtime("franz_dict_set"), []llvm.Value{out, key, val}, "")
			g.Builder.CreateBr(skipBlock)
			g.Builder.SetInsertPointAtEnd(skipBlock)
		} else {
			g.Builder.CreateCall(g.runtime("franz_dict_set"), []llvm.Value{out, key, r}, "")
		}
	})
	return out, nil
}

func genDictNew(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	return g.Builder.CreateCall(g.runtime("franz_dict_new"), nil, ""), nil
}

func genDictGet(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 2 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "dict-get expects 2 arguments")
	}
	d, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	k, kk, err := g.genTyped(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("franz_dict_get"),
		[]llvm.Value{g.toI8p(d), g.boxValue(k, kk)}, ""), nil
}

func genDictSet(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 3 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "dict-set expects 3 arguments")
	}
	d, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	k, kk, err := g.genTyped(args[1])
	if err != nil {
		return llvm.Value{}, err
	}
	v, vk, err := g.genTyped(args[2])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("franz_dict_set"),
		[]llvm.Value{g.toI8p(d), g.boxValue(k, kk), g.boxValue(v, vk)}, ""), nil
}

func genDictKeys(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "dict-keys expects 1 argument")
	}
	d, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	return g.Builder.CreateCall(g.runtime("franz_dict_keys"), []llvm.Value{g.toI8p(d)}, ""), nil
}

// tagTypeNames maps return tags to the type names `type` yields at runtime
// for closure parameters, whose static type is only a tag.
var tagTypeNames = map[int]string{
	TagInt:     "int",
	TagFloat:   "float",
	TagPointer: "pointer",
	TagClosure: "closure",
	TagVoid:    "void",
}

// genType implements the `type` builtin: literals and metadata-tracked
// variables resolve at compile time to their type name; a closure
// parameter (whose static type is unknowable) compiles to a runtime switch
// over its paramTypeTags tag; anything else; notably a call result whose
// return type inference left open; is a compile-time error pointing the
// user at literals.
func genType(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) != 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "type expects 1 argument")
	}
	a := args[0]
	if k := classifyLiteral(a); k != ast.KindUnknown {
		return g.Builder.CreateGlobalStringPtr(k.String(), "L_TYPE"), nil
	}
	if a.Op == ast.FUNCTION {
		return g.Builder.CreateGlobalStringPtr("closure", "L_TYPE"), nil
	}
	if a.Op == ast.IDENTIFIER {
		name := a.Value.(string)
		if name == "void" || g.voidVars[name] {
			return g.Builder.CreateGlobalStringPtr("void", "L_TYPE"), nil
		}
		if g.closures[name] {
			return g.Builder.CreateGlobalStringPtr("closure", "L_TYPE"), nil
		}
		if k, ok := g.typeMetadata[name]; ok && k != ast.KindUnknown {
			return g.Builder.CreateGlobalStringPtr(k.String(), "L_TYPE"), nil
		}
		if tag, ok := g.paramTypeTags[name]; ok {
			cases := make(map[int]func() llvm.Value, len(tagTypeNames))
			for t, tn := range tagTypeNames {
				tn := tn
				cases[t] = func() llvm.Value {
					return g.Builder.CreateGlobalStringPtr(tn, "L_TYPE")
				}
			}
			return g.tagDispatch(tag, g.i8p, func() llvm.Value {
				return g.Builder.CreateGlobalStringPtr("unknown", "L_TYPE")
			}, cases), nil
		}
	}
	return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line,
		"type cannot classify this expression at compile time; apply type to a literal or variable")
}

// genVariant constructs a tagged value as a two-element list: the boxed
// tag string first, then the list of boxed payload values, so a variant
// is printable and traversable with the ordinary list machinery.
func genVariant(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) < 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "variant expects a tag and payload values")
	}
	if args[0].Op != ast.STRING {
		return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line, "variant tag must be a string literal")
	}
	tagStr := g.Builder.CreateGlobalStringPtr(args[0].Value.(string), "L_TAG")
	boxedTag := g.Builder.CreateCall(g.runtime("franz_box_string"), []llvm.Value{tagStr}, "")

	valueArgs := []llvm.Value{llvm.ConstNull(g.i8p), llvm.ConstInt(g.i64, uint64(len(args)-1), false)}
	for _, a := range args[1:] {
		v, k, err := g.genTyped(a)
		if err != nil {
			return llvm.Value{}, err
		}
		valueArgs = append(valueArgs, g.boxValue(v, k))
	}
	values := g.Builder.CreateCall(g.runtime("franz_list_new"), valueArgs, "")
	boxedValues := g.Builder.CreateCall(g.runtime("franz_box_list"), []llvm.Value{values}, "")

	return g.Builder.CreateCall(g.runtime("franz_list_new"),
		[]llvm.Value{llvm.ConstNull(g.i8p), llvm.ConstInt(g.i64, 2, false), boxedTag, boxedValues}, ""), nil
}

// genMatch lowers `(match v "Tag1" handler1 "Tag2" handler2 ... default)`
// to a cascade of strcmp comparisons against the variant's tag string,
// each arm unpacking the payload list into its handler's parameters and
// invoking it through the universal ABI. An unmatched variant with no
// default yields void.
func genMatch(g *Generator, n *ast.Node, args []*ast.Node) (llvm.Value, error) {
	if len(args) < 1 {
		return llvm.Value{}, compileerr.New(compileerr.ArgumentCount, n.Line, "match requires a scrutinee")
	}
	scrutinee, _, err := g.gen(args[0])
	if err != nil {
		return llvm.Value{}, err
	}
	scrutinee = g.toI8p(scrutinee)
	tagGeneric := g.Builder.CreateCall(g.runtime("franz_list_nth"),
		[]llvm.Value{scrutinee, llvm.ConstInt(g.i64, 0, false)}, "")
	tagStr := g.Builder.CreateCall(g.runtime("franz_unbox_string"), []llvm.Value{tagGeneric}, "")
	valuesGeneric := g.Builder.CreateCall(g.runtime("franz_list_nth"),
		[]llvm.Value{scrutinee, llvm.ConstInt(g.i64, 1, false)}, "")
	values := g.Builder.CreateCall(g.runtime("franz_unbox_pointer"), []llvm.Value{valuesGeneric}, "")

	fn := g.Builder.GetInsertBlock().Parent()
	mergeBlock := g.Ctx.AddBasicBlock(fn, "match.merge")
	var incoming []llvm.Value
	var incomingBlocks []llvm.BasicBlock

	clauses := args[1:]
	i := 0
	for ; i+1 < len(clauses); i += 2 {
		tagLit := clauses[i]
		handler := clauses[i+1]
		if tagLit.Op != ast.STRING {
			return llvm.Value{}, compileerr.New(compileerr.TypeMismatch, n.Line, "match clause tag must be a string literal")
		}
		want := g.Builder.CreateGlobalStringPtr(tagLit.Value.(string), "L_TAG")
		cmp := g.Builder.CreateCall(g.runtime("strcmp"), []llvm.Value{tagStr, want}, "")
		hit := g.Builder.CreateICmp(llvm.IntEQ, cmp, llvm.ConstInt(g.i32, 0, false), "")

		armBlock := g.Ctx.AddBasicBlock(fn, "match.arm")
		nextBlock := g.Ctx.AddBasicBlock(fn, "match.next")
		g.Builder.CreateCondBr(hit, armBlock, nextBlock)

		g.Builder.SetInsertPointAtEnd(armBlock)
		v, err := g.invokeMatchHandler(handler, values)
		if err != nil {
			return llvm.Value{}, err
		}
		incoming = append(incoming, v)
		incomingBlocks = append(incomingBlocks, g.Builder.GetInsertBlock())
		g.Builder.CreateBr(mergeBlock)

		g.Builder.SetInsertPointAtEnd(nextBlock)
	}

	// Trailing unpaired clause, if any, is the default handler.
	if i < len(clauses) {
		v, err := g.invokeMatchHandler(clauses[i], values)
		if err != nil {
			return llvm.Value{}, err
		}
		incoming = append(incoming, v)
	} else {
		incoming = append(incoming, llvm.ConstNull(g.i8p))
	}
	incomingBlocks = append(incomingBlocks, g.Builder.GetInsertBlock())
	g.Builder.CreateBr(mergeBlock)

	g.Builder.SetInsertPointAtEnd(mergeBlock)
	phi := g.Builder.CreatePHI(g.i8p, "match.result")
	phi.AddIncoming(incoming, incomingBlocks)
	return phi, nil
}

// invokeMatchHandler calls one match arm's handler with the variant's
// payload values, one per parameter for a function literal (the same
// value-unpacking closures use), or the whole payload list for an opaque
// handler value whose arity is unknowable at compile time.
func (g *Generator) invokeMatchHandler(handler *ast.Node, values llvm.Value) (llvm.Value, error) {
	fnVal, _, err := g.gen(handler)
	if err != nil {
		return llvm.Value{}, err
	}
	if handler.Op == ast.FUNCTION {
		arity := len(handler.Children[0].Children)
		pairs := make([]universalArg, arity)
		for j := 0; j < arity; j++ {
			elem := g.Builder.CreateCall(g.runtime("franz_list_nth"),
				[]llvm.Value{values, llvm.ConstInt(g.i64, uint64(j), false)}, "")
			pairs[j] = g.pointerArg(elem)
		}
		return g.callClosureRecord(fnVal, pairs, false), nil
	}
	return g.callClosureRecord(fnVal, []universalArg{g.pointerArg(g.Builder.CreateCall(
		g.runtime("franz_box_list"), []llvm.Value{values}, ""))}, false), nil
}
