// Package codegen is the IR generator and the universal-value calling
// convention; closure lowering lives beside them in closure.go because
// the two are inseparable: every function literal the generator meets is
// lowered through the closure machinery before a single instruction of
// its body is emitted.
//
// The overall shape is one llvm.Context/Builder/Module per compilation,
// three passes over the top-level statement list, a scope stack of
// string-keyed symbol maps, and dispatch on ast.Opcode inside gen(). The
// compiler is single-threaded end to end, so the symbol maps are plain
// maps with no locking.
package codegen

import (
	"path/filepath"

	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/compileerr"
	"franz/internal/util"
)

// Return tags, ABI-visible in every closure record.
const (
	TagInt = iota
	TagFloat
	TagPointer
	TagClosure
	TagVoid
	TagDynamic
)

// symbol is one entry in a symTab: the IR value realizing a name. addr
// marks storage (an alloca, a global, or a closure-environment slot) that
// must be loaded through on read and stored through on rebind; a non-addr
// symbol is the SSA value itself.
type symbol struct {
	val    llvm.Value
	addr   bool
	global bool // module-scope storage, visible from inside any function body.
}

// symTab maps identifier names to symbols in one lexical scope. Scopes
// nest on Generator.scopes, innermost on top.
type symTab map[string]symbol

// fnContext is pushed onto the scope stack for the duration of one
// function body, recording how its `<-` expressions must leave the
// function: through the universal i8* return (closures and wrappers) or
// through the natural return type inference picked for a top-level
// function.
type fnContext struct {
	universal bool
	retKind   ast.Kind
	fn        llvm.Value
	name      string // top-level function name; empty for anonymous closures.

	// Observed shape of the compiled return values, recorded as each `<-`
	// lowers. For a polymorphic function this is what the actual LLVM type
	// of the terminal value turned out to be; the tentative tag from the
	// forward declaration is corrected against it (integer -> INT,
	// floating -> FLOAT, pointer -> POINTER), and on the natural ABI the
	// declaration itself is recreated with the corrected return type.
	observed      ast.Kind
	observedSet   bool
	observedMixed bool
}

// Generator owns the LLVM context/builder/module for one compilation and
// every symbol map the code generator reads from or writes to while
// walking the tree.
type Generator struct {
	Ctx     llvm.Context
	Builder llvm.Builder
	Module  llvm.Module
	Opt     Options

	scopes *util.Stack // stack of symTab (plus fnContext markers), innermost scope on top.

	functions      map[string]llvm.Value     // user-defined function name -> forward-declared IR function.
	fnSigs         map[string]*ast.Signature // name -> inferred signature backing the natural ABI.
	wrappers       map[string]llvm.Value     // name -> cached universal-ABI wrapper function.
	closures       map[string]bool           // identifiers currently known to hold a closure value.
	globalSymbols  map[string]bool           // built-in names: arithmetic, I/O, list ops, ... never captured.
	genericVars    map[string]bool           // names whose current value is a boxed Generic pointer.
	voidVars       map[string]bool           // names whose current value is void.
	mutables       map[string]bool           // names introduced through the `mut` binding form.
	typeMetadata   map[string]ast.Kind       // variable name -> source type, feeds the `type` builtin.
	returnTypeTags map[string]int            // function name -> one of Tag*.
	paramTypeTags  map[string]llvm.Value     // closure parameter name -> runtime i32 tag, set per closure body.

	loopExit   *util.Stack // loopExitBlock stack, LIFO across nested loops.
	loopIncr   *util.Stack // loopIncrBlock stack, LIFO across nested loops.
	loopResult *util.Stack // per-loop i8* result cell an early-exit `<-` stores through.

	inTailPosition bool // set just before compiling a call in tail position, when TCO is enabled.

	grant      capChecker               // use_with capability gate for the node being compiled, nil when unrestricted.
	nodeGrants map[*ast.Node]capChecker // per-top-level-node grants installed by the driver.

	i64 llvm.Type
	f64 llvm.Type
	i32 llvm.Type
	i8p llvm.Type // i8*, the universal return type and the Generic box type.
}

// capChecker is satisfied by module.Grant; declared locally so codegen
// does not import the loader it is itself driven by.
type capChecker interface {
	Allows(builtin string) bool
}

// Options mirrors the subset of util.Options the generator itself
// consults (the rest; -d, -c, FRANZ_SCOPING; are handled by the driver).
type Options struct {
	EnableTCO  bool
	Verbose    bool
	SourceFile string
}

// NewGenerator allocates a fresh LLVM context/builder/module and seeds the
// global symbol table with every built-in name before any tree-walking
// begins.
func NewGenerator(opt Options) *Generator {
	ctx := llvm.NewContext()
	b := ctx.NewBuilder()
	name := "franz_module"
	if opt.SourceFile != "" {
		name = filepath.Base(opt.SourceFile)
	}
	m := ctx.NewModule(name)

	g := &Generator{
		Ctx:            ctx,
		Builder:        b,
		Module:         m,
		Opt:            opt,
		scopes:         &util.Stack{},
		functions:      make(map[string]llvm.Value),
		fnSigs:         make(map[string]*ast.Signature),
		wrappers:       make(map[string]llvm.Value),
		closures:       make(map[string]bool),
		globalSymbols:  make(map[string]bool),
		genericVars:    make(map[string]bool),
		voidVars:       make(map[string]bool),
		mutables:       make(map[string]bool),
		typeMetadata:   make(map[string]ast.Kind),
		returnTypeTags: make(map[string]int),
		paramTypeTags:  make(map[string]llvm.Value),
		loopExit:       &util.Stack{},
		loopIncr:       &util.Stack{},
		loopResult:     &util.Stack{},
		nodeGrants:     make(map[*ast.Node]capChecker),
		i64:            ctx.Int64Type(),
		f64:            ctx.DoubleType(),
		i32:            ctx.Int32Type(),
		i8p:            llvm.PointerType(ctx.Int8Type(), 0),
	}
	g.declareRuntime()
	g.seedGlobalSymbols()
	return g
}

// Dispose releases the builder, module and context, in that order.
func (g *Generator) Dispose() {
	g.Builder.Dispose()
	g.Module.Dispose()
	g.Ctx.Dispose()
}

// RestrictNode records that one spliced top-level node came from a
// use_with import and may only reach the builtins its grant allows;
// builtin dispatch consults the active grant while the node compiles.
func (g *Generator) RestrictNode(n *ast.Node, grant capChecker) {
	g.nodeGrants[n] = grant
}

// Compile runs passes 1-3 over root (a STATEMENT node holding every
// top-level form), then verifies the resulting module before anything
// downstream may use it.
//
// All top-level non-function code is emitted into a `main` function the
// linked executable enters through.
func (g *Generator) Compile(root *ast.Node) error {
	if root == nil || root.Op != ast.STATEMENT {
		return compileerr.New(compileerr.UnsupportedOpcode, 0, "expected top-level STATEMENT root")
	}

	mainType := llvm.FunctionType(g.i32, nil, false)
	mainFn := llvm.AddFunction(g.Module, "main", mainType)
	entry := g.Ctx.AddBasicBlock(mainFn, "entry")
	g.Builder.SetInsertPointAtEnd(entry)

	done, err := g.pass1(root)
	if err != nil {
		return err
	}
	if err := g.pass2(root); err != nil {
		return err
	}
	if err := g.pass3(root, done); err != nil {
		return err
	}

	g.Builder.CreateRet(llvm.ConstInt(g.i32, 0, false))

	if err := llvm.VerifyModule(g.Module, llvm.PrintMessageAction); err != nil {
		if g.Opt.Verbose {
			g.Module.Dump()
		}
		return compileerr.Wrap(compileerr.IRVerification, 0, err, "LLVM module verification failed")
	}
	return nil
}

// pass1 compiles top-level literal assignments so that constants
// referenced by functions exist before any function body is lowered.
// Assignments whose RHS calls a function are deferred to pass 3: the
// callee may not be forward-declared yet.
func (g *Generator) pass1(root *ast.Node) (map[*ast.Node]bool, error) {
	g.scopes.Push(symTab{})
	done := make(map[*ast.Node]bool)
	for _, n := range root.Children {
		if n.Op == ast.ASSIGNMENT && n.Children[1].Op != ast.FUNCTION && isLiteralTree(n.Children[1]) {
			if _, err := g.genAssignment(n); err != nil {
				return nil, err
			}
			done[n] = true
		}
	}
	return done, nil
}

// isLiteralTree reports whether n can be evaluated without calling any
// user function: literals and list literals of such.
func isLiteralTree(n *ast.Node) bool {
	switch n.Op {
	case ast.INT, ast.FLOAT, ast.STRING:
		return true
	case ast.LIST:
		for _, c := range n.Children {
			if !isLiteralTree(c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// pass2 forward-declares every top-level function, seeding g.functions
// and g.returnTypeTags with a tentative inferred signature, so every name
// is in scope before any body compiles; mutual recursion needs nothing
// more.
func (g *Generator) pass2(root *ast.Node) error {
	for _, n := range root.Children {
		if n.Op == ast.ASSIGNMENT && n.Children[1].Op == ast.FUNCTION {
			name := n.Children[0].Value.(string)
			fn := n.Children[1]
			if err := g.forwardDeclare(name, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// pass3 walks the full tree and emits every instruction: function bodies
// through closure lowering, deferred assignments, and every other
// top-level form, in source order.
func (g *Generator) pass3(root *ast.Node, done map[*ast.Node]bool) error {
	for _, n := range root.Children {
		if done[n] {
			continue
		}
		g.grant = g.nodeGrants[n]
		if n.Op == ast.ASSIGNMENT && n.Children[1].Op == ast.FUNCTION {
			name := n.Children[0].Value.(string)
			if err := g.lowerNamedFunction(name, n.Children[1]); err != nil {
				return err
			}
			g.grant = nil
			continue
		}
		if _, _, err := g.gen(n); err != nil {
			return err
		}
		g.grant = nil
	}
	return nil
}

// gen recursively compiles a single AST node in the current function
// context, returning whether it terminated the current basic block with a
// RETURN, so control-flow compilation knows not to emit a branch after
// an arm that already returned.
func (g *Generator) gen(n *ast.Node) (llvm.Value, bool, error) {
	switch n.Op {
	case ast.INT:
		return llvm.ConstInt(g.i64, uint64(n.Value.(int64)), true), false, nil
	case ast.FLOAT:
		return llvm.ConstFloat(g.f64, n.Value.(float64)), false, nil
	case ast.STRING:
		return g.Builder.CreateGlobalStringPtr(n.Value.(string), "L_STR"), false, nil
	case ast.IDENTIFIER:
		v, err := g.genLoad(n.Value.(string), n.Line)
		return v, false, err
	case ast.LIST:
		v, err := g.genList(n)
		return v, false, err
	case ast.ASSIGNMENT:
		v, err := g.genAssignment(n)
		return v, false, err
	case ast.APPLICATION:
		v, err := g.genApplication(n)
		return v, false, err
	case ast.STATEMENT:
		var last llvm.Value
		for _, c := range n.Children {
			v, ret, err := g.gen(c)
			if err != nil {
				return v, ret, err
			}
			last = v
			if ret {
				return last, true, nil
			}
		}
		return last, false, nil
	case ast.FUNCTION:
		v, err := g.lowerAnonymousFunction(n)
		return v, false, err
	case ast.RETURN:
		return g.genReturn(n)
	default:
		return llvm.Value{}, false, compileerr.New(compileerr.UnsupportedOpcode, n.Line,
			"generator does not handle opcode %s", n.Op)
	}
}

func (g *Generator) pushScope() { g.scopes.Push(symTab{}) }
func (g *Generator) popScope()  { g.scopes.Pop() }

// currentScope returns the innermost symTab, skipping any fnContext
// markers sitting between it and the stack top.
func (g *Generator) currentScope() symTab {
	for i := 1; i <= g.scopes.Size(); i++ {
		if s, ok := g.scopes.Get(i).(symTab); ok {
			return s
		}
	}
	return nil
}

func (g *Generator) bind(name string, v llvm.Value) {
	g.currentScope()[name] = symbol{val: v}
}

func (g *Generator) bindAddr(name string, v llvm.Value) {
	g.currentScope()[name] = symbol{val: v, addr: true}
}

// lookup walks scopes innermost-first; function names are consulted
// separately by genLoad/genApplication through g.functions. Once the
// walk crosses out of the current function body, only module-scope
// globals remain visible: an enclosing function's allocas live in a
// different LLVM frame and are reachable only as captured environment
// slots, never directly.
func (g *Generator) lookup(name string) (symbol, bool) {
	crossed := false
	for i := 1; i <= g.scopes.Size(); i++ {
		switch scope := g.scopes.Get(i).(type) {
		case *fnContext:
			crossed = true
		case symTab:
			if s, ok := scope[name]; ok && (!crossed || s.global) {
				return s, true
			}
		}
	}
	return symbol{}, false
}

// currentFnContext returns the nearest enclosing function context marker,
// if the builder is inside a function body at all (it is not while pass 1
// and pass 3 emit top-level code into main).
func (g *Generator) currentFnContext() (*fnContext, bool) {
	for i := 1; i <= g.scopes.Size(); i++ {
		if c, ok := g.scopes.Get(i).(*fnContext); ok {
			return c, true
		}
	}
	return nil, false
}

// genLoad resolves a name to a usable value: through storage (alloca,
// global, environment slot) with a load, directly for SSA values, and,
// for a top-level function name used as a value, through the universal
// wrapper, so a regular function becomes an ordinary closure record the
// moment it is treated as data.
func (g *Generator) genLoad(name string, line int) (llvm.Value, error) {
	if name == "void" {
		return llvm.ConstNull(g.i8p), nil
	}
	if s, ok := g.lookup(name); ok {
		if s.addr {
			return g.Builder.CreateLoad(s.val, ""), nil
		}
		return s.val, nil
	}
	if _, ok := g.functions[name]; ok {
		return g.closureValueForFunction(name)
	}
	return llvm.Value{}, compileerr.New(compileerr.UndefinedVariable, line, "undefined variable %q", name)
}

// takeTailPosition consumes the tail-position flag set by genReturn, so
// that exactly one call (the outermost one of the returned expression)
// gets the LLVM tail-call marker and calls nested inside its arguments do
// not inherit it.
func (g *Generator) takeTailPosition() bool {
	t := g.inTailPosition
	g.inTailPosition = false
	return t
}
