// Package driver strings together every preceding stage - parse,
// free-variable analysis, type inference, module loading, IR generation -
// into the single call sequence both cmd/franz and cmd/franz-check call,
// with object emission plus a linker invocation at the end for
// cmd/franz's default compile-and-run path.
package driver

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"tinygo.org/x/go-llvm"

	"franz/internal/ast"
	"franz/internal/codegen"
	"franz/internal/compileerr"
	"franz/internal/freevars"
	"franz/internal/frontend"
	"franz/internal/module"
	"franz/internal/typeinfer"
	"franz/internal/util"
)

// Result carries everything a caller might want back from a successful
// compile: the object file path and the linked executable's path, both
// always set.
type Result struct {
	ObjectPath string
	ExePath    string
}

// CompileAndRun implements cmd/franz's default behavior: parse opt.Src,
// run the full pipeline, emit an object file, link it against the
// Franz runtime library with clang, and execute the resulting binary,
// streaming its stdio through.
func CompileAndRun(opt util.Options) error {
	res, err := Compile(opt)
	if err != nil {
		return err
	}
	cmd := exec.Command(res.ExePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

// Compile runs the pipeline through linking but does not execute the
// result; CompileAndRun calls it and then runs the executable.
func Compile(opt util.Options) (*Result, error) {
	src, err := util.ReadSource(opt)
	if err != nil {
		return nil, compileerr.Wrap(compileerr.ParseError, 0, err, "reading source")
	}

	root, err := frontend.Parse(src)
	if err != nil {
		return nil, err
	}

	loader := module.NewLoader(filepath.Dir(opt.Src))
	if err := loader.Expand(root); err != nil {
		return nil, err
	}

	if err := runAnalysisPasses(root); err != nil {
		return nil, err
	}

	if opt.Debug {
		root.Print(0)
	}

	gopt := codegen.Options{
		EnableTCO:  !opt.NoTCO,
		Verbose:    opt.Debug,
		SourceFile: opt.Src,
	}
	gen := codegen.NewGenerator(gopt)
	defer gen.Dispose()

	for n, grant := range loader.Grants() {
		gen.RestrictNode(n, grant)
	}

	if err := gen.Compile(root); err != nil {
		return nil, err
	}

	if opt.Debug {
		gen.Module.Dump()
	}

	objPath, err := emitObject(gen)
	if err != nil {
		return nil, err
	}

	exePath, err := link(objPath)
	if err != nil {
		return nil, err
	}

	return &Result{ObjectPath: objPath, ExePath: exePath}, nil
}

// runAnalysisPasses runs free-variable analysis then type inference over
// every top-level function literal in root, in that order: constraint
// propagation over arithmetic operators needs the free-variable sets
// settled first, since a captured variable used inside an inner closure
// still has to resolve to the same environment slot the analyzer
// assigned it.
func runAnalysisPasses(root *ast.Node) error {
	for _, n := range root.Children {
		var fn *ast.Node
		if n.Op == ast.ASSIGNMENT && n.Children[1].Op == ast.FUNCTION {
			fn = n.Children[1]
		} else if n.Op == ast.FUNCTION {
			fn = n
		} else {
			continue
		}
		freevars.Analyze(fn)
		if err := typeinfer.Infer(fn); err != nil {
			return err
		}
	}
	return nil
}

// emitObject asks LLVM's native target machine to lower gen's module to a
// .o file. llvm.InitializeNativeTarget/AsmPrinter must have already been
// called once per process; cmd/franz's main does that before Compile ever
// runs.
func emitObject(gen *codegen.Generator) (string, error) {
	triple := llvm.DefaultTargetTriple()
	target, err := llvm.GetTargetFromTriple(triple)
	if err != nil {
		return "", compileerr.Wrap(compileerr.IRVerification, 0, err, "resolving target triple %s", triple)
	}
	tm := target.CreateTargetMachine(triple, "generic", "",
		llvm.CodeGenLevelDefault, llvm.RelocDefault, llvm.CodeModelDefault)
	defer tm.Dispose()

	buf, err := tm.EmitToMemoryBuffer(gen.Module, llvm.ObjectFile)
	if err != nil {
		return "", compileerr.Wrap(compileerr.IRVerification, 0, err, "emitting object code")
	}

	tmpFile, err := ioutil.TempFile("", "franz-*.o")
	if err != nil {
		return "", compileerr.Wrap(compileerr.IRVerification, 0, err, "creating object file")
	}
	defer tmpFile.Close()
	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		return "", compileerr.Wrap(compileerr.IRVerification, 0, err, "writing object file")
	}
	return tmpFile.Name(), nil
}

// link invokes clang as the linker driver rather than reimplementing a
// platform linker. The runtime library (franz_runtime.a, built outside
// this module) is passed as -lfranz_runtime with no -L directory, so it
// must be resolvable via the system linker search path.
func link(objPath string) (string, error) {
	exePath := objPath[:len(objPath)-len(filepath.Ext(objPath))]
	args := []string{objPath, "-lfranz_runtime", "-lm", "-o", exePath}
	cmd := exec.Command("clang", args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", compileerr.Wrap(compileerr.IRVerification, 0, err, "linking %s", objPath)
	}
	return exePath, nil
}

// Check implements franz-check: run analysis and inference only, never
// touching codegen, and report inferred signatures instead of producing a
// binary.
func Check(opt util.CheckOptions) ([]FunctionSignature, error) {
	src, err := util.ReadSource(util.Options{Src: opt.Src})
	if err != nil {
		return nil, compileerr.Wrap(compileerr.ParseError, 0, err, "reading source")
	}
	root, err := frontend.Parse(src)
	if err != nil {
		return nil, err
	}

	var sigs []FunctionSignature
	for _, n := range root.Children {
		if n.Op != ast.ASSIGNMENT || n.Children[1].Op != ast.FUNCTION {
			continue
		}
		name := n.Children[0].Value.(string)
		fn := n.Children[1]
		freevars.Analyze(fn)
		if err := typeinfer.Infer(fn); err != nil {
			if opt.Strict {
				return nil, err
			}
			sigs = append(sigs, FunctionSignature{Name: name, Error: err})
			continue
		}
		sigs = append(sigs, FunctionSignature{Name: name, Signature: fn.Type})
	}
	return sigs, nil
}

// FunctionSignature is franz-check's per-function report line.
type FunctionSignature struct {
	Name      string
	Signature *ast.Signature
	Error     error
}

func (f FunctionSignature) String() string {
	if f.Error != nil {
		return fmt.Sprintf("%s: error: %s", f.Name, f.Error)
	}
	return fmt.Sprintf("%s: %s", f.Name, f.Signature)
}
