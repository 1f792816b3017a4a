package main

import (
	"fmt"
	"os"
	"os/exec"

	"tinygo.org/x/go-llvm"

	"franz/internal/driver"
	"franz/internal/util"
)

// run executes the whole pipeline for one invocation. Behaviour is defined
// by the util.Options structure.
func run(opt util.Options) error {
	if opt.AssertTypes && opt.Src != "" {
		if _, err := driver.Check(util.CheckOptions{Src: opt.Src, Strict: true}); err != nil {
			return fmt.Errorf("type assertion failed: %s", err)
		}
	}
	return driver.CompileAndRun(opt)
}

func main() {
	opt, err := util.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command line argument error: %s\n", err)
		os.Exit(1)
	}

	llvm.InitializeNativeTarget()
	llvm.InitializeNativeAsmPrinter()

	if err := run(opt); err != nil {
		// The compiled program's own exit status passes through untouched;
		// everything else is a compiler diagnostic.
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}
