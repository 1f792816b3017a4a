package main

import (
	"fmt"
	"os"

	"franz/internal/driver"
	"franz/internal/util"
)

// franz-check runs the inference half of the pipeline only: free-variable
// analysis plus type inference over every top-level function, reporting
// signatures instead of producing a binary. Exit status 0 means every
// function inferred cleanly (or, without --strict, that inference at least
// ran to completion).
func main() {
	opt, err := util.ParseCheckArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command line argument error: %s\n", err)
		os.Exit(1)
	}

	sigs, err := driver.Check(opt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}

	if opt.ShowTypes {
		for _, s := range sigs {
			fmt.Println(s)
		}
	}
}
