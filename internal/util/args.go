// args.go parses the command line for both franz and franz-check: a
// manual switch-per-flag loop with a text/tabwriter-formatted -h usage
// page. The surface is small enough that a flag framework would be more
// code than the loop.
package util

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

// Options holds the parsed command line for the franz binary.
type Options struct {
	Src         string // Path to source file; empty means read inline/stdin.
	Inline      string // Source passed via -c.
	Debug       bool   // -d: dump the AST and the IR module (no token trace).
	NoTCO       bool   // --no-tco: disable tail-call optimization.
	AssertTypes bool   // --assert-types: refuse to run unless franz-check passes.
	Scoping     string // FRANZ_SCOPING: "lexical" (default) or "dynamic".
}

// CheckOptions holds the parsed command line for the franz-check binary.
type CheckOptions struct {
	Src       string
	Strict    bool // --strict: exit non-zero on any inference warning.
	ShowTypes bool // --show-types: print inferred types.
}

const appVersion = "franz compiler core 1.0"

// ParseArgs parses os.Args[1:] into Options for the franz binary.
func ParseArgs(args []string) (Options, error) {
	opt := Options{Scoping: scopingFromEnv()}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			os.Exit(0)
		case "-v", "--version":
			fmt.Println(appVersion)
			os.Exit(0)
		case "-d":
			opt.Debug = true
		case "--no-tco":
			opt.NoTCO = true
		case "--assert-types":
			opt.AssertTypes = true
		case "-c":
			if i+1 >= len(args) {
				return opt, fmt.Errorf("got flag -c but no inline source string")
			}
			i++
			opt.Inline = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				return opt, fmt.Errorf("unexpected flag: %s", args[i])
			}
			opt.Src = args[i]
		}
	}
	if opt.Src == "" && opt.Inline == "" {
		return opt, fmt.Errorf("expected a source file path or -c 'inline code'")
	}
	return opt, nil
}

// ParseCheckArgs parses os.Args[1:] into CheckOptions for franz-check.
func ParseCheckArgs(args []string) (CheckOptions, error) {
	opt := CheckOptions{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			printCheckHelp()
			os.Exit(0)
		case "--strict":
			opt.Strict = true
		case "--show-types":
			opt.ShowTypes = true
		default:
			if strings.HasPrefix(args[i], "-") {
				return opt, fmt.Errorf("unexpected flag: %s", args[i])
			}
			opt.Src = args[i]
		}
	}
	if opt.Src == "" {
		return opt, fmt.Errorf("expected a source file path")
	}
	return opt, nil
}

func scopingFromEnv() string {
	switch os.Getenv("FRANZ_SCOPING") {
	case "dynamic":
		return "dynamic"
	default:
		return "lexical"
	}
}

func printHelp() {
	w := tabwriter.NewWriter(os.Stdout, 6, 1, 1, 0, 0)
	_, _ = fmt.Fprintln(w, "-h, --help\tPrints this help message and exits.")
	_, _ = fmt.Fprintln(w, "-d\tDebug mode: prints the AST and the IR module.")
	_, _ = fmt.Fprintln(w, "-v, --version\tPrints the compiler version and exits.")
	_, _ = fmt.Fprintln(w, "-c 'code'\tCompiles the given inline source string instead of a file.")
	_, _ = fmt.Fprintln(w, "--no-tco\tDisables tail-call optimization.")
	_, _ = fmt.Fprintln(w, "--assert-types\tRefuses to run unless franz-check's inference pass succeeds.")
	_ = w.Flush()
}

func printCheckHelp() {
	w := tabwriter.NewWriter(os.Stdout, 6, 1, 1, 0, 0)
	_, _ = fmt.Fprintln(w, "-h, --help\tPrints this help message and exits.")
	_, _ = fmt.Fprintln(w, "--strict\tExits non-zero on any inference warning.")
	_, _ = fmt.Fprintln(w, "--show-types\tPrints inferred parameter/return types.")
	_ = w.Flush()
}
