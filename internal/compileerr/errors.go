// Package compileerr defines the compiler's fatal error taxonomy and
// wraps github.com/pkg/errors so a cause raised deep in the IR generator
// (tinygo.org/x/go-llvm construction failures, symbol-table misses)
// survives, with its source line, all the way up through the pipeline to
// the driver's single-line diagnostic.
package compileerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind names one of the fatal compile-time error categories.
type Kind string

const (
	ParseError          Kind = "ParseError"
	UndefinedVariable    Kind = "UndefinedVariable"
	ImmutableReassignment Kind = "ImmutableReassignment"
	TypeMismatch         Kind = "TypeMismatch"
	ArgumentCount        Kind = "ArgumentCount"
	CircularImport       Kind = "CircularImport"
	CapabilityDenied     Kind = "CapabilityDenied"
	UnsupportedOpcode    Kind = "UnsupportedOpcode"
	IRVerification       Kind = "IRVerification"
)

// CompileError is a fatal, aborting error tagged with its taxonomy Kind and
// source line. Cause(err) unwraps to the underlying LLVM/IR failure when
// one triggered it.
type CompileError struct {
	Kind Kind
	Line int
	msg  string
	err  error
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at line %d: %s", e.Kind, e.Line, e.msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *CompileError) Unwrap() error { return e.err }

// New constructs a CompileError with no wrapped cause.
func New(kind Kind, line int, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Line: line, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/line context to an existing error (e.g. one raised by
// tinygo.org/x/go-llvm or by a nested pipeline stage), keeping the original
// as the traceable cause via pkg/errors.
func Wrap(kind Kind, line int, err error, format string, args ...interface{}) *CompileError {
	wrapped := errors.Wrapf(err, format, args...)
	return &CompileError{Kind: kind, Line: line, msg: wrapped.Error(), err: wrapped}
}

// Cause returns the deepest non-CompileError cause of err, if any.
func Cause(err error) error {
	for {
		err = errors.Cause(err)
		ce, ok := err.(*CompileError)
		if !ok || ce.err == nil {
			return err
		}
		err = ce.err
	}
}
