// label.go generates unique compiler-internal names for lowered function
// literals and ABI adapter wrappers: a package-level counter per label
// class. The compiler is single-threaded, so plain counters suffice.
package util

import "fmt"

const (
	LabelLambda = iota
	LabelWrapper
	LabelEnv
	LabelClosure
)

var labelPrefixes = [...]string{
	"L_lambda",
	"L_wrap",
	"L_env",
	"L_closure",
}

var labelIndices [len(labelPrefixes)]int

// NewLabel returns a fresh, unique name of the given label class.
// Compiling the same tree twice yields different label text but
// semantically equivalent IR.
func NewLabel(class int) string {
	if class < 0 || class >= len(labelPrefixes) {
		return "L_ERROR"
	}
	s := fmt.Sprintf("%s_%03d", labelPrefixes[class], labelIndices[class])
	labelIndices[class]++
	return s
}
