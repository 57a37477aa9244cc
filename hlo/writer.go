package hlo

import (
	"fmt"
	"io"
	"strings"

	"github.com/gomlx/groupnorm/types/shapes"
)

// textWriter renders program text. The first write error is kept, and later writes are skipped.
type textWriter struct {
	out io.Writer
	err error
}

func (tw *textWriter) printf(format string, args ...any) {
	if tw.err == nil {
		_, tw.err = fmt.Fprintf(tw.out, format, args...)
	}
}

func joinComma(items []string) string { return strings.Join(items, ", ") }

// values writes the names of the values separated by commas.
func (tw *textWriter) values(values []*Value) {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.String()
	}
	tw.printf("%s", joinComma(names))
}

// signature writes a list of types. The list is parenthesized unless it has exactly one element,
// which is the MLIR convention for results.
func (tw *textWriter) signature(types []shapes.Shape) {
	names := make([]string, len(types))
	for i, shape := range types {
		names[i] = shape.ToStableHLO()
	}
	joined := joinComma(names)
	if len(types) == 1 {
		tw.printf("%s", joined)
		return
	}
	tw.printf("(%s)", joined)
}
