package hlo

import (
	"maps"
	"slices"

	"github.com/gomlx/groupnorm/internal/optypes"
)

// Statement is one operation of a function body.
type Statement struct {
	OpType optypes.OpType
	Inputs []*Value

	// Attributes are written sorted by name.
	Attributes map[string]any

	// Regions are the closures of the operation, e.g. the reduction of Reduce.
	Regions []*Function

	// Outputs is empty for return statements.
	Outputs []*Value
}

// write renders the statement in the MLIR generic form:
//
//	%out = "op"(%in...) ({regions}) {attributes} : (input types) -> output types
func (s *Statement) write(tw *textWriter, indentation string) {
	tw.printf("%s", indentation)
	if len(s.Outputs) > 0 {
		tw.values(s.Outputs)
		tw.printf(" = ")
	}
	tw.printf("%q(", s.OpType.ToStableHLO())
	tw.values(s.Inputs)
	tw.printf(")")

	if len(s.Regions) > 0 {
		tw.printf(" (")
		for i, region := range s.Regions {
			if i > 0 {
				tw.printf(", ")
			}
			tw.printf("{\n")
			region.write(tw, indentation+IndentationStep)
			tw.printf("%s}", indentation)
		}
		tw.printf(")")
	}

	if len(s.Attributes) > 0 {
		tw.printf(" {")
		for i, key := range slices.Sorted(maps.Keys(s.Attributes)) {
			if i > 0 {
				tw.printf(", ")
			}
			tw.printf("%s = %s", key, literalToStableHLO(s.Attributes[key]))
		}
		tw.printf("}")
	}

	tw.printf(" : (")
	for i, input := range s.Inputs {
		if i > 0 {
			tw.printf(", ")
		}
		tw.printf("%s", input.shape.ToStableHLO())
	}
	tw.printf(") -> ")
	tw.signature(shapesOf(s.Outputs))
}
