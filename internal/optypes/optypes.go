// Package optypes defines OpType and lists the operations the StableHLO lowering of group
// normalization emits.
package optypes

import (
	"fmt"

	"github.com/gomlx/groupnorm/internal/utils"
)

// OpType is an enum of the operations supported by the hlo builder.
type OpType int

//go:generate go tool enumer -type=OpType optypes.go

const (
	Invalid OpType = iota
	FuncReturn
	Return
	Constant

	Add
	Subtract
	Multiply
	Divide
	Rsqrt

	Reshape
	BroadcastInDim
	Reduce
	Convert

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

var (
	// stableHLOMappings maps OpType to the corresponding StableHLO name, when the default
	// "snake case" doesn't work.
	stableHLOMappings = map[OpType]string{
		FuncReturn: "func.return",
	}
)

// ToStableHLO returns the ToStableHLO name of the operation.
func (op OpType) ToStableHLO() string {
	name, ok := stableHLOMappings[op]
	if !ok {
		name = fmt.Sprintf("stablehlo.%s", utils.ToSnakeCase(op.String()))
	}
	return name
}
