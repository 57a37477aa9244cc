package hlo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/internal/utils"
	"github.com/gomlx/groupnorm/types"
)

type hasToStableHLO interface {
	ToStableHLO() string
}

// literalStr is written as is in the StableHLO attributes.
type literalStr string

func (s literalStr) ToStableHLO() string { return string(s) }

// floatLiteral is a scalar dense constant, e.g. `dense<1.0e-05> : tensor<f32>`.
type floatLiteral struct {
	dtype dtypes.DType
	value float64
}

func newFloatLiteral(dtype dtypes.DType, value float64) (floatLiteral, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return floatLiteral{}, types.ValueErrorf("constant %g is not finite", value)
	}
	return floatLiteral{dtype: dtype, value: value}, nil
}

// ToStableHLO implements hasToStableHLO.
func (l floatLiteral) ToStableHLO() string {
	return fmt.Sprintf("dense<%s> : tensor<%s>", formatFloat(l.dtype, l.value), utils.DTypeToStableHLO(l.dtype))
}

// formatFloat formats a float in the MLIR float literal syntax, which requires a decimal point.
// Float64 values are written with full precision, the others with the float32 shortest representation.
func formatFloat(dtype dtypes.DType, value float64) string {
	bitSize := 32
	if dtype == dtypes.Float64 {
		bitSize = 64
	}
	s := strconv.FormatFloat(value, 'e', -1, bitSize)
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, "e", ".0e", 1)
	}
	return s
}

// intSliceToArrayI64StableHLO converts a slice of ints to the StableHLO `array<i64: ...>` attribute.
func intSliceToArrayI64StableHLO(values []int) literalStr {
	var sb strings.Builder
	sb.WriteString("array<i64")
	for i, v := range values {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(v))
	}
	sb.WriteString(">")
	return literalStr(sb.String())
}

// literalToStableHLO converts a literal value, usually used in attributes, to its StableHLO string representation.
func literalToStableHLO(attr any) string {
	switch v := attr.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case int, int32, int64:
		return fmt.Sprintf("%d : i64", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case hasToStableHLO:
		return v.ToStableHLO()
	default:
		return fmt.Sprintf("Unknown literal type: %T %#v", v, v)
	}
}
