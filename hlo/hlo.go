// Package hlo helps build a StableHLO program (text format) to then be JIT-compiled and executed
// by PJRT (github.com/gomlx/gopjrt/pjrt).
//
// It covers the subset of StableHLO needed to lower group normalization: element-wise arithmetic,
// reshapes, broadcasts, reductions and dtype conversions. Shapes of every operation are computed
// (and validated) with the shapeinference package.
//
// The program is rendered in the MLIR generic form, e.g.:
//
//	%0 = "stablehlo.add"(%x, %y) : (tensor<f32>, tensor<f32>) -> tensor<f32>
//
// See StableHLO documentation and specifications in https://openxla.org/stablehlo/spec
package hlo

import "github.com/gomlx/groupnorm/internal/utils"

// MainFunctionName is the name of the entry point of a program.
const MainFunctionName = "main"

// IndentationStep is added for each nested block.
const IndentationStep = "  "

// NormalizeIdentifier converts the name of an identifier (function name or function input parameter
// name, etc.) to a valid one: only letters, digits, and underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	return utils.NormalizeIdentifier(name)
}
