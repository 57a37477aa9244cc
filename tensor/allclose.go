package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/groupnorm/types"
)

// maxReportedMismatches limits the number of mismatched elements listed in an AllClose error.
const maxReportedMismatches = 5

// AllClose checks that got has the same dimensions as want, and that every element satisfies
// |got - want| <= atol + rtol*|want|.
//
// Values are compared in float64. NaNs never match. It returns an error wrapping types.ErrValue
// describing the first mismatches and the largest absolute error, or nil if all values are close.
func AllClose(want, got *Tensor, atol, rtol float64) error {
	if !want.shape.EqualDimensions(got.shape) {
		return types.ValueErrorf("AllClose: dimensions mismatch, want %s, got %s", want.shape.DimensionsString(), got.shape.DimensionsString())
	}
	wantValues, gotValues := want.Float64s(), got.Float64s()
	var (
		mismatches []string
		count      int
		maxErr     float64
	)
	for i, w := range wantValues {
		g := gotValues[i]
		diff := math.Abs(g - w)
		if math.IsNaN(diff) {
			diff = math.Inf(1)
		}
		maxErr = max(maxErr, diff)
		if diff <= atol+rtol*math.Abs(w) {
			continue
		}
		count++
		if len(mismatches) < maxReportedMismatches {
			mismatches = append(mismatches, fmt.Sprintf("  index %s: want %g, got %g (diff %g)",
				unravelIndex(i, want.shape.Dimensions), w, g, diff))
		}
	}
	if count == 0 {
		return nil
	}
	return types.ValueErrorf("AllClose: %d of %d values not close (atol=%g, rtol=%g, max abs error=%g):\n%s",
		count, len(wantValues), atol, rtol, maxErr, strings.Join(mismatches, "\n"))
}

// unravelIndex converts a flat row-major index into its multi-dimensional position, formatted as "[i j k]".
func unravelIndex(flatIdx int, dimensions []int) string {
	indices := make([]int, len(dimensions))
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		if dimensions[axis] == 0 {
			continue
		}
		indices[axis] = flatIdx % dimensions[axis]
		flatIdx /= dimensions[axis]
	}
	return fmt.Sprint(indices)
}
