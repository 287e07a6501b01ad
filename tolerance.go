// Package fbgemm tolerance-based verification for floating-point comparisons
package fbgemm

import (
	"fmt"
	"math"
)

// ToleranceConfig defines tolerance parameters for floating-point comparison
type ToleranceConfig struct {
	// AbsTol is the absolute tolerance for values near zero
	AbsTol float32

	// RelTol is the relative tolerance as a fraction of the larger value
	RelTol float32

	// CheckNaN determines if NaN values should be considered equal
	CheckNaN bool
}

// BF16Tolerance returns the tolerance for the plain bf16 path: results agree
// with a float32 reference up to bf16 rounding of the accumulator.
func BF16Tolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-5,
		RelTol:   1.6e-2,
		CheckNaN: true,
	}
}

// FP8Tolerance returns the tolerance for the row-wise quantized path,
// compared against a baseline computed from the same quantized inputs so
// quantization error is excluded.
func FP8Tolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   2e-2,
		RelTol:   1.6e-2,
		CheckNaN: true,
	}
}

// Float32NearEqual checks if two float32 values are equal within tolerance
func Float32NearEqual(a, b float32, tol ToleranceConfig) bool {
	if tol.CheckNaN && math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
		return true
	}

	// Exactly equal handles ±0 and infinities of the same sign
	if a == b {
		return true
	}

	diff := math.Abs(float64(a - b))
	if diff <= float64(tol.AbsTol) {
		return true
	}

	larger := math.Max(math.Abs(float64(a)), math.Abs(float64(b)))
	return diff <= larger*float64(tol.RelTol)
}

// VerificationResult summarizes an array comparison
type VerificationResult struct {
	MaxAbsError float32
	MaxRelError float32
	NumErrors   int
	TotalItems  int
	FirstError  int // Index of first error, -1 if none
}

// VerifyFloat32Array compares two float32 arrays and returns detailed results
func VerifyFloat32Array(expected, actual []float32, tol ToleranceConfig) VerificationResult {
	result := VerificationResult{
		TotalItems: len(expected),
		FirstError: -1,
	}

	if len(expected) != len(actual) {
		result.NumErrors = len(expected)
		return result
	}

	for i := range expected {
		if !Float32NearEqual(expected[i], actual[i], tol) {
			result.NumErrors++
			if result.FirstError == -1 {
				result.FirstError = i
			}

			absDiff := float32(math.Abs(float64(expected[i] - actual[i])))
			if absDiff > result.MaxAbsError {
				result.MaxAbsError = absDiff
			}

			if expected[i] != 0 {
				relDiff := absDiff / float32(math.Abs(float64(expected[i])))
				if relDiff > result.MaxRelError {
					result.MaxRelError = relDiff
				}
			}
		}
	}

	return result
}

// String formats the verification result for display
func (r VerificationResult) String() string {
	if r.NumErrors == 0 {
		return "PASS: All values match within tolerance"
	}

	errorRate := float64(r.NumErrors) / float64(r.TotalItems) * 100
	return fmt.Sprintf("FAIL: %d/%d values differ (%.2f%%)\n"+
		"  Max absolute error: %e\n"+
		"  Max relative error: %e\n"+
		"  First error at index: %d",
		r.NumErrors, r.TotalItems, errorRate,
		r.MaxAbsError, r.MaxRelError,
		r.FirstError)
}

// VerifyTensors compares two tensors element-wise as float32. Shapes must
// match exactly; values are compared within the given tolerance.
func VerifyTensors(expected, actual *Tensor, tol ToleranceConfig) VerificationResult {
	if expected.Rows() != actual.Rows() || expected.Cols() != actual.Cols() {
		return VerificationResult{
			NumErrors:  expected.NumElements(),
			TotalItems: expected.NumElements(),
			FirstError: 0,
		}
	}
	return VerifyFloat32Array(tensorToFloat32(expected), tensorToFloat32(actual), tol)
}

// tensorToFloat32 expands a contiguous tensor's elements to float32
func tensorToFloat32(t *Tensor) []float32 {
	n := t.NumElements()
	out := make([]float32, n)
	switch t.DType() {
	case DTypeFloat32:
		copy(out, t.Data().Float32()[:n])
	case DTypeBFloat16:
		s := t.Data().BFloat16()
		for i := 0; i < n; i++ {
			out[i] = s.GetFloat32(i)
		}
	case DTypeFloat8E4M3:
		s := t.Data().Float8()
		for i := 0; i < n; i++ {
			out[i] = s.GetFloat32(i)
		}
	default:
		panic("fbgemm: cannot expand dtype " + t.DType().String())
	}
	return out
}
