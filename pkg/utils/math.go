package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm and returns the norm it had.
// If the norm is zero (or not finite), the slice is unchanged.
func NormalizeL2(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) || math.IsNaN(norm) {
		return norm
	}
	inv := 1.0 / norm
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
	return norm
}

// NormalizedCopy returns a unit-length copy of x. ok is false when x cannot be normalized.
func NormalizedCopy(x []float32) (out []float32, ok bool) {
	out = make([]float32, len(x))
	copy(out, x)
	norm := NormalizeL2(out)
	if norm == 0 || math.IsInf(norm, 0) || math.IsNaN(norm) {
		return nil, false
	}
	return out, true
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
