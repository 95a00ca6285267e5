// Package reference contains simple, sequential implementations of the
// elementwise kernels. They are written independently of internal/ops and
// are used only as ground truth when verifying it.
package reference

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Pow computes out[i] = in1[i] ^ in2[i] for i in [0, n) on the calling
// goroutine.
func Pow[T constraints.Float](out, in1, in2 []T, n int) {
	for i := 0; i < n; i++ {
		out[i] = T(math.Pow(float64(in1[i]), float64(in2[i])))
	}
}

// PowScalar computes out[i] = in1[i] ^ s for i in [0, n).
func PowScalar[T constraints.Float](out, in1 []T, s T, n int) {
	e := float64(s)
	for i := 0; i < n; i++ {
		out[i] = T(math.Pow(float64(in1[i]), e))
	}
}
