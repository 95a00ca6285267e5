package simd

import (
	"math"

	"golang.org/x/exp/constraints"
)

// pow evaluates base^exp with the float64 math.Pow for either element type.
// float32 operands are widened, so the binary32 result is the correctly
// rounded binary64 result narrowed once.
func pow[T constraints.Float](base, exp T) T {
	return T(math.Pow(float64(base), float64(exp)))
}

// VecPow performs dst[i] = a[i] ^ b[i] for i in [0, len(dst)).
// dst may alias a or b: every element is read before it is written.
func VecPow[T constraints.Float](dst, a, b []T) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		a0, a1, a2, a3 := a[i], a[i+1], a[i+2], a[i+3]
		b0, b1, b2, b3 := b[i], b[i+1], b[i+2], b[i+3]
		dst[i] = pow(a0, b0)
		dst[i+1] = pow(a1, b1)
		dst[i+2] = pow(a2, b2)
		dst[i+3] = pow(a3, b3)
	}
	// Handle remainder
	for ; i < len(dst); i++ {
		dst[i] = pow(a[i], b[i])
	}
}

// VecPowScalar performs dst[i] = a[i] ^ s for i in [0, len(dst)).
func VecPowScalar[T constraints.Float](dst, a []T, s T) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		a0, a1, a2, a3 := a[i], a[i+1], a[i+2], a[i+3]
		dst[i] = pow(a0, s)
		dst[i+1] = pow(a1, s)
		dst[i+2] = pow(a2, s)
		dst[i+3] = pow(a3, s)
	}
	for ; i < len(dst); i++ {
		dst[i] = pow(a[i], s)
	}
}
