// Package compare implements approximate equality over floating-point
// arrays.
//
// Rule, for expected a, actual b and tolerance t:
//
//  1. NaN on either side fails. WithNaNEqual relaxes this so that NaN
//     matches NaN (and nothing else).
//  2. a == b passes. This covers equal infinities and signed zeros.
//  3. Otherwise the pair passes iff |a-b| <= t or |a-b|/max(|a|,|b|) <= t,
//     evaluated in float64. Infinity against anything but the same
//     infinity fails.
package compare

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/floats/scalar"
)

// Comparator checks values against a single absolute-or-relative tolerance.
type Comparator[T constraints.Float] struct {
	tol      float64
	nanEqual bool
}

// Option configures a Comparator.
type Option func(*options)

type options struct {
	nanEqual bool
}

// WithNaNEqual makes NaN compare equal to NaN.
func WithNaNEqual() Option {
	return func(o *options) { o.nanEqual = true }
}

// Approx returns a comparator with tolerance tol. A negative tolerance is
// treated as zero.
func Approx[T constraints.Float](tol T, opts ...Option) Comparator[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	t := float64(tol)
	if t < 0 || math.IsNaN(t) {
		t = 0
	}
	return Comparator[T]{tol: t, nanEqual: o.nanEqual}
}

// Tolerance returns the configured tolerance.
func (c Comparator[T]) Tolerance() T {
	return T(c.tol)
}

// Equal reports whether a and b are close enough.
func (c Comparator[T]) Equal(a, b T) bool {
	x, y := float64(a), float64(b)
	xNaN, yNaN := math.IsNaN(x), math.IsNaN(y)
	if xNaN || yNaN {
		return c.nanEqual && xNaN && yNaN
	}
	if x == y {
		return true
	}
	return scalar.EqualWithinAbsOrRel(x, y, c.tol, c.tol)
}

// Result describes an array comparison. Index is the first failing
// position, or -1 when every element matched.
type Result[T constraints.Float] struct {
	Pass           bool
	Len            int
	Index          int
	Expected       T
	Actual         T
	Mismatches     int
	MaxAbsErr      float64
	LengthMismatch bool
}

// Compare walks both arrays and reports the first divergence along with
// aggregate error figures. Arrays of different length fail at the shorter
// length.
func (c Comparator[T]) Compare(expected, actual []T) Result[T] {
	n := len(expected)
	if len(actual) < n {
		n = len(actual)
	}
	r := Result[T]{Pass: true, Len: n, Index: -1}

	for i := 0; i < n; i++ {
		a, b := expected[i], actual[i]
		// NaN differences never raise the maximum; they count as mismatches.
		if d := math.Abs(float64(a) - float64(b)); d > r.MaxAbsErr {
			r.MaxAbsErr = d
		}
		if c.Equal(a, b) {
			continue
		}
		r.Mismatches++
		if r.Index < 0 {
			r.Pass = false
			r.Index = i
			r.Expected = a
			r.Actual = b
		}
	}

	if len(expected) != len(actual) {
		r.Pass = false
		r.LengthMismatch = true
		if r.Index < 0 {
			r.Index = n
		}
	}
	return r
}

func (r Result[T]) String() string {
	switch {
	case r.Pass:
		return fmt.Sprintf("match: %d elements, max abs err %g", r.Len, r.MaxAbsErr)
	case r.LengthMismatch && r.Mismatches == 0:
		return fmt.Sprintf("length mismatch after %d elements", r.Len)
	default:
		return fmt.Sprintf("mismatch at index %d: expected %v, actual %v (%d/%d differ, max abs err %g)",
			r.Index, r.Expected, r.Actual, r.Mismatches, r.Len, r.MaxAbsErr)
	}
}
