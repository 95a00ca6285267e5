// Package ops holds the data-parallel elementwise kernels. Every kernel is
// enqueued on a device.Context and returns before the work has run; call
// Synchronize on the context before reading outputs.
package ops

import (
	"github.com/23skdu/longbow-pow/internal/device"
	"github.com/23skdu/longbow-pow/internal/simd"
)

// Pow enqueues out[i] = in1[i] ^ in2[i] for i in [0, n).
//
// out may alias in1 or in2. The slices must hold at least n elements; the
// kernel does not check, and a short slice surfaces as a fault on the
// context's stream. n == 0 is a no-op that still occupies a slot in the
// stream order.
func Pow[T device.Float](dc *device.Context, out, in1, in2 []T, n int) error {
	return dc.Launch(opName[T]("pow"), n, func(start, end int) {
		simd.VecPow(out[start:end], in1[start:end], in2[start:end])
	})
}

// PowScalar enqueues out[i] = in1[i] ^ s for i in [0, n). Aliasing and
// length rules match Pow.
func PowScalar[T device.Float](dc *device.Context, out, in1 []T, s T, n int) error {
	return dc.Launch(opName[T]("pow_scalar"), n, func(start, end int) {
		simd.VecPowScalar(out[start:end], in1[start:end], s)
	})
}

// PowBuffers is Pow over whole buffers.
func PowBuffers[T device.Float](dc *device.Context, out, in1, in2 *device.Buffer[T]) error {
	return Pow(dc, out.Data(), in1.Data(), in2.Data(), out.Len())
}

// PowScalarBuffers is PowScalar over whole buffers.
func PowScalarBuffers[T device.Float](dc *device.Context, out, in1 *device.Buffer[T], s T) error {
	return PowScalar(dc, out.Data(), in1.Data(), s, out.Len())
}

func opName[T device.Float](base string) string {
	return base + "_" + device.TypeOf[T]().String()
}
