// Package random fills buffers with reproducible pseudo-random values on a
// device stream.
package random

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/23skdu/longbow-pow/internal/device"
)

// Generator is a seeded source. Successive fills continue the same
// sequence, so two generators with the same seed produce identical buffers
// when used in the same order.
type Generator struct {
	seed uint64
	src  *rand.PCG
}

// New returns a generator for seed.
func New(seed uint64) *Generator {
	return &Generator{
		seed: seed,
		src:  rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}
}

func (g *Generator) Seed() uint64 {
	return g.seed
}

// Uniform enqueues a fill of buf[0:n] with values drawn uniformly from
// [low, high) on dc's stream. Draws are sequential so the result depends
// only on the seed and the order of calls, never on the worker count.
func Uniform[T device.Float](dc *device.Context, g *Generator, buf []T, n int, low, high T) error {
	dist := distuv.Uniform{Min: float64(low), Max: float64(high), Src: g.src}
	return dc.Enqueue("uniform_"+device.TypeOf[T]().String(), func() {
		for i := 0; i < n; i++ {
			buf[i] = narrow(dist.Rand(), high)
		}
	})
}

// narrow converts v to T keeping the half-open upper bound: rounding a
// float64 just below high can land exactly on high in binary32.
func narrow[T device.Float](v float64, high T) T {
	x := T(v)
	if x >= high {
		x = T(math.Nextafter(float64(high), math.Inf(-1)))
		if x >= high {
			x = T(math.Nextafter32(float32(high), float32(math.Inf(-1))))
		}
	}
	return x
}
