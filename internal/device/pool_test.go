package device

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Lifecycle(t *testing.T) {
	b := NewBuffer[float32](8)
	assert.Equal(t, 8, b.Len())
	assert.Equal(t, Float32, b.Type())
	assert.Equal(t, Host, b.Residency())

	for i := range b.Data() {
		b.Data()[i] = float32(i)
	}

	t.Run("ResizeKeepsPrefix", func(t *testing.T) {
		b.Resize(4)
		assert.Equal(t, []float32{0, 1, 2, 3}, b.Data())
		b.Resize(6)
		assert.Equal(t, []float32{0, 1, 2, 3, 0, 0}, b.Data())
		b.Resize(32)
		assert.Equal(t, 32, b.Len())
		assert.Equal(t, float32(3), b.Data()[3])
		assert.Equal(t, float32(0), b.Data()[31])
	})

	t.Run("ReleaseIsIdempotent", func(t *testing.T) {
		b.Release()
		assert.Nil(t, b.Data())
		assert.NotPanics(t, b.Release)
	})
}

func TestBuffer_ResizeNegative(t *testing.T) {
	b := NewBuffer[float64](2)
	defer b.Release()
	assert.Panics(t, func() { b.Resize(-1) })
}

func TestBuffer_NamedType(t *testing.T) {
	type meters float64
	b := NewBuffer[meters](3)
	assert.Nil(t, b.pool)
	assert.Equal(t, Float64, b.Type())
	b.Release()
	assert.Nil(t, b.Data())
}

func TestPool_Metrics(t *testing.T) {
	// Metrics are global, so we track deltas
	pool := NewPool[float64]()
	startHits := testutil.ToFloat64(poolHits.WithLabelValues("float64"))
	startMisses := testutil.ToFloat64(poolMisses.WithLabelValues("float64"))

	b1 := pool.Get(100)
	assert.Equal(t, 1.0, testutil.ToFloat64(poolMisses.WithLabelValues("float64"))-startMisses)

	b1.Data()[0] = 123
	b1.Release()

	// sync.Pool does not guarantee reuse, so only check what a reused
	// buffer must look like.
	b2 := pool.Get(100)
	defer b2.Release()
	require.Equal(t, 100, b2.Len())
	assert.Equal(t, 0.0, b2.Data()[0], "pooled buffer not zeroed")

	hits := testutil.ToFloat64(poolHits.WithLabelValues("float64")) - startHits
	misses := testutil.ToFloat64(poolMisses.WithLabelValues("float64")) - startMisses
	assert.Equal(t, 2.0, hits+misses)
}

func TestPool_StaleHandleCannotReleaseNewOwner(t *testing.T) {
	pool := NewPool[float32]()
	old := pool.Get(16)
	old.Release()

	fresh := pool.Get(16)
	defer fresh.Release()
	fresh.Data()[0] = 7

	old.Release()
	assert.Equal(t, float32(7), fresh.Data()[0])
	assert.Equal(t, 16, fresh.Len())
}
