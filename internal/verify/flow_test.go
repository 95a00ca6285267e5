package verify

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-pow/internal/device"
)

// truncatingBackend drops the last element of every launch, so any kernel
// run through it leaves out[n-1] untouched.
type truncatingBackend struct {
	device.Backend
}

func (b truncatingBackend) Launch(n int, fn func(start, end int)) {
	if n > 1 {
		b.Backend.Launch(n-1, fn)
	}
}

// cancellingBackend cancels a context on its first launch and then runs
// the launch normally.
type cancellingBackend struct {
	device.Backend
	cancel context.CancelFunc
}

func (b cancellingBackend) Launch(n int, fn func(start, end int)) {
	b.cancel()
	b.Backend.Launch(n, fn)
}

// faultingBackend panics on every launch.
type faultingBackend struct {
	device.Backend
}

func (faultingBackend) Launch(int, func(start, end int)) {
	panic("launch failed")
}

func runCase[T device.Float](t *testing.T, backend device.Backend, c Case[T]) (*Verdict[T], error) {
	t.Helper()
	var v *Verdict[T]
	err := device.WithContext(backend, func(dc *device.Context) error {
		var err error
		v, err = Run(context.Background(), dc, c)
		return err
	})
	return v, err
}

func TestRun_DefaultScenario(t *testing.T) {
	for _, r := range DefaultCases() {
		t.Run(r.Describe().Name, func(t *testing.T) {
			s, err := r.Execute(context.Background(), device.NewCPUBackend())
			require.NoError(t, err)
			assert.True(t, s.Pass)
			assert.Equal(t, StageVerdict.String(), s.Stage)
			assert.Equal(t, 1048576, s.Length)
			assert.Equal(t, uint64(1234), s.Seed)
			assert.Equal(t, -1, s.Index)
			assert.Equal(t, -1, s.InPlaceIndex)
			assert.Empty(t, s.Error)
		})
	}
}

func TestRun_Float32(t *testing.T) {
	v, err := runCase(t, device.NewCPUBackend(), Case[float32]{Tolerance: 1e-6, Length: 10000, Seed: 7})
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.True(t, v.Pass)
	assert.Equal(t, StageVerdict, v.Stage)
	assert.True(t, v.Fresh.Pass)
	assert.True(t, v.InPlace.Pass)
	assert.Equal(t, 10000, v.Fresh.Len)
	assert.Equal(t, 10000, v.InPlace.Len)
}

func TestRun_ZeroLength(t *testing.T) {
	v, err := runCase(t, device.NewCPUBackend(), Case[float64]{Tolerance: 1e-8, Length: 0, Seed: 1})
	require.NoError(t, err)
	assert.True(t, v.Pass)
	assert.Equal(t, StageVerdict, v.Stage)
	assert.Equal(t, 0, v.Fresh.Len)
	assert.Equal(t, 0.0, v.Fresh.MaxAbsErr)
}

func TestRun_WorkerCountIndependent(t *testing.T) {
	c := Case[float64]{Tolerance: 1e-8, Length: 50000, Seed: 99}
	for _, workers := range []int{1, 3, 16} {
		backend := device.NewCPUBackend(device.WithWorkers(workers), device.WithGrain(64))
		v, err := runCase(t, backend, c)
		require.NoError(t, err)
		assert.True(t, v.Pass, "workers=%d", workers)
	}
}

func TestRun_MismatchIsVerdict(t *testing.T) {
	const n = 1000
	backend := truncatingBackend{device.NewCPUBackend()}

	v, err := runCase(t, backend, Case[float32]{Tolerance: 1e-6, Length: n, Seed: 3})
	require.NoError(t, err, "a numeric mismatch is not an error")
	require.NotNil(t, v)

	assert.False(t, v.Pass)
	assert.Equal(t, StageVerdict, v.Stage)
	assert.False(t, v.Fresh.Pass)
	assert.Equal(t, n-1, v.Fresh.Index)
	assert.Equal(t, float32(0), v.Fresh.Actual)
	assert.False(t, v.InPlace.Pass)
	assert.Equal(t, n-1, v.InPlace.Index)

	s := v.Summary()
	assert.False(t, s.Pass)
	assert.Equal(t, n-1, s.Index)
	assert.Equal(t, n-1, s.InPlaceIndex)
}

func TestRun_InvalidCase(t *testing.T) {
	tests := []struct {
		name string
		c    Case[float32]
	}{
		{"negative length", Case[float32]{Tolerance: 1e-6, Length: -1}},
		{"zero tolerance", Case[float32]{Tolerance: 0, Length: 4}},
		{"negative tolerance", Case[float32]{Tolerance: -1, Length: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := runCase(t, device.NewCPUBackend(), tt.c)
			assert.ErrorIs(t, err, ErrInvalidCase)
			assert.Nil(t, v)
		})
	}
}

func TestRun_ClosedContext(t *testing.T) {
	dc := device.NewContext(device.NewCPUBackend())
	require.NoError(t, dc.Close())

	v, err := Run(context.Background(), dc, Case[float64]{Tolerance: 1e-8, Length: 16, Seed: 1})
	require.ErrorIs(t, err, device.ErrStreamClosed)
	require.NotNil(t, v)
	assert.False(t, v.Pass)
	assert.Equal(t, StageGenerate, v.Stage)
	assert.Equal(t, -1, v.Summary().Index)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := device.WithContext(nil, func(dc *device.Context) error {
		v, err := Run(ctx, dc, Case[float32]{Tolerance: 1e-6, Length: 16})
		require.NotNil(t, v)
		assert.Equal(t, StageInit, v.Stage)
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_CancelledAfterCompute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := cancellingBackend{Backend: device.NewCPUBackend(), cancel: cancel}

	failed := testutil.ToFloat64(casesTotal.WithLabelValues("float64", "fail"))
	faulted := testutil.ToFloat64(casesTotal.WithLabelValues("float64", "fault"))

	var v *Verdict[float64]
	err := device.WithContext(backend, func(dc *device.Context) error {
		var err error
		v, err = Run(ctx, dc, Case[float64]{Tolerance: 1e-8, Length: 256, Seed: 5})
		return err
	})

	require.ErrorIs(t, err, context.Canceled, "an abort is an error, not a verdict")
	require.NotNil(t, v)
	assert.False(t, v.Pass)
	assert.Equal(t, StageComputeActual, v.Stage)
	assert.Equal(t, 0, v.Fresh.Len)
	assert.Equal(t, failed, testutil.ToFloat64(casesTotal.WithLabelValues("float64", "fail")))
	assert.Equal(t, faulted+1, testutil.ToFloat64(casesTotal.WithLabelValues("float64", "fault")))
}

func TestRun_Fault(t *testing.T) {
	v, err := runCase(t, faultingBackend{device.NewCPUBackend()}, Case[float32]{Tolerance: 1e-6, Length: 64, Seed: 1})
	require.Error(t, err)
	assert.True(t, device.IsFault(err))
	require.NotNil(t, v)
	assert.Equal(t, StageComputeActual, v.Stage)
	assert.False(t, v.Pass)
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "init", StageInit.String())
	assert.Equal(t, "generate", StageGenerate.String())
	assert.Equal(t, "compute_reference", StageComputeReference.String())
	assert.Equal(t, "compute_actual", StageComputeActual.String())
	assert.Equal(t, "compare", StageCompare.String())
	assert.Equal(t, "verdict", StageVerdict.String())
	assert.Equal(t, "unknown", Stage(42).String())
}
