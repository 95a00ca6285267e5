package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-pow/internal/device"
	"github.com/23skdu/longbow-pow/internal/verify"
)

var (
	errBatchTooLarge = errors.New("batch exceeds admission limit")
	errBusy          = errors.New("server busy")
)

var (
	elementsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "powcheck_server_elements_in_flight",
		Help: "Elements admitted and currently being verified",
	})

	batchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_server_batches_rejected_total",
		Help: "Request batches refused before verification",
	}, []string{"reason"})
)

// verifier runs request batches against a shared backend. Admission is
// weighted by element count so a few large cases cannot starve the host.
type verifier struct {
	backend  device.Backend
	sem      *semaphore.Weighted
	capacity int64
}

func newVerifier(backend device.Backend, maxElements int64) *verifier {
	if maxElements <= 0 {
		maxElements = 1
	}
	return &verifier{
		backend:  backend,
		sem:      semaphore.NewWeighted(maxElements),
		capacity: maxElements,
	}
}

// run validates descs, waits for admission and executes them. Every
// descriptor is checked before anything runs.
func (v *verifier) run(ctx context.Context, descs []verify.Descriptor) ([]verify.Summary, error) {
	runners := make([]verify.Runner, len(descs))
	var weight int64
	for i, d := range descs {
		r, err := verify.NewRunner(d)
		if err != nil {
			batchesRejected.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		runners[i] = r
		// Checked before adding so the running sum never overflows.
		if n := int64(d.Length); n > v.capacity-weight {
			batchesRejected.WithLabelValues("too_large").Inc()
			return nil, fmt.Errorf("%w: case %d adds %d elements to %d, limit %d",
				errBatchTooLarge, i, n, weight, v.capacity)
		}
		weight += int64(d.Length)
	}
	// Zero-length cases still cost a slot.
	if weight == 0 {
		weight = 1
	}

	if err := v.sem.Acquire(ctx, weight); err != nil {
		batchesRejected.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: %v", errBusy, err)
	}
	defer v.sem.Release(weight)
	elementsInFlight.Add(float64(weight))
	defer elementsInFlight.Sub(float64(weight))

	res, err := verify.Suite{Backend: v.backend, Cases: runners}.Run(ctx)
	if err != nil {
		return nil, err
	}
	return res.Summaries, nil
}
