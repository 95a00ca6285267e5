package device

import (
	"runtime"
	"sync"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)

// numWorkers defines the default parallelism for CPU launches
var numWorkers = runtime.NumCPU()

// defaultGrain is the smallest range handed to a single worker.
// Below it, spawning goroutines costs more than the work.
const defaultGrain = 4096

type config struct {
	workers int
	grain   int
}

// Option configures a backend or context.
type Option func(*config)

// WithWorkers caps the number of goroutines a launch fans out to.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithGrain sets the minimum number of elements per worker.
func WithGrain(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.grain = n
		}
	}
}

func newConfig(opts []Option) config {
	c := config{workers: numWorkers, grain: defaultGrain}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// CPUBackend runs launches on goroutines over host memory.
type CPUBackend struct {
	workers int
	grain   int
}

func NewCPUBackend(opts ...Option) *CPUBackend {
	c := newConfig(opts)
	return &CPUBackend{
		workers: c.workers,
		grain:   c.grain,
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) Residency() Residency {
	return Host
}

func (b *CPUBackend) Workers() int {
	return b.workers
}

func (b *CPUBackend) Launch(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	workers := b.workers
	if maxByGrain := (n + b.grain - 1) / b.grain; maxByGrain < workers {
		workers = maxByGrain
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	itemsPerWorker := (n + workers - 1) / workers

	// A panic in any range is re-raised on the launching goroutine so the
	// owning stream can record it as a fault.
	var (
		panicOnce sync.Once
		panicVal  any
	)

	for w := 0; w < workers; w++ {
		start := w * itemsPerWorker
		end := start + itemsPerWorker
		if start >= n {
			break
		}
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicVal = r })
				}
			}()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()

	if panicVal != nil {
		panic(panicVal)
	}
}
