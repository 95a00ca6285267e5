package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_pool_hits_total",
		Help: "Total number of successful buffer pool retrievals",
	}, []string{"dtype"})

	poolMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_pool_misses_total",
		Help: "Total number of buffer pool misses (allocations)",
	}, []string{"dtype"})

	poolAllocatedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_pool_allocated_bytes_total",
		Help: "Total bytes allocated for buffers on pool misses",
	}, []string{"dtype"})

	kernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_kernel_launches_total",
		Help: "Total number of launches enqueued on streams",
	}, []string{"op"})

	kernelElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powcheck_kernel_elements_total",
		Help: "Total number of elements covered by enqueued launches",
	}, []string{"op"})

	streamFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powcheck_stream_faults_total",
		Help: "Total number of faults captured on streams",
	})

	streamSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powcheck_stream_skipped_tasks_total",
		Help: "Tasks dropped because their stream had already faulted",
	})
)
