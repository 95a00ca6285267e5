package device

import (
	"sync"
)

// Buffer is an owned, contiguous, fixed-length array of T. The length only
// changes through Resize; Release hands the storage back to the pool.
type Buffer[T Float] struct {
	data      []T
	residency Residency
	pool      *Pool[T]
	released  bool
}

// NewBuffer allocates a zeroed buffer of length n, reusing pooled storage
// when available.
func NewBuffer[T Float](n int) *Buffer[T] {
	if p := poolFor[T](); p != nil {
		return p.Get(n)
	}
	return &Buffer[T]{data: make([]T, n)}
}

func (b *Buffer[T]) Len() int {
	return len(b.data)
}

// Data returns the backing slice. Reading it while work that writes the
// buffer is still queued is a data race; synchronize first.
func (b *Buffer[T]) Data() []T {
	return b.data
}

func (b *Buffer[T]) Type() ElementType {
	return TypeOf[T]()
}

func (b *Buffer[T]) Residency() Residency {
	return b.residency
}

// Resize changes the length to n. Existing elements up to min(old, n) are
// kept; new elements are zero.
func (b *Buffer[T]) Resize(n int) {
	if n < 0 {
		panic("Resize: negative length")
	}
	if cap(b.data) >= n {
		old := len(b.data)
		b.data = b.data[:n]
		for i := old; i < n; i++ {
			b.data[i] = 0
		}
		return
	}
	data := make([]T, n)
	copy(data, b.data)
	b.data = data
}

// Release returns the storage to its pool. The buffer must not be used
// afterwards; releasing twice is a no-op.
func (b *Buffer[T]) Release() {
	if b.released {
		return
	}
	b.released = true
	if b.pool != nil {
		b.pool.Put(b)
	}
	b.data = nil
}

// Pool recycles buffer storage of one element type.
type Pool[T Float] struct {
	pool  sync.Pool
	dtype ElementType
}

func NewPool[T Float]() *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() interface{} {
				return new([]T)
			},
		},
		dtype: TypeOf[T](),
	}
}

var (
	pool32 = NewPool[float32]()
	pool64 = NewPool[float64]()
)

// poolFor returns the shared pool for T, or nil for named float types.
func poolFor[T Float]() *Pool[T] {
	if p, ok := any(pool32).(*Pool[T]); ok {
		return p
	}
	if p, ok := any(pool64).(*Pool[T]); ok {
		return p
	}
	return nil
}

// Get returns a zeroed buffer of length n.
func (p *Pool[T]) Get(n int) *Buffer[T] {
	label := p.dtype.String()
	sp, ok := p.pool.Get().(*[]T)
	if !ok || sp == nil {
		sp = new([]T)
	}

	data := *sp
	if cap(data) < n {
		data = make([]T, n)
		poolMisses.WithLabelValues(label).Inc()
		poolAllocatedBytes.WithLabelValues(label).Add(float64(n * p.elemSize()))
	} else {
		data = data[:n]
		// Zero-initialize
		for i := range data {
			data[i] = 0
		}
		poolHits.WithLabelValues(label).Inc()
	}

	return &Buffer[T]{
		data:      data,
		residency: Host,
		pool:      p,
	}
}

// Put returns b's storage to the pool and detaches it from b.
func (p *Pool[T]) Put(b *Buffer[T]) {
	if b == nil || b.data == nil {
		return
	}
	data := b.data[:0]
	b.data = nil
	p.pool.Put(&data)
}

func (p *Pool[T]) elemSize() int {
	if p.dtype == Float32 {
		return 4
	}
	return 8
}
