package device

import "fmt"

// Context is an explicit execution context: a backend plus the stream that
// orders work submitted against it. Every kernel takes one; there is no
// package-level default stream.
type Context struct {
	backend Backend
	stream  *Stream
}

// NewContext binds a fresh stream to backend. Callers must Close it.
func NewContext(backend Backend) *Context {
	if backend == nil {
		backend = NewCPUBackend()
	}
	return &Context{
		backend: backend,
		stream:  NewStream(),
	}
}

// WithContext runs fn with a new context over backend and closes the context
// on every exit path, including a panic in fn. A fault reported by Close is
// returned when fn itself succeeded.
func WithContext(backend Backend, fn func(*Context) error) (err error) {
	c := NewContext(backend)
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}

func (c *Context) Backend() Backend {
	return c.backend
}

func (c *Context) Stream() *Stream {
	return c.stream
}

// Launch enqueues a data-parallel launch of fn over [0, n) on the context's
// stream. n == 0 still enqueues an empty task so stream ordering holds.
// Do not call Launch from inside a running task.
func (c *Context) Launch(op string, n int, fn func(start, end int)) error {
	if err := c.stream.Submit(op, func() {
		c.backend.Launch(n, fn)
	}); err != nil {
		return err
	}
	kernelLaunches.WithLabelValues(op).Inc()
	if n > 0 {
		kernelElements.WithLabelValues(op).Add(float64(n))
	}
	return nil
}

// Enqueue submits a serial task on the context's stream.
func (c *Context) Enqueue(op string, fn func()) error {
	return c.stream.Submit(op, fn)
}

// Synchronize waits for all work on the context's stream.
func (c *Context) Synchronize() error {
	if err := c.stream.Synchronize(); err != nil {
		return fmt.Errorf("synchronize %s: %w", c.backend.Name(), err)
	}
	return nil
}

// Close waits for queued work and releases the stream.
func (c *Context) Close() error {
	if err := c.stream.Close(); err != nil {
		return fmt.Errorf("close %s context: %w", c.backend.Name(), err)
	}
	return nil
}
