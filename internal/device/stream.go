package device

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ErrStreamClosed is returned when submitting to a closed stream.
var ErrStreamClosed = errors.New("device: stream closed")

var streamIDs atomic.Uint64

type task struct {
	op string
	fn func()
}

// Stream is an ordered queue of asynchronous work served by one goroutine.
// Tasks run in submission order. The first fault is sticky: later tasks are
// dropped and every Synchronize reports it.
type Stream struct {
	id    uint64
	tasks chan task
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex // guards closed and sends on tasks
	closed bool

	faultMu sync.Mutex
	fault   *Fault
}

func NewStream() *Stream {
	s := &Stream{
		id:    streamIDs.Add(1),
		tasks: make(chan task, 64),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Stream) ID() uint64 {
	return s.id
}

// Submit enqueues fn under the given op name and returns without waiting.
func (s *Stream) Submit(op string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: submit %s on stream %d", ErrStreamClosed, op, s.id)
	}
	s.wg.Add(1)
	s.tasks <- task{op: op, fn: fn}
	return nil
}

// Synchronize blocks until all submitted tasks have completed and returns
// the stream's fault, if any.
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	return s.Err()
}

// Err returns the sticky fault without waiting.
func (s *Stream) Err() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if s.fault == nil {
		return nil
	}
	return s.fault
}

// Close drains queued work, stops the worker and returns the stream fault.
// Closing twice is a no-op.
func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	s.mu.Unlock()

	<-s.done
	return s.Err()
}

func (s *Stream) worker() {
	for t := range s.tasks {
		s.run(t)
		s.wg.Done()
	}
	close(s.done)
}

func (s *Stream) run(t task) {
	if s.Err() != nil {
		streamSkipped.Inc()
		return
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		f := &Fault{Stream: s.id, Op: t.op, Message: fmt.Sprint(r)}
		if err, ok := r.(error); ok {
			f.Message = "panic"
			f.Err = err
		}

		s.faultMu.Lock()
		if s.fault == nil {
			s.fault = f
		}
		s.faultMu.Unlock()

		streamFaults.Inc()
		log.Error().Uint64("stream", s.id).Str("op", t.op).Interface("panic", r).Msg("Stream task faulted")
	}()

	t.fn()
}
