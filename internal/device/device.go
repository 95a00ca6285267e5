package device

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Float is the set of element types a Buffer can hold.
type Float interface {
	constraints.Float
}

// ElementType names the element type of a buffer for logging and reports.
type ElementType int

const (
	Float32 ElementType = iota
	Float64
)

func (e ElementType) String() string {
	switch e {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// ParseElementType accepts "float32"/"f32"/"fp32" and the 64-bit equivalents.
func ParseElementType(s string) (ElementType, error) {
	switch strings.ToLower(s) {
	case "float32", "f32", "fp32", "float":
		return Float32, nil
	case "float64", "f64", "fp64", "double":
		return Float64, nil
	}
	return 0, fmt.Errorf("unknown element type: %q", s)
}

// TypeOf reports the ElementType of T.
func TypeOf[T Float]() ElementType {
	var zero T
	if unsafe.Sizeof(zero) == 4 {
		return Float32
	}
	return Float64
}

// Residency says where a buffer's storage lives.
type Residency int

const (
	Host Residency = iota
	Accelerator
)

func (r Residency) String() string {
	if r == Accelerator {
		return "accelerator"
	}
	return "host"
}

// ErrUnsupportedBackend is returned by NewBackend for backends not compiled in.
var ErrUnsupportedBackend = errors.New("device: backend not supported on this platform")

// Backend executes data-parallel launches.
type Backend interface {
	Name() string

	// Residency of buffers this backend computes on.
	Residency() Residency

	// Workers is the number of independent execution units used by Launch.
	Workers() int

	// Launch partitions [0, n) into contiguous ranges and calls fn on each
	// range concurrently. It returns once every range has completed.
	// fn must only touch indices inside its own range.
	Launch(n int, fn func(start, end int))
}

// NewBackend resolves a backend by name ("cpu", "cuda", "metal").
func NewBackend(name string, opts ...Option) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "cpu":
		return NewCPUBackend(opts...), nil
	case "cuda":
		return NewCudaBackend()
	case "metal":
		return NewMetalBackend()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
}
