package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-pow/internal/device"
)

// ErrInvalidCase is returned for cases that cannot be run.
var ErrInvalidCase = errors.New("verify: invalid case")

// Case is one parameterization of the verification flow.
type Case[T device.Float] struct {
	Name      string
	Tolerance T
	Length    int
	Seed      uint64
}

// Validate rejects negative lengths and non-positive or NaN tolerances.
func (c Case[T]) Validate() error {
	if c.Length < 0 {
		return fmt.Errorf("%w: %s: negative length %d", ErrInvalidCase, c.label(), c.Length)
	}
	if !(c.Tolerance > 0) || math.IsInf(float64(c.Tolerance), 0) {
		return fmt.Errorf("%w: %s: tolerance must be positive and finite, got %v", ErrInvalidCase, c.label(), c.Tolerance)
	}
	return nil
}

func (c Case[T]) label() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s/n=%d/seed=%d", device.TypeOf[T](), c.Length, c.Seed)
}

// Describe returns the type-erased parameters of c.
func (c Case[T]) Describe() Descriptor {
	return Descriptor{
		Name:      c.label(),
		DType:     device.TypeOf[T]().String(),
		Length:    c.Length,
		Seed:      c.Seed,
		Tolerance: float64(c.Tolerance),
	}
}

// Execute runs c on a fresh context over backend. The context is closed
// before Execute returns.
func (c Case[T]) Execute(ctx context.Context, backend device.Backend) (Summary, error) {
	var v *Verdict[T]
	err := device.WithContext(backend, func(dc *device.Context) error {
		var err error
		v, err = Run(ctx, dc, c)
		return err
	})

	var s Summary
	if v != nil {
		s = v.Summary()
	} else {
		s = Summary{Descriptor: c.Describe(), Stage: StageInit.String(), Index: -1, InPlaceIndex: -1}
	}
	if err != nil {
		s.Pass = false
		s.Error = err.Error()
	}
	return s, err
}

// Runner is a case with its element type erased, so tables can mix
// float32 and float64 cases.
type Runner interface {
	Describe() Descriptor
	Execute(ctx context.Context, backend device.Backend) (Summary, error)
}

var (
	_ Runner = Case[float32]{}
	_ Runner = Case[float64]{}
)

// Descriptor identifies a case.
type Descriptor struct {
	Name      string  `cbor:"name"`
	DType     string  `cbor:"dtype"`
	Length    int     `cbor:"length"`
	Seed      uint64  `cbor:"seed"`
	Tolerance float64 `cbor:"tolerance"`
}

// NewRunner builds a case from loosely typed parameters, as received from
// flags or requests. An empty name is derived from the parameters.
func NewRunner(d Descriptor) (Runner, error) {
	et, err := device.ParseElementType(d.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}

	var r Runner
	switch et {
	case device.Float32:
		c := Case[float32]{Name: d.Name, Tolerance: float32(d.Tolerance), Length: d.Length, Seed: d.Seed}
		err = c.Validate()
		r = c
	default:
		c := Case[float64]{Name: d.Name, Tolerance: d.Tolerance, Length: d.Length, Seed: d.Seed}
		err = c.Validate()
		r = c
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultCases is the standard table: one million elements, seed 1234,
// with a tolerance suited to each element type.
func DefaultCases() []Runner {
	return []Runner{
		Case[float32]{Name: "float32/1M", Tolerance: 1e-6, Length: 1024 * 1024, Seed: 1234},
		Case[float64]{Name: "float64/1M", Tolerance: 1e-8, Length: 1024 * 1024, Seed: 1234},
	}
}

// ParseDescriptor reads "dtype:length:seed:tolerance", the compact form the
// CLI accepts for -case.
func ParseDescriptor(s string) (Descriptor, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Descriptor{}, fmt.Errorf("%w: want dtype:length:seed:tolerance, got %q", ErrInvalidCase, s)
	}
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: length: %v", ErrInvalidCase, err)
	}
	seed, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: seed: %v", ErrInvalidCase, err)
	}
	tol, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: tolerance: %v", ErrInvalidCase, err)
	}
	return Descriptor{DType: parts[0], Length: length, Seed: seed, Tolerance: tol}, nil
}
