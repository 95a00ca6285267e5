// Package verify checks the power kernels against the reference oracle.
//
// A case moves through a fixed sequence of stages:
//
//	INIT -> GENERATE -> COMPUTE_REFERENCE -> COMPUTE_ACTUAL -> COMPARE -> VERDICT
//
// There are no retries. A numeric mismatch produces a failing Verdict; a
// device fault aborts the case and is returned as an error.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-pow/internal/compare"
	"github.com/23skdu/longbow-pow/internal/device"
	"github.com/23skdu/longbow-pow/internal/ops"
	"github.com/23skdu/longbow-pow/internal/random"
	"github.com/23skdu/longbow-pow/internal/reference"
)

// Stage is a state of the verification flow.
type Stage int

const (
	StageInit Stage = iota
	StageGenerate
	StageComputeReference
	StageComputeActual
	StageCompare
	StageVerdict
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageGenerate:
		return "generate"
	case StageComputeReference:
		return "compute_reference"
	case StageComputeActual:
		return "compute_actual"
	case StageCompare:
		return "compare"
	case StageVerdict:
		return "verdict"
	default:
		return "unknown"
	}
}

// Inputs are drawn from [inputLow, inputHigh): positive bases keep pow
// real-valued and the chained square bounded.
const (
	inputLow      = 1.0
	inputHigh     = 2.0
	chainExponent = 2
)

var tracer = otel.Tracer("powcheck-verify")

// Verdict is the outcome of one case. Fresh compares the reference against
// the kernel writing into a separate buffer; InPlace against the kernel
// writing back into its first input.
type Verdict[T device.Float] struct {
	Case    Case[T]
	Stage   Stage
	Pass    bool
	Fresh   compare.Result[T]
	InPlace compare.Result[T]
	Elapsed time.Duration
}

// Run executes the flow for c on dc. The returned verdict is non-nil
// whenever c is valid, and records the last stage reached even when an
// error aborted the case.
func Run[T device.Float](ctx context.Context, dc *device.Context, c Case[T]) (*Verdict[T], error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	d := c.Describe()
	ctx, span := tracer.Start(ctx, "verify.Run", trace.WithAttributes(
		attribute.String("case", d.Name),
		attribute.String("dtype", d.DType),
		attribute.Int("length", d.Length),
		attribute.Int64("seed", int64(d.Seed)),
		attribute.String("backend", dc.Backend().Name()),
	))
	defer span.End()

	logger := log.With().
		Str("case", d.Name).
		Str("dtype", d.DType).
		Int("length", d.Length).
		Uint64("seed", d.Seed).
		Logger()

	start := time.Now()
	v := &Verdict[T]{
		Case:    c,
		Stage:   StageInit,
		Fresh:   compare.Result[T]{Index: -1},
		InPlace: compare.Result[T]{Index: -1},
	}
	n := c.Length

	stage := func(s Stage, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("verify: %s: %w", s, err)
		}
		v.Stage = s
		_, sspan := tracer.Start(ctx, s.String())
		t0 := time.Now()
		err := fn()
		elapsed := time.Since(t0)
		stageDuration.WithLabelValues(s.String(), d.DType).Observe(elapsed.Seconds())
		if err != nil {
			sspan.RecordError(err)
			sspan.SetStatus(codes.Error, err.Error())
		}
		sspan.End()
		if err != nil {
			return fmt.Errorf("verify: %s: %w", s, err)
		}
		logger.Debug().Str("stage", s.String()).Dur("elapsed", elapsed).Msg("Stage complete")
		return nil
	}

	fail := func(err error) (*Verdict[T], error) {
		v.Elapsed = time.Since(start)
		casesTotal.WithLabelValues(d.DType, "fault").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("stage", v.Stage.String()).Msg("Verification aborted")
		return v, err
	}

	var in1, in2, ref, out *device.Buffer[T]
	defer func() {
		// Queued work may still reference the buffers on an error path.
		_ = dc.Synchronize()
		for _, b := range []*device.Buffer[T]{in1, in2, ref, out} {
			if b != nil {
				b.Release()
			}
		}
	}()

	if err := stage(StageInit, func() error {
		in1 = device.NewBuffer[T](n)
		in2 = device.NewBuffer[T](n)
		ref = device.NewBuffer[T](n)
		out = device.NewBuffer[T](n)
		return nil
	}); err != nil {
		return fail(err)
	}

	if err := stage(StageGenerate, func() error {
		g := random.New(c.Seed)
		if err := random.Uniform(dc, g, in1.Data(), n, inputLow, inputHigh); err != nil {
			return err
		}
		if err := random.Uniform(dc, g, in2.Data(), n, inputLow, inputHigh); err != nil {
			return err
		}
		return dc.Synchronize()
	}); err != nil {
		return fail(err)
	}

	if err := stage(StageComputeReference, func() error {
		reference.Pow(ref.Data(), in1.Data(), in2.Data(), n)
		reference.PowScalar(ref.Data(), ref.Data(), chainExponent, n)
		return nil
	}); err != nil {
		return fail(err)
	}

	if err := stage(StageComputeActual, func() error {
		if err := ops.PowBuffers(dc, out, in1, in2); err != nil {
			return err
		}
		if err := ops.PowScalarBuffers(dc, out, out, chainExponent); err != nil {
			return err
		}
		// Same chain again, written back into in1.
		if err := ops.PowBuffers(dc, in1, in1, in2); err != nil {
			return err
		}
		if err := ops.PowScalarBuffers(dc, in1, in1, chainExponent); err != nil {
			return err
		}
		return dc.Synchronize()
	}); err != nil {
		return fail(err)
	}

	cmp := compare.Approx(c.Tolerance)
	if err := stage(StageCompare, func() error {
		v.Fresh = cmp.Compare(ref.Data(), out.Data())
		v.InPlace = cmp.Compare(ref.Data(), in1.Data())
		elementsVerified.WithLabelValues(d.DType).Add(float64(2 * n))
		return nil
	}); err != nil {
		return fail(err)
	}

	v.Stage = StageVerdict
	v.Pass = v.Fresh.Pass && v.InPlace.Pass
	v.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Bool("pass", v.Pass))

	if v.Pass {
		casesTotal.WithLabelValues(d.DType, "pass").Inc()
		logger.Info().
			Dur("elapsed", v.Elapsed).
			Float64("tolerance", float64(cmp.Tolerance())).
			Float64("max_abs_err", v.Fresh.MaxAbsErr).
			Msg("Verification passed")
	} else {
		casesTotal.WithLabelValues(d.DType, "fail").Inc()
		span.SetStatus(codes.Error, "numeric mismatch")
		logger.Warn().
			Float64("tolerance", float64(cmp.Tolerance())).
			Str("fresh", v.Fresh.String()).
			Str("in_place", v.InPlace.String()).
			Msg("Verification failed")
	}
	return v, nil
}

// Summary is a verdict with the element type erased, for logs, reports and
// wire responses. Index fields are -1 when the comparison matched.
type Summary struct {
	Descriptor

	Pass      bool          `cbor:"pass"`
	Stage     string        `cbor:"stage"`
	Index     int           `cbor:"index"`
	Expected  float64       `cbor:"expected"`
	Actual    float64       `cbor:"actual"`
	MaxAbsErr float64       `cbor:"max_abs_err"`
	Elapsed   time.Duration `cbor:"elapsed_ns"`

	InPlaceIndex    int     `cbor:"inplace_index"`
	InPlaceExpected float64 `cbor:"inplace_expected"`
	InPlaceActual   float64 `cbor:"inplace_actual"`

	Error string `cbor:"error,omitempty"`
}

func (v *Verdict[T]) Summary() Summary {
	return Summary{
		Descriptor:      v.Case.Describe(),
		Pass:            v.Pass,
		Stage:           v.Stage.String(),
		Index:           v.Fresh.Index,
		Expected:        float64(v.Fresh.Expected),
		Actual:          float64(v.Fresh.Actual),
		MaxAbsErr:       v.Fresh.MaxAbsErr,
		Elapsed:         v.Elapsed,
		InPlaceIndex:    v.InPlace.Index,
		InPlaceExpected: float64(v.InPlace.Expected),
		InPlaceActual:   float64(v.InPlace.Actual),
	}
}
