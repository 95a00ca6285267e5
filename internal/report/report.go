// Package report encodes verification summaries as Arrow record batches so
// they can be written to IPC files or shipped over Flight.
package report

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-pow/internal/verify"
)

// Schema is the layout of a summary record batch. Index columns hold -1 for
// comparisons that matched; error is null unless the case aborted.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "dtype", Type: arrow.BinaryTypes.String},
		{Name: "length", Type: arrow.PrimitiveTypes.Int64},
		{Name: "seed", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "tolerance", Type: arrow.PrimitiveTypes.Float64},
		{Name: "pass", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "stage", Type: arrow.BinaryTypes.String},
		{Name: "index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "expected", Type: arrow.PrimitiveTypes.Float64},
		{Name: "actual", Type: arrow.PrimitiveTypes.Float64},
		{Name: "max_abs_err", Type: arrow.PrimitiveTypes.Float64},
		{Name: "inplace_index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "inplace_expected", Type: arrow.PrimitiveTypes.Float64},
		{Name: "inplace_actual", Type: arrow.PrimitiveTypes.Float64},
		{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
	},
	nil,
)

// Build converts summaries into a record batch. The caller owns the result
// and must Release it. An empty slice yields a zero-row batch.
func Build(mem memory.Allocator, summaries []verify.Summary) arrow.RecordBatch {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var (
		name     = array.NewStringBuilder(mem)
		dtype    = array.NewStringBuilder(mem)
		length   = array.NewInt64Builder(mem)
		seed     = array.NewUint64Builder(mem)
		tol      = array.NewFloat64Builder(mem)
		pass     = array.NewBooleanBuilder(mem)
		stage    = array.NewStringBuilder(mem)
		index    = array.NewInt64Builder(mem)
		expected = array.NewFloat64Builder(mem)
		actual   = array.NewFloat64Builder(mem)
		maxErr   = array.NewFloat64Builder(mem)
		inplace  = array.NewInt64Builder(mem)
		inExp    = array.NewFloat64Builder(mem)
		inAct    = array.NewFloat64Builder(mem)
		errs     = array.NewStringBuilder(mem)
	)
	builders := []array.Builder{name, dtype, length, seed, tol, pass, stage, index, expected, actual, maxErr, inplace, inExp, inAct, errs}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for _, s := range summaries {
		name.Append(s.Name)
		dtype.Append(s.DType)
		length.Append(int64(s.Length))
		seed.Append(s.Seed)
		tol.Append(s.Tolerance)
		pass.Append(s.Pass)
		stage.Append(s.Stage)
		index.Append(int64(s.Index))
		expected.Append(s.Expected)
		actual.Append(s.Actual)
		maxErr.Append(s.MaxAbsErr)
		inplace.Append(int64(s.InPlaceIndex))
		inExp.Append(s.InPlaceExpected)
		inAct.Append(s.InPlaceActual)
		if s.Error != "" {
			errs.Append(s.Error)
		} else {
			errs.AppendNull()
		}
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(Schema, cols, int64(len(summaries)))
}

// WriteIPC writes rec as an Arrow IPC stream.
func WriteIPC(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return fmt.Errorf("report: write ipc: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("report: close ipc: %w", err)
	}
	return nil
}

// ReadIPC reads every summary from an Arrow IPC stream produced by WriteIPC.
func ReadIPC(r io.Reader, mem memory.Allocator) ([]verify.Summary, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("report: open ipc: %w", err)
	}
	defer reader.Release()

	var out []verify.Summary
	for reader.Next() {
		s, err := Summaries(reader.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("report: read ipc: %w", err)
	}
	return out, nil
}

// Summaries decodes a record batch laid out as Schema.
func Summaries(rec arrow.RecordBatch) ([]verify.Summary, error) {
	if !rec.Schema().Equal(Schema) {
		return nil, fmt.Errorf("report: unexpected schema %s", rec.Schema())
	}

	var (
		name     = rec.Column(0).(*array.String)
		dtype    = rec.Column(1).(*array.String)
		length   = rec.Column(2).(*array.Int64)
		seed     = rec.Column(3).(*array.Uint64)
		tol      = rec.Column(4).(*array.Float64)
		pass     = rec.Column(5).(*array.Boolean)
		stage    = rec.Column(6).(*array.String)
		index    = rec.Column(7).(*array.Int64)
		expected = rec.Column(8).(*array.Float64)
		actual   = rec.Column(9).(*array.Float64)
		maxErr   = rec.Column(10).(*array.Float64)
		inplace  = rec.Column(11).(*array.Int64)
		inExp    = rec.Column(12).(*array.Float64)
		inAct    = rec.Column(13).(*array.Float64)
		errs     = rec.Column(14).(*array.String)
	)

	out := make([]verify.Summary, rec.NumRows())
	for i := range out {
		s := verify.Summary{
			Descriptor: verify.Descriptor{
				Name:      name.Value(i),
				DType:     dtype.Value(i),
				Length:    int(length.Value(i)),
				Seed:      seed.Value(i),
				Tolerance: tol.Value(i),
			},
			Pass:         pass.Value(i),
			Stage:        stage.Value(i),
			Index:        int(index.Value(i)),
			Expected:     expected.Value(i),
			Actual:       actual.Value(i),
			MaxAbsErr:    maxErr.Value(i),
			InPlaceIndex: int(inplace.Value(i)),

			InPlaceExpected: inExp.Value(i),
			InPlaceActual:   inAct.Value(i),
		}
		if errs.IsValid(i) {
			s.Error = errs.Value(i)
		}
		out[i] = s
	}
	return out, nil
}
