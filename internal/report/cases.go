package report

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-pow/internal/verify"
)

// CaseSchema is the layout of a batch of case requests. The name column is
// optional on decode.
var CaseSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "dtype", Type: arrow.BinaryTypes.String},
		{Name: "length", Type: arrow.PrimitiveTypes.Int64},
		{Name: "seed", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "tolerance", Type: arrow.PrimitiveTypes.Float64},
	},
	nil,
)

// BuildCases encodes case descriptors as a request batch.
func BuildCases(mem memory.Allocator, descs []verify.Descriptor) arrow.RecordBatch {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	name := array.NewStringBuilder(mem)
	defer name.Release()
	dtype := array.NewStringBuilder(mem)
	defer dtype.Release()
	length := array.NewInt64Builder(mem)
	defer length.Release()
	seed := array.NewUint64Builder(mem)
	defer seed.Release()
	tol := array.NewFloat64Builder(mem)
	defer tol.Release()

	for _, d := range descs {
		if d.Name == "" {
			name.AppendNull()
		} else {
			name.Append(d.Name)
		}
		dtype.Append(d.DType)
		length.Append(int64(d.Length))
		seed.Append(d.Seed)
		tol.Append(d.Tolerance)
	}

	cols := []arrow.Array{name.NewArray(), dtype.NewArray(), length.NewArray(), seed.NewArray(), tol.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(CaseSchema, cols, int64(len(descs)))
}

// DecodeCases reads case descriptors from a request batch. Columns are
// looked up by name, so extra columns and any column order are accepted.
func DecodeCases(rec arrow.RecordBatch) ([]verify.Descriptor, error) {
	col := func(field string) (arrow.Array, error) {
		idx := rec.Schema().FieldIndices(field)
		if len(idx) == 0 {
			return nil, fmt.Errorf("%w: missing column %q", verify.ErrInvalidCase, field)
		}
		return rec.Column(idx[0]), nil
	}

	dtypeCol, err := col("dtype")
	if err != nil {
		return nil, err
	}
	lengthCol, err := col("length")
	if err != nil {
		return nil, err
	}
	seedCol, err := col("seed")
	if err != nil {
		return nil, err
	}
	tolCol, err := col("tolerance")
	if err != nil {
		return nil, err
	}

	dtype, ok := dtypeCol.(*array.String)
	if !ok {
		return nil, fmt.Errorf("%w: dtype column is %s, want utf8", verify.ErrInvalidCase, dtypeCol.DataType())
	}
	length, ok := lengthCol.(*array.Int64)
	if !ok {
		return nil, fmt.Errorf("%w: length column is %s, want int64", verify.ErrInvalidCase, lengthCol.DataType())
	}
	seed, ok := seedCol.(*array.Uint64)
	if !ok {
		return nil, fmt.Errorf("%w: seed column is %s, want uint64", verify.ErrInvalidCase, seedCol.DataType())
	}
	tol, ok := tolCol.(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: tolerance column is %s, want float64", verify.ErrInvalidCase, tolCol.DataType())
	}

	var name *array.String
	if idx := rec.Schema().FieldIndices("name"); len(idx) > 0 {
		name, _ = rec.Column(idx[0]).(*array.String)
	}

	out := make([]verify.Descriptor, rec.NumRows())
	for i := range out {
		out[i] = verify.Descriptor{
			DType:     dtype.Value(i),
			Length:    int(length.Value(i)),
			Seed:      seed.Value(i),
			Tolerance: tol.Value(i),
		}
		if name != nil && name.IsValid(i) {
			out[i].Name = name.Value(i)
		}
	}
	return out, nil
}
