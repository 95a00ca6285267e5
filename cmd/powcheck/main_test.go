package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-pow/internal/verify"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"4K", 4 << 10},
		{"64M", 64 << 20},
		{"1g", 1 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseCount("lots")
	assert.Error(t, err)
	_, err = parseCount("5T")
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	res := verify.Results{
		Summaries: []verify.Summary{
			{Descriptor: verify.Descriptor{Name: "ok", DType: "float32", Length: 1048576, Seed: 1234, Tolerance: 1e-6}, Pass: true, Stage: "verdict", Index: -1, InPlaceIndex: -1},
			{Descriptor: verify.Descriptor{Name: "bad", DType: "float64", Length: 10, Seed: 1, Tolerance: 1e-8}, Stage: "verdict", Index: 9, Expected: 2.5, InPlaceIndex: 9},
			{Descriptor: verify.Descriptor{Name: "broken", DType: "float64", Length: 10, Tolerance: 1e-8}, Stage: "compute_actual", Index: -1, InPlaceIndex: -1, Error: "device fault"},
		},
		Passed:  1,
		Failed:  1,
		Faulted: 1,
		Elapsed: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	printSummary(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "1,048,576")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "first mismatch at 9")
	assert.Contains(t, out, "FAULT")
	assert.Contains(t, out, "stage compute_actual: device fault")
	assert.Contains(t, out, "1 passed, 1 failed, 1 faulted")
}
