package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-pow/internal/report"
	"github.com/23skdu/longbow-pow/internal/verify"
)

type mockFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	paths    []string
	received []verify.Summary
}

func (s *mockFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		s.mu.Lock()
		if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
			s.paths = append(s.paths, desc.Path[0])
		}
		s.mu.Unlock()

		if rec.Schema().Equal(report.Schema) {
			sums, err := report.Summaries(rec)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.received = append(s.received, sums...)
			s.mu.Unlock()
			continue
		}

		descs, err := report.DecodeCases(rec)
		if err != nil {
			return err
		}
		out := make([]verify.Summary, len(descs))
		for i, d := range descs {
			out[i] = verify.Summary{Descriptor: d, Pass: true, Stage: "verdict", Index: -1, InPlaceIndex: -1}
		}
		meta, err := cbor.Marshal(out)
		if err != nil {
			return err
		}
		if err := stream.Send(&flight.PutResult{AppMetadata: meta}); err != nil {
			return err
		}
	}
	return reader.Err()
}

func startMockServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	mock := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mock)
	require.NoError(t, server.Init("localhost:0"))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return mock, server.Addr().String()
}

func TestFlightClient_Publish(t *testing.T) {
	mock, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sums := []verify.Summary{
		{Descriptor: verify.Descriptor{Name: "a", DType: "float32", Length: 4, Seed: 1, Tolerance: 1e-6}, Pass: true, Stage: "verdict", Index: -1, InPlaceIndex: -1},
		{Descriptor: verify.Descriptor{Name: "b", DType: "float64", Length: 4, Seed: 2, Tolerance: 1e-8}, Stage: "verdict", Index: 3, Expected: 1, Actual: 0, MaxAbsErr: 1, InPlaceIndex: 3},
	}
	require.NoError(t, client.Publish(ctx, "test-dataset", sums))
	require.NoError(t, client.Publish(ctx, "test-dataset", nil))

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, sums, mock.received)
	assert.Equal(t, []string{"test-dataset"}, mock.paths)
	assert.Equal(t, StateClosed, client.Breaker().State())
}

func TestFlightClient_Submit(t *testing.T) {
	_, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	descs := []verify.Descriptor{
		{Name: "one", DType: "float32", Length: 16, Seed: 1, Tolerance: 1e-6},
		{Name: "two", DType: "float64", Length: 16, Seed: 2, Tolerance: 1e-8},
	}
	got, err := client.Submit(ctx, descs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, descs[0], got[0].Descriptor)
	assert.Equal(t, descs[1], got[1].Descriptor)
	assert.True(t, got[0].Pass)
}

func TestFlightClient_BreakerOpens(t *testing.T) {
	client, err := NewFlightClient("localhost:1")
	require.NoError(t, err)
	defer client.Close()

	sums := []verify.Summary{{Descriptor: verify.Descriptor{Name: "x", DType: "float32"}, Index: -1, InPlaceIndex: -1}}
	for i := 0; i < defaultMaxFailures; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Publish(ctx, "unreachable", sums)
		cancel()
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, client.Breaker().State())

	err = client.Publish(context.Background(), "unreachable", sums)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
