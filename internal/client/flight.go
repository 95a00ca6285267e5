// Package client talks to remote Arrow Flight endpoints: it publishes
// verification reports to a dataset and submits cases to a remote powcheck
// server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-pow/internal/report"
	"github.com/23skdu/longbow-pow/internal/verify"
)

const (
	defaultMaxFailures = 3
	defaultCooldown    = 30 * time.Second
)

// FlightClient publishes report batches over Apache Flight. Calls go
// through a circuit breaker so an unreachable server fails fast.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
	alloc   memory.Allocator
}

// NewFlightClient creates a client for addr. The connection is established
// lazily on first use.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	return &FlightClient{
		client:  flight.NewClientFromConn(conn, nil),
		conn:    conn,
		breaker: NewCircuitBreaker(defaultMaxFailures, defaultCooldown),
		alloc:   memory.NewGoAllocator(),
	}, nil
}

// Breaker exposes the client's circuit breaker.
func (c *FlightClient) Breaker() *CircuitBreaker {
	return c.breaker
}

// Publish sends summaries to datasetName as one report batch.
func (c *FlightClient) Publish(ctx context.Context, datasetName string, summaries []verify.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	rec := report.Build(c.alloc, summaries)
	defer rec.Release()

	if err := c.DoPut(ctx, datasetName, rec); err != nil {
		return err
	}
	log.Debug().Str("dataset", datasetName).Int("rows", len(summaries)).Msg("Published report")
	return nil
}

// DoPut sends a RecordBatch to the given dataset and waits for the server
// to acknowledge it.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	return c.breaker.Execute(func() error {
		_, err := c.put(ctx, datasetName, record)
		return err
	})
}

// Submit runs cases on a remote powcheck Flight server and returns the
// summaries it reports back.
func (c *FlightClient) Submit(ctx context.Context, descs []verify.Descriptor) ([]verify.Summary, error) {
	if len(descs) == 0 {
		return nil, nil
	}
	rec := report.BuildCases(c.alloc, descs)
	defer rec.Release()

	var out []verify.Summary
	err := c.breaker.Execute(func() error {
		acks, err := c.put(ctx, "powcheck", rec)
		if err != nil {
			return err
		}
		for _, meta := range acks {
			var batch []verify.Summary
			if err := cbor.Unmarshal(meta, &batch); err != nil {
				return fmt.Errorf("client: decode results: %w", err)
			}
			out = append(out, batch...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// put streams one record batch and collects the app metadata of every
// PutResult the server sends back.
func (c *FlightClient) put(ctx context.Context, datasetName string, record arrow.RecordBatch) ([][]byte, error) {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: open put stream: %w", err)
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	})
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("client: write batch: %w", statusOf(stream, err))
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("client: close writer: %w", statusOf(stream, err))
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("client: close send: %w", statusOf(stream, err))
	}

	var acks [][]byte
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return acks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("client: put %s: %w", datasetName, err)
		}
		if len(res.GetAppMetadata()) > 0 {
			acks = append(acks, res.GetAppMetadata())
		}
	}
}

type putResultReceiver interface {
	Recv() (*flight.PutResult, error)
}

// statusOf returns the server's status after a failed send. When the
// server has already finished the call, gRPC only reports why on receive.
func statusOf(stream putResultReceiver, sendErr error) error {
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return sendErr
			}
			return err
		}
	}
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
