package main

import (
	"errors"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-pow/internal/device"
	"github.com/23skdu/longbow-pow/internal/report"
	"github.com/23skdu/longbow-pow/internal/verify"
)

// PowcheckFlightServer runs case batches received through DoPut. Each batch
// is acknowledged with a PutResult whose metadata is the CBOR-encoded list
// of summaries.
type PowcheckFlightServer struct {
	flight.BaseFlightServer
	verifier *verifier
	alloc    memory.Allocator
}

func NewPowcheckFlightServer(backend device.Backend, maxElements int64) *PowcheckFlightServer {
	return &PowcheckFlightServer{
		verifier: newVerifier(backend, maxElements),
		alloc:    memory.NewGoAllocator(),
	}
}

func (s *PowcheckFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	ctx := stream.Context()
	for reader.Next() {
		rec := reader.Record()
		log.Info().Int64("rows", rec.NumRows()).Msg("DoPut received batch")

		descs, err := report.DecodeCases(rec)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		summaries, err := s.verifier.run(ctx, descs)
		if err != nil {
			return status.Error(grpcCode(err), err.Error())
		}
		casesServed.Add(float64(len(summaries)))

		meta, err := cbor.Marshal(summaries)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(&flight.PutResult{AppMetadata: meta}); err != nil {
			return err
		}
	}
	return reader.Err()
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, verify.ErrInvalidCase):
		return codes.InvalidArgument
	case errors.Is(err, errBatchTooLarge):
		return codes.ResourceExhausted
	case errors.Is(err, errBusy):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func StartFlightServer(addr string, backend device.Backend, maxElements int64) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewPowcheckFlightServer(backend, maxElements))

	// Init handles the listener creation internally
	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting powcheck Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
