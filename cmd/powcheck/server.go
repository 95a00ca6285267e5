package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-pow/internal/device"
	"github.com/23skdu/longbow-pow/internal/verify"
)

var (
	casesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powcheck_server_cases_total",
		Help: "The total number of cases verified for HTTP and Flight requests",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "powcheck_request_duration_seconds",
		Help:    "Time spent processing verify requests",
		Buckets: prometheus.DefBuckets,
	})
)

// ReportPublisher forwards summaries to a remote dataset.
type ReportPublisher interface {
	Publish(ctx context.Context, datasetName string, summaries []verify.Summary) error
}

type Server struct {
	verifier    *verifier
	publisher   ReportPublisher
	datasetName string
}

func NewServer(backend device.Backend, pub ReportPublisher, dataset string, maxElements int64) *Server {
	return &Server{
		verifier:    newVerifier(backend, maxElements),
		publisher:   pub,
		datasetName: dataset,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, backend device.Backend, pub ReportPublisher, dataset string, maxElements int64) {
	srv := NewServer(backend, pub, dataset, maxElements)

	log.Info().Str("addr", addr).Msg("Starting powcheck HTTP Server")
	if pub != nil {
		log.Info().Str("dataset", dataset).Msg("Forwarding reports to Flight server")
	}

	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("powcheck-server")

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleVerify")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var descs []verify.Descriptor
	decoder := cbor.NewDecoder(r.Body)
	if err := decoder.Decode(&descs); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.Int("case_count", len(descs)))

	summaries := []verify.Summary{}
	if len(descs) > 0 {
		var err error
		summaries, err = s.verifier.run(ctx, descs)
		if err != nil {
			span.RecordError(err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		casesServed.Add(float64(len(summaries)))
	}

	if s.publisher != nil && len(summaries) > 0 {
		if err := s.publisher.Publish(ctx, s.datasetName, summaries); err != nil {
			log.Error().Err(err).Msg("Error forwarding report")
		}
	}

	body, err := cbor.Marshal(summaries)
	if err != nil {
		http.Error(w, fmt.Sprintf("CBOR encode: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, verify.ErrInvalidCase):
		return http.StatusBadRequest
	case errors.Is(err, errBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
