package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/23skdu/longbow-pow/internal/client"
	"github.com/23skdu/longbow-pow/internal/device"
	"github.com/23skdu/longbow-pow/internal/report"
	"github.com/23skdu/longbow-pow/internal/verify"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	backendName   = flag.String("backend", "cpu", "Execution backend (cpu, cuda, metal)")
	dtype         = flag.String("dtype", "float32", "Element type for a single case (float32, float64)")
	length        = flag.Int("length", -1, "Element count for a single case; negative runs the default table")
	seed          = flag.Uint64("seed", 1234, "Generator seed for a single case")
	tolerance     = flag.Float64("tolerance", 0, "Comparison tolerance for a single case (0 picks 1e-6 for float32, 1e-8 for float64)")
	caseList      = flag.String("cases", "", "Comma-separated cases as dtype:length:seed:tolerance")
	workers       = flag.Int("workers", 0, "Goroutines per launch (0 uses every CPU)")
	grain         = flag.Int("grain", 0, "Minimum elements per worker (0 uses the default)")
	parallel      = flag.Int("parallel", 1, "Cases run concurrently")
	reportPath    = flag.String("report", "", "Write an Arrow IPC report to this file ('-' for stdout)")
	serverAddr    = flag.String("server", "", "Flight server address to publish reports to (e.g., localhost:3000)")
	datasetName   = flag.String("dataset", "powcheck_reports", "Target dataset name on server")
	remoteAddr    = flag.String("remote", "", "Run cases on a remote powcheck Flight server instead of locally")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent = flag.String("max-concurrent", "64M", "Maximum elements verified at once by the servers (e.g. 64M, 1G)")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// parseCount reads an element count with an optional K, M or G suffix.
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	var val int64
	var unit string
	n, err := fmt.Sscanf(s, "%d%s", &val, &unit)
	if n == 0 {
		return 0, fmt.Errorf("invalid count %q: %w", s, err)
	}

	switch strings.ToUpper(unit) {
	case "":
		return val, nil
	case "G":
		return val * 1024 * 1024 * 1024, nil
	case "M":
		return val * 1024 * 1024, nil
	case "K":
		return val * 1024, nil
	default:
		return 0, fmt.Errorf("invalid count %q: unknown suffix %q", s, unit)
	}
}

// buildCases resolves the case table from flags: -cases, then a single
// -length case, then the default table.
func buildCases() ([]verify.Runner, error) {
	if *caseList != "" {
		var runners []verify.Runner
		for _, item := range strings.Split(*caseList, ",") {
			d, err := verify.ParseDescriptor(strings.TrimSpace(item))
			if err != nil {
				return nil, err
			}
			r, err := verify.NewRunner(d)
			if err != nil {
				return nil, err
			}
			runners = append(runners, r)
		}
		return runners, nil
	}

	if *length < 0 {
		return verify.DefaultCases(), nil
	}

	tol := *tolerance
	if tol == 0 {
		tol = 1e-8
		if et, err := device.ParseElementType(*dtype); err == nil && et == device.Float32 {
			tol = 1e-6
		}
	}
	r, err := verify.NewRunner(verify.Descriptor{DType: *dtype, Length: *length, Seed: *seed, Tolerance: tol})
	if err != nil {
		return nil, err
	}
	return []verify.Runner{r}, nil
}

func backendOptions() []device.Option {
	var opts []device.Option
	if *workers > 0 {
		opts = append(opts, device.WithWorkers(*workers))
	}
	if *grain > 0 {
		opts = append(opts, device.WithGrain(*grain))
	}
	return opts
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	// Registered first so it runs after every other deferred cleanup.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	backend, err := device.NewBackend(*backendName, backendOptions()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create backend")
	}
	log.Info().Str("backend", backend.Name()).Int("workers", backend.Workers()).Msg("Backend ready")

	var publisher *client.FlightClient
	if *serverAddr != "" {
		publisher, err = client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", *serverAddr).Str("dataset", *datasetName).Msg("Publishing reports to Flight server")
	}

	// Server Mode
	if *listenAddr != "" || *flightAddr != "" {
		admit, err := parseCount(*maxConcurrent)
		if err != nil || admit <= 0 {
			log.Fatal().Err(err).Str("max_concurrent", *maxConcurrent).Msg("Invalid admission limit")
		}
		log.Info().Str("max_concurrent", *maxConcurrent).Int64("elements", admit).Msg("Admission control")

		var pub ReportPublisher
		if publisher != nil {
			pub = publisher
		}
		if *listenAddr != "" {
			go startServer(*listenAddr, backend, pub, *datasetName, admit)
		}
		if *flightAddr != "" {
			StartFlightServer(*flightAddr, backend, admit)
			return
		}
		select {}
	}

	exitCode = run(context.Background(), backend, publisher)
}

// run executes the case table and returns the process exit code: 0 when
// every case passed, 1 on a numeric mismatch, 2 on invalid input. Device
// faults terminate through device.Check.
func run(ctx context.Context, backend device.Backend, publisher *client.FlightClient) int {
	cases, err := buildCases()
	if err != nil {
		log.Error().Err(err).Msg("Invalid case")
		return 2
	}

	var res verify.Results
	if *remoteAddr != "" {
		res, err = runRemote(ctx, *remoteAddr, cases)
		if err != nil {
			log.Error().Err(err).Str("remote", *remoteAddr).Msg("Remote verification failed")
			return 2
		}
	} else {
		suite := verify.Suite{
			Backend:  backend,
			Cases:    cases,
			Parallel: *parallel,
			OnFault:  device.Check,
		}
		res, err = suite.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Suite interrupted")
			return 2
		}
	}

	printSummary(os.Stderr, res)

	if *reportPath != "" {
		if err := writeReport(*reportPath, res.Summaries); err != nil {
			log.Warn().Err(err).Msg("Failed to write report")
		}
	}

	if publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		if err := publisher.Publish(pctx, *datasetName, res.Summaries); err != nil {
			log.Warn().Err(err).Msg("Flight DoPut failed")
		} else {
			log.Info().Int("count", len(res.Summaries)).Msg("Successfully sent report")
		}
	}

	switch {
	case res.OK():
		return 0
	case res.Faulted > 0:
		return 2
	default:
		return 1
	}
}

func runRemote(ctx context.Context, addr string, cases []verify.Runner) (verify.Results, error) {
	fc, err := client.NewFlightClient(addr)
	if err != nil {
		return verify.Results{}, err
	}
	defer fc.Close()

	descs := make([]verify.Descriptor, len(cases))
	for i, c := range cases {
		descs[i] = c.Describe()
	}

	start := time.Now()
	sums, err := fc.Submit(ctx, descs)
	if err != nil {
		return verify.Results{}, err
	}
	res := verify.Results{Summaries: sums, Elapsed: time.Since(start)}
	for _, s := range sums {
		switch {
		case s.Error != "":
			res.Faulted++
		case s.Pass:
			res.Passed++
		default:
			res.Failed++
		}
	}
	return res, nil
}

func printSummary(w io.Writer, res verify.Results) {
	p := message.NewPrinter(language.English)
	for _, s := range res.Summaries {
		status := "PASS"
		switch {
		case s.Error != "":
			status = "FAULT"
		case !s.Pass:
			status = "FAIL"
		}
		p.Fprintf(w, "%-5s %-24s %8s %12d elements  seed=%d  tol=%g  max_abs_err=%g\n",
			status, s.Name, s.DType, s.Length, s.Seed, s.Tolerance, s.MaxAbsErr)
		switch {
		case s.Error != "":
			p.Fprintf(w, "      stage %s: %s\n", s.Stage, s.Error)
		case !s.Pass:
			p.Fprintf(w, "      first mismatch at %d: expected %g, actual %g (in place: %d)\n",
				s.Index, s.Expected, s.Actual, s.InPlaceIndex)
		}
	}
	p.Fprintf(w, "%d passed, %d failed, %d faulted in %v\n", res.Passed, res.Failed, res.Faulted, res.Elapsed.Round(time.Millisecond))
}

func writeReport(path string, summaries []verify.Summary) error {
	rec := report.Build(nil, summaries)
	defer rec.Release()

	if path == "-" {
		return report.WriteIPC(os.Stdout, rec)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteIPC(f, rec); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("powcheck"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
