//go:build ignore

// Smoke test for a running powcheck Flight server:
//
//	go run scripts/verify_flight.go localhost:9090
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-pow/internal/client"
	"github.com/23skdu/longbow-pow/internal/verify"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to powcheck Flight Server")

	c, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	var descs []verify.Descriptor
	for _, r := range verify.DefaultCases() {
		descs = append(descs, r.Describe())
	}

	// The server may still be starting; the breaker stays closed for the
	// first few failures.
	var summaries []verify.Summary
	start := time.Now()
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		summaries, err = c.Submit(ctx, descs)
		cancel()
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Submit failed, retrying...")
		c.Breaker().Success()
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Submit failed after retries")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Received summaries")

	if len(summaries) != len(descs) {
		log.Fatal().Int("expected", len(descs)).Int("got", len(summaries)).Msg("Count mismatch")
	}
	for _, s := range summaries {
		if !s.Pass {
			log.Fatal().Str("case", s.Name).Int("index", s.Index).Str("error", s.Error).Msg("Case failed")
		}
		log.Info().Str("case", s.Name).Float64("max_abs_err", s.MaxAbsErr).Msg("Case passed")
	}

	fmt.Println("VERIFICATION PASSED")
}
