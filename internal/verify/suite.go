package verify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-pow/internal/device"
)

// Suite runs a table of cases. Each case gets its own context over
// Backend, so nothing is shared between cases but the buffer pools.
type Suite struct {
	Backend device.Backend
	Cases   []Runner

	// Parallel bounds how many cases run at once. Zero or less runs them
	// one at a time.
	Parallel int

	// OnFault, when set, is called with the first device fault as soon as
	// it is observed. Cases not yet finished are cancelled either way.
	OnFault func(error)
}

// Results aggregates the summaries of a suite run, in case order.
type Results struct {
	Summaries []Summary
	Passed    int
	Failed    int
	Faulted   int
	Elapsed   time.Duration

	// Err joins the errors of every case that did not reach a verdict.
	Err error
}

// OK reports whether every case passed.
func (r Results) OK() bool {
	return r.Failed == 0 && r.Faulted == 0
}

// Run executes every case and collects their summaries. A numeric mismatch
// or an invalid case does not stop the others; a device fault cancels every
// case that has not finished. Run only returns an error when ctx is done.
func (s Suite) Run(ctx context.Context) (Results, error) {
	start := time.Now()
	summaries := make([]Summary, len(s.Cases))
	errs := make([]error, len(s.Cases))

	limit := s.Parallel
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var faultOnce sync.Once
	for i, c := range s.Cases {
		g.Go(func() error {
			summaries[i], errs[i] = c.Execute(gctx, s.Backend)
			if device.IsFault(errs[i]) {
				faultOnce.Do(func() {
					if s.OnFault != nil {
						s.OnFault(errs[i])
					}
				})
				return errs[i]
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Results{Summaries: summaries, Elapsed: time.Since(start), Err: errors.Join(errs...)}
	for i, sum := range summaries {
		switch {
		case errs[i] != nil:
			res.Faulted++
		case sum.Pass:
			res.Passed++
		default:
			res.Failed++
		}
	}

	log.Info().
		Int("cases", len(s.Cases)).
		Int("passed", res.Passed).
		Int("failed", res.Failed).
		Int("faulted", res.Faulted).
		Dur("elapsed", res.Elapsed).
		Msg("Suite complete")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
