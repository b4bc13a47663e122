// Package engine executes a fetch plan with two worker pools: remote workers
// fetch pages from the network, local workers classify the results, retrying
// failed pages up to a bound and accumulating successful rows.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arkalin/ccxt-plus/pkg/planner"
	"github.com/Arkalin/ccxt-plus/pkg/series"
)

// Prometheus metrics for fetch engine operations.
var (
	fetchAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_fetch_attempts_total",
		Help: "Total remote fetch attempts including retries",
	})

	fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_fetch_retries_total",
		Help: "Total pages re-enqueued after a failed fetch",
	})

	fetchExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_fetch_exhausted_total",
		Help: "Total pages that exceeded the retry bound",
	})

	rowsAccumulatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rows_accumulated_total",
		Help: "Total raw records accumulated from successful pages",
	})
)

// ErrRetryExhausted is returned when any page exceeds the retry bound.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// Config holds engine configuration.
type Config struct {
	// MaxAttempts is the per-page retry bound. A page that still fails
	// after MaxAttempts+1 fetches aborts the run.
	MaxAttempts int
}

// DefaultConfig returns a safe default engine configuration.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3}
}

// Engine is the concurrent fetch engine. It is stateless between runs; all
// per-run state lives inside Complete.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Engine{
		cfg:    cfg,
		logger: log.With().Str("component", "engine").Logger(),
	}
}

// unit is one page of remote work: a page-start timestamp plus the number of
// fetch attempts already made for it.
type unit struct {
	ts      int64
	attempt int
}

// result is the outcome of one fetch attempt awaiting classification.
type result struct {
	ts      int64
	data    []any
	flag    series.Flag
	attempt int
}

// Complete executes the plan and returns the accumulated raw records in
// completion order (no timestamp ordering; the persister re-establishes
// order). It blocks until every seeded unit has been acknowledged and both
// pools have been joined. If any unit exceeds the retry bound the engine
// still drains in-flight work, then fails with ErrRetryExhausted carrying
// the first failure recorded.
func (e *Engine) Complete(ctx context.Context, plan *planner.Plan, fetch series.FetchFunc) ([]any, error) {
	n := len(plan.Timestamps)
	if n == 0 {
		return nil, nil
	}

	// A unit lives in exactly one place at a time (remote queue, a worker, or
	// the local queue), so buffers of n guarantee every enqueue is
	// non-blocking and the two pools can never deadlock on each other.
	remote := make(chan unit, n)
	local := make(chan result, n)

	// pending counts live units, not queue lengths: a retry re-enqueues a
	// unit the queue momentarily no longer holds, so an emptiness check
	// would race. The count moves only when a unit's data is accumulated or
	// the unit is abandoned during a failure drain.
	var pending sync.WaitGroup

	var stop atomic.Bool
	var failOnce sync.Once
	var failure error

	fail := func(err error) {
		failOnce.Do(func() { failure = err })
		stop.Store(true)
	}

	var mu sync.Mutex
	var accumulated []any

	for _, ts := range plan.Timestamps {
		pending.Add(1)
		remote <- unit{ts: ts, attempt: 0}
	}

	var remoteWG sync.WaitGroup
	for i := 0; i < plan.RemoteWorkers; i++ {
		remoteWG.Add(1)
		go func() {
			defer remoteWG.Done()
			for u := range remote {
				if !stop.Load() && ctx.Err() != nil {
					fail(fmt.Errorf("fetch cancelled: %w", ctx.Err()))
				}
				if stop.Load() {
					// Drain without dispatching; the unit is acknowledged so
					// the pending count still reaches zero.
					pending.Done()
					continue
				}
				if u.attempt > e.cfg.MaxAttempts {
					// The bound is exceeded before another fetch is issued;
					// the unit is abandoned rather than given a parting
					// attempt.
					fetchExhaustedTotal.Inc()
					fail(fmt.Errorf("%w: exceeded max attempts (%d) for timestamp (%d)",
						ErrRetryExhausted, u.attempt-1, u.ts))
					pending.Done()
					continue
				}
				data, flag := fetch(ctx, u.ts)
				fetchAttemptsTotal.Inc()
				local <- result{ts: u.ts, data: data, flag: flag, attempt: u.attempt + 1}
			}
		}()
	}

	var localWG sync.WaitGroup
	for i := 0; i < plan.LocalWorkers; i++ {
		localWG.Add(1)
		go func() {
			defer localWG.Done()
			for r := range local {
				switch {
				case r.flag == series.FlagNormal:
					if len(r.data) > 0 {
						mu.Lock()
						accumulated = append(accumulated, r.data...)
						mu.Unlock()
						rowsAccumulatedTotal.Add(float64(len(r.data)))
					}
					pending.Done()
				case stop.Load():
					// No new dispatches once a stop has been observed.
					pending.Done()
				default:
					fetchRetriesTotal.Inc()
					remote <- unit{ts: r.ts, attempt: r.attempt}
				}
			}
		}()
	}

	// Drain, then shut the pools down in dependency order: remote workers
	// feed the local queue, so the remote pool must be closed and joined
	// first.
	pending.Wait()
	close(remote)
	remoteWG.Wait()
	close(local)
	localWG.Wait()

	if failure != nil {
		e.logger.Error().Err(failure).Int("pages", n).Msg("Fetch aborted after drain")
		return nil, failure
	}

	e.logger.Info().
		Int("pages", n).
		Int("records", len(accumulated)).
		Msg("Fetch complete")
	return accumulated, nil
}
