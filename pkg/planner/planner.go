// Package planner probes the remote source to learn its natural page
// granularity and derives a concurrency plan for the fetch engine.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arkalin/ccxt-plus/pkg/mapper"
	"github.com/Arkalin/ccxt-plus/pkg/series"
)

// ErrTaskInit is returned when no plan could be built: the probe attempts
// were exhausted or the probe page was degenerate.
var ErrTaskInit = errors.New("task initialization failed")

// Plan is the output of a successful probe: the ordered page-start
// timestamps and the worker pool sizes for the fetch engine.
type Plan struct {
	// Timestamps are the page-start times, ascending, stepped by the page
	// delta learned from the probe.
	Timestamps []int64

	// RemoteWorkers is the network-facing pool size.
	RemoteWorkers int

	// LocalWorkers is the classification pool size.
	LocalWorkers int
}

// Config holds planner configuration.
type Config struct {
	// MaxAttempts is the number of probe attempts before failing.
	MaxAttempts int

	// ProbeDelay is the wait between failed probe attempts.
	ProbeDelay time.Duration

	// LocalRatio divides the thread budget to size the local pool.
	LocalRatio int
}

// DefaultConfig returns a safe default planner configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		ProbeDelay:  1 * time.Second,
		LocalRatio:  4,
	}
}

// Planner builds fetch plans by probing the remote source.
type Planner struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a planner. Zero or negative config fields fall back to
// defaults.
func New(cfg Config) *Planner {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ProbeDelay <= 0 {
		cfg.ProbeDelay = def.ProbeDelay
	}
	if cfg.LocalRatio <= 0 {
		cfg.LocalRatio = def.LocalRatio
	}
	return &Planner{
		cfg:    cfg,
		logger: log.With().Str("component", "planner").Logger(),
	}
}

// Build probes the source at since until it gets a non-empty NORMAL page,
// derives the page delta from that page's first and last row times, and
// generates the page-start sequence covering [since, until). When a mapper
// is given the probe page is normalized before reading its timestamps,
// mirroring what the engine's consumers will see.
func (p *Planner) Build(ctx context.Context, since, until int64, budget int, probe series.FetchFunc, m mapper.Mapper) (*Plan, error) {
	if budget < 1 {
		budget = 1
	}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		raw, flag := probe(ctx, since)
		if flag == series.FlagNormal && len(raw) > 0 {
			first, last, err := p.pageBounds(raw, m)
			if err != nil {
				return nil, err
			}
			delta := first - last
			if delta < 0 {
				delta = -delta
			}
			if delta == 0 {
				// A single-row probe page would produce a zero step and an
				// unbounded timestamp sequence.
				return nil, fmt.Errorf("%w: probe page at %d has zero time delta", ErrTaskInit, since)
			}

			// The sequence is empty when the probe page starts at or past
			// until (the source's history begins after the requested
			// window); the engine treats an empty plan as nothing to do.
			start := first
			var timestamps []int64
			for ts := start; ts < until; ts += delta {
				timestamps = append(timestamps, ts)
			}

			plan := &Plan{
				Timestamps:    timestamps,
				RemoteWorkers: budget,
				LocalWorkers:  max(1, budget/p.cfg.LocalRatio),
			}
			p.logger.Info().
				Int64("start", start).
				Int64("until", until).
				Int64("delta", delta).
				Int("pages", len(timestamps)).
				Int("remote_workers", plan.RemoteWorkers).
				Int("local_workers", plan.LocalWorkers).
				Msg("Plan built")
			return plan, nil
		}

		p.logger.Debug().
			Int("attempt", attempt).
			Int("max_attempts", p.cfg.MaxAttempts).
			Stringer("flag", flag).
			Msg("Probe attempt failed")

		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTaskInit, ctx.Err())
		case <-time.After(p.cfg.ProbeDelay):
		}
	}

	return nil, fmt.Errorf("%w: %d probe attempts exhausted", ErrTaskInit, p.cfg.MaxAttempts)
}

// pageBounds returns the first and last row times of a probe page.
func (p *Planner) pageBounds(raw []any, m mapper.Mapper) (first, last int64, err error) {
	timeIdx := 0
	records := raw
	if m != nil {
		rows, err := mapper.MapValidated(m, raw)
		if err != nil {
			return 0, 0, err
		}
		records = make([]any, len(rows))
		for i, r := range rows {
			records[i] = r
		}
		timeIdx = m.TimeColumnIndex()
	}
	if len(records) == 0 {
		return 0, 0, fmt.Errorf("%w: probe page mapped to zero rows", ErrTaskInit)
	}

	first, ok := series.RawTime(records[0], timeIdx)
	if !ok {
		return 0, 0, fmt.Errorf("%w: cannot read time column of probe page", ErrTaskInit)
	}
	last, ok = series.RawTime(records[len(records)-1], timeIdx)
	if !ok {
		return 0, 0, fmt.Errorf("%w: cannot read time column of probe page", ErrTaskInit)
	}
	return first, last, nil
}
