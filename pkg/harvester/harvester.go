// Package harvester wires the planner, the fetch engine, the mapper and the
// persister into complete harvest jobs: one job downloads the full history
// of one labelled stream and persists it as chunked CSV files.
package harvester

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arkalin/ccxt-plus/pkg/config"
	"github.com/Arkalin/ccxt-plus/pkg/engine"
	"github.com/Arkalin/ccxt-plus/pkg/mapper"
	"github.com/Arkalin/ccxt-plus/pkg/pagecache"
	"github.com/Arkalin/ccxt-plus/pkg/persist"
	"github.com/Arkalin/ccxt-plus/pkg/planner"
	"github.com/Arkalin/ccxt-plus/pkg/series"
)

// Action presets. The default pipeline reconstructs a complete time axis;
// the no-gap-fill variant only orders and trims, for data whose cadence is
// irregular by nature (funding rates).
var (
	ActionsDefault = []string{
		"drop_duplicates",
		"sort",
		"save_missing_times",
		"fix_integrity",
		"drop_last",
		"transfer_time",
	}

	ActionsNoGapFill = []string{
		"drop_duplicates",
		"sort",
		"drop_last",
		"transfer_time",
	}
)

// Job describes one stream to harvest.
type Job struct {
	// Labels is the stream's hierarchical label path; it becomes the
	// output directory.
	Labels series.Labels

	// Fetch is the remote fetch collaborator for this stream.
	Fetch series.FetchFunc

	// Mapper normalizes raw pages into fixed-width rows.
	Mapper mapper.Mapper

	// Timeframe is the expected cadence, e.g. "1m". Required when the
	// action list contains a missing-time action.
	Timeframe string

	// Since and Until bound the window in epoch milliseconds. Zero Since
	// uses the configured default; zero Until means now.
	Since int64
	Until int64

	// Threads overrides the configured thread budget when positive.
	Threads int

	// Actions overrides ActionsDefault when non-nil.
	Actions []string
}

// Harvester runs harvest jobs. Safe for concurrent use; each job keeps its
// own table state.
type Harvester struct {
	planner  *planner.Planner
	engine   *engine.Engine
	saverCfg persist.Config
	cache    *pagecache.Cache
	threads  int
	since    int64
	logger   zerolog.Logger
}

// New creates a harvester from the loaded configuration. The page cache may
// be nil, disabling cached fetches.
func New(cfg *config.Config, cache *pagecache.Cache) *Harvester {
	return &Harvester{
		planner: planner.New(planner.Config{
			MaxAttempts: cfg.MaxAttemptTimes,
			ProbeDelay:  1 * time.Second,
			LocalRatio:  cfg.LocalThreadsRatio,
		}),
		engine: engine.New(engine.Config{MaxAttempts: cfg.MaxAttemptTimes}),
		saverCfg: persist.Config{
			DataPath:         cfg.DataPath,
			ChunkSize:        cfg.CSVChunkSize,
			MaxMissingPoints: cfg.AllowMaxMissingTimestamps,
		},
		cache:   cache,
		threads: cfg.GlobalThreads,
		since:   cfg.DefaultSinceTime,
		logger:  log.With().Str("component", "harvester").Logger(),
	}
}

// Run executes one job end to end: plan, fetch, map, persist. Any fatal
// condition aborts the job with nothing written; accumulated in-memory data
// is discarded, never partially flushed.
func (h *Harvester) Run(ctx context.Context, job Job) error {
	if job.Fetch == nil {
		return fmt.Errorf("job %s: fetch collaborator is required", job.Labels)
	}
	if job.Mapper == nil {
		return fmt.Errorf("job %s: mapper is required", job.Labels)
	}

	since := job.Since
	if since == 0 {
		since = h.since
	}
	until := job.Until
	if until == 0 {
		until = time.Now().UnixMilli()
	}
	threads := job.Threads
	if threads <= 0 {
		threads = h.threads
	}
	actions := job.Actions
	if actions == nil {
		actions = ActionsDefault
	}

	logger := h.logger.With().Str("stream", job.Labels.String()).Logger()
	logger.Info().Int64("since", since).Int64("until", until).Msg("Task started")

	fetch := pagecache.WrapFetch(h.cache, job.Labels, job.Fetch)

	plan, err := h.planner.Build(ctx, since, until, threads, fetch, job.Mapper)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Labels, err)
	}

	raw, err := h.engine.Complete(ctx, plan, fetch)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Labels, err)
	}

	rows, err := mapper.MapValidated(job.Mapper, raw)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Labels, err)
	}

	saver, err := persist.NewSaver(job.Labels, actions, job.Mapper.Columns(),
		job.Mapper.TimeColumnIndex(), job.Timeframe, h.saverCfg)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Labels, err)
	}
	if err := saver.Save(rows); err != nil {
		return fmt.Errorf("job %s: %w", job.Labels, err)
	}

	logger.Info().Int("rows", len(rows)).Msg("Task completed")
	return nil
}
