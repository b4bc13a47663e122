// Package persist owns the working table of harvested rows: it runs an
// ordered pipeline of named actions (dedupe, sort, gap detection, gap fill,
// trim, time formatting) and writes the result as fixed-size CSV chunk
// files.
package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arkalin/ccxt-plus/pkg/series"
)

// Common errors returned by the persister.
var (
	// ErrTooManyMissing is returned when the gap count exceeds the
	// configured ceiling; the table is left unmutated.
	ErrTooManyMissing = errors.New("exceeded max missing points")

	// ErrNoTimeframe is returned when a missing-time action runs without a
	// configured timeframe.
	ErrNoTimeframe = errors.New("missing timeframe, cannot compute missing times")
)

// Config holds persister configuration.
type Config struct {
	// DataPath is the output root directory.
	DataPath string

	// ChunkSize is the maximum row count per chunk file.
	ChunkSize int

	// MaxMissingPoints is the gap-count ceiling above which the table is
	// considered too sparse to interpolate.
	MaxMissingPoints int

	// FileExt is the chunk file extension without the dot.
	FileExt string
}

// DefaultConfig returns a safe default persister configuration.
func DefaultConfig() Config {
	return Config{
		DataPath:         "data",
		ChunkSize:        50000,
		MaxMissingPoints: 1000,
		FileExt:          "csv",
	}
}

// Saver accumulates rows for one labelled stream and persists them after
// running its configured action pipeline. It is not safe for concurrent use;
// one Saver serves one harvest job.
type Saver struct {
	labels    series.Labels
	actions   []string
	columns   []string
	timeIdx   int
	timeframe string
	cfg       Config
	workDir   string
	logger    zerolog.Logger

	rows []series.Row

	// missing is the cached sorted gap list, computed at most once per Save.
	missing      []int64
	missingReady bool
}

// actionTable is the static dispatch table from action name to behaviour.
// Unknown names are warned about at lookup time, never at build time.
var actionTable = map[string]func(*Saver) error{
	"sort":               (*Saver).sortAscending,
	"sort_descending":    (*Saver).sortDescending,
	"drop_duplicates":    (*Saver).dropDuplicates,
	"drop_last":          (*Saver).dropLast,
	"transfer_time":      (*Saver).transferTime,
	"save_missing_times": (*Saver).saveMissingTimes,
	"fix_integrity":      (*Saver).fixIntegrity,
}

// NewSaver creates a saver for one stream. The working directory
// <DataPath>/<label>/… is created immediately. The timeframe may be empty
// when no missing-time action is requested.
func NewSaver(labels series.Labels, actions, columns []string, timeIdx int, timeframe string, cfg Config) (*Saver, error) {
	if timeIdx < 0 || timeIdx >= len(columns) {
		return nil, fmt.Errorf("time column index %d out of range for %d columns", timeIdx, len(columns))
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.FileExt == "" {
		cfg.FileExt = DefaultConfig().FileExt
	}

	workDir := filepath.Join(append([]string{cfg.DataPath}, labels.Segments()...)...)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work folder %s: %w", workDir, err)
	}

	return &Saver{
		labels:    labels,
		actions:   actions,
		columns:   columns,
		timeIdx:   timeIdx,
		timeframe: timeframe,
		cfg:       cfg,
		workDir:   workDir,
		logger:    log.With().Str("component", "persist").Str("stream", labels.String()).Logger(),
	}, nil
}

// WorkDir returns the output directory for this stream.
func (s *Saver) WorkDir() string {
	return s.workDir
}

// Save appends rows to the working table, runs the configured actions in
// order and writes the chunk files. Any action's fatal condition aborts the
// whole save with nothing written.
func (s *Saver) Save(rows []series.Row) error {
	s.rows = append(s.rows, rows...)
	s.missing = nil
	s.missingReady = false

	for _, name := range s.actions {
		fn, ok := actionTable[name]
		if !ok {
			s.logger.Warn().Str("action", name).Msg("Cannot find action")
			continue
		}
		if err := fn(s); err != nil {
			return err
		}
	}

	return s.writeChunks()
}

// timeAt parses the epoch-millisecond time of one table row.
func (s *Saver) timeAt(i int) (int64, error) {
	ms, err := s.rows[i].Time(s.timeIdx)
	if err != nil {
		return 0, fmt.Errorf("row %d has unparseable time %q: %w", i, s.rows[i][s.timeIdx], err)
	}
	return ms, nil
}

// timeKeys parses the whole time column once.
func (s *Saver) timeKeys() ([]int64, error) {
	keys := make([]int64, len(s.rows))
	for i := range s.rows {
		ms, err := s.timeAt(i)
		if err != nil {
			return nil, err
		}
		keys[i] = ms
	}
	return keys, nil
}

// sortAscending stable-sorts the table by the time column, oldest first.
func (s *Saver) sortAscending() error {
	return s.sortByTime(false)
}

// sortDescending stable-sorts the table by the time column, newest first.
func (s *Saver) sortDescending() error {
	return s.sortByTime(true)
}

func (s *Saver) sortByTime(descending bool) error {
	keys, err := s.timeKeys()
	if err != nil {
		return err
	}
	indices := make([]int, len(s.rows))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		if descending {
			return keys[indices[a]] > keys[indices[b]]
		}
		return keys[indices[a]] < keys[indices[b]]
	})
	sorted := make([]series.Row, len(s.rows))
	for i, idx := range indices {
		sorted[i] = s.rows[idx]
	}
	s.rows = sorted
	return nil
}

// dropDuplicates removes rows with a repeated time value, keeping the first
// occurrence. Idempotent.
func (s *Saver) dropDuplicates() error {
	seen := make(map[int64]struct{}, len(s.rows))
	kept := s.rows[:0]
	for i := range s.rows {
		ms, err := s.timeAt(i)
		if err != nil {
			return err
		}
		if _, dup := seen[ms]; dup {
			continue
		}
		seen[ms] = struct{}{}
		kept = append(kept, s.rows[i])
	}
	s.rows = kept
	return nil
}

// dropLast removes the final row, discarding a possibly-incomplete trailing
// page.
func (s *Saver) dropLast() error {
	if len(s.rows) > 0 {
		s.rows = s.rows[:len(s.rows)-1]
	}
	return nil
}

// transferTime rewrites the time column from epoch-ms integers to
// human-readable UTC strings. Must run after every action that parses the
// time column; the shipped presets put it last.
func (s *Saver) transferTime() error {
	for i := range s.rows {
		ms, err := s.timeAt(i)
		if err != nil {
			return err
		}
		s.rows[i][s.timeIdx] = series.MillisToUTC(ms)
	}
	return nil
}

// timeValue formats an epoch-ms timestamp as a table cell.
func timeValue(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
