// Package series defines the shared leaf types for harvested time-series
// data: rows, fetch flags, the remote fetch contract and the helpers for
// timestamp and timeframe handling.
package series

import (
	"context"
	"encoding/json"
	"strconv"
)

// Flag indicates whether a remote fetch succeeded.
type Flag int

const (
	// FlagNormal marks a successful fetch.
	FlagNormal Flag = iota

	// FlagError marks a failed fetch. Failed pages are retried by the
	// engine, never surfaced directly.
	FlagError
)

// String returns a human-readable flag name.
func (f Flag) String() string {
	switch f {
	case FlagNormal:
		return "normal"
	case FlagError:
		return "error"
	default:
		return "unknown"
	}
}

// FetchFunc is the remote fetch collaborator: it returns one page of raw
// records starting at the given epoch-millisecond timestamp. The records stay
// opaque until a mapper normalizes them. Implementations own pagination,
// auth and proxy concerns and must be safe for concurrent use.
type FetchFunc func(ctx context.Context, since int64) ([]any, Flag)

// Row is one fixed-width record. Every cell is a string; the designated time
// column holds an epoch-millisecond integer until the transfer_time action
// rewrites it to a UTC datetime string.
type Row []string

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Time parses the epoch-millisecond value of the time column.
func (r Row) Time(idx int) (int64, error) {
	if idx < 0 || idx >= len(r) {
		return 0, strconv.ErrRange
	}
	return strconv.ParseInt(r[idx], 10, 64)
}

// RawTime extracts the epoch-millisecond time column from a raw record.
// Raw pages decoded from JSON carry numbers as float64; already-mapped rows
// carry them as strings. Returns false when the record shape is unusable.
func RawTime(rec any, idx int) (int64, bool) {
	switch v := rec.(type) {
	case Row:
		ms, err := v.Time(idx)
		return ms, err == nil
	case []string:
		ms, err := Row(v).Time(idx)
		return ms, err == nil
	case []any:
		if idx < 0 || idx >= len(v) {
			return 0, false
		}
		return numericValue(v[idx])
	default:
		return 0, false
	}
}

func numericValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		ms, err := n.Int64()
		return ms, err == nil
	case string:
		ms, err := strconv.ParseInt(n, 10, 64)
		return ms, err == nil
	default:
		return 0, false
	}
}
