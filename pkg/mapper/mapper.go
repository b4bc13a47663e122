// Package mapper normalizes raw fetched pages into fixed-width rows and
// validates row widths against the declared column set.
//
// Mappers form a closed set of stateless values; validation is a pure
// function over mapper and rows, so concurrent harvests never share mutable
// validation state.
package mapper

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Arkalin/ccxt-plus/pkg/series"
)

// Common errors returned by mappers.
var (
	// ErrRowWidth is returned when a mapped row does not match the declared
	// column count. This is fatal and never retried.
	ErrRowWidth = errors.New("row width does not match declared columns")

	// ErrBadPayload is returned when a raw record has an unusable shape.
	ErrBadPayload = errors.New("unexpected raw payload shape")
)

// Mapper turns one page of raw records into normalized fixed-width rows and
// declares the resulting column layout.
type Mapper interface {
	// Columns returns the ordered output column names.
	Columns() []string

	// TimeColumnIndex returns the index of the epoch-millisecond time column.
	TimeColumnIndex() int

	// Map normalizes raw records into rows. It must not mutate its input.
	Map(raw []any) ([]series.Row, error)
}

// Validate checks every row's width against the mapper's declared columns.
func Validate(m Mapper, rows []series.Row) error {
	want := len(m.Columns())
	for i, row := range rows {
		if len(row) != want {
			return fmt.Errorf("%w: row %d has %d fields, want %d", ErrRowWidth, i, len(row), want)
		}
	}
	return nil
}

// MapValidated maps raw records and validates the result in one step.
func MapValidated(m Mapper, raw []any) ([]series.Row, error) {
	rows, err := m.Map(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(m, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// OHLCV maps kline-style array records, keeping the first five fields:
// time, open, high, low, close.
type OHLCV struct{}

func (OHLCV) Columns() []string    { return []string{"time", "open", "high", "low", "close"} }
func (OHLCV) TimeColumnIndex() int { return 0 }

func (OHLCV) Map(raw []any) ([]series.Row, error) {
	return mapArrayRecords(raw, 5)
}

// OHLCVVolume is OHLCV plus the base volume field.
type OHLCVVolume struct{}

func (OHLCVVolume) Columns() []string {
	return []string{"time", "open", "high", "low", "close", "volume"}
}
func (OHLCVVolume) TimeColumnIndex() int { return 0 }

func (OHLCVVolume) Map(raw []any) ([]series.Row, error) {
	return mapArrayRecords(raw, 6)
}

// FundingRate maps funding-rate history records shaped as objects with a
// nested info payload: {"info": {"fundingTime": ..., "fundingRate": ...}}.
type FundingRate struct{}

func (FundingRate) Columns() []string    { return []string{"time", "rate"} }
func (FundingRate) TimeColumnIndex() int { return 0 }

func (FundingRate) Map(raw []any) ([]series.Row, error) {
	rows := make([]series.Row, 0, len(raw))
	for i, rec := range raw {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d is not an object", ErrBadPayload, i)
		}
		info, ok := obj["info"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d missing info payload", ErrBadPayload, i)
		}
		rows = append(rows, series.Row{
			timeCell(info["fundingTime"]),
			cell(info["fundingRate"]),
		})
	}
	return rows, nil
}

// mapArrayRecords keeps the first width fields of each array-shaped record,
// formatting the first field as an integer timestamp.
func mapArrayRecords(raw []any, width int) ([]series.Row, error) {
	rows := make([]series.Row, 0, len(raw))
	for i, rec := range raw {
		arr, ok := rec.([]any)
		if !ok || len(arr) < width {
			return nil, fmt.Errorf("%w: record %d is not an array of at least %d fields", ErrBadPayload, i, width)
		}
		row := make(series.Row, width)
		row[0] = timeCell(arr[0])
		for j := 1; j < width; j++ {
			row[j] = cell(arr[j])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// timeCell formats a raw time value as an integer epoch-millisecond string.
func timeCell(v any) string {
	if ms, ok := series.RawTime([]any{v}, 0); ok {
		return strconv.FormatInt(ms, 10)
	}
	return cell(v)
}

// cell formats a raw scalar as its CSV cell representation.
func cell(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case bool:
		return strconv.FormatBool(n)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", n)
	}
}
