package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Arkalin/ccxt-plus/pkg/mapper"
	"github.com/Arkalin/ccxt-plus/pkg/series"
)

func testConfig() Config {
	return Config{MaxAttempts: 3, ProbeDelay: time.Millisecond, LocalRatio: 4}
}

// page builds a kline-shaped probe page starting at start with n rows.
func page(start, step int64, n int) []any {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = []any{float64(start + int64(i)*step), 1.0, 2.0, 0.5, 1.5}
	}
	return out
}

func TestBuildPlan(t *testing.T) {
	probe := func(ctx context.Context, since int64) ([]any, series.Flag) {
		return page(since, 100, 5), series.FlagNormal
	}

	plan, err := New(testConfig()).Build(context.Background(), 0, 2000, 8, probe, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Page delta = |first-last| = 400, so starts are 0,400,...,1600.
	if len(plan.Timestamps) != 5 {
		t.Fatalf("got %d timestamps, want 5", len(plan.Timestamps))
	}
	for i, ts := range plan.Timestamps {
		if want := int64(i) * 400; ts != want {
			t.Errorf("Timestamps[%d] = %d, want %d", i, ts, want)
		}
	}
	if plan.RemoteWorkers != 8 {
		t.Errorf("RemoteWorkers = %d, want 8", plan.RemoteWorkers)
	}
	if plan.LocalWorkers != 2 {
		t.Errorf("LocalWorkers = %d, want 2", plan.LocalWorkers)
	}
}

func TestBuildPlanWithMapper(t *testing.T) {
	probe := func(ctx context.Context, since int64) ([]any, series.Flag) {
		// Extra trailing fields are dropped by the mapper before the planner
		// reads the page bounds.
		return []any{
			[]any{float64(1000), 1.0, 2.0, 0.5, 1.5, "extra"},
			[]any{float64(1500), 1.0, 2.0, 0.5, 1.5, "extra"},
		}, series.FlagNormal
	}

	plan, err := New(testConfig()).Build(context.Background(), 0, 3000, 4, probe, mapper.OHLCV{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// Start snaps to the first row time (1000), delta 500.
	want := []int64{1000, 1500, 2000, 2500}
	if len(plan.Timestamps) != len(want) {
		t.Fatalf("got %d timestamps, want %d", len(plan.Timestamps), len(want))
	}
	for i, ts := range want {
		if plan.Timestamps[i] != ts {
			t.Errorf("Timestamps[%d] = %d, want %d", i, plan.Timestamps[i], ts)
		}
	}
}

func TestBuildEmptyPlanWhenProbeStartsPastWindow(t *testing.T) {
	// A symbol listed after the requested window end: the probe snaps the
	// start past until, which must yield an empty sequence, not a panic.
	probe := func(ctx context.Context, since int64) ([]any, series.Flag) {
		return page(1_500_000_000_000, 100, 3), series.FlagNormal
	}

	plan, err := New(testConfig()).Build(context.Background(), 0, 1_000_000_000_000, 4, probe, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(plan.Timestamps) != 0 {
		t.Errorf("got %d timestamps, want 0", len(plan.Timestamps))
	}
}

// filteringMapper legitimately maps every raw record away.
type filteringMapper struct{}

func (filteringMapper) Columns() []string    { return []string{"time"} }
func (filteringMapper) TimeColumnIndex() int { return 0 }

func (filteringMapper) Map(raw []any) ([]series.Row, error) {
	return nil, nil
}

func TestBuildRejectsProbePageMappedToZeroRows(t *testing.T) {
	probe := func(ctx context.Context, since int64) ([]any, series.Flag) {
		return page(since, 100, 3), series.FlagNormal
	}

	_, err := New(testConfig()).Build(context.Background(), 0, 1000, 4, probe, filteringMapper{})
	if !errors.Is(err, ErrTaskInit) {
		t.Errorf("expected ErrTaskInit for empty mapped probe page, got %v", err)
	}
}

func TestBuildRetriesThenSucceeds(t *testing.T) {
	calls := 0
	probe := func(ctx context.Context, since int64) ([]any, series.Flag) {
		calls++
		if calls < 3 {
			return nil, series.FlagError
		}
		return page(since, 100, 3), series.FlagNormal
	}

	_, err := New(testConfig()).Build(context.Background(), 0, 1000, 4, probe, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("probe called %d times, want 3", calls)
	}
}

func TestBuildExhaustsAttempts(t *testing.T) {
	tests := []struct {
		name  string
		probe series.FetchFunc
	}{
		{
			name: "always error",
			probe: func(ctx context.Context, since int64) ([]any, series.Flag) {
				return nil, series.FlagError
			},
		},
		{
			name: "empty but normal",
			probe: func(ctx context.Context, since int64) ([]any, series.Flag) {
				return []any{}, series.FlagNormal
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testConfig()).Build(context.Background(), 0, 1000, 4, tt.probe, nil)
			if !errors.Is(err, ErrTaskInit) {
				t.Errorf("expected ErrTaskInit, got %v", err)
			}
		})
	}
}

func TestBuildRejectsZeroDelta(t *testing.T) {
	probe := func(ctx context.Context, since int64) ([]any, series.Flag) {
		// Single-row page: first and last timestamps are identical.
		return page(since, 100, 1), series.FlagNormal
	}

	_, err := New(testConfig()).Build(context.Background(), 0, 1000, 4, probe, nil)
	if !errors.Is(err, ErrTaskInit) {
		t.Errorf("expected ErrTaskInit for zero delta, got %v", err)
	}
}

func TestBuildClampsWorkerFloor(t *testing.T) {
	probe := func(ctx context.Context, since int64) ([]any, series.Flag) {
		return page(since, 100, 3), series.FlagNormal
	}

	plan, err := New(testConfig()).Build(context.Background(), 0, 1000, 2, probe, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if plan.LocalWorkers != 1 {
		t.Errorf("LocalWorkers = %d, want floor of 1", plan.LocalWorkers)
	}
}
