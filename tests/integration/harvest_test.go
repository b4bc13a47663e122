package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Arkalin/ccxt-plus/internal/testutil"
	"github.com/Arkalin/ccxt-plus/pkg/config"
	"github.com/Arkalin/ccxt-plus/pkg/harvester"
	"github.com/Arkalin/ccxt-plus/pkg/mapper"
	"github.com/Arkalin/ccxt-plus/pkg/pagecache"
	"github.com/Arkalin/ccxt-plus/pkg/series"
	"github.com/Arkalin/ccxt-plus/pkg/source"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestPageCacheRoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	cache := pagecache.New(redisClient, time.Hour)
	key := pagecache.Key{
		Labels: series.NewLabels("binance", "spot", "BTC/USDT", "1m"),
		Since:  1_600_000_000_000,
	}

	if _, err := cache.Get(ctx, key); !errors.Is(err, pagecache.ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	records := []any{testutil.Candle(1_600_000_000_000), testutil.Candle(1_600_000_060_000)}
	if err := cache.Set(ctx, key, records); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	ms, ok := series.RawTime(got[0], 0)
	if !ok || ms != 1_600_000_000_000 {
		t.Errorf("first record time = %d (ok=%v)", ms, ok)
	}

	ttl, err := redisClient.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("ttl = %v, want within (0, 1h]", ttl)
	}
}

// TestCachedHarvestSkipsRemote runs the same harvest twice against a shared
// page cache. The second run must complete from cache alone, without a
// single remote request.
func TestCachedHarvestSkipsRemote(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	const step = int64(60_000)
	exchange := testutil.NewMockExchange(step, 20*step, 5)
	defer exchange.Close()

	cache := pagecache.New(redisClient, time.Hour)
	fetch := source.New(source.DefaultConfig(exchange.URL())).Klines("BTCUSDT", "1m")

	run := func(t *testing.T) {
		t.Helper()
		cfg := config.Default()
		cfg.DataPath = t.TempDir()
		cfg.DefaultSinceTime = 0

		h := harvester.New(&cfg, cache)
		err := h.Run(context.Background(), harvester.Job{
			Labels:    series.NewLabels("binance", "spot", "BTC/USDT", "1m"),
			Fetch:     fetch,
			Mapper:    mapper.OHLCV{},
			Timeframe: "1m",
			Until:     21 * step,
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		dir := filepath.Join(cfg.DataPath, "binance", "spot", "BTC-USDT", "1m")
		if _, err := os.Stat(filepath.Join(dir, "0.csv")); err != nil {
			t.Fatalf("chunk file missing: %v", err)
		}
	}

	run(t)
	if exchange.GetRequestCount() == 0 {
		t.Fatal("first run made no remote requests")
	}

	exchange.Reset()
	run(t)
	if n := exchange.GetRequestCount(); n != 0 {
		t.Errorf("second run made %d remote requests, want 0", n)
	}
}
