package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Arkalin/ccxt-plus/pkg/config"
	"github.com/Arkalin/ccxt-plus/pkg/harvester"
	"github.com/Arkalin/ccxt-plus/pkg/logging"
	"github.com/Arkalin/ccxt-plus/pkg/mapper"
	"github.com/Arkalin/ccxt-plus/pkg/pagecache"
	"github.com/Arkalin/ccxt-plus/pkg/series"
	"github.com/Arkalin/ccxt-plus/pkg/source"
)

func main() {
	os.Exit(run())
}

// run carries the whole daemon lifecycle so deferred cleanup still executes
// before the exit code is reported.
func run() int {
	var (
		configPath  = flag.String("config", getEnv("HARVEST_CONFIG", "config.yaml"), "path to the YAML configuration file")
		exchangeURL = flag.String("exchange-url", "https://api.binance.com", "kline endpoint root")
		exchange    = flag.String("exchange", "binance", "exchange label for output paths")
		market      = flag.String("market", "spot", "market label for output paths")
		symbols     = flag.String("symbols", "BTC/USDT", "comma-separated symbols to harvest")
		timeframes  = flag.String("timeframes", "1m", "comma-separated timeframes to harvest")
		since       = flag.Int64("since", 0, "window start in epoch milliseconds (0 = configured default)")
		until       = flag.Int64("until", 0, "window end in epoch milliseconds (0 = now)")
		listenAddr  = flag.String("listen", ":"+getEnv("PORT", "8080"), "address for /metrics and /health")
	)
	flag.Parse()

	cfg, loadErr := config.Load(*configPath)
	if loadErr != nil {
		def := config.Default()
		cfg = &def
	}

	logging.Setup(logging.Config{Level: cfg.LogLevel})
	logger := logging.NewLogger("harvestd")
	if loadErr != nil {
		logger.Warn().Err(loadErr).Msg("Configuration file not loaded, using defaults")
	}
	logger.Info().Str("config", *configPath).Str("data_path", cfg.DataPath).Msg("Starting harvester")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cache *pagecache.Cache
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("redis", cfg.RedisURL).Msg("Redis unreachable, page cache disabled")
		} else {
			cache = pagecache.New(redisClient, cfg.CacheTTL)
			logger.Info().Str("redis", cfg.RedisURL).Msg("Page cache enabled")
		}
		defer redisClient.Close()
	}

	go serveHTTP(*listenAddr)

	src := source.New(source.DefaultConfig(*exchangeURL))
	h := harvester.New(cfg, cache)

	failed := 0
	for _, symbol := range splitList(*symbols) {
		for _, timeframe := range splitList(*timeframes) {
			job := harvester.Job{
				Labels:    series.NewLabels(*exchange, *market, symbol, timeframe),
				Fetch:     src.Klines(strings.ReplaceAll(symbol, "/", ""), timeframe),
				Mapper:    mapper.OHLCV{},
				Timeframe: timeframe,
				Since:     *since,
				Until:     *until,
			}
			if err := h.Run(ctx, job); err != nil {
				logger.Error().Err(err).Str("stream", job.Labels.String()).Msg("Harvest failed")
				failed++
			}
			if ctx.Err() != nil {
				logger.Info().Msg("Shutdown requested")
				return 1
			}
		}
	}

	if failed > 0 {
		logger.Error().Int("failed", failed).Msg("Some harvests failed")
		return 1
	}
	logger.Info().Msg("All harvests completed")
	return 0
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func serveHTTP(addr string) {
	if err := http.ListenAndServe(addr, newMux()); err != nil {
		logger := logging.NewLogger("harvestd")
		logger.Error().Err(err).Msg("HTTP server failed")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
