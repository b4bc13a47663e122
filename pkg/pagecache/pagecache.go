// Package pagecache provides a Redis-backed cache for fetched pages, keyed
// by stream labels and page-start timestamp. Re-running a harvest over a
// window that was already fetched skips the remote calls entirely.
//
// The cache is strictly best-effort: a miss or a Redis error falls through
// to the remote fetch, and store failures are logged, never surfaced.
package pagecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arkalin/ccxt-plus/pkg/series"
)

// Prometheus metrics for page cache operations.
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_page_cache_hits_total",
		Help: "Total page cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_page_cache_misses_total",
		Help: "Total page cache misses",
	})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_page_cache_errors_total",
		Help: "Total page cache operation errors",
	}, []string{"operation"})
)

// ErrCacheMiss indicates the requested page was not found in cache.
var ErrCacheMiss = errors.New("page cache miss")

// DefaultTTL bounds how long a cached page stays valid. Historical pages
// never change, but a TTL keeps abandoned streams from pinning Redis memory.
const DefaultTTL = 24 * time.Hour

// Key identifies one fetched page.
type Key struct {
	// Labels is the stream's label path.
	Labels series.Labels

	// Since is the page-start timestamp in epoch milliseconds.
	Since int64
}

// String generates a deterministic cache key string.
// Format: page:label1:label2:…:since
func (k Key) String() string {
	parts := append([]string{"page"}, k.Labels.Segments()...)
	parts = append(parts, strconv.FormatInt(k.Since, 10))
	return strings.Join(parts, ":")
}

// entry is the stored representation of one cached page.
type entry struct {
	Records  []any     `json:"records"`
	CachedAt time.Time `json:"cached_at"`
}

// Cache is a Redis-backed page cache.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a page cache. A zero TTL falls back to DefaultTTL.
func New(redisClient *redis.Client, ttl time.Duration) *Cache {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		redis:  redisClient,
		ttl:    ttl,
		logger: log.With().Str("component", "pagecache").Logger(),
	}
}

// Get retrieves a cached page. Returns ErrCacheMiss when absent.
func (c *Cache) Get(ctx context.Context, key Key) ([]any, error) {
	data, err := c.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("decode cached page: %w", err)
	}

	cacheHits.Inc()
	return e.Records, nil
}

// Set stores one fetched page with the cache TTL.
func (c *Cache) Set(ctx context.Context, key Key, records []any) error {
	data, err := json.Marshal(entry{Records: records, CachedAt: time.Now().UTC()})
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode page: %w", err)
	}
	if err := c.redis.Set(ctx, key.String(), data, c.ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// WrapFetch wraps a fetch collaborator with cache lookups for one stream.
// A nil cache returns the fetch unchanged. Only non-empty NORMAL pages are
// stored; ERROR results always pass through so the engine can retry them.
func WrapFetch(c *Cache, labels series.Labels, fetch series.FetchFunc) series.FetchFunc {
	if c == nil {
		return fetch
	}
	return func(ctx context.Context, since int64) ([]any, series.Flag) {
		key := Key{Labels: labels, Since: since}

		records, err := c.Get(ctx, key)
		if err == nil {
			return records, series.FlagNormal
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache lookup failed, falling through to fetch")
		}

		records, flag := fetch(ctx, since)
		if flag == series.FlagNormal && len(records) > 0 {
			if err := c.Set(ctx, key, records); err != nil {
				c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache store failed")
			}
		}
		return records, flag
	}
}
