// Package source implements the remote fetch collaborator against a
// kline-style JSON REST endpoint. It owns request shaping, header rotation
// and transport error handling; every failure is converted into an ERROR
// flag for the engine to retry, never surfaced as an error value.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arkalin/ccxt-plus/pkg/series"
)

// userAgents are rotated across requests so long-running harvests do not
// present a single static client signature.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Config holds source configuration.
type Config struct {
	// BaseURL is the endpoint root, e.g. "https://api.binance.com".
	BaseURL string

	// Timeout bounds each HTTP request. The engine core carries no
	// timeout of its own; resilience there comes from bounded retries.
	Timeout time.Duration

	// PageLimit is the row limit requested per page (0 = endpoint default).
	PageLimit int
}

// DefaultConfig returns a safe default source configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Timeout:   30 * time.Second,
		PageLimit: 0,
	}
}

// Client fetches kline pages over HTTP. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
	next   atomic.Uint32
}

// New creates a source client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig(cfg.BaseURL).Timeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log.With().Str("component", "source").Logger(),
	}
}

// Klines builds the fetch collaborator for one symbol and interval against
// the /api/v3/klines endpoint. The returned records are raw decoded JSON
// arrays; a mapper normalizes them downstream.
func (c *Client) Klines(symbol, interval string) series.FetchFunc {
	return func(ctx context.Context, since int64) ([]any, series.Flag) {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", interval)
		q.Set("startTime", strconv.FormatInt(since, 10))
		if c.cfg.PageLimit > 0 {
			q.Set("limit", strconv.Itoa(c.cfg.PageLimit))
		}
		endpoint := fmt.Sprintf("%s/api/v3/klines?%s", c.cfg.BaseURL, q.Encode())

		records, err := c.getJSON(ctx, endpoint)
		if err != nil {
			c.logger.Debug().Err(err).Str("symbol", symbol).Int64("since", since).Msg("Fetch failed")
			return nil, series.FlagError
		}
		return records, series.FlagNormal
	}
}

// getJSON performs one GET request and decodes the JSON array body.
func (c *Client) getJSON(ctx context.Context, endpoint string) ([]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.nextUserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var records []any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return records, nil
}

func (c *Client) nextUserAgent() string {
	n := c.next.Add(1)
	return userAgents[int(n)%len(userAgents)]
}
