// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockExchange is a configurable mock exchange server for testing. By
// default it serves synthetic kline pages on a fixed time grid from the
// /api/v3/klines endpoint; custom handlers can override any path.
type MockExchange struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Kline grid parameters.
	step     int64
	last     int64
	pageRows int
	failures map[int64]int

	// Tracking
	RequestCount int
}

// NewMockExchange creates a mock exchange serving klines on the given grid:
// one candle every step milliseconds from 0 through last inclusive, pageRows
// candles per page.
func NewMockExchange(step, last int64, pageRows int) *MockExchange {
	mock := &MockExchange{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		step:     step,
		last:     last,
		pageRows: pageRows,
		failures: make(map[int64]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.klineHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockExchange) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockExchange) Close() {
	m.server.Close()
}

// Reset clears tracking counters and pending failure injections.
func (m *MockExchange) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.failures = make(map[int64]int)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockExchange) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// FailKlines makes the next n kline requests starting at the given
// timestamp answer 500 before the page succeeds again.
func (m *MockExchange) FailKlines(since int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[since] = n
}

// SetHandler sets a custom handler for a specific path.
func (m *MockExchange) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockExchange) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// klineHandler serves one synthetic kline page from the configured grid.
func (m *MockExchange) klineHandler(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
	if err != nil {
		http.Error(w, `{"error": "bad startTime"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	if n := m.failures[since]; n > 0 {
		m.failures[since] = n - 1
		m.mu.Unlock()
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	step, last, pageRows := m.step, m.last, m.pageRows
	m.mu.Unlock()

	page := make([]any, 0, pageRows)
	for i := 0; i < pageRows; i++ {
		ts := since + int64(i)*step
		if ts > last {
			break
		}
		page = append(page, Candle(ts))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// Candle builds one deterministic synthetic kline record for a timestamp.
func Candle(ts int64) []any {
	base := float64(ts%997) / 10
	return []any{
		ts,
		fmt.Sprintf("%.2f", base+1),
		fmt.Sprintf("%.2f", base+2),
		fmt.Sprintf("%.2f", base+0.5),
		fmt.Sprintf("%.2f", base+1.5),
		fmt.Sprintf("%.2f", base*10),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Retry-After":  "30",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
