package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Arkalin/ccxt-plus/pkg/series"
)

func TestKlinesFetch(t *testing.T) {
	var mu sync.Mutex
	var gotQuery map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotQuery = map[string]string{
			"symbol":    r.URL.Query().Get("symbol"),
			"interval":  r.URL.Query().Get("interval"),
			"startTime": r.URL.Query().Get("startTime"),
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[1000, "1.5", "2.0", "1.0", "1.8"], [2000, "1.8", "2.1", "1.7", "2.0"]]`))
	}))
	defer server.Close()

	fetch := New(DefaultConfig(server.URL)).Klines("BTCUSDT", "1m")
	records, flag := fetch(context.Background(), 1000)

	if flag != series.FlagNormal {
		t.Fatalf("flag = %v, want normal", flag)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	ms, ok := series.RawTime(records[0], 0)
	if !ok || ms != 1000 {
		t.Errorf("first record time = %d (ok=%v), want 1000", ms, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotQuery["symbol"] != "BTCUSDT" || gotQuery["interval"] != "1m" || gotQuery["startTime"] != "1000" {
		t.Errorf("unexpected query: %v", gotQuery)
	}
}

func TestKlinesFetchErrorsAreFlagged(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			fetch := New(DefaultConfig(server.URL)).Klines("BTCUSDT", "1m")
			records, flag := fetch(context.Background(), 0)

			if flag != series.FlagError {
				t.Errorf("flag = %v, want error", flag)
			}
			if records != nil {
				t.Errorf("records = %v, want nil", records)
			}
		})
	}
}

func TestUserAgentRotation(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("User-Agent")] = struct{}{}
		mu.Unlock()
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	fetch := New(DefaultConfig(server.URL)).Klines("BTCUSDT", "1m")
	for i := 0; i < len(userAgents)*2; i++ {
		fetch(context.Background(), int64(i))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(userAgents) {
		t.Errorf("saw %d distinct user agents, want %d", len(seen), len(userAgents))
	}
}
