package fetchcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/truth-ecosystem/truthd/internal/metrics"
)

func newTestCache(baseURL string, ttl time.Duration) *Cache {
	return New(baseURL, ttl, 5*time.Second, metrics.New())
}

func TestRequestCachesWithinTTL(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"minted": 7}`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v, live := c.Request(ctx, "/api/analytics", nil)
		if !live {
			t.Fatalf("call %d: expected live data", i)
		}
		m, ok := v.(map[string]any)
		if !ok || m["minted"] != float64(7) {
			t.Fatalf("call %d: unexpected value %v", i, v)
		}
	}

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("network calls = %d, want 1 (TTL dedup)", n)
	}
}

func TestRequestRefetchesAfterTTL(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, 30*time.Millisecond)
	ctx := context.Background()

	c.Request(ctx, "/api/community", nil)
	time.Sleep(60 * time.Millisecond)
	c.Request(ctx, "/api/community", nil)

	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Errorf("network calls = %d, want 2 (one per TTL window)", n)
	}
}

func TestDistinctOptionsAreDistinctEntries(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	ctx := context.Background()

	c.Request(ctx, "/api/governance/vote", &Options{Method: "POST", Body: []byte(`{"proposalId":1,"vote":true}`)})
	c.Request(ctx, "/api/governance/vote", &Options{Method: "POST", Body: []byte(`{"proposalId":2,"vote":true}`)})
	c.Request(ctx, "/api/governance/vote", &Options{Method: "POST", Body: []byte(`{"proposalId":1,"vote":true}`)})

	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Errorf("network calls = %d, want 2 (distinct bodies, repeat deduped)", n)
	}
}

func TestFallbackOnNetworkError(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	v, live := c.Request(context.Background(), "/api/analytics", nil)
	if live {
		t.Fatal("expected fallback, got live")
	}
	m := v.(map[string]any)
	if m["source"] != "fallback" || m["totalSupply"] != 77 {
		t.Errorf("unexpected fallback payload: %v", m)
	}
}

func TestFallbackOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	for _, endpoint := range []string{
		"/api/analytics", "/api/governance", "/api/governance/proposals",
		"/api/community", "/api/liquidity", "/api/lawful", "/api/unified-state",
	} {
		v, live := c.Request(context.Background(), endpoint, nil)
		if live {
			t.Errorf("%s: expected fallback", endpoint)
		}
		if v == nil {
			t.Errorf("%s: fallback must never be nil", endpoint)
		}
	}
}

func TestErrorPagesAreNotCached(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>502 Bad Gateway error</h1></body></html>`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, live := c.Request(ctx, "/api/liquidity", nil)
		if live {
			t.Fatal("error page should substitute fallback")
		}
	}

	// Failure paths are retried every call, never cached.
	if n := atomic.LoadInt64(&calls); n != 3 {
		t.Errorf("network calls = %d, want 3", n)
	}
}

func TestNonJSONTextIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("all systems operational"))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	v, live := c.Request(context.Background(), "/api/status-text", nil)
	if !live {
		t.Fatal("plain text is a success, not a fallback")
	}
	m := v.(map[string]any)
	if m["message"] != "all systems operational" {
		t.Errorf("wrapped message = %v", m["message"])
	}
}

func TestMalformedJSONFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"broken`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	_, live := c.Request(context.Background(), "/api/governance", nil)
	if live {
		t.Error("malformed JSON should substitute fallback")
	}
}

func TestNilMetricsRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Minute, 5*time.Second, nil)
	ctx := context.Background()

	// Miss, hit, and fallback paths must all tolerate a nil registry.
	if _, live := c.Request(ctx, "/api/analytics", nil); !live {
		t.Error("expected live data on first call")
	}
	if _, live := c.Request(ctx, "/api/analytics", nil); !live {
		t.Error("expected cached data on second call")
	}

	srv.Close()
	if _, live := c.Request(ctx, "/api/community", nil); live {
		t.Error("expected fallback against closed server")
	}
}

func TestClear(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL, time.Minute)
	ctx := context.Background()

	c.Request(ctx, "/api/analytics", nil)
	c.Clear()
	c.Request(ctx, "/api/analytics", nil)

	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Errorf("network calls = %d, want 2 after Clear", n)
	}
}
