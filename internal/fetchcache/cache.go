package fetchcache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/truth-ecosystem/truthd/internal/metrics"
)

// Options configures a single request. The zero value is a plain GET.
type Options struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

type entry struct {
	value    any
	storedAt time.Time
}

// Cache deduplicates outbound reads against the upstream ecosystem backend
// and substitutes per-endpoint fallback payloads when the backend is
// unreachable. Request never returns an error: dashboards must always have
// something to render.
//
// Expired entries are treated as absent, not actively purged — the entry
// count is bounded by the set of distinct (endpoint, options) pairs, which
// is small and fixed for this API surface.
type Cache struct {
	baseURL string
	ttl     time.Duration
	client  *http.Client
	metrics *metrics.Registry

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a fetch cache against the given upstream base URL.
func New(baseURL string, ttl time.Duration, timeout time.Duration, m *metrics.Registry) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Cache{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
		entries: make(map[string]entry),
	}
}

// Request performs a cached read of the given endpoint. The second result
// reports whether live data was returned (fresh or cached); false means the
// endpoint's fallback payload was substituted.
//
// Only successful responses are cached. Fallback results are never cached,
// so a failing endpoint is retried on every call.
func (c *Cache) Request(ctx context.Context, endpoint string, opts *Options) (any, bool) {
	key := cacheKey(endpoint, opts)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Since(e.storedAt) < c.ttl {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return e.value, true
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	value, ok := c.fetch(ctx, endpoint, opts)
	if !ok {
		if c.metrics != nil {
			c.metrics.CacheFallbacks.WithLabelValues(endpoint).Inc()
		}
		return FallbackFor(endpoint), false
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: time.Now()}
	c.mu.Unlock()
	return value, true
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// fetch performs the underlying network call. A false result means the
// caller should substitute fallback data.
func (c *Cache) fetch(ctx context.Context, endpoint string, opts *Options) (any, bool) {
	method := http.MethodGet
	var body io.Reader
	if opts != nil {
		if opts.Method != "" {
			method = opts.Method
		}
		if len(opts.Body) > 0 {
			body = bytes.NewReader(opts.Body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		log.Printf("[cache] Bad request for %s: %v", endpoint, err)
		return nil, false
	}
	req.Header.Set("Accept", "application/json")
	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[cache] %s %s failed: %v", method, endpoint, err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[cache] %s %s returned HTTP %d", method, endpoint, resp.StatusCode)
		return nil, false
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[cache] Read body for %s: %v", endpoint, err)
		return nil, false
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			log.Printf("[cache] Malformed JSON from %s: %v", endpoint, err)
			return nil, false
		}
		return value, true
	}

	// Non-JSON 2xx: best-effort sniff. Error pages become fallbacks, anything
	// else is wrapped as a message.
	text := string(raw)
	if looksLikeErrorPage(text) {
		log.Printf("[cache] %s served an error page, substituting fallback", endpoint)
		return nil, false
	}
	return map[string]any{"message": text}, true
}

// looksLikeErrorPage reports whether a non-JSON payload is an HTML error
// page rather than usable content.
func looksLikeErrorPage(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<html") && !strings.Contains(lower, "<!doctype") {
		return false
	}
	for _, marker := range []string{"error", "not found", "404", "500", "502", "unavailable"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// cacheKey derives a deterministic key from endpoint + options so identical
// requests within the TTL window resolve to the same entry.
func cacheKey(endpoint string, opts *Options) string {
	var b strings.Builder
	b.WriteString(endpoint)
	if opts == nil {
		return b.String()
	}
	b.WriteByte('|')
	b.WriteString(opts.Method)
	if len(opts.Headers) > 0 {
		keys := make([]string, 0, len(opts.Headers))
		for k := range opts.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(opts.Headers[k])
		}
	}
	if len(opts.Body) > 0 {
		b.WriteByte('|')
		b.Write(opts.Body)
	}
	return b.String()
}
