package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/truth-ecosystem/truthd/internal/db"
	"github.com/truth-ecosystem/truthd/internal/fetchcache"
	"github.com/truth-ecosystem/truthd/internal/metrics"
	"github.com/truth-ecosystem/truthd/internal/state"
)

// Panel is one dashboard surface the coordinator can navigate between.
type Panel struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

// panels is the fixed dashboard set, in display order.
var panels = []Panel{
	{Key: "home", Path: "/", Title: "The Truth"},
	{Key: "analytics", Path: "/analytics", Title: "Analytics"},
	{Key: "governance", Path: "/governance", Title: "Governance"},
	{Key: "community", Path: "/community", Title: "Community"},
	{Key: "liquidity", Path: "/liquidity", Title: "Liquidity"},
	{Key: "lawful", Path: "/lawful", Title: "Lawful"},
}

// Observer receives the periodic full-state broadcast.
type Observer func(snap state.Snapshot)

// Handoff slots are session-scoped; anything older than this belongs to a
// session that will never read it back.
const handoffMaxAge = 24 * time.Hour

// Config holds coordinator timing parameters.
type Config struct {
	SyncInterval      time.Duration
	BroadcastInterval time.Duration
}

// Coordinator owns panel navigation, the per-session handoff slot, the
// periodic upstream state sync and the full-state broadcast loop. One
// coordinator exists per daemon session; it holds no global state.
type Coordinator struct {
	cfg     Config
	store   *state.Store
	fetch   *fetchcache.Cache
	metrics *metrics.Registry

	sessionID string

	mu        sync.RWMutex
	active    string
	observers []Observer
	lastSync  time.Time
	syncFails int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator for a fresh session. The home panel starts
// active.
func New(cfg Config, store *state.Store, fetch *fetchcache.Cache, m *metrics.Registry) *Coordinator {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 60 * time.Second
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 30 * time.Second
	}
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		fetch:     fetch,
		metrics:   m,
		sessionID: uuid.NewString(),
		active:    "home",
		done:      make(chan struct{}),
	}
}

// SessionID returns the session identifier used for handoff slots.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Panels returns the dashboard set with the active flag set on exactly one
// entry.
func (c *Coordinator) Panels() []map[string]any {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()

	out := make([]map[string]any, 0, len(panels))
	for _, p := range panels {
		out = append(out, map[string]any{
			"key":    p.Key,
			"path":   p.Path,
			"title":  p.Title,
			"active": p.Key == active,
		})
	}
	return out
}

// Active returns the currently active panel key.
func (c *Coordinator) Active() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// PanelForPath resolves a URL path back to its panel key.
func PanelForPath(path string) (string, bool) {
	for _, p := range panels {
		if p.Path == path {
			return p.Key, true
		}
	}
	return "", false
}

// NavigateTo activates a panel, records the transition in navigation
// history, and persists the handoff slot so the destination dashboard can
// restore context after a full page load. Unknown panel keys are rejected.
func (c *Coordinator) NavigateTo(key string, navContext map[string]any) error {
	known := false
	for _, p := range panels {
		if p.Key == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown panel %q", key)
	}

	c.mu.Lock()
	c.active = key
	c.mu.Unlock()

	c.store.AppendNavigation(state.NavigationRecord{
		Dashboard: key,
		Context:   navContext,
	})

	if err := c.saveHandoff(key, navContext); err != nil {
		// Navigation already took effect in memory; a failed handoff write
		// only costs context restoration after a reload.
		log.Printf("[coordinator] Handoff persist failed: %v", err)
	}

	log.Printf("[coordinator] Navigated to %s", key)
	return nil
}

func (c *Coordinator) saveHandoff(key string, navContext map[string]any) error {
	slot := &db.HandoffSlot{
		SessionID: c.sessionID,
		Dashboard: key,
	}
	if navContext != nil {
		if b, err := json.Marshal(navContext); err == nil {
			s := string(b)
			slot.Context = &s
		}
	}
	if b, err := json.Marshal(c.store.Snapshot().Navigation.History); err == nil {
		s := string(b)
		slot.History = &s
	}
	return db.SaveHandoff(slot)
}

// Handoff returns this session's persisted handoff slot, or nil when none
// has been written yet.
func (c *Coordinator) Handoff() (*db.HandoffSlot, error) {
	return db.GetHandoff(c.sessionID)
}

// OnBroadcast registers an observer for the periodic full-state broadcast.
func (c *Coordinator) OnBroadcast(fn Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SyncWithServer pulls the upstream unified state and merges it into the
// shared store. Navigation is owned locally: the store's merge discards any
// navigation payload the server sends, so a sync can never move the user.
//
// A fallback response counts as a failed sync — it is journaled and counted
// but still merged, since the fallback unified-state payload is an empty
// no-op.
func (c *Coordinator) SyncWithServer(ctx context.Context) bool {
	payload, live := c.fetch.Request(ctx, "/api/unified-state", nil)

	if sections := extractSections(payload); len(sections) > 0 {
		c.store.Merge(sections)
	}

	c.mu.Lock()
	c.lastSync = time.Now()
	if !live {
		c.syncFails++
	}
	c.mu.Unlock()

	if !live {
		c.metrics.SyncFailures.Inc()
		if err := db.InsertSyncRecord(false, "upstream unreachable, fallback substituted"); err != nil {
			log.Printf("[coordinator] Sync journal write failed: %v", err)
		}
		log.Println("[coordinator] Server sync failed, state unchanged")
		return false
	}

	if err := db.InsertSyncRecord(true, ""); err != nil {
		log.Printf("[coordinator] Sync journal write failed: %v", err)
	}
	return true
}

// extractSections pulls the per-section maps out of a unified-state payload.
func extractSections(payload any) state.Partial {
	root, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := root["sections"].(map[string]any)
	if !ok {
		// Some deployments return the sections at top level.
		raw = root
	}

	out := make(state.Partial)
	for name, v := range raw {
		if fields, ok := v.(map[string]any); ok {
			out[name] = fields
		}
	}
	return out
}

// Start launches the sync and broadcast loops. Handoff slots left behind by
// previous sessions are pruned first.
func (c *Coordinator) Start() {
	if n, err := db.PruneHandoffs(handoffMaxAge); err != nil {
		log.Printf("[coordinator] Handoff prune failed: %v", err)
	} else if n > 0 {
		log.Printf("[coordinator] Pruned %d stale handoff slots", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	log.Printf("[coordinator] Started (sync %s, broadcast %s, session %s)",
		c.cfg.SyncInterval, c.cfg.BroadcastInterval, c.sessionID)
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	syncTicker := time.NewTicker(c.cfg.SyncInterval)
	defer syncTicker.Stop()
	broadcastTicker := time.NewTicker(c.cfg.BroadcastInterval)
	defer broadcastTicker.Stop()

	// Prime the state before the first tick.
	c.SyncWithServer(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[coordinator] Stopped")
			return
		case <-syncTicker.C:
			c.SyncWithServer(ctx)
		case <-broadcastTicker.C:
			c.broadcast()
		}
	}
}

// broadcast hands the current full state to every observer. Unlike merge
// notifications this fires on a timer regardless of changes, as a repair
// mechanism for observers that missed an update.
func (c *Coordinator) broadcast() {
	snap := c.store.Snapshot()

	c.mu.RLock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// Broadcast triggers an immediate full-state broadcast outside the timer.
func (c *Coordinator) Broadcast() {
	c.broadcast()
}

// Status returns coordinator statistics for /status and MCP.
func (c *Coordinator) Status() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lastSync := ""
	if !c.lastSync.IsZero() {
		lastSync = c.lastSync.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"session_id":      c.sessionID,
		"active_panel":    c.active,
		"observers":       len(c.observers),
		"last_sync":       lastSync,
		"sync_failures":   c.syncFails,
		"sync_interval":   c.cfg.SyncInterval.String(),
		"broadcast_every": c.cfg.BroadcastInterval.String(),
	}
}

// Stop tears down the background loops.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}
