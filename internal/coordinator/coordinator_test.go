package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/truth-ecosystem/truthd/internal/db"
	"github.com/truth-ecosystem/truthd/internal/fetchcache"
	"github.com/truth-ecosystem/truthd/internal/metrics"
	"github.com/truth-ecosystem/truthd/internal/state"
)

func setupCoordinator(t *testing.T, upstreamURL string) (*Coordinator, *state.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "truthd.db")
	if err := db.Open(dbPath); err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(db.Close)

	m := metrics.New()
	store := state.New(m)
	fetch := fetchcache.New(upstreamURL, 30*time.Second, 5*time.Second, m)
	return New(Config{}, store, fetch, m), store
}

func TestNavigateToUnknownPanelIsRejected(t *testing.T) {
	c, store := setupCoordinator(t, "http://localhost:0")

	if err := c.NavigateTo("settings", nil); err == nil {
		t.Fatal("unknown panel should be rejected")
	}
	if c.Active() != "home" {
		t.Errorf("active = %q, want home unchanged", c.Active())
	}
	if n := len(store.Snapshot().Navigation.History); n != 0 {
		t.Errorf("history length = %d, want 0", n)
	}
}

func TestNavigateRecordsHistoryAndHandoff(t *testing.T) {
	c, store := setupCoordinator(t, "http://localhost:0")

	if err := c.NavigateTo("analytics", map[string]any{"proposal": 7}); err != nil {
		t.Fatalf("NavigateTo: %v", err)
	}

	if c.Active() != "analytics" {
		t.Errorf("active = %q, want analytics", c.Active())
	}

	nav := store.Snapshot().Navigation
	if nav.Current != "analytics" {
		t.Errorf("navigation current = %q, want analytics", nav.Current)
	}
	if len(nav.History) != 1 || nav.History[0].Dashboard != "analytics" {
		t.Errorf("history = %+v", nav.History)
	}

	slot, err := c.Handoff()
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if slot.Dashboard != "analytics" {
		t.Errorf("handoff dashboard = %q", slot.Dashboard)
	}
	if slot.Context == nil || !strings.Contains(*slot.Context, "proposal") {
		t.Errorf("handoff context = %v, want proposal payload", slot.Context)
	}
}

func TestHandoffOverwrittenByLaterNavigation(t *testing.T) {
	c, _ := setupCoordinator(t, "http://localhost:0")

	c.NavigateTo("analytics", nil)
	c.NavigateTo("governance", nil)

	slot, err := c.Handoff()
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if slot.Dashboard != "governance" {
		t.Errorf("handoff dashboard = %q, want governance (latest wins)", slot.Dashboard)
	}
}

func TestPanelsExactlyOneActive(t *testing.T) {
	c, _ := setupCoordinator(t, "http://localhost:0")
	c.NavigateTo("liquidity", nil)

	active := 0
	for _, p := range c.Panels() {
		if p["active"] == true {
			active++
			if p["key"] != "liquidity" {
				t.Errorf("active panel = %v, want liquidity", p["key"])
			}
		}
	}
	if active != 1 {
		t.Errorf("active panels = %d, want exactly 1", active)
	}
}

func TestPanelForPath(t *testing.T) {
	if key, ok := PanelForPath("/governance"); !ok || key != "governance" {
		t.Errorf("PanelForPath(/governance) = %q, %v", key, ok)
	}
	if _, ok := PanelForPath("/admin"); ok {
		t.Error("unknown path should not resolve")
	}
}

func TestSyncMergesSectionsButNeverNavigation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"sections": {
				"analytics": {"totalSupply": 42},
				"navigation": {"current": "governance"}
			}
		}`))
	}))
	defer srv.Close()

	c, store := setupCoordinator(t, srv.URL)
	c.NavigateTo("community", nil)

	if !c.SyncWithServer(context.Background()) {
		t.Fatal("sync against live server should succeed")
	}

	snap := store.Snapshot()
	if got := snap.Sections["analytics"]["totalSupply"]; got != float64(42) {
		t.Errorf("analytics.totalSupply = %v, want 42", got)
	}
	if snap.Navigation.Current != "community" {
		t.Errorf("navigation current = %q, server payload must never move the user", snap.Navigation.Current)
	}

	rec, err := db.LastSyncRecord()
	if err != nil {
		t.Fatalf("LastSyncRecord: %v", err)
	}
	if !rec.Success {
		t.Error("sync record should mark success")
	}
}

func TestSyncFailureIsJournaledAndStateUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable from here on

	c, store := setupCoordinator(t, srv.URL)
	store.Merge(state.Partial{"analytics": {"totalSupply": 7}})

	if c.SyncWithServer(context.Background()) {
		t.Fatal("sync against dead server should report failure")
	}

	if got := store.Snapshot().Sections["analytics"]["totalSupply"]; got != 7 {
		t.Errorf("analytics.totalSupply = %v, want 7 untouched", got)
	}

	rec, err := db.LastSyncRecord()
	if err != nil {
		t.Fatalf("LastSyncRecord: %v", err)
	}
	if rec.Success {
		t.Error("sync record should mark failure")
	}
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	c, store := setupCoordinator(t, "http://localhost:0")
	store.Merge(state.Partial{"community": {"online": 12}})

	var first, second []state.Snapshot
	c.OnBroadcast(func(s state.Snapshot) { first = append(first, s) })
	c.OnBroadcast(func(s state.Snapshot) { second = append(second, s) })

	c.Broadcast()

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("broadcasts = %d/%d, want 1/1", len(first), len(second))
	}
	if got := first[0].Sections["community"]["online"]; got != 12 {
		t.Errorf("broadcast snapshot community.online = %v, want 12", got)
	}
}

func TestStartPrunesStaleHandoffs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sections":{}}`))
	}))
	defer srv.Close()

	c, _ := setupCoordinator(t, srv.URL)

	if err := db.SaveHandoff(&db.HandoffSlot{SessionID: "old-session", Dashboard: "analytics"}); err != nil {
		t.Fatalf("save handoff: %v", err)
	}
	cutoff := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := db.DB().Exec(`UPDATE nav_handoff SET created_at = ? WHERE session_id = 'old-session'`, cutoff); err != nil {
		t.Fatalf("backdate handoff: %v", err)
	}

	c.Start()
	defer c.Stop()

	if _, err := db.GetHandoff("old-session"); err == nil {
		t.Error("stale handoff slot should be pruned on start")
	}
}

func TestStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sections":{}}`))
	}))
	defer srv.Close()

	c, _ := setupCoordinator(t, srv.URL)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
}
