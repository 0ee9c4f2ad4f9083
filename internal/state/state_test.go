package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/truth-ecosystem/truthd/internal/metrics"
)

func newTestStore() *Store {
	return New(metrics.New())
}

func TestMergeShallowPerSection(t *testing.T) {
	s := newTestStore()

	s.Merge(Partial{"balances": {"truth": "100", "eth": "0.5"}})
	s.Merge(Partial{"balances": {"truth": "150"}})

	snap := s.Snapshot()
	b := snap.Sections["balances"]
	if b["truth"] != "150" {
		t.Errorf("truth = %v, want 150", b["truth"])
	}
	if b["eth"] != "0.5" {
		t.Errorf("eth = %v, want 0.5 (untouched by partial merge)", b["eth"])
	}
	if snap.LastUpdated.IsZero() {
		t.Error("lastUpdated not stamped")
	}
}

func TestMergeIgnoresNavigationSection(t *testing.T) {
	s := newTestStore()
	s.AppendNavigation(NavigationRecord{Dashboard: "analytics"})

	// A server payload trying to move the user elsewhere must be dropped.
	s.Merge(Partial{
		"navigation": {"current": "governance"},
		"community":  {"members": 10},
	})

	snap := s.Snapshot()
	if snap.Navigation.Current != "analytics" {
		t.Errorf("navigation.current = %q, want analytics", snap.Navigation.Current)
	}
	if snap.Sections["community"]["members"] != 10 {
		t.Error("sibling section should still merge")
	}
}

func TestSubscriberOrderAndPayload(t *testing.T) {
	s := newTestStore()
	var order []int

	s.Subscribe(func(now, old Snapshot) {
		order = append(order, 1)
		if now.Sections["wallet"]["account"] != "0xabc" {
			t.Errorf("new state missing merged field: %v", now.Sections["wallet"])
		}
		if _, ok := old.Sections["wallet"]["account"]; ok {
			t.Error("old state should predate the merge")
		}
	})
	s.Subscribe(func(now, old Snapshot) {
		order = append(order, 2)
	})

	s.Merge(Partial{"wallet": {"account": "0xabc"}})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("notify order = %v, want [1 2]", order)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	s := newTestStore()
	secondCalled := false

	s.Subscribe(func(now, old Snapshot) {
		panic("broken subscriber")
	})
	s.Subscribe(func(now, old Snapshot) {
		secondCalled = true
		if now.Sections["community"]["members"] != 5 {
			t.Errorf("second subscriber got wrong state: %v", now.Sections["community"])
		}
	})

	s.Merge(Partial{"community": {"members": 5}})

	if !secondCalled {
		t.Error("second subscriber must be notified despite first panicking")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	s := newTestStore()
	calls := 0
	unsub := s.Subscribe(func(now, old Snapshot) { calls++ })

	s.Merge(Partial{"wallet": {"a": 1}})
	unsub()
	unsub() // second call is a no-op
	s.Merge(Partial{"wallet": {"a": 2}})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNavigationHistoryBounded(t *testing.T) {
	s := newTestStore()

	for i := 0; i < 15; i++ {
		s.AppendNavigation(NavigationRecord{
			Dashboard: fmt.Sprintf("panel-%d", i),
			Timestamp: time.Now(),
		})
	}

	snap := s.Snapshot()
	h := snap.Navigation.History
	if len(h) != 10 {
		t.Fatalf("history length = %d, want 10", len(h))
	}
	// Ten most recent, oldest first.
	if h[0].Dashboard != "panel-5" {
		t.Errorf("oldest kept = %q, want panel-5", h[0].Dashboard)
	}
	if h[9].Dashboard != "panel-14" {
		t.Errorf("newest = %q, want panel-14", h[9].Dashboard)
	}
	if snap.Navigation.Current != "panel-14" {
		t.Errorf("current = %q, want panel-14", snap.Navigation.Current)
	}
}

func TestApplyWalletEvent(t *testing.T) {
	s := newTestStore()
	s.ApplyWalletEvent("0xdeadbeef", "base-mainnet")

	snap := s.Snapshot()
	w := snap.Sections["wallet"]
	if w["account"] != "0xdeadbeef" || w["connected"] != true {
		t.Errorf("wallet section = %v", w)
	}

	s.ApplyWalletEvent("", "base-mainnet")
	if s.Snapshot().Sections["wallet"]["connected"] != false {
		t.Error("disconnect should clear connected flag")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestStore()
	s.Merge(Partial{"governance": {"quorum": 100}})

	snap := s.Snapshot()
	snap.Sections["governance"]["quorum"] = 1

	if s.Snapshot().Sections["governance"]["quorum"] != 100 {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestDemoTickerStartStop(t *testing.T) {
	s := newTestStore()
	s.Merge(Partial{"community": {"online": 50, "posts": 10}})

	d := NewDemoTicker(s, 10*time.Millisecond)
	d.Start()
	time.Sleep(35 * time.Millisecond)
	d.Stop()

	snap := s.Snapshot()
	if snap.Sections["community"]["simulated"] != true {
		t.Error("ticker should have stamped simulated metrics")
	}

	// After Stop, no further ticks.
	before := s.Snapshot().LastUpdated
	time.Sleep(30 * time.Millisecond)
	if !s.Snapshot().LastUpdated.Equal(before) {
		t.Error("ticker still running after Stop")
	}
}
