package state

import (
	"log"
	"sync"
	"time"

	"github.com/truth-ecosystem/truthd/internal/metrics"
)

// Section keys of the shared state record. Merges against unknown sections
// are accepted (the server may grow new sections before we do), but these
// are always present.
var knownSections = []string{
	"wallet", "balances", "nftHoldings", "governance",
	"liquidity", "community", "analytics",
}

// Partial is a per-section partial update: section key -> fields to merge.
type Partial map[string]map[string]any

// NavigationRecord is one entry of the bounded navigation history.
type NavigationRecord struct {
	Dashboard string         `json:"dashboard"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// Navigation tracks where the user currently is and where they have been.
type Navigation struct {
	Current string             `json:"current"`
	History []NavigationRecord `json:"history"`
}

// Snapshot is an immutable copy of the shared state handed to subscribers
// and API consumers. Section maps are copied one level deep; nested values
// are shared and must not be mutated.
type Snapshot struct {
	Sections    map[string]map[string]any `json:"sections"`
	Navigation  Navigation                `json:"navigation"`
	LastUpdated time.Time                 `json:"lastUpdated"`
}

// Subscriber observes state changes. Invoked synchronously, in registration
// order, with the post- and pre-merge snapshots.
type Subscriber func(newState, oldState Snapshot)

const maxHistory = 10

type subEntry struct {
	id int
	fn Subscriber
}

// Store is the single source of truth for cross-dashboard state within one
// client session. All mutation goes through Merge (or the navigation and
// wallet helpers, which funnel into the same notify path), so subscriber
// notification always reflects the stored value.
//
// There is deliberately no package-level instance: the daemon owns the one
// Store for its session and passes it to components explicitly.
type Store struct {
	mu          sync.Mutex
	sections    map[string]map[string]any
	navigation  Navigation
	lastUpdated time.Time
	subs        []subEntry
	nextSubID   int
	metrics     *metrics.Registry
}

// New creates an empty store with all known sections present.
func New(m *metrics.Registry) *Store {
	sections := make(map[string]map[string]any, len(knownSections))
	for _, k := range knownSections {
		sections[k] = make(map[string]any)
	}
	return &Store{
		sections: sections,
		metrics:  m,
	}
}

// Merge shallow-merges a partial update into the matching sections and
// notifies subscribers. The merge is per top-level key only: fields inside
// a section are overwritten wholesale, never deep-merged.
//
// A "navigation" key in the partial is ignored — navigation is owned
// locally and only changes through AppendNavigation, so server payloads can
// never overwrite where the user currently is.
func (s *Store) Merge(partial Partial) {
	s.mu.Lock()
	old := s.snapshotLocked()

	for section, fields := range partial {
		if section == "navigation" {
			continue
		}
		dst, ok := s.sections[section]
		if !ok {
			dst = make(map[string]any, len(fields))
			s.sections[section] = dst
		}
		for k, v := range fields {
			dst[k] = v
		}
	}
	s.lastUpdated = time.Now()

	now := s.snapshotLocked()
	subs := make([]subEntry, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StateMerges.Inc()
	}
	notify(subs, now, old)
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is a no-op.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs = append(s.subs, subEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.subs {
			if e.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AppendNavigation records a dashboard transition, evicting the oldest
// history entry beyond the bound, and notifies subscribers.
func (s *Store) AppendNavigation(rec NavigationRecord) {
	s.mu.Lock()
	old := s.snapshotLocked()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.navigation.Current = rec.Dashboard
	s.navigation.History = append(s.navigation.History, rec)
	if len(s.navigation.History) > maxHistory {
		s.navigation.History = s.navigation.History[len(s.navigation.History)-maxHistory:]
	}
	s.lastUpdated = time.Now()

	now := s.snapshotLocked()
	subs := make([]subEntry, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	notify(subs, now, old)
}

// ApplyWalletEvent folds a wallet-provider account or network change into
// state through the same merge funnel as every other mutation.
func (s *Store) ApplyWalletEvent(account, network string) {
	s.Merge(Partial{
		"wallet": {
			"account":   account,
			"network":   network,
			"connected": account != "",
		},
	})
}

func (s *Store) snapshotLocked() Snapshot {
	sections := make(map[string]map[string]any, len(s.sections))
	for name, fields := range s.sections {
		cp := make(map[string]any, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		sections[name] = cp
	}
	history := make([]NavigationRecord, len(s.navigation.History))
	copy(history, s.navigation.History)
	return Snapshot{
		Sections: sections,
		Navigation: Navigation{
			Current: s.navigation.Current,
			History: history,
		},
		LastUpdated: s.lastUpdated,
	}
}

// notify invokes subscribers in registration order. A panicking subscriber
// is logged and must not prevent the rest from being notified.
func notify(subs []subEntry, now, old Snapshot) {
	for _, e := range subs {
		invokeSubscriber(e, now, old)
	}
}

func invokeSubscriber(e subEntry, now, old Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[state] Subscriber %d panicked: %v", e.id, r)
		}
	}()
	e.fn(now, old)
}
