package state

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// DemoTicker periodically nudges a handful of volatile community counters so
// demo deployments look alive without a real data feed.
//
// This is a simulation facility only. It is never constructed by production
// wiring unless state.demo_ticker is set, and real backend sync
// (coordinator.SyncWithServer) does not go through it.
type DemoTicker struct {
	store    *Store
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDemoTicker creates a ticker against the given store.
func NewDemoTicker(store *Store, interval time.Duration) *DemoTicker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DemoTicker{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Stop cancels it and waits for exit.
func (d *DemoTicker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	log.Printf("[state] Demo ticker started (every %v)", d.interval)

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick()
			}
		}
	}()
}

// Stop cancels the ticker and waits for the loop to exit.
func (d *DemoTicker) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	log.Println("[state] Demo ticker stopped")
}

func (d *DemoTicker) tick() {
	snap := d.store.Snapshot()
	online := intField(snap.Sections["community"], "online", 87)
	posts := intField(snap.Sections["community"], "posts", 342)

	d.store.Merge(Partial{
		"community": {
			"online":    online + rand.Intn(7) - 3,
			"posts":     posts + rand.Intn(2),
			"simulated": true,
		},
	})
}

func intField(section map[string]any, key string, fallback int) int {
	if section == nil {
		return fallback
	}
	switch v := section[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
