package daemon

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/truth-ecosystem/truthd/internal/chain"
	"github.com/truth-ecosystem/truthd/internal/config"
	"github.com/truth-ecosystem/truthd/internal/coordinator"
	"github.com/truth-ecosystem/truthd/internal/db"
	"github.com/truth-ecosystem/truthd/internal/fetchcache"
	"github.com/truth-ecosystem/truthd/internal/metrics"
	"github.com/truth-ecosystem/truthd/internal/server"
	"github.com/truth-ecosystem/truthd/internal/state"
	"github.com/truth-ecosystem/truthd/internal/wallet"
)

// Daemon orchestrates all truthd subsystems for one session.
type Daemon struct {
	cfg       *config.Config
	nodeID    string
	startTime time.Time

	metrics *metrics.Registry
	wallet  *wallet.Wallet
	fetch   *fetchcache.Cache
	chain   *chain.Service
	store   *state.Store
	ticker  *state.DemoTicker
	coord   *coordinator.Coordinator
	httpSrv *server.Server

	stopCh chan struct{}
}

// New creates a new daemon instance.
func New(cfg *config.Config) (*Daemon, error) {
	return &Daemon{cfg: cfg, stopCh: make(chan struct{})}, nil
}

// Start initializes and starts all subsystems in order.
func (d *Daemon) Start() error {
	d.startTime = time.Now()
	ctx := context.Background()

	// 1. Open database
	if err := os.MkdirAll(d.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := db.Open(d.cfg.DBPath()); err != nil {
		return fmt.Errorf("db open: %w", err)
	}

	// 2. Get/set node ID
	nodeID, err := db.GetNodeID()
	if err != nil {
		return fmt.Errorf("get node id: %w", err)
	}
	d.nodeID = nodeID
	log.Printf("[daemon] Node ID: %s", nodeID[:16])

	// 3. Metrics registry
	d.metrics = metrics.New()

	// 4. Load wallet
	//    Key (config/env) → attestation signing key
	//    DB-saved key     → signing key from previous auto-gen
	//    Auto-generate    → new keypair, saved to DB
	if d.cfg.Wallet.Key != "" {
		w, err := wallet.Load(d.cfg.Wallet.Key)
		if err != nil {
			log.Printf("[wallet] Key load failed: %v (continuing without signing key)", err)
		} else {
			d.wallet = w
		}
	}
	if d.wallet == nil {
		if saved, err := db.GetConfig("wallet_key"); err == nil && saved != "" {
			w, err := wallet.Load(saved)
			if err != nil {
				log.Printf("[wallet] DB key load failed: %v (will regenerate)", err)
			} else {
				d.wallet = w
				log.Printf("[wallet] Loaded persisted wallet: %s", w.Address)
			}
		}
	}
	if d.wallet == nil {
		w, err := wallet.Generate()
		if err != nil {
			return fmt.Errorf("generate wallet: %w", err)
		}
		if err := db.SetConfig("wallet_key", w.KeyHex); err != nil {
			log.Printf("[wallet] WARNING: Failed to persist wallet key: %v", err)
		}
		d.wallet = w
		log.Printf("[wallet] Generated and saved new wallet: %s", w.Address)
	}

	// 5. Fetch cache over the upstream ecosystem backend
	d.fetch = fetchcache.New(d.cfg.Upstream.BaseURL, d.cfg.Cache.TTL,
		d.cfg.Upstream.Timeout, d.metrics)

	// 6. Chain reader — failure is soft, the daemon serves fallbacks without it
	d.chain = chain.New(chain.Config{
		RPCURL:       d.cfg.Chain.RPCURL,
		WSURL:        d.cfg.Chain.WSURL,
		PollInterval: d.cfg.Chain.PollInterval,
		SnapshotTTL:  d.cfg.Cache.ContractTTL,
	}, d.metrics)

	if d.chain.Initialize(ctx) {
		for _, cc := range d.cfg.Chain.Contracts {
			if err := d.chain.RegisterContract(cc.Name, cc.Address, "", chain.Kind(cc.Kind), cc.Capabilities); err != nil {
				log.Printf("[daemon] WARNING: Contract %s not registered: %v", cc.Name, err)
			}
		}
		d.chain.OnChainEvent(d.onChainEvent)
		d.chain.Start()
	} else {
		log.Println("[daemon] Chain reader offline — on-chain data unavailable")
	}

	// 7. Shared state store
	d.store = state.New(d.metrics)
	d.store.Merge(state.Partial{
		"wallet": {
			"account":   d.wallet.Address,
			"connected": true,
		},
	})
	if d.cfg.State.DemoTicker {
		d.ticker = state.NewDemoTicker(d.store, d.cfg.State.TickInterval)
		d.ticker.Start()
	}

	// 8. Coordinator — sync and broadcast loops
	d.coord = coordinator.New(coordinator.Config{
		SyncInterval:      d.cfg.Coordinator.SyncInterval,
		BroadcastInterval: d.cfg.Coordinator.BroadcastInterval,
	}, d.store, d.fetch, d.metrics)
	d.coord.Start()

	// 9. HTTP API
	d.httpSrv = server.New(d.cfg.API.Bind, d.cfg.API.Port, d,
		d.chain, d.fetch, d.store, d.coord, d.metrics)
	if port, err := d.httpSrv.Start(); err != nil {
		log.Printf("[daemon] WARNING: HTTP API failed to start: %v (loops continue)", err)
	} else {
		log.Printf("[daemon] HTTP API on port %d", port)
	}

	// Timed broadcasts and state changes both reach websocket clients.
	d.coord.OnBroadcast(d.httpSrv.Hub().BroadcastState)
	d.store.Subscribe(func(now, _ state.Snapshot) {
		d.httpSrv.Hub().BroadcastState(now)
	})

	// 10. Periodic status logging
	go d.statusLoop()

	log.Println("[daemon] All systems online")
	return nil
}

// onChainEvent journals observed contract events and folds a notice into
// shared state so dashboards can react without polling.
func (d *Daemon) onChainEvent(ev chain.Event) {
	tx := ev.TxHash
	block := int64(ev.BlockNumber)
	if err := db.InsertChainEvent(&db.ChainEvent{
		Contract:    ev.Contract,
		Event:       ev.Name,
		TxHash:      &tx,
		BlockNumber: &block,
	}); err != nil {
		log.Printf("[daemon] Failed to journal chain event: %v", err)
	}

	d.store.Merge(state.Partial{
		"analytics": {
			"lastChainEvent": map[string]any{
				"contract": ev.Contract,
				"event":    ev.Name,
				"block":    ev.BlockNumber,
			},
		},
	})
}

func (d *Daemon) statusLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			eventCount, _ := db.CountEvents()
			chainStatus := d.chain.Status()
			coordStatus := d.coord.Status()
			log.Printf("[daemon] Panel: %v | Contracts: %v | Cached snaps: %v | Events: %d | Sync fails: %v",
				coordStatus["active_panel"], chainStatus["contracts"],
				chainStatus["cached_snaps"], eventCount, coordStatus["sync_failures"])
		}
	}
}

// Stop shuts down all subsystems in reverse start order.
func (d *Daemon) Stop() {
	log.Println("[daemon] Shutting down...")
	close(d.stopCh)

	if d.httpSrv != nil {
		d.httpSrv.Stop()
	}
	if d.coord != nil {
		d.coord.Stop()
	}
	if d.ticker != nil {
		d.ticker.Stop()
	}
	if d.chain != nil {
		d.chain.Stop()
	}
	db.Close()

	log.Println("[daemon] Shutdown complete")
}

// --- Status accessors (used by HTTP API and MCP) ---

func (d *Daemon) NodeID() string        { return d.nodeID }
func (d *Daemon) Uptime() time.Duration { return time.Since(d.startTime) }

func (d *Daemon) WalletStatus() map[string]interface{} {
	result := map[string]interface{}{}
	if d.wallet != nil {
		result["address"] = d.wallet.Address
		result["public_key"] = hex.EncodeToString(d.wallet.PublicKey)
	}
	if d.cfg.Wallet.Treasury != "" {
		result["treasury"] = d.cfg.Wallet.Treasury
	}
	result["multisig"] = d.cfg.Wallet.Multisig
	return result
}

// Chain returns the chain reader, for MCP wiring.
func (d *Daemon) Chain() *chain.Service { return d.chain }

// Fetch returns the fetch cache, for MCP wiring.
func (d *Daemon) Fetch() *fetchcache.Cache { return d.fetch }

// Store returns the shared state store, for MCP wiring.
func (d *Daemon) Store() *state.Store { return d.store }

// Coordinator returns the coordinator, for MCP wiring.
func (d *Daemon) Coordinator() *coordinator.Coordinator { return d.coord }
