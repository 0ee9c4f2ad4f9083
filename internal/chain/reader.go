package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/truth-ecosystem/truthd/internal/metrics"
)

// Config holds chain reader parameters.
type Config struct {
	RPCURL       string
	WSURL        string // optional push connection for live events
	PollInterval time.Duration
	SnapshotTTL  time.Duration
}

// Event is one observed contract log, already resolved to a registered
// contract and a well-known event name.
type Event struct {
	Contract    string    `json:"contract"`
	Name        string    `json:"name"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	ObservedAt  time.Time `json:"observedAt"`
}

// EventHandler is called for every observed well-known contract event,
// after the affected snapshot has been invalidated.
type EventHandler func(ev Event)

type cachedSnapshot struct {
	snap       Snapshot
	storedAt   time.Time
	generation uint64
}

// Service maintains the contract registry, serves best-effort snapshots and
// aggregates, and invalidates snapshot cache entries on relevant chain
// events. All failure modes below the registry level degrade instead of
// erroring: a snapshot is always producible for a registered contract.
type Service struct {
	cfg     Config
	metrics *metrics.Registry

	client   *ethclient.Client // primary read connection
	wsClient *ethclient.Client // push subscription connection, may be nil
	chainID  *big.Int

	mu          sync.RWMutex
	initialized bool
	contracts   map[string]*RegisteredContract
	byAddress   map[common.Address]*RegisteredContract
	snapshots   map[string]cachedSnapshot
	handlers    []EventHandler
	lastBlock   uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a chain reader. Call Initialize before use.
func New(cfg Config, m *metrics.Registry) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 300 * time.Second
	}
	return &Service{
		cfg:       cfg,
		metrics:   m,
		contracts: make(map[string]*RegisteredContract),
		byAddress: make(map[common.Address]*RegisteredContract),
		snapshots: make(map[string]cachedSnapshot),
		done:      make(chan struct{}),
	}
}

// Initialize establishes the primary read connection and, non-fatally, the
// push subscription connection. It fails soft: on any primary failure it
// logs and returns false, and the service stays unusable but inert.
func (s *Service) Initialize(ctx context.Context) bool {
	client, err := ethclient.DialContext(ctx, s.cfg.RPCURL)
	if err != nil {
		log.Printf("[chain] Primary RPC dial failed: %v", err)
		return false
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		log.Printf("[chain] Chain ID lookup failed: %v", err)
		client.Close()
		return false
	}

	s.mu.Lock()
	s.client = client
	s.chainID = chainID
	s.initialized = true
	s.mu.Unlock()
	log.Printf("[chain] Connected to %s (chain %s)", s.cfg.RPCURL, chainID)

	if s.cfg.WSURL != "" {
		ws, err := ethclient.DialContext(ctx, s.cfg.WSURL)
		if err != nil {
			// Push connection is best-effort; polling covers its absence.
			log.Printf("[chain] Push connection failed (will poll): %v", err)
		} else {
			s.mu.Lock()
			s.wsClient = ws
			s.mu.Unlock()
			log.Printf("[chain] Push connection established: %s", s.cfg.WSURL)
		}
	}

	if head, err := client.BlockNumber(ctx); err == nil {
		s.mu.Lock()
		s.lastBlock = head
		s.mu.Unlock()
	}

	return true
}

// Initialized reports whether the primary connection is up.
func (s *Service) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// ChainID returns the connected chain's ID, or nil before initialization.
func (s *Service) ChainID() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

// RegisterContract adds a contract to the registry. abiJSON may be empty to
// use the built-in read ABI. Capabilities declare which accessors the
// contract implements; undeclared ones resolve to defaults without a call.
func (s *Service) RegisterContract(name, address, abiJSON string, kind Kind, capabilities []string) error {
	if name == "" {
		return fmt.Errorf("contract name required")
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q for contract %s", address, name)
	}

	parsed, err := parseABI(abiJSON)
	if err != nil {
		return fmt.Errorf("parse ABI for %s: %w", name, err)
	}
	caps, err := parseCapabilities(capabilities)
	if err != nil {
		return fmt.Errorf("contract %s: %w", name, err)
	}

	c := &RegisteredContract{
		Name:    name,
		Address: common.HexToAddress(address),
		Kind:    kind,
		abi:     parsed,
		caps:    caps,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contracts[name]; exists {
		return fmt.Errorf("contract %s already registered", name)
	}
	s.contracts[name] = c
	s.byAddress[c.Address] = c
	c.lastObservedBlock = s.lastBlock

	subscribed := 0
	for _, ev := range wellKnownEvents {
		// Skip events this contract's ABI does not declare.
		if _, ok := c.abi.Events[ev]; ok {
			subscribed++
		}
	}
	log.Printf("[chain] Registered %s contract %q at %s (%d/%d events)",
		kind, name, c.Address.Hex(), subscribed, len(wellKnownEvents))
	return nil
}

// Contracts returns the registered contracts, for the API surface.
func (s *Service) Contracts() []*RegisteredContract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RegisteredContract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c)
	}
	return out
}

// OnChainEvent registers a callback for observed well-known events.
func (s *Service) OnChainEvent(fn EventHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Invalidate drops the cached snapshot for a contract and bumps its
// generation so in-flight snapshot computations are discarded. Other
// contracts' cache entries are unaffected.
func (s *Service) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[name]
	if !ok {
		return
	}
	c.generation++
	if _, cached := s.snapshots[name]; cached {
		delete(s.snapshots, name)
		if s.metrics != nil {
			s.metrics.Invalidations.Inc()
		}
	}
}

// Status returns reader statistics for /status and MCP.
func (s *Service) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chainID := ""
	if s.chainID != nil {
		chainID = s.chainID.String()
	}
	return map[string]interface{}{
		"initialized":   s.initialized,
		"chain_id":      chainID,
		"push_events":   s.wsClient != nil,
		"contracts":     len(s.contracts),
		"cached_snaps":  len(s.snapshots),
		"last_block":    s.lastBlock,
		"poll_interval": s.cfg.PollInterval.String(),
	}
}

// Stop tears down the event loop and closes connections.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
	}
	if s.wsClient != nil {
		s.wsClient.Close()
	}
	s.initialized = false
	log.Println("[chain] Reader stopped")
}
