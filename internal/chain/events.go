package chain

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Start launches the event loop: a live log subscription when the push
// connection is available, else periodic eth_getLogs polling. Either path
// feeds handleLog, which invalidates the affected snapshot before any
// handler runs — bounding snapshot staleness to "since last relevant event,
// or TTL, whichever is sooner".
func (s *Service) Start() {
	if !s.Initialized() {
		log.Println("[chain] Not initialized — event loop disabled")
		close(s.done)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.mu.RLock()
	ws := s.wsClient
	s.mu.RUnlock()

	if ws != nil && s.subscribeLoop(ctx, ws) {
		return
	}
	s.pollLoop(ctx)
}

// subscribeLoop consumes a live log subscription. Returns true when the
// loop ended by cancellation; false means the subscription could not be
// established or died, and the caller should fall back to polling.
func (s *Service) subscribeLoop(ctx context.Context, ws *ethclient.Client) bool {
	q := s.filterQuery(nil, nil)
	logs := make(chan types.Log, 64)

	sub, err := ws.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		log.Printf("[chain] Log subscription failed, polling instead: %v", err)
		return false
	}
	defer sub.Unsubscribe()
	log.Println("[chain] Live log subscription established")

	for {
		select {
		case <-ctx.Done():
			return true
		case err := <-sub.Err():
			log.Printf("[chain] Log subscription dropped, polling instead: %v", err)
			return false
		case l := <-logs:
			s.handleLog(l)
		}
	}
}

// pollLoop periodically scans new blocks for well-known contract events.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[chain] Event poller stopped")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// PollOnce scans from the last observed block to the current head and
// dispatches any well-known events found. Exported for the daemon's manual
// refresh path; the background poller calls it on every tick.
func (s *Service) PollOnce(ctx context.Context) {
	s.pollOnce(ctx)
}

func (s *Service) pollOnce(ctx context.Context) {
	s.mu.RLock()
	client := s.client
	from := s.lastBlock + 1
	nContracts := len(s.contracts)
	s.mu.RUnlock()

	if client == nil || nContracts == 0 {
		return
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		log.Printf("[chain] Head lookup failed: %v", err)
		return
	}
	if head < from {
		return
	}

	q := s.filterQuery(big.NewInt(int64(from)), big.NewInt(int64(head)))
	logs, err := client.FilterLogs(ctx, q)
	if err != nil {
		log.Printf("[chain] Log scan %d-%d failed: %v", from, head, err)
		return
	}

	for _, l := range logs {
		s.handleLog(l)
	}

	s.mu.Lock()
	s.lastBlock = head
	for _, c := range s.contracts {
		if c.lastObservedBlock < head {
			c.lastObservedBlock = head
		}
	}
	s.mu.Unlock()
}

// filterQuery builds a query covering all registered contracts and every
// well-known event topic any of them declares.
func (s *Service) filterQuery(from, to *big.Int) ethereum.FilterQuery {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addresses := make([]common.Address, 0, len(s.contracts))
	topicSet := make(map[common.Hash]bool)
	for _, c := range s.contracts {
		addresses = append(addresses, c.Address)
		for _, ev := range wellKnownEvents {
			if e, ok := c.abi.Events[ev]; ok {
				topicSet[e.ID] = true
			}
		}
	}
	topics := make([]common.Hash, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}

	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	}
}

// handleLog resolves a raw log to a registered contract and event name,
// invalidates that contract's snapshot, and notifies handlers. Logs from
// unknown addresses or with unknown topics are skipped silently.
func (s *Service) handleLog(l types.Log) {
	if l.Removed || len(l.Topics) == 0 {
		return
	}

	s.mu.RLock()
	c, ok := s.byAddress[l.Address]
	s.mu.RUnlock()
	if !ok {
		return
	}

	name := ""
	for _, ev := range wellKnownEvents {
		if e, declared := c.abi.Events[ev]; declared && e.ID == l.Topics[0] {
			name = ev
			break
		}
	}
	if name == "" {
		return
	}

	// Invalidation first, notification second: by the time a handler runs,
	// a fresh Snapshot call already recomputes.
	s.Invalidate(c.Name)

	ev := Event{
		Contract:    c.Name,
		Name:        name,
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
		ObservedAt:  time.Now(),
	}
	log.Printf("[chain] %s event on %s (block %d)", name, c.Name, l.BlockNumber)

	s.mu.RLock()
	handlers := make([]EventHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
