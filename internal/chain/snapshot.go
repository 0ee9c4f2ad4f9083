package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Snapshot returns a best-effort aggregate of the named contract's state.
//
// Cached snapshots younger than the snapshot TTL are returned unchanged.
// Otherwise every declared capability is read in an independent parallel
// call; a failing read degrades that one field to its zero-value default
// rather than aborting the batch. The only error path is an unknown
// contract name or an uninitialized reader.
func (s *Service) Snapshot(ctx context.Context, name string) (Snapshot, error) {
	s.mu.RLock()
	c, ok := s.contracts[name]
	if !ok {
		s.mu.RUnlock()
		return Snapshot{}, fmt.Errorf("unknown contract %q", name)
	}
	if !s.initialized {
		s.mu.RUnlock()
		return Snapshot{}, fmt.Errorf("chain reader not initialized")
	}
	if cached, hit := s.snapshots[name]; hit && time.Since(cached.storedAt) < s.cfg.SnapshotTTL {
		s.mu.RUnlock()
		if s.metrics != nil {
			s.metrics.SnapshotsServed.Inc()
		}
		return cached.snap, nil
	}
	gen := c.generation
	client := s.client
	s.mu.RUnlock()

	snap := defaultSnapshot(c)

	// Fan out and settle: each read is independent, failures fill defaults.
	var wg sync.WaitGroup
	read := func(cap Capability, apply func()) {
		if !c.Has(cap) {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			apply()
		}()
	}

	read(CapTotalSupply, func() { snap.TotalSupply = s.readUint(ctx, c, CapTotalSupply) })
	read(CapMaxSupply, func() { snap.MaxSupply = s.readUint(ctx, c, CapMaxSupply) })
	read(CapPrice, func() { snap.Price = s.readUint(ctx, c, CapPrice) })
	read(CapMintingEnabled, func() { snap.MintingEnabled = s.readBool(ctx, c, CapMintingEnabled) })
	read(CapOwner, func() { snap.Owner = s.readAddress(ctx, c, CapOwner) })
	read(CapTreasury, func() { snap.Treasury = s.readAddress(ctx, c, CapTreasury) })
	read(CapBalance, func() {
		bal, err := client.BalanceAt(ctx, c.Address, nil)
		if err != nil {
			s.noteReadFailure(c.Name, "balance", err)
			return
		}
		snap.BalanceWei = bal.String()
	})

	wg.Wait()
	snap.ComputedAt = time.Now()
	if s.metrics != nil {
		s.metrics.SnapshotsFresh.Inc()
	}

	s.mu.Lock()
	if c.generation == gen {
		s.snapshots[name] = cachedSnapshot{snap: snap, storedAt: snap.ComputedAt, generation: gen}
	} else {
		// An event invalidated this contract while reads were in flight.
		// The result is still returned but never cached: the next call
		// recomputes against post-event state.
		log.Printf("[chain] Snapshot for %s superseded mid-flight, not cached", name)
	}
	s.mu.Unlock()

	return snap, nil
}

func (s *Service) readUint(ctx context.Context, c *RegisteredContract, cap Capability) string {
	out, err := s.callAccessor(ctx, c, cap)
	if err != nil {
		s.noteReadFailure(c.Name, string(cap), err)
		return "0"
	}
	v, ok := out.(*big.Int)
	if !ok {
		s.noteReadFailure(c.Name, string(cap), fmt.Errorf("unexpected type %T", out))
		return "0"
	}
	return v.String()
}

func (s *Service) readBool(ctx context.Context, c *RegisteredContract, cap Capability) bool {
	out, err := s.callAccessor(ctx, c, cap)
	if err != nil {
		s.noteReadFailure(c.Name, string(cap), err)
		return false
	}
	v, _ := out.(bool)
	return v
}

func (s *Service) readAddress(ctx context.Context, c *RegisteredContract, cap Capability) string {
	out, err := s.callAccessor(ctx, c, cap)
	if err != nil {
		s.noteReadFailure(c.Name, string(cap), err)
		return zeroAddress
	}
	v, ok := out.(common.Address)
	if !ok {
		s.noteReadFailure(c.Name, string(cap), fmt.Errorf("unexpected type %T", out))
		return zeroAddress
	}
	return v.Hex()
}

// callAccessor packs, executes and unpacks one view call.
func (s *Service) callAccessor(ctx context.Context, c *RegisteredContract, cap Capability) (interface{}, error) {
	method, ok := accessorMethod[cap]
	if !ok {
		return nil, fmt.Errorf("capability %s has no accessor", cap)
	}
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	res, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &c.Address, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	vals, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("accessor %s returned nothing", method)
	}
	return vals[0], nil
}

func (s *Service) noteReadFailure(contract, field string, err error) {
	if s.metrics != nil {
		s.metrics.RPCErrors.Inc()
	}
	log.Printf("[chain] %s.%s read failed, using default: %v", contract, field, err)
}
