package chain

import (
	"context"
	"log"
	"math/big"
	"sort"
	"time"
)

// holderMultiplier estimates unique holders from minted count. This is a
// heuristic, not a ground-truth count derived from transfer history: some
// collectors hold several editions, so holders < minted.
const holderMultiplier = 0.7

// Analytics aggregates best-effort metrics across every registered
// contract. A contract whose snapshot fails is skipped, not fatal.
type Analytics struct {
	Contracts        int       `json:"contracts"`
	Skipped          int       `json:"skipped"`
	TotalMinted      string    `json:"totalMinted"`
	RevenueWei       string    `json:"revenueWei"`
	TreasuryWei      string    `json:"treasuryWei"`
	EstimatedHolders int       `json:"estimatedHolders"`
	ComputedAt       time.Time `json:"computedAt"`
}

// AllContractsAnalytics walks the registry and sums minted counts and
// revenue. Partial results win over total failure: any contract whose
// snapshot errors is logged and skipped.
func (s *Service) AllContractsAnalytics(ctx context.Context) Analytics {
	s.mu.RLock()
	names := make([]string, 0, len(s.contracts))
	for name := range s.contracts {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	a := Analytics{Contracts: len(names)}
	minted := new(big.Int)
	revenue := new(big.Int)
	treasury := new(big.Int)

	for _, name := range names {
		snap, err := s.Snapshot(ctx, name)
		if err != nil {
			log.Printf("[chain] Analytics: skipping %s: %v", name, err)
			a.Skipped++
			continue
		}

		if snap.Kind == KindNFT {
			supply, ok := new(big.Int).SetString(snap.TotalSupply, 10)
			if !ok {
				supply = new(big.Int)
			}
			minted.Add(minted, supply)

			// Primary sale revenue: minted editions times the fixed price.
			if price, ok := new(big.Int).SetString(snap.Price, 10); ok {
				revenue.Add(revenue, new(big.Int).Mul(supply, price))
			}
		}

		if bal, ok := new(big.Int).SetString(snap.BalanceWei, 10); ok {
			treasury.Add(treasury, bal)
		}
	}

	a.TotalMinted = minted.String()
	a.RevenueWei = revenue.String()
	a.TreasuryWei = treasury.String()
	a.EstimatedHolders = int(float64(minted.Int64()) * holderMultiplier)
	a.ComputedAt = time.Now()
	return a
}
