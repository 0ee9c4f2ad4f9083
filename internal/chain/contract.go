package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Kind distinguishes the two contract families the ecosystem tracks.
type Kind string

const (
	KindNFT   Kind = "nft"
	KindToken Kind = "token"
)

// Capability names one read accessor a contract declares it implements.
// The snapshot fan-out dispatches only declared capabilities and fills
// zero-value defaults for the rest — no call-time probing.
type Capability string

const (
	CapTotalSupply    Capability = "totalSupply"
	CapMaxSupply      Capability = "maxSupply"
	CapPrice          Capability = "price"
	CapMintingEnabled Capability = "mintingEnabled"
	CapBalance        Capability = "balance"
	CapOwner          Capability = "owner"
	CapTreasury       Capability = "treasury"
)

// accessorMethod maps a capability to its on-chain accessor name.
// CapBalance has no method: it reads the contract's ETH balance directly.
var accessorMethod = map[Capability]string{
	CapTotalSupply:    "totalSupply",
	CapMaxSupply:      "MAX_SUPPLY",
	CapPrice:          "PRICE",
	CapMintingEnabled: "mintingEnabled",
	CapOwner:          "owner",
	CapTreasury:       "treasury",
}

// wellKnownEvents is the fixed set of log events worth subscribing to.
// Contracts that do not declare one of these simply skip it.
var wellKnownEvents = []string{"Transfer", "BatchMetadataUpdate", "RoyaltyPaid"}

// defaultReadABI covers every accessor and event the reader knows about.
// Contracts registered without their own ABI get this one; calls against
// accessors the contract lacks revert and degrade to defaults.
const defaultReadABI = `[
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"MAX_SUPPLY","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"PRICE","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"mintingEnabled","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"treasury","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"BatchMetadataUpdate","inputs":[{"name":"fromTokenId","type":"uint256","indexed":false},{"name":"toTokenId","type":"uint256","indexed":false}]},
	{"type":"event","name":"RoyaltyPaid","inputs":[{"name":"receiver","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const zeroAddress = "0x0000000000000000000000000000000000000000"

// RegisteredContract is one logical contract tracked for the session.
type RegisteredContract struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
	Kind    Kind           `json:"kind"`

	abi  abi.ABI
	caps map[Capability]bool

	// generation is bumped on every event-driven invalidation. A snapshot
	// computed against a stale generation is discarded instead of cached,
	// so late-arriving reads can never resurrect pre-event data.
	generation uint64

	// lastObservedBlock tracks polling progress for this contract.
	lastObservedBlock uint64
}

// Has reports whether the contract declared the given capability.
func (c *RegisteredContract) Has(cap Capability) bool {
	return c.caps[cap]
}

// Capabilities returns the declared capability names, for the API surface.
func (c *RegisteredContract) Capabilities() []string {
	out := make([]string, 0, len(c.caps))
	for cap := range c.caps {
		out = append(out, string(cap))
	}
	return out
}

func parseCapabilities(names []string) (map[Capability]bool, error) {
	caps := make(map[Capability]bool, len(names))
	for _, n := range names {
		cap := Capability(n)
		if _, ok := accessorMethod[cap]; !ok && cap != CapBalance {
			return nil, fmt.Errorf("unknown capability %q", n)
		}
		caps[cap] = true
	}
	return caps, nil
}

func parseABI(abiJSON string) (abi.ABI, error) {
	if abiJSON == "" {
		abiJSON = defaultReadABI
	}
	return abi.JSON(strings.NewReader(abiJSON))
}

// Snapshot is a best-effort aggregate of one contract's on-chain state.
// Numeric fields are decimal strings; any field whose read failed or whose
// capability is undeclared holds its zero-value default.
type Snapshot struct {
	Contract       string    `json:"contract"`
	Address        string    `json:"address"`
	Kind           Kind      `json:"kind"`
	TotalSupply    string    `json:"totalSupply"`
	MaxSupply      string    `json:"maxSupply"`
	Price          string    `json:"price"`
	MintingEnabled bool      `json:"mintingEnabled"`
	BalanceWei     string    `json:"balanceWei"`
	Owner          string    `json:"owner"`
	Treasury       string    `json:"treasury"`
	ComputedAt     time.Time `json:"computedAt"`
}

func defaultSnapshot(c *RegisteredContract) Snapshot {
	return Snapshot{
		Contract:    c.Name,
		Address:     c.Address.Hex(),
		Kind:        c.Kind,
		TotalSupply: "0",
		MaxSupply:   "0",
		Price:       "0",
		BalanceWei:  "0",
		Owner:       zeroAddress,
		Treasury:    zeroAddress,
	}
}
