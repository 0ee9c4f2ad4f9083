package fetchcache

import "strings"

// FallbackFor returns the hardcoded substitute payload for a logical
// endpoint. Shapes mirror what the live backend serves so dashboards render
// identically on live and fallback data. Unknown endpoints get a minimal
// offline notice.
//
// A fresh map is built per call — callers may mutate the result freely.
func FallbackFor(endpoint string) any {
	// Strip any query string; fallbacks are keyed by path only.
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

	switch endpoint {
	case "/api/analytics":
		return map[string]any{
			"totalSupply": 77,
			"minted":      42,
			"holders":     29,
			"floorPrice":  "0.0777",
			"volumeEth":   "3.21",
			"revenueEth":  "2.59",
			"source":      "fallback",
		}
	case "/api/governance":
		return map[string]any{
			"activeProposals": 2,
			"totalVotes":      154,
			"quorum":          100,
			"participation":   0.63,
			"source":          "fallback",
		}
	case "/api/governance/proposals":
		return map[string]any{
			"proposals": []any{
				map[string]any{
					"id": 1, "title": "Expand the archive edition",
					"status": "active", "votesFor": 89, "votesAgainst": 12,
				},
				map[string]any{
					"id": 2, "title": "Route royalties to the community treasury",
					"status": "active", "votesFor": 41, "votesAgainst": 12,
				},
			},
			"source": "fallback",
		}
	case "/api/community":
		return map[string]any{
			"members": 1250,
			"online":  87,
			"posts":   342,
			"growth":  0.12,
			"source":  "fallback",
		}
	case "/api/liquidity":
		return map[string]any{
			"pools": []any{
				map[string]any{"pair": "TRUTH/ETH", "tvl": "125000", "apr": 0.18},
			},
			"totalTvl": "125000",
			"source":   "fallback",
		}
	case "/api/lawful":
		return map[string]any{
			"notices":    []any{},
			"compliance": "current",
			"source":     "fallback",
		}
	case "/api/unified-state":
		// Empty sections: merging this is a no-op, so a failed sync never
		// clobbers local state.
		return map[string]any{
			"sections": map[string]any{},
			"source":   "fallback",
		}
	default:
		return map[string]any{
			"message": "service temporarily unavailable",
			"source":  "fallback",
		}
	}
}
