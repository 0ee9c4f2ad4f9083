package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/truth-ecosystem/truthd/internal/db"
)

// --- Input types ---

type emptyInput struct{}

type snapshotInput struct {
	Contract string `json:"contract" jsonschema:"registered contract name, e.g. the-truth"`
}

type eventsInput struct {
	Limit int `json:"limit" jsonschema:"max number of events to return (0 = 50)"`
}

type navigateInput struct {
	Panel string `json:"panel" jsonschema:"destination panel key: home, analytics, governance, community, liquidity or lawful"`
}

type upstreamInput struct {
	Endpoint string `json:"endpoint" jsonschema:"upstream API endpoint path, e.g. /api/governance"`
}

// registerTools adds all truthd MCP tools to the server.
func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_status",
		Description: "Full daemon status — ID, uptime, wallet, chain reader, coordinator",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_contracts",
		Description: "Registered contracts with their declared capabilities",
	}, s.handleContracts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_snapshot",
		Description: "Best-effort on-chain snapshot of one registered contract",
	}, s.handleSnapshot)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_analytics",
		Description: "Aggregate ecosystem analytics across all registered contracts",
	}, s.handleAnalytics)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_state",
		Description: "Current unified dashboard state — sections and navigation",
	}, s.handleState)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_events",
		Description: "Recently tracked analytics events",
	}, s.handleEvents)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_navigate",
		Description: "Navigate the session to a dashboard panel",
	}, s.handleNavigate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "truth_upstream",
		Description: "Fetch an upstream ecosystem endpoint through the cache (falls back when unreachable)",
	}, s.handleUpstream)
}

// --- Handlers ---

func (s *MCPServer) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	wallet := s.daemon.WalletStatus()
	chainStatus := s.chain.Status()
	coordStatus := s.coord.Status()

	eventCount, _ := db.CountEvents()

	var b strings.Builder
	fmt.Fprintf(&b, "# Truthd Status\n\n")
	fmt.Fprintf(&b, "**Node ID:** `%s`\n", s.daemon.NodeID())
	fmt.Fprintf(&b, "**Uptime:** %s\n", s.daemon.Uptime().Round(1e9))
	fmt.Fprintf(&b, "**Tracked events:** %d\n", eventCount)

	fmt.Fprintf(&b, "\n## Wallet\n")
	writeSorted(&b, wallet)

	fmt.Fprintf(&b, "\n## Chain Reader\n")
	writeSorted(&b, chainStatus)

	fmt.Fprintf(&b, "\n## Coordinator\n")
	writeSorted(&b, coordStatus)

	return textResult(b.String()), nil, nil
}

func (s *MCPServer) handleContracts(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	contracts := s.chain.Contracts()

	var b strings.Builder
	fmt.Fprintf(&b, "# Contracts (%d)\n\n", len(contracts))

	if len(contracts) == 0 {
		fmt.Fprintf(&b, "No contracts registered.\n")
	} else {
		fmt.Fprintf(&b, "| Name | Kind | Address | Capabilities |\n")
		fmt.Fprintf(&b, "|------|------|---------|-------------|\n")
		for _, c := range contracts {
			caps := c.Capabilities()
			sort.Strings(caps)
			fmt.Fprintf(&b, "| %s | %s | `%s` | %s |\n",
				c.Name, c.Kind, c.Address.Hex(), strings.Join(caps, ", "))
		}
	}

	return textResult(b.String()), nil, nil
}

func (s *MCPServer) handleSnapshot(ctx context.Context, _ *mcp.CallToolRequest, input snapshotInput) (*mcp.CallToolResult, any, error) {
	if input.Contract == "" {
		return errResult("contract is required"), nil, nil
	}

	snap, err := s.chain.Snapshot(ctx, input.Contract)
	if err != nil {
		return errResult(fmt.Sprintf("snapshot failed: %v", err)), nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Snapshot: %s\n\n", snap.Contract)
	fmt.Fprintf(&b, "- **Address:** `%s`\n", snap.Address)
	fmt.Fprintf(&b, "- **Kind:** %s\n", snap.Kind)
	fmt.Fprintf(&b, "- **Total supply:** %s\n", snap.TotalSupply)
	fmt.Fprintf(&b, "- **Max supply:** %s\n", snap.MaxSupply)
	fmt.Fprintf(&b, "- **Price (wei):** %s\n", snap.Price)
	fmt.Fprintf(&b, "- **Minting enabled:** %v\n", snap.MintingEnabled)
	fmt.Fprintf(&b, "- **Balance (wei):** %s\n", snap.BalanceWei)
	fmt.Fprintf(&b, "- **Owner:** `%s`\n", snap.Owner)
	fmt.Fprintf(&b, "- **Treasury:** `%s`\n", snap.Treasury)
	fmt.Fprintf(&b, "- **Computed:** %s\n", snap.ComputedAt.Format("2006-01-02 15:04:05 MST"))

	return textResult(b.String()), nil, nil
}

func (s *MCPServer) handleAnalytics(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	if !s.chain.Initialized() {
		return errResult("chain reader not initialized"), nil, nil
	}

	a := s.chain.AllContractsAnalytics(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "# Ecosystem Analytics\n\n")
	fmt.Fprintf(&b, "- **Contracts:** %d (%d skipped)\n", a.Contracts, a.Skipped)
	fmt.Fprintf(&b, "- **Total minted:** %s\n", a.TotalMinted)
	fmt.Fprintf(&b, "- **Revenue (wei):** %s\n", a.RevenueWei)
	fmt.Fprintf(&b, "- **Treasury (wei):** %s\n", a.TreasuryWei)
	fmt.Fprintf(&b, "- **Estimated holders:** %d\n", a.EstimatedHolders)

	return textResult(b.String()), nil, nil
}

func (s *MCPServer) handleState(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	snap := s.store.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "# Unified State\n\n")
	fmt.Fprintf(&b, "**Current panel:** %s\n", orDash(snap.Navigation.Current))
	fmt.Fprintf(&b, "**History entries:** %d\n", len(snap.Navigation.History))
	if !snap.LastUpdated.IsZero() {
		fmt.Fprintf(&b, "**Last updated:** %s\n", snap.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	}

	names := make([]string, 0, len(snap.Sections))
	for name := range snap.Sections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fields := snap.Sections[name]
		if len(fields) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", name)
		pretty, _ := json.MarshalIndent(fields, "", "  ")
		fmt.Fprintf(&b, "```json\n%s\n```\n", pretty)
	}

	return textResult(b.String()), nil, nil
}

func (s *MCPServer) handleEvents(_ context.Context, _ *mcp.CallToolRequest, input eventsInput) (*mcp.CallToolResult, any, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	events, err := db.GetRecentEvents(limit)
	if err != nil {
		return errResult(fmt.Sprintf("failed to get events: %v", err)), nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Tracked Events (%d)\n\n", len(events))

	if len(events) == 0 {
		fmt.Fprintf(&b, "No events tracked yet.\n")
	} else {
		fmt.Fprintf(&b, "| Event | Payload | Session |\n")
		fmt.Fprintf(&b, "|-------|---------|--------|\n")
		for _, e := range events {
			payload := "-"
			if e.Payload != nil {
				payload = *e.Payload
				if len(payload) > 40 {
					payload = payload[:40] + "..."
				}
			}
			session := "-"
			if e.SessionID != nil {
				session = *e.SessionID
				if len(session) > 8 {
					session = session[:8] + "..."
				}
			}
			fmt.Fprintf(&b, "| %s | `%s` | `%s` |\n", e.Event, payload, session)
		}
	}

	return textResult(b.String()), nil, nil
}

func (s *MCPServer) handleNavigate(_ context.Context, _ *mcp.CallToolRequest, input navigateInput) (*mcp.CallToolResult, any, error) {
	if input.Panel == "" {
		return errResult("panel is required"), nil, nil
	}

	if err := s.coord.NavigateTo(input.Panel, nil); err != nil {
		return errResult(fmt.Sprintf("navigation failed: %v", err)), nil, nil
	}

	return textResult(fmt.Sprintf("Navigated to **%s**.", s.coord.Active())), nil, nil
}

func (s *MCPServer) handleUpstream(ctx context.Context, _ *mcp.CallToolRequest, input upstreamInput) (*mcp.CallToolResult, any, error) {
	if !strings.HasPrefix(input.Endpoint, "/") {
		return errResult("endpoint must be an absolute path, e.g. /api/governance"), nil, nil
	}

	payload, live := s.fetch.Request(ctx, input.Endpoint, nil)
	source := "live"
	if !live {
		source = "fallback (upstream unreachable)"
	}

	pretty, _ := json.MarshalIndent(payload, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", input.Endpoint)
	fmt.Fprintf(&b, "**Source:** %s\n\n", source)
	fmt.Fprintf(&b, "```json\n%s\n```\n", pretty)

	return textResult(b.String()), nil, nil
}

// --- Helpers ---

func writeSorted(b *strings.Builder, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %v\n", k, m[k])
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
