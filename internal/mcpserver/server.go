package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/truth-ecosystem/truthd/internal/chain"
	"github.com/truth-ecosystem/truthd/internal/coordinator"
	"github.com/truth-ecosystem/truthd/internal/fetchcache"
	"github.com/truth-ecosystem/truthd/internal/state"
)

// DaemonInfo provides read-only access to daemon state for MCP tools.
type DaemonInfo interface {
	NodeID() string
	Uptime() time.Duration
	WalletStatus() map[string]interface{}
}

// MCPServer wraps the MCP protocol server with truthd tools.
type MCPServer struct {
	server *mcp.Server
	daemon DaemonInfo
	chain  *chain.Service
	fetch  *fetchcache.Cache
	store  *state.Store
	coord  *coordinator.Coordinator
}

// New creates an MCP server with all truthd tools registered.
func New(version string, daemon DaemonInfo, chainSvc *chain.Service,
	fetch *fetchcache.Cache, store *state.Store, coord *coordinator.Coordinator) *MCPServer {

	s := &MCPServer{
		daemon: daemon,
		chain:  chainSvc,
		fetch:  fetch,
		store:  store,
		coord:  coord,
		server: mcp.NewServer(
			&mcp.Implementation{
				Name:    "truthd",
				Version: version,
			},
			&mcp.ServerOptions{
				Instructions: "The Truth ecosystem daemon. Provides tools to query contract snapshots, ecosystem analytics, the unified dashboard state, tracked events, and to navigate between dashboards.",
			},
		),
	}
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects.
func (s *MCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
