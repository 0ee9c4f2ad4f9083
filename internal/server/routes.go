package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/truth-ecosystem/truthd/internal/coordinator"
	"github.com/truth-ecosystem/truthd/internal/db"
	"github.com/truth-ecosystem/truthd/internal/fetchcache"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/governance", s.proxyEndpoint("/api/governance"))
	mux.HandleFunc("GET /api/governance/proposals", s.proxyEndpoint("/api/governance/proposals"))
	mux.HandleFunc("GET /api/community", s.proxyEndpoint("/api/community"))
	mux.HandleFunc("GET /api/liquidity", s.proxyEndpoint("/api/liquidity"))
	mux.HandleFunc("GET /api/lawful", s.proxyEndpoint("/api/lawful"))

	mux.HandleFunc("GET /api/unified-state", s.handleUnifiedState)
	mux.HandleFunc("GET /api/contracts", s.handleContracts)
	mux.HandleFunc("GET /api/contracts/{name}/snapshot", s.handleContractSnapshot)
	mux.HandleFunc("GET /api/contracts/{name}/events", s.handleContractEvents)
	mux.HandleFunc("GET /api/navigation", s.handleNavigation)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("POST /api/navigate", s.handleNavigate)
	mux.HandleFunc("POST /api/track-event", s.handleTrackEvent)
	mux.HandleFunc("POST /api/governance/vote", s.handleVote)

	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /ws/state", s.handleWS)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"version":   "0.1.0",
		"node_id":   s.daemon.NodeID()[:16],
		"uptime_ms": s.daemon.Uptime().Milliseconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	eventCount, _ := db.CountEvents()

	status := map[string]interface{}{
		"node_id":     s.daemon.NodeID(),
		"uptime_ms":   s.daemon.Uptime().Milliseconds(),
		"wallet":      s.daemon.WalletStatus(),
		"chain":       s.chain.Status(),
		"coordinator": s.coord.Status(),
		"events":      map[string]int{"tracked": eventCount},
		"ws_clients":  s.hub.ClientCount(),
	}

	if rec, err := db.LastSyncRecord(); err == nil {
		status["last_sync"] = rec
	}

	writeJSON(w, status)
}

// proxyEndpoint serves an upstream ecosystem endpoint through the fetch
// cache. The X-Truthd-Source header distinguishes live data from fallback.
func (s *Server) proxyEndpoint(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, live := s.fetch.Request(r.Context(), endpoint, nil)
		source := "live"
		if !live {
			source = "fallback"
		}
		w.Header().Set("X-Truthd-Source", source)
		writeJSON(w, payload)
	}
}

// handleAnalytics combines the upstream analytics payload with on-chain
// aggregates. Either half degrades independently.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	payload, live := s.fetch.Request(r.Context(), "/api/analytics", nil)
	source := "live"
	if !live {
		source = "fallback"
	}

	resp := map[string]interface{}{
		"server": payload,
		"source": source,
	}
	if s.chain.Initialized() {
		resp["chain"] = s.chain.AllContractsAnalytics(r.Context())
	}
	writeJSON(w, resp)
}

func (s *Server) handleUnifiedState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Snapshot())
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	contracts := s.chain.Contracts()
	out := make([]map[string]interface{}, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, map[string]interface{}{
			"name":         c.Name,
			"address":      c.Address.Hex(),
			"kind":         c.Kind,
			"capabilities": c.Capabilities(),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleContractSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap, err := s.chain.Snapshot(r.Context(), name)
	if err != nil {
		writeError(w, 404, err.Error())
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleContractEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := queryInt(r, "limit", 50)
	events, err := db.GetRecentChainEvents(name, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []db.ChainEvent{}
	}
	writeJSON(w, events)
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"session_id": s.coord.SessionID(),
		"panels":     s.coord.Panels(),
		"navigation": s.store.Snapshot().Navigation,
	}
	if slot, err := s.coord.Handoff(); err == nil {
		resp["handoff"] = slot
	}
	writeJSON(w, resp)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Panel   string         `json:"panel"`
		Path    string         `json:"path"`
		Context map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}

	key := req.Panel
	if key == "" && req.Path != "" {
		resolved, ok := coordinator.PanelForPath(req.Path)
		if !ok {
			writeError(w, 400, "unknown path "+req.Path)
			return
		}
		key = resolved
	}

	if err := s.coord.NavigateTo(key, req.Context); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"active":     s.coord.Active(),
		"navigation": s.store.Snapshot().Navigation,
	})
}

func (s *Server) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	if req.Event == "" {
		writeError(w, 400, "event name required")
		return
	}

	e := &db.TrackedEvent{Event: req.Event}
	if req.Payload != nil {
		if b, err := json.Marshal(req.Payload); err == nil {
			p := string(b)
			e.Payload = &p
		}
	}
	session := s.coord.SessionID()
	e.SessionID = &session

	if err := db.InsertEvent(e); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	s.metrics.EventsTracked.Inc()

	// Best-effort upstream forward; local journal is the source of truth.
	body, _ := json.Marshal(map[string]any{
		"event":      req.Event,
		"payload":    req.Payload,
		"session_id": session,
	})
	go s.forwardUpstream("/api/track-event", body)

	writeJSON(w, map[string]interface{}{"tracked": true})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProposalID int  `json:"proposalId"`
		Vote       bool `json:"vote"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	if req.ProposalID <= 0 {
		writeError(w, 400, "proposalId required")
		return
	}

	// The backend's vote contract: proposalId + vote, nothing else.
	body, _ := json.Marshal(map[string]any{
		"proposalId": req.ProposalID,
		"vote":       req.Vote,
	})
	payload, live := s.fetch.Request(r.Context(), "/api/governance/vote", &fetchcache.Options{
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})

	detail := string(body)
	e := &db.TrackedEvent{Event: "governance_vote", Payload: &detail}
	session := s.coord.SessionID()
	e.SessionID = &session
	if err := db.InsertEvent(e); err != nil {
		writeError(w, 500, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"accepted": live,
		"result":   payload,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events, err := db.GetRecentEvents(limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []db.TrackedEvent{}
	}
	writeJSON(w, events)
}

func (s *Server) forwardUpstream(endpoint string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.fetch.Request(ctx, endpoint, &fetchcache.Options{
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
