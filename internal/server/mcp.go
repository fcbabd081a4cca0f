package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/tools"
)

// MCPHandler serves the tool catalog and dispatch endpoints. The catalog is
// public; dispatch requires the shared bearer token.
type MCPHandler struct {
	registry *tools.Registry
	bearer   string
}

// NewMCPHandler creates the dispatch handler over a populated registry.
func NewMCPHandler(registry *tools.Registry, bearer string) *MCPHandler {
	return &MCPHandler{registry: registry, bearer: bearer}
}

// Routes returns the HTTP routes this handler serves.
func (h *MCPHandler) Routes() []string {
	return []string{"/mcp/tools", "/mcp/call"}
}

// callRequest is the dispatch request body.
type callRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/mcp/tools":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.catalog(w)
	case "/mcp/call":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.call(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *MCPHandler) catalog(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.registry.Catalog()})
}

// call dispatches one tool invocation. Tool-level failures ride in the
// envelope with HTTP 200; only transport problems use error status codes.
func (h *MCPHandler) call(w http.ResponseWriter, r *http.Request) {
	if !authorized(r, h.bearer) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid bearer token"})
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool name is required"})
		return
	}

	writeJSON(w, http.StatusOK, h.registry.Dispatch(r.Context(), req.Tool, req.Args))
}

// HealthHandler answers liveness probes with database reachability and the
// start time of the most recent worker job.
type HealthHandler struct {
	db   *sql.DB
	jobs *repositories.JobRepository
}

// NewHealthHandler creates the health probe handler.
func NewHealthHandler(db *sql.DB, jobs *repositories.JobRepository) *HealthHandler {
	return &HealthHandler{db: db, jobs: jobs}
}

// Routes returns the HTTP routes this handler serves.
func (h *HealthHandler) Routes() []string {
	return []string{"/health"}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "unreachable",
		})
		return
	}

	resp := map[string]any{"status": "ok", "database": "ok"}
	if runs, err := h.jobs.Latest("", 1); err == nil && len(runs) > 0 {
		resp["last_job_started_at"] = runs[0].StartedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
