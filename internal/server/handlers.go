// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/orchestrator"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/projection"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	orch    *orchestrator.Orchestrator
	store   *store.Store
	clients *ClientRegistry
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(orch *orchestrator.Orchestrator, st *store.Store, clients *ClientRegistry) *Handlers {
	return &Handlers{orch: orch, store: st, clients: clients, started: time.Now().UTC()}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil {
		body["context"] = err.Error()
	}
	writeJSON(w, status, body)
}

// runRequest is the body of POST /api/v1/runs. Fields mirror a work
// order; only the task is required.
type runRequest struct {
	Task         string                          `json:"task"`
	Lane         contract.ExecutionLane          `json:"lane,omitempty"`
	Workspace    contract.WorkspaceSpec          `json:"workspace,omitempty"`
	Context      contract.ContextPacket          `json:"context,omitempty"`
	Policy       contract.PolicyProfile          `json:"policy,omitempty"`
	Requirements contract.CapabilityRequirements `json:"requirements,omitempty"`
	Config       contract.RuntimeConfig          `json:"config,omitempty"`
}

func (req *runRequest) toWorkOrder() contract.WorkOrder {
	order := contract.NewWorkOrder(req.Task).Build()
	if req.Lane != "" {
		order.Lane = req.Lane
	}
	order.Workspace = req.Workspace
	order.Context = req.Context
	order.Policy = req.Policy
	order.Requirements = req.Requirements
	order.Config = req.Config
	return order
}

// StartRun handles POST /api/v1/runs. The run executes synchronously;
// events stream to subscribed WebSocket clients while it progresses and
// the full result, receipt included, comes back in the response.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "Task is required", nil)
		return
	}

	order := req.toWorkOrder()

	var sink orchestrator.EventSink
	if h.clients != nil {
		// The run ID is minted inside the orchestrator; the work order ID
		// is the only stable key at subscribe time, so events are keyed by
		// it until the receipt arrives.
		sink = func(ev contract.AgentEvent) {
			h.clients.Broadcast(order.ID, ev)
		}
	}

	result, err := h.orch.ExecuteWorkOrder(r.Context(), order, sink)
	if err != nil {
		var noBackend *projection.NoSuitableBackendError
		var capErr *orchestrator.CapabilityError
		switch {
		case errors.Is(err, projection.ErrEmptyMatrix):
			writeError(w, http.StatusServiceUnavailable, "No backends registered", err)
		case errors.As(err, &noBackend), errors.As(err, &capErr):
			writeError(w, http.StatusUnprocessableEntity, "No backend satisfies the work order", err)
		default:
			writeError(w, http.StatusInternalServerError, "Run failed before dispatch", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetReceipt handles GET /api/v1/receipts/{runId}.
func (h *Handlers) GetReceipt(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Receipt store not configured", nil)
		return
	}
	runID := chi.URLParam(r, "runId")

	receipt, err := h.store.Get(r.Context(), runID)
	if err != nil {
		var tamper *store.TamperError
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Receipt not found", nil)
		case errors.As(err, &tamper):
			writeError(w, http.StatusConflict, "Receipt failed hash verification", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to load receipt", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// ListReceipts handles GET /api/v1/receipts. An optional work_order_id
// query scopes the listing to one work order; limit caps the result.
func (h *Handlers) ListReceipts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Receipt store not configured", nil)
		return
	}

	if workOrderID := r.URL.Query().Get("work_order_id"); workOrderID != "" {
		receipts, err := h.store.GetByWorkOrder(r.Context(), workOrderID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load receipts", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"receipts": receipts})
		return
	}

	const maxLimit = 500
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}

	records, err := h.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"receipts": records})
}

// backendInfo is one entry in the GET /api/v1/backends response.
type backendInfo struct {
	ID           string                      `json:"id"`
	Dialect      string                      `json:"dialect"`
	Priority     uint32                      `json:"priority"`
	Capabilities contract.CapabilityManifest `json:"capabilities"`
}

// GetBackends handles GET /api/v1/backends.
func (h *Handlers) GetBackends(w http.ResponseWriter, r *http.Request) {
	registry := h.orch.Registry()

	backends := make([]backendInfo, 0, registry.Len())
	for _, name := range registry.Names() {
		b, ok := registry.Get(name)
		if !ok {
			continue
		}
		backends = append(backends, backendInfo{
			ID:           b.Identity().ID,
			Dialect:      string(b.Dialect()),
			Priority:     b.Priority(),
			Capabilities: b.Capabilities(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"backends": backends})
}

// GetStats handles GET /api/v1/stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Receipt store not configured", nil)
		return
	}

	counts, err := h.store.CountByOutcome(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"receipts_by_outcome": counts})
}

// GetHealth handles GET /api/v1/health.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"contract_version": contract.Version,
		"backends":         h.orch.Registry().Len(),
		"workers":          h.orch.Health(),
		"uptime_seconds":   int64(time.Since(h.started).Seconds()),
		"time":             time.Now().UTC().Format(time.RFC3339),
	})
}
