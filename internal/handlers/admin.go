package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/veriflow/veriflow-backend/internal/services"
)

// Admin exposes the operational read surface: trace lookups, flow statistics
// and manual block management. All routes require the admin key middleware.
type Admin struct {
	recorder *services.Recorder
	sessions *services.Sessions
	limiter  *services.Limiter
	gateway  *Gateway
}

func NewAdmin(recorder *services.Recorder, sessions *services.Sessions, limiter *services.Limiter, gateway *Gateway) *Admin {
	return &Admin{recorder: recorder, sessions: sessions, limiter: limiter, gateway: gateway}
}

// GetTraces returns recent trace entries for an address, newest first.
// GET /api/admin/traces?address=<address>&limit=<n>
func (h *Admin) GetTraces(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}

	limit := int64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.recorder.ByAddress(r.Context(), address, limit)
	if err != nil {
		http.Error(w, "Failed to fetch traces: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"traces":  entries,
		"count":   len(entries),
	})
}

// GetTraceChain returns the full chain of one logical session, oldest first.
// GET /api/admin/traces/chain?correlation_id=<id>
func (h *Admin) GetTraceChain(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		http.Error(w, "correlation_id is required", http.StatusBadRequest)
		return
	}

	entries, err := h.recorder.ByCorrelationID(r.Context(), correlationID)
	if err != nil {
		http.Error(w, "Failed to fetch trace chain: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"traces":  entries,
		"count":   len(entries),
	})
}

// GetActiveTrace returns the most recent non-terminal entry for an address, or
// active=false when no verification is in flight.
// GET /api/admin/traces/active?address=<address>
func (h *Admin) GetActiveTrace(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}

	entry, err := h.recorder.ActiveByAddress(r.Context(), address)
	if err != nil {
		http.Error(w, "Failed to fetch active trace: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"active":  entry != nil,
		"trace":   entry,
	})
}

// GetStatistics returns trace counts per status plus live runtime gauges.
// GET /api/admin/statistics
func (h *Admin) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.recorder.Statistics(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch statistics: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":          true,
		"traces_by_status": stats,
		"live_sessions":    h.sessions.Count(),
		"chat_connections": h.gateway.ConnectedCount(),
	})
}

// GetBlockState returns whether an address is blocked and the block details.
// GET /api/admin/blocks?address=<address>
func (h *Admin) GetBlockState(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}

	blocked, entry, err := h.limiter.IsBlocked(r.Context(), address)
	if err != nil {
		http.Error(w, "Failed to check block state: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"blocked": blocked,
		"block":   entry,
	})
}

// UnblockAddress lifts the block on an address.
// PUT /api/admin/unblock?address=<address>
func (h *Admin) UnblockAddress(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}

	if err := h.limiter.Unblock(r.Context(), address); err != nil {
		http.Error(w, "Failed to unblock address: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Address unblocked successfully",
	})
}
