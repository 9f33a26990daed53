package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/veriflow/veriflow-backend/internal/services"
)

// Webhook receives inbound chat messages pushed by an external chat provider
// (WhatsApp BSP, SMS gateway, etc.).
type Webhook struct {
	orchestrator *services.Orchestrator
}

func NewWebhook(orchestrator *services.Orchestrator) *Webhook {
	return &Webhook{orchestrator: orchestrator}
}

// Inbound handles POST /api/chat/inbound. The provider retries on non-2xx, so
// per-conversation failures are answered in-channel and still return 202; only
// malformed requests are rejected.
func (h *Webhook) Inbound(w http.ResponseWriter, r *http.Request) {
	var msg services.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(msg.Address) == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	if msg.ChannelID == "" {
		msg.ChannelID = "webhook"
	}

	if err := h.orchestrator.HandleMessage(r.Context(), msg); err != nil {
		http.Error(w, "Failed to process message: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
	})
}
