package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/veriflow/veriflow-backend/internal/handlers"
	"github.com/veriflow/veriflow-backend/internal/middleware"
)

// Deps bundles the handler set the router needs.
type Deps struct {
	Webhook      *handlers.Webhook
	Gateway      *handlers.Gateway
	Admin        *handlers.Admin
	AdminKeyHash string
}

func SetupRoutes(r *chi.Mux, deps Deps) {
	// Inbound chat messages pushed by the external chat provider
	r.Post("/api/chat/inbound", deps.Webhook.Inbound)

	// WebSocket endpoint for direct chat clients (console, embedded widget)
	r.Get("/ws/chat", deps.Gateway.ServeWS)

	// Admin routes (trace lookups, statistics, block management)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(deps.AdminKeyHash))

		r.Get("/api/admin/traces", deps.Admin.GetTraces)
		r.Get("/api/admin/traces/chain", deps.Admin.GetTraceChain)
		r.Get("/api/admin/traces/active", deps.Admin.GetActiveTrace)
		r.Get("/api/admin/statistics", deps.Admin.GetStatistics)
		r.Get("/api/admin/blocks", deps.Admin.GetBlockState)
		r.Put("/api/admin/unblock", deps.Admin.UnblockAddress)
	})
}
