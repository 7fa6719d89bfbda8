package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, handleWS http.HandlerFunc) {
	r.Get("/healthz", h.Health)
	if handleWS != nil {
		r.Get("/ws", handleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Conversations
		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Get("/conversations/{id}/messages", h.ListMessages)

		// The chat endpoint: one full turn.
		r.Post("/conversations/{id}/messages", h.SendMessage)

		// Memories
		r.Post("/memories", h.CreateMemory)
		r.Get("/memories", h.ListMemories)
		r.Get("/memories/stats", h.MemoryStats)
		r.Get("/memories/{id}", h.GetMemory)
		r.Put("/memories/{id}", h.UpdateMemory)
		r.Delete("/memories/{id}", h.DeleteMemory)
	})
}
