package api

import (
	"net/http"
	"time"

	// This blank import is required by swaggo to find the API definitions.
	_ "openchat/backend/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Chat    *ChatHandler
	Models  *ModelHandler
	Keys    *KeyHandler
	Tokens  TokenValidator
	Limiter *RateLimiter
}

// NewRouter creates and configures a new chi router with all the application's routes.
func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()

	// --- Global Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Public Routes ---
	r.Get("/api/swagger/*", httpSwagger.WrapHandler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// --- API Version 1 Routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireAuth(h.Tokens))

		// Plain JSON routes get a request timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			// --- Conversations ---
			r.Get("/conversations", h.Chat.ListConversations)
			r.Post("/conversations", h.Chat.CreateConversation)
			r.Get("/conversations/{conversationID}", h.Chat.GetConversation)
			r.Put("/conversations/{conversationID}/title", h.Chat.UpdateConversationTitle)
			r.Delete("/conversations/{conversationID}", h.Chat.DeleteConversation)

			// --- Models ---
			r.Get("/models", h.Models.HandleListModels)
			r.Post("/models", h.Models.HandleCreateModel)
			r.Get("/models/allowed", h.Models.HandleAllowedModels)
			r.Get("/models/runtime", h.Models.HandleRuntimeModels)
			r.Put("/models/{name}", h.Models.HandleUpdateModel)
			r.Delete("/models/{name}", h.Models.HandleDeleteModel)

			// --- Keys and providers ---
			r.Get("/keys", h.Keys.HandleListKeys)
			r.Put("/keys/{provider}", h.Keys.HandleSetKey)
			r.Delete("/keys/{provider}", h.Keys.HandleDeleteKey)
			r.Get("/providers/{provider}/models", h.Keys.HandleProviderModels)
		})

		// Streaming routes must NOT have a timeout; the stream enforces its own.
		r.Group(func(r chi.Router) {
			if h.Limiter != nil {
				r.Use(h.Limiter.Middleware)
			}
			r.Post("/chat/stream", h.Chat.HandleStreamMessage)
		})
	})

	return r
}
