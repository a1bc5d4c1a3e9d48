package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// noticesHandler, if non-nil, is mounted at GET /notices inside the auth
// group so only privileged viewers can watch the stream.
func NewRouter(h *Handler, authEnabled bool, token string, noticesHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Relay transport for remote peers.
	r.Post("/ops/{op}", h.RelayOp)

	// Peer-visible surface: the creation entry point and container opening.
	r.Post("/entry/{ownerID}", h.TriggerEntry)
	r.Get("/containers/{id}", h.OpenContainer)

	// Read-oriented catalog view.
	r.Get("/catalog", h.Catalog)

	// Privileged notices stream.
	if noticesHandler != nil {
		r.Get("/notices", noticesHandler.ServeHTTP)
	}

	return r
}
