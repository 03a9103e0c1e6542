package api

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(h *Handler, authEnabled bool, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/accounts/{accountID}", func(r chi.Router) {
		// Change journal.
		r.Get("/changes", h.ListChanges)
		r.Post("/changes", h.SubmitChanges)

		// Notes sub-ledger.
		r.Post("/changes/{changeID}/notes", h.AddNote)
		r.Put("/changes/{changeID}/notes/{noteID}", h.EditNote)
		r.Delete("/changes/{changeID}/notes/{noteID}", h.DeleteNote)

		// Snapshots and on-demand re-check.
		r.Get("/snapshots", h.ListSnapshots)
		r.Get("/analytics", h.Analytics)
		r.Get("/name", h.AccountName)
		r.Post("/check", h.CheckAccount)
	})

	return r
}
