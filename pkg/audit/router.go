package audit

import (
	"github.com/go-chi/chi/v5"
)

// Routes builds the audit API router, mounted at /api/audit.
func Routes(store *Store) chi.Router {
	r := chi.NewRouter()
	r.Get("/", ListEventsHandler(store))
	r.Get("/{eventId}", GetEventHandler(store))
	return r
}
