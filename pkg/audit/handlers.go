package audit

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

// ListEventsHandler handles GET /api/audit.
// Query params: resource, action, outcome, plus the standard list options.
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := query.ParseListOptions(r, SortColumns, "created_at")
		if err != nil {
			query.WriteError(w, err)
			return
		}
		if r.URL.Query().Get("order") == "" {
			opts.Ascending = false
		}

		filter := ListFilter{
			Resource: r.URL.Query().Get("resource"),
			Action:   r.URL.Query().Get("action"),
			Outcome:  r.URL.Query().Get("outcome"),
		}

		events, total, err := store.List(opts, filter)
		if err != nil {
			query.WriteError(w, query.Errorf(query.CodeUnknown, "listing audit events: %v", err))
			return
		}

		items := make([]eventResponse, len(events))
		for i := range events {
			items[i] = toEventResponse(&events[i])
		}
		query.WriteJSON(w, http.StatusOK,
			query.ListEnvelope("events", items, int(total), opts.Page, opts.PageSize))
	}
}

// GetEventHandler handles GET /api/audit/{eventId}.
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "eventId")
		ev, err := store.Get(id)
		if err != nil {
			query.WriteError(w, query.Errorf(query.CodeUnknown, "loading audit event: %v", err))
			return
		}
		if ev == nil {
			query.WriteError(w, query.Errorf(query.CodeNotFound, "audit event %q not found", id))
			return
		}
		query.WriteJSON(w, http.StatusOK, toEventResponse(ev))
	}
}

type eventResponse struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Resource   string `json:"resource"`
	ResourceID string `json:"resource_id,omitempty"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
	StatusCode int    `json:"status_code"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

func toEventResponse(ev *Event) eventResponse {
	return eventResponse{
		ID:         ev.ID,
		RequestID:  ev.RequestID,
		Method:     ev.Method,
		Path:       ev.Path,
		Resource:   ev.Resource,
		ResourceID: ev.ResourceID,
		Action:     ev.Action,
		Outcome:    ev.Outcome,
		StatusCode: ev.StatusCode,
		RemoteAddr: ev.RemoteAddr,
		DurationMS: ev.DurationMS,
		CreatedAt:  ev.CreatedAt.Format(time.RFC3339),
	}
}
