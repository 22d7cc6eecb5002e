package query

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes the standard failure envelope. Every handler failure goes
// through here so that clients always see {success:false, code, error}.
func WriteError(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	WriteJSON(w, HTTPStatus(code), map[string]any{
		"success": false,
		"code":    string(code),
		"error":   err.Error(),
	})
}

// ListEnvelope builds the standard list response. key names the collection
// ("jobs", "watchers", "files") so the envelope shape stays fixed per entity.
func ListEnvelope(key string, items any, totalSize, page, pageSize int) map[string]any {
	return map[string]any{
		key:         items,
		"totalSize": totalSize,
		"page":      page,
		"pageSize":  pageSize,
	}
}
