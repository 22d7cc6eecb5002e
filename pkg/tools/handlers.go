package tools

import (
	"net/http"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

// toolResponse describes one registered tool for the submit form.
type toolResponse struct {
	Type            string   `json:"type"`
	RequiredDemands []string `json:"required_demands,omitempty"`
	TotalSteps      int      `json:"total_steps"`
	Simulate        bool     `json:"simulate,omitempty"`
}

// ListToolsHandler handles GET /api/tools. The registry is fixed at startup,
// so responses are safe to cache.
func ListToolsHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types := registry.Types()
		items := make([]toolResponse, 0, len(types))
		for _, jobType := range types {
			spec, ok := registry.Spec(jobType)
			if !ok {
				continue
			}
			items = append(items, toolResponse{
				Type:            spec.Type,
				RequiredDemands: spec.RequiredDemands,
				TotalSteps:      spec.TotalSteps,
				Simulate:        spec.Simulate,
			})
		}
		query.WriteJSON(w, http.StatusOK, map[string]any{
			"tools":     items,
			"totalSize": len(items),
		})
	}
}
