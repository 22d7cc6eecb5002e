package audit

import (
	"strings"
)

// classification is the resource/action breakdown of a mutating API path.
type classification struct {
	Resource   string
	ResourceID string
	Action     string
}

// classify maps a mutating API request to its audited resource and action.
// Recognized paths:
//
//	POST /api/jobs                              job    submit
//	POST /api/jobs/{id}/stop                    job    stop
//	POST /api/watchers                          watcher create
//	POST /api/watchers/{id}/update-status       watcher update-status
//	POST /api/watchers/{id}/rescan              watcher rescan
//
// Unrecognized paths fall back to the second path segment as the resource
// and the lowercased method as the action.
func classify(method, path string) classification {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return classification{Resource: "unknown", Action: strings.ToLower(method)}
	}

	resource := strings.TrimSuffix(parts[1], "s")
	c := classification{Resource: resource, Action: strings.ToLower(method)}

	switch len(parts) {
	case 2:
		// Collection-level POST.
		switch resource {
		case "job":
			c.Action = "submit"
		case "watcher":
			c.Action = "create"
		}
	case 4:
		c.ResourceID = parts[2]
		c.Action = parts[3]
	}

	return c
}

// isMutating reports whether a request should be audited.
func isMutating(method, path string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return strings.HasPrefix(path, "/api/")
	}
	return false
}
