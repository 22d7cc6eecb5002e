package audit

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		path         string
		wantResource string
		wantID       string
		wantAction   string
	}{
		{
			name:         "submit job",
			method:       "POST",
			path:         "/api/jobs",
			wantResource: "job",
			wantAction:   "submit",
		},
		{
			name:         "stop job",
			method:       "POST",
			path:         "/api/jobs/42/stop",
			wantResource: "job",
			wantID:       "42",
			wantAction:   "stop",
		},
		{
			name:         "create watcher",
			method:       "POST",
			path:         "/api/watchers",
			wantResource: "watcher",
			wantAction:   "create",
		},
		{
			name:         "watcher status change",
			method:       "POST",
			path:         "/api/watchers/7/update-status",
			wantResource: "watcher",
			wantID:       "7",
			wantAction:   "update-status",
		},
		{
			name:         "watcher rescan",
			method:       "POST",
			path:         "/api/watchers/7/rescan",
			wantResource: "watcher",
			wantID:       "7",
			wantAction:   "rescan",
		},
		{
			name:         "non-api path",
			method:       "POST",
			path:         "/healthz",
			wantResource: "unknown",
			wantAction:   "post",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classify(tt.method, tt.path)
			if c.Resource != tt.wantResource {
				t.Errorf("resource = %q, want %q", c.Resource, tt.wantResource)
			}
			if c.ResourceID != tt.wantID {
				t.Errorf("resource id = %q, want %q", c.ResourceID, tt.wantID)
			}
			if c.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", c.Action, tt.wantAction)
			}
		})
	}
}

func TestIsMutating(t *testing.T) {
	if !isMutating("POST", "/api/jobs") {
		t.Error("expected POST /api/jobs to be audited")
	}
	if isMutating("GET", "/api/jobs") {
		t.Error("GET requests must not be audited")
	}
	if isMutating("POST", "/healthz") {
		t.Error("non-API paths must not be audited")
	}
}

func TestOutcomeFromStatus(t *testing.T) {
	if got := outcomeFromStatus(201); got != OutcomeSuccess {
		t.Errorf("outcomeFromStatus(201) = %q", got)
	}
	if got := outcomeFromStatus(409); got != OutcomeFailure {
		t.Errorf("outcomeFromStatus(409) = %q", got)
	}
}
