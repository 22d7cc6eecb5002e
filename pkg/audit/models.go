// Package audit records an action log of every mutating API call:
// job submissions and stops, watcher creation and lifecycle changes.
// Events are written best-effort by HTTP middleware and pruned by a
// retention worker.
package audit

import (
	"time"
)

// Outcome values for an audit event.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is a single recorded management action.
type Event struct {
	ID         string    `gorm:"primaryKey;column:id"`
	RequestID  string    `gorm:"column:request_id"`
	Method     string    `gorm:"column:method"`
	Path       string    `gorm:"column:path"`
	Resource   string    `gorm:"column:resource;index"`
	ResourceID string    `gorm:"column:resource_id"`
	Action     string    `gorm:"column:action;index"`
	Outcome    string    `gorm:"column:outcome;index"`
	StatusCode int       `gorm:"column:status_code"`
	RemoteAddr string    `gorm:"column:remote_addr"`
	DurationMS int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

func (Event) TableName() string { return "audit_events" }

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	if code >= 200 && code < 300 {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
