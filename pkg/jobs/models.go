package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// statusWaiting is a legacy alias of queued still sent by older clients.
const statusWaiting = "waiting"

// ParseStatus normalizes a client-supplied status string. "waiting" maps to
// queued; anything else outside the enum is a validation error.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	if s == statusWaiting {
		return StatusQueued, nil
	}
	return "", query.Errorf(query.CodeValidation, "invalid job status %q", s)
}

// IsTerminal returns true for states with no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// Job is the GORM model for a tracked tool invocation.
type Job struct {
	ID          string `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name        string `gorm:"column:name;not null"`
	JobType     string `gorm:"column:job_type;index:idx_jobs_type_status,priority:1;not null"`
	Demands     string `gorm:"column:demands"` // JSON text, persisted verbatim
	Submitter   string `gorm:"column:submitter"`
	LocalFolder string `gorm:"column:local_folder"`
	WatcherID   *uint  `gorm:"column:watcher_id;index:idx_jobs_watcher"`
	WatcherName string `gorm:"column:watcher_name"`

	Status          Status `gorm:"column:status;index:idx_jobs_status;index:idx_jobs_type_status,priority:2;not null;default:queued"`
	StepsDone       int    `gorm:"column:steps_done;default:0"`
	TotalSteps      int    `gorm:"column:total_steps;default:0"`
	CancelRequested bool   `gorm:"column:cancel_requested;default:false"`
	ErrorDetail     string `gorm:"column:error_detail"`

	CreationTime   time.Time  `gorm:"column:creation_time;not null"`
	StartTime      *time.Time `gorm:"column:start_time"`
	CompletionTime *time.Time `gorm:"column:completion_time"`
}

// TableName returns the GORM table name.
func (Job) TableName() string { return "jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// Progress derives the fractional progress from the canonical step counts.
func (j *Job) Progress() float64 {
	if j.TotalSteps <= 0 {
		if j.Status == StatusCompleted {
			return 1
		}
		return 0
	}
	return float64(j.StepsDone) / float64(j.TotalSteps)
}

// NewID builds a timestamped job id matching the historical format,
// e.g. "20260901120000_<uuid>".
func NewID() string {
	return fmt.Sprintf("%s_%s", time.Now().Format("20060102150405"), uuid.New().String())
}
