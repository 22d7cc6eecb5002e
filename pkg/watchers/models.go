package watchers

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a watcher.
type Status string

const (
	StatusMonitoring Status = "monitoring"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusMonitoring:
		return StatusMonitoring, nil
	case StatusPaused:
		return StatusPaused, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusCancelled:
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown watcher status %q", s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the state machine allows from -> to.
// Paused watchers may be cancelled directly; they only reach completed by
// resuming and capturing the remaining files.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case StatusMonitoring:
		return to == StatusCompleted || to == StatusCancelled || to == StatusPaused
	case StatusPaused:
		return to == StatusMonitoring || to == StatusCancelled
	}
	return false
}

// FileDelimiter separates the globs in a watcher's file_pattern column.
const FileDelimiter = ";"

// Watcher is a folder poller that captures instrument output files and
// optionally spawns a job per captured file.
type Watcher struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	FolderPath    string `gorm:"not null"`
	FilePattern   string `gorm:"not null"` // semicolon-separated glob list
	JobType       string
	JobDemands    string // JSON text, forwarded verbatim to spawned jobs
	JobNamePrefix string
	Status        Status `gorm:"index;not null"`
	ExpectedCount int    // 0 means open-ended

	CreationTime   time.Time
	ExecutionTime  *time.Time // last poll that captured at least one file
	CompletionTime *time.Time

	// CapturedCount is derived from the ledger, not stored.
	CapturedCount int `gorm:"-"`
}

// TableName returns the GORM table name.
func (Watcher) TableName() string { return "watchers" }

// IsTerminal returns true if the watcher is in a terminal state.
func (w *Watcher) IsTerminal() bool { return w.Status.IsTerminal() }

// Patterns splits the stored pattern list on the delimiter.
func (w *Watcher) Patterns() []string {
	var out []string
	for _, p := range strings.Split(w.FilePattern, FileDelimiter) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExactPatterns returns the patterns that name a single file rather than a
// glob. Exact names double as the expected-file set.
func (w *Watcher) ExactPatterns() []string {
	var out []string
	for _, p := range w.Patterns() {
		if !strings.ContainsAny(p, "*?[") {
			out = append(out, p)
		}
	}
	return out
}

// FileStatus is the capture state of a ledger entry.
type FileStatus string

const (
	FilePending  FileStatus = "pending"
	FileCaptured FileStatus = "captured"
)

// CapturedFile is one row of the capture ledger. Rows are appended in
// discovery order and never mutated once captured.
type CapturedFile struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	WatcherID uint   `gorm:"uniqueIndex:idx_watcher_file;index"`
	FileName  string `gorm:"uniqueIndex:idx_watcher_file;not null"`
	JobID     string `gorm:"index"` // job spawned for this file, if any
	FilePath  string
	Status    FileStatus `gorm:"not null"`

	CaptureTime *time.Time // nil while pending
}

// TableName returns the GORM table name.
func (CapturedFile) TableName() string { return "captured_files" }
