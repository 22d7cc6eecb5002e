package jobs

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

// Store provides database operations for jobs. It is the single writer for
// job status, progress, and timestamps; handlers and engines both go through
// it so the state machine is enforced in one place.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the jobs table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Job{})
}

// SortColumns maps accepted sortBy values to ORDER BY expressions.
// Progress sorts by the derived fraction so jobs with different step totals
// compare correctly.
var SortColumns = map[string]string{
	"id":            "id",
	"name":          "name",
	"status":        "status",
	"type":          "job_type",
	"progress":      "(CASE WHEN total_steps > 0 THEN 1.0 * steps_done / total_steps ELSE 0 END)",
	"creation_time": "creation_time",
}

// Submit persists a new queued job. ID and creation time are filled in when
// absent. Validation of the job type and demands happens before this call.
func (s *Store) Submit(job *Job) error {
	if job.ID == "" {
		job.ID = NewID()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.CreationTime.IsZero() {
		job.CreationTime = time.Now()
	}
	if err := s.db.Create(job).Error; err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID. Returns nil when the job does not exist.
func (s *Store) Get(jobID string) (*Job, error) {
	var job Job
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// List returns one page of jobs plus the unpaginated match count.
func (s *Store) List(opts query.ListOptions) ([]Job, int, error) {
	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&Job{})
		if len(opts.Statuses) > 0 {
			statuses := make([]Status, 0, len(opts.Statuses))
			for _, raw := range opts.Statuses {
				st, err := ParseStatus(raw)
				if err != nil {
					continue // unknown filter values match nothing extra
				}
				statuses = append(statuses, st)
			}
			q = q.Where("status IN ?", statuses)
		}
		if opts.Search != "" {
			like := "%" + opts.Search + "%"
			q = q.Where(
				"LOWER(id) LIKE LOWER(?) OR LOWER(name) LIKE LOWER(?) OR LOWER(job_type) LIKE LOWER(?) OR LOWER(status) LIKE LOWER(?) OR LOWER(submitter) LIKE LOWER(?) OR LOWER(watcher_name) LIKE LOWER(?)",
				like, like, like, like, like, like)
		}
		return q
	}

	var total int64
	if err := buildQuery(s.db).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	var records []Job
	err := buildQuery(s.db).
		Order(opts.OrderClause()).
		Offset(opts.Offset()).
		Limit(opts.PageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	return records, int(total), nil
}

// UpdateStatus applies a state-machine transition. Invalid transitions fail
// with an invalid_transition error and leave the job unchanged.
func (s *Store) UpdateStatus(jobID string, to Status) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return query.Errorf(query.CodeNotFound, "job %q not found", jobID)
			}
			return fmt.Errorf("load job: %w", err)
		}

		if !CanTransition(job.Status, to) {
			return query.Errorf(query.CodeInvalidTransition,
				"job %s cannot transition from %s to %s", jobID, job.Status, to)
		}

		updates := map[string]any{"status": to}
		now := time.Now()
		if to == StatusRunning {
			updates["start_time"] = now
		}
		if to.IsTerminal() {
			updates["completion_time"] = now
		}
		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// Claim atomically picks the oldest queued job without a pending cancel and
// transitions it to running. Returns nil if no jobs are available.
func (s *Store) Claim() (*Job, error) {
	var job Job

	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("status = ? AND cancel_requested = ?", StatusQueued, false).
			Order("creation_time ASC, id ASC").
			Limit(1).
			First(&job)
		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				return nil
			}
			return result.Error
		}

		now := time.Now()
		return tx.Model(&Job{}).Where("id = ? AND status = ?", job.ID, StatusQueued).
			Updates(map[string]any{
				"status":     StatusRunning,
				"start_time": now,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if job.ID == "" {
		return nil, nil
	}

	if err := s.db.First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// RequestCancel records a cancel request. Terminal jobs are rejected with
// invalid_transition. The returned job reflects the state before the flag
// was set, so callers can tell whether a process needs signalling.
func (s *Store) RequestCancel(jobID string) (*Job, error) {
	var job Job
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return query.Errorf(query.CodeNotFound, "job %q not found", jobID)
			}
			return fmt.Errorf("load job: %w", err)
		}
		if job.IsTerminal() {
			return query.Errorf(query.CodeInvalidTransition,
				"job %s is already %s", jobID, job.Status)
		}
		return tx.Model(&Job{}).Where("id = ?", jobID).
			Update("cancel_requested", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Progress records step progress. Steps only move forward: stale updates
// from an earlier poll never decrease the stored count.
func (s *Store) Progress(jobID string, stepsDone int) error {
	result := s.db.Model(&Job{}).
		Where("id = ? AND status = ? AND steps_done < ?", jobID, StatusRunning, stepsDone).
		Update("steps_done", stepsDone)
	if result.Error != nil {
		return fmt.Errorf("update progress: %w", result.Error)
	}
	return nil
}

// CompleteIfNotCancelled marks a running job completed unless a cancel was
// accepted first; the earlier cancel wins the race. Returns true if the job
// was completed.
func (s *Store) CompleteIfNotCancelled(jobID string) (bool, error) {
	now := time.Now()
	result := s.db.Model(&Job{}).
		Where("id = ? AND status = ? AND cancel_requested = ?", jobID, StatusRunning, false).
		Updates(map[string]any{
			"status":          StatusCompleted,
			"completion_time": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("complete job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Fail marks a running job failed with the captured error detail.
func (s *Store) Fail(jobID, detail string) error {
	now := time.Now()
	result := s.db.Model(&Job{}).
		Where("id = ? AND status = ?", jobID, StatusRunning).
		Updates(map[string]any{
			"status":          StatusFailed,
			"error_detail":    detail,
			"completion_time": now,
		})
	if result.Error != nil {
		return fmt.Errorf("fail job: %w", result.Error)
	}
	return nil
}

// FinalizeCancel moves a job to cancelled after its process is confirmed
// stopped (or when it never started).
func (s *Store) FinalizeCancel(jobID string) error {
	now := time.Now()
	result := s.db.Model(&Job{}).
		Where("id = ? AND status IN ?", jobID, []Status{StatusQueued, StatusRunning}).
		Updates(map[string]any{
			"status":          StatusCancelled,
			"completion_time": now,
		})
	if result.Error != nil {
		return fmt.Errorf("finalize cancel: %w", result.Error)
	}
	return nil
}

// CancelQueuedRequested finalizes queued jobs whose cancel was accepted
// before a worker claimed them. There is no process to stop, so they go
// straight to cancelled. Returns the number of jobs cancelled.
func (s *Store) CancelQueuedRequested() (int64, error) {
	now := time.Now()
	result := s.db.Model(&Job{}).
		Where("status = ? AND cancel_requested = ?", StatusQueued, true).
		Updates(map[string]any{
			"status":          StatusCancelled,
			"completion_time": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cancel queued jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RecoverInterrupted fails jobs left in running by an unclean shutdown.
// Called once at startup before workers begin claiming.
func (s *Store) RecoverInterrupted() (int64, error) {
	now := time.Now()
	result := s.db.Model(&Job{}).
		Where("status = ?", StatusRunning).
		Updates(map[string]any{
			"status":          StatusFailed,
			"error_detail":    "interrupted by server restart",
			"completion_time": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupStuck fails running jobs whose start_time is older than timeout.
// Jobs wrapping external processes are not safely retryable, so stuck jobs
// fail instead of being requeued.
func (s *Store) CleanupStuck(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	result := s.db.Model(&Job{}).
		Where("status = ? AND start_time < ?", StatusRunning, cutoff).
		Updates(map[string]any{
			"status":          StatusFailed,
			"error_detail":    "timed out (stuck job recovery)",
			"completion_time": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
