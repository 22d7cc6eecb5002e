package watchers

import (
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

// Store persists watchers and their capture ledger. It is the only writer of
// watcher status and ledger rows.
type Store struct {
	db *gorm.DB
}

// NewStore creates a watcher store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the watchers and captured_files tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Watcher{}, &CapturedFile{})
}

// SortColumns maps accepted sortBy values to ORDER BY expressions.
var SortColumns = map[string]string{
	"id":            "id",
	"folder_path":   "folder_path",
	"file_pattern":  "file_pattern",
	"status":        "status",
	"type":          "job_type",
	"creation_time": "creation_time",
	"captured_count": "(SELECT COUNT(*) FROM captured_files cf" +
		" WHERE cf.watcher_id = watchers.id AND cf.status = 'captured')",
}

// FileSortColumns maps accepted sortBy values for captured-file listings.
var FileSortColumns = map[string]string{
	"file_name":    "file_name",
	"file_path":    "file_path",
	"capture_time": "capture_time",
	"status":       "status",
}

// Create validates and persists a new watcher in monitoring state. A missing
// folder is created when possible; an uncreatable or unreadable path is a
// path_error. Exact patterns are pre-registered as pending ledger rows.
func (s *Store) Create(w *Watcher) error {
	if w.FolderPath == "" {
		return query.Errorf(query.CodeValidation, "missing folder_path")
	}
	if w.FilePattern == "" {
		return query.Errorf(query.CodeValidation, "missing file_pattern")
	}
	if len(w.Patterns()) == 0 {
		return query.Errorf(query.CodeValidation, "file_pattern %q contains no usable patterns", w.FilePattern)
	}

	info, err := os.Stat(w.FolderPath)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(w.FolderPath, 0o755); err != nil {
			return query.Errorf(query.CodePath, "folder %q does not exist and could not be created: %v", w.FolderPath, err)
		}
	case err != nil:
		return query.Errorf(query.CodePath, "folder %q is not accessible: %v", w.FolderPath, err)
	case !info.IsDir():
		return query.Errorf(query.CodePath, "%q is not a directory", w.FolderPath)
	}

	w.Status = StatusMonitoring
	if w.CreationTime.IsZero() {
		w.CreationTime = time.Now()
	}
	if w.ExpectedCount == 0 {
		w.ExpectedCount = len(w.ExactPatterns())
	}

	if err := s.db.Create(w).Error; err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	return s.EnsurePending(w)
}

// Get retrieves a watcher by ID with its derived captured count. Returns nil
// when the watcher does not exist.
func (s *Store) Get(id uint) (*Watcher, error) {
	var w Watcher
	if err := s.db.First(&w, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get watcher: %w", err)
	}
	count, err := s.CapturedCount(id)
	if err != nil {
		return nil, err
	}
	w.CapturedCount = count
	return &w, nil
}

// List returns a page of watchers with derived captured counts.
func (s *Store) List(opts query.ListOptions) ([]Watcher, int, error) {
	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&Watcher{})
		if len(opts.Statuses) > 0 {
			statuses := make([]Status, 0, len(opts.Statuses))
			for _, raw := range opts.Statuses {
				st, err := ParseStatus(raw)
				if err != nil {
					continue
				}
				statuses = append(statuses, st)
			}
			q = q.Where("status IN ?", statuses)
		}
		if opts.Search != "" {
			like := "%" + opts.Search + "%"
			q = q.Where(
				"LOWER(folder_path) LIKE LOWER(?) OR LOWER(file_pattern) LIKE LOWER(?) OR LOWER(job_type) LIKE LOWER(?) OR LOWER(job_name_prefix) LIKE LOWER(?) OR LOWER(status) LIKE LOWER(?)",
				like, like, like, like, like)
		}
		return q
	}

	var total int64
	if err := buildQuery(s.db).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count watchers: %w", err)
	}

	var records []Watcher
	err := buildQuery(s.db).
		Order(opts.OrderClause()).
		Offset(opts.Offset()).
		Limit(opts.PageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list watchers: %w", err)
	}

	if err := s.fillCapturedCounts(records); err != nil {
		return nil, 0, err
	}
	return records, int(total), nil
}

func (s *Store) fillCapturedCounts(records []Watcher) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]uint, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}

	var rows []struct {
		WatcherID uint
		N         int
	}
	err := s.db.Model(&CapturedFile{}).
		Select("watcher_id, COUNT(*) AS n").
		Where("watcher_id IN ? AND status = ?", ids, FileCaptured).
		Group("watcher_id").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("count captured files: %w", err)
	}

	counts := make(map[uint]int, len(rows))
	for _, r := range rows {
		counts[r.WatcherID] = r.N
	}
	for i := range records {
		records[i].CapturedCount = counts[records[i].ID]
	}
	return nil
}

// ListByStatus returns all watchers in the given state, oldest first. Used by
// the engine to reload pollers at startup.
func (s *Store) ListByStatus(status Status) ([]Watcher, error) {
	var records []Watcher
	err := s.db.Where("status = ?", status).
		Order("creation_time ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list watchers by status: %w", err)
	}
	return records, nil
}

// UpdateStatus applies a state-machine transition. Invalid transitions fail
// with an invalid_transition error and leave the watcher unchanged.
func (s *Store) UpdateStatus(id uint, to Status) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var w Watcher
		if err := tx.First(&w, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return query.Errorf(query.CodeNotFound, "watcher %d not found", id)
			}
			return fmt.Errorf("load watcher: %w", err)
		}

		if !CanTransition(w.Status, to) {
			return query.Errorf(query.CodeInvalidTransition,
				"watcher %d cannot transition from %s to %s", id, w.Status, to)
		}

		updates := map[string]any{"status": to}
		if to.IsTerminal() {
			updates["completion_time"] = time.Now()
		}
		return tx.Model(&Watcher{}).Where("id = ?", id).Updates(updates).Error
	})
}

// Complete transitions a monitoring watcher to completed once its expected
// file count is reached. A no-op if the watcher already left monitoring.
func (s *Store) Complete(id uint) error {
	result := s.db.Model(&Watcher{}).
		Where("id = ? AND status = ?", id, StatusMonitoring).
		Updates(map[string]any{
			"status":          StatusCompleted,
			"completion_time": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("complete watcher: %w", result.Error)
	}
	return nil
}

// MarkExecuted records that a poll captured at least one file.
func (s *Store) MarkExecuted(id uint) error {
	err := s.db.Model(&Watcher{}).Where("id = ?", id).
		Update("execution_time", time.Now()).Error
	if err != nil {
		return fmt.Errorf("mark watcher executed: %w", err)
	}
	return nil
}

// EnsurePending registers a pending ledger row for every exact pattern that
// has no row yet. Idempotent; the unique (watcher_id, file_name) index makes
// re-registration a no-op.
func (s *Store) EnsurePending(w *Watcher) error {
	for _, name := range w.ExactPatterns() {
		row := CapturedFile{
			WatcherID: w.ID,
			FileName:  name,
			Status:    FilePending,
		}
		err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("register pending file: %w", err)
		}
	}
	return nil
}

// Capture promotes a pending ledger row to captured, or appends a new
// captured row for a file never seen before. Returns the row and whether
// this call captured it; an already-captured file is immutable and reports
// false.
func (s *Store) Capture(watcherID uint, fileName, filePath string) (*CapturedFile, bool, error) {
	var row CapturedFile
	captured := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.First(&row, "watcher_id = ? AND file_name = ?", watcherID, fileName).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			now := time.Now()
			row = CapturedFile{
				WatcherID:   watcherID,
				FileName:    fileName,
				FilePath:    filePath,
				Status:      FileCaptured,
				CaptureTime: &now,
			}
			captured = true
			return tx.Create(&row).Error
		case err != nil:
			return fmt.Errorf("load ledger row: %w", err)
		}

		if row.Status == FileCaptured {
			return nil
		}

		now := time.Now()
		row.FilePath = filePath
		row.Status = FileCaptured
		row.CaptureTime = &now
		captured = true
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &row, captured, nil
}

// CapturedNames returns the set of file names already captured for a watcher.
func (s *Store) CapturedNames(watcherID uint) (map[string]bool, error) {
	var names []string
	err := s.db.Model(&CapturedFile{}).
		Where("watcher_id = ? AND status = ?", watcherID, FileCaptured).
		Pluck("file_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list captured names: %w", err)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	return seen, nil
}

// CapturedCount returns the number of captured files for a watcher.
func (s *Store) CapturedCount(watcherID uint) (int, error) {
	var n int64
	err := s.db.Model(&CapturedFile{}).
		Where("watcher_id = ? AND status = ?", watcherID, FileCaptured).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count captured files: %w", err)
	}
	return int(n), nil
}

// AssignJob records the job spawned for a captured file.
func (s *Store) AssignJob(watcherID uint, fileName, jobID string) error {
	err := s.db.Model(&CapturedFile{}).
		Where("watcher_id = ? AND file_name = ?", watcherID, fileName).
		Update("job_id", jobID).Error
	if err != nil {
		return fmt.Errorf("assign job to ledger row: %w", err)
	}
	return nil
}

// ListFiles returns a page of a watcher's ledger. Pending rows for exact
// patterns are registered first so they appear alongside captured rows.
func (s *Store) ListFiles(w *Watcher, opts query.ListOptions) ([]CapturedFile, int, error) {
	if err := s.EnsurePending(w); err != nil {
		return nil, 0, err
	}
	return s.listFilesWhere(opts, "watcher_id = ?", w.ID)
}

// ListJobFiles returns a page of the ledger rows captured for a job.
func (s *Store) ListJobFiles(jobID string, opts query.ListOptions) ([]CapturedFile, int, error) {
	return s.listFilesWhere(opts, "job_id = ?", jobID)
}

// ListWatcherFilesForJob falls back to a job's spawning watcher when no row
// carries the job's id directly.
func (s *Store) ListWatcherFilesForJob(watcherID uint, opts query.ListOptions) ([]CapturedFile, int, error) {
	return s.listFilesWhere(opts, "watcher_id = ?", watcherID)
}

func (s *Store) listFilesWhere(opts query.ListOptions, cond string, args ...any) ([]CapturedFile, int, error) {
	var total int64
	if err := s.db.Model(&CapturedFile{}).Where(cond, args...).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	var rows []CapturedFile
	err := s.db.Where(cond, args...).
		Order(opts.OrderClause()).
		Offset(opts.Offset()).
		Limit(opts.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	return rows, int(total), nil
}

// FilesForJob returns the captured file paths recorded for a job, in
// discovery order. Satisfies the job engine's file source.
func (s *Store) FilesForJob(jobID string) ([]string, error) {
	var paths []string
	err := s.db.Model(&CapturedFile{}).
		Where("job_id = ? AND status = ?", jobID, FileCaptured).
		Order("id ASC").
		Pluck("file_path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("list job files: %w", err)
	}
	return paths, nil
}
