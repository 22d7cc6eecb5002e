package watchers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yoniyamin/cnio-prot-ui/pkg/jobs"
	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
)

// ListWatchersHandler handles GET /api/watchers.
func ListWatchersHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := query.ParseListOptions(r, SortColumns, "creation_time")
		if err != nil {
			query.WriteError(w, err)
			return
		}
		if r.URL.Query().Get("order") == "" {
			// Newest first unless the client asked otherwise.
			opts.Ascending = false
		}

		records, total, err := store.List(opts)
		if err != nil {
			query.WriteError(w, err)
			return
		}

		items := make([]watcherResponse, len(records))
		for i := range records {
			items[i] = watcherToResponse(&records[i])
		}

		query.WriteJSON(w, http.StatusOK,
			query.ListEnvelope("watchers", items, total, opts.Page, opts.PageSize))
	}
}

// createWatcherRequest is the POST /api/watchers body.
type createWatcherRequest struct {
	FolderPath    string          `json:"folder_path"`
	FilePattern   string          `json:"file_pattern"`
	JobType       string          `json:"job_type"`
	JobDemands    json.RawMessage `json:"job_demands"`
	JobNamePrefix string          `json:"job_name_prefix"`
	ExpectedCount int             `json:"expected_count"`
}

// CreateWatcherHandler handles POST /api/watchers. The new watcher starts
// monitoring immediately.
func CreateWatcherHandler(store *Store, engine *Engine, registry *tools.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createWatcherRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			query.WriteError(w, query.Errorf(query.CodeValidation, "invalid request body: %v", err))
			return
		}

		if req.JobType != "" {
			if _, ok := registry.Spec(req.JobType); !ok {
				query.WriteError(w, query.Errorf(query.CodeValidation, "unknown job type %q", req.JobType))
				return
			}
		}

		watcher := &Watcher{
			FolderPath:    req.FolderPath,
			FilePattern:   req.FilePattern,
			JobType:       req.JobType,
			JobDemands:    string(req.JobDemands),
			JobNamePrefix: req.JobNamePrefix,
			ExpectedCount: req.ExpectedCount,
		}
		if err := store.Create(watcher); err != nil {
			query.WriteError(w, err)
			return
		}

		engine.StartWatcher(watcher.ID)

		query.WriteJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"watcher": watcherToResponse(watcher),
		})
	}
}

// UpdateWatcherStatusHandler handles POST /api/watchers/{watcherId}/update-status.
// Cancel and pause stop polling; resuming a paused watcher restarts it.
func UpdateWatcherStatusHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := watcherID(r)
		if err != nil {
			query.WriteError(w, err)
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			query.WriteError(w, query.Errorf(query.CodeValidation, "invalid request body: %v", err))
			return
		}
		status, err := ParseStatus(req.Status)
		if err != nil {
			query.WriteError(w, query.Errorf(query.CodeValidation, "%v", err))
			return
		}

		if err := engine.ApplyStatus(id, status); err != nil {
			query.WriteError(w, err)
			return
		}

		query.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// RescanWatcherHandler handles POST /api/watchers/{watcherId}/rescan. The
// poll runs synchronously and the refreshed file list is returned.
func RescanWatcherHandler(store *Store, engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := watcherID(r)
		if err != nil {
			query.WriteError(w, err)
			return
		}

		if err := engine.Rescan(id); err != nil {
			query.WriteError(w, err)
			return
		}

		watcher, err := store.Get(id)
		if err != nil {
			query.WriteError(w, err)
			return
		}
		if watcher == nil {
			query.WriteError(w, query.Errorf(query.CodeNotFound, "watcher %d not found", id))
			return
		}
		files, _, err := store.ListFiles(watcher, fileListDefaults())
		if err != nil {
			query.WriteError(w, err)
			return
		}

		query.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"files":   filesToResponse(files),
		})
	}
}

// WatcherFilesHandler handles GET /api/watchers/{watcherId}/files.
func WatcherFilesHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := watcherID(r)
		if err != nil {
			query.WriteError(w, err)
			return
		}
		watcher, err := store.Get(id)
		if err != nil {
			query.WriteError(w, err)
			return
		}
		if watcher == nil {
			query.WriteError(w, query.Errorf(query.CodeNotFound, "watcher %d not found", id))
			return
		}

		opts, err := query.ParseListOptions(r, FileSortColumns, "file_name")
		if err != nil {
			query.WriteError(w, err)
			return
		}

		files, total, err := store.ListFiles(watcher, opts)
		if err != nil {
			query.WriteError(w, err)
			return
		}

		query.WriteJSON(w, http.StatusOK,
			query.ListEnvelope("files", filesToResponse(files), total, opts.Page, opts.PageSize))
	}
}

// JobFilesHandler handles GET /api/jobs/{jobId}/files. Ledger rows carrying
// the job's id win; jobs spawned before job linking existed fall back to
// their watcher's full ledger.
func JobFilesHandler(jobStore *jobs.Store, store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		job, err := jobStore.Get(jobID)
		if err != nil {
			query.WriteError(w, err)
			return
		}
		if job == nil {
			query.WriteError(w, query.Errorf(query.CodeNotFound, "job %q not found", jobID))
			return
		}

		opts, err := query.ParseListOptions(r, FileSortColumns, "file_name")
		if err != nil {
			query.WriteError(w, err)
			return
		}

		files, total, err := store.ListJobFiles(jobID, opts)
		if err != nil {
			query.WriteError(w, err)
			return
		}
		if total == 0 && job.WatcherID != nil {
			files, total, err = store.ListWatcherFilesForJob(*job.WatcherID, opts)
			if err != nil {
				query.WriteError(w, err)
				return
			}
		}

		query.WriteJSON(w, http.StatusOK,
			query.ListEnvelope("files", filesToResponse(files), total, opts.Page, opts.PageSize))
	}
}

func watcherID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "watcherId")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, query.Errorf(query.CodeValidation, "invalid watcher ID %q", raw)
	}
	return uint(id), nil
}

func fileListDefaults() query.ListOptions {
	return query.ListOptions{
		Page:      1,
		PageSize:  query.MaxPageSize,
		SortBy:    FileSortColumns["file_name"],
		Ascending: true,
	}
}

// watcherResponse is the API representation of a watcher.
type watcherResponse struct {
	ID             uint   `json:"id"`
	FolderPath     string `json:"folder_path"`
	FilePattern    string `json:"file_pattern"`
	JobType        string `json:"job_type,omitempty"`
	JobNamePrefix  string `json:"job_name_prefix,omitempty"`
	Status         string `json:"status"`
	ExpectedCount  int    `json:"expected_count"`
	CapturedCount  int    `json:"captured_count"`
	CreationTime   string `json:"creation_time"`
	ExecutionTime  string `json:"execution_time,omitempty"`
	CompletionTime string `json:"completion_time,omitempty"`
}

func watcherToResponse(w *Watcher) watcherResponse {
	resp := watcherResponse{
		ID:            w.ID,
		FolderPath:    w.FolderPath,
		FilePattern:   w.FilePattern,
		JobType:       w.JobType,
		JobNamePrefix: w.JobNamePrefix,
		Status:        string(w.Status),
		ExpectedCount: w.ExpectedCount,
		CapturedCount: w.CapturedCount,
		CreationTime:  w.CreationTime.Format(time.RFC3339),
	}
	if w.ExecutionTime != nil {
		resp.ExecutionTime = w.ExecutionTime.Format(time.RFC3339)
	}
	if w.CompletionTime != nil {
		resp.CompletionTime = w.CompletionTime.Format(time.RFC3339)
	}
	return resp
}

// fileResponse is the API representation of a capture ledger row.
type fileResponse struct {
	ID          uint   `json:"id"`
	WatcherID   uint   `json:"watcher_id"`
	JobID       string `json:"job_id,omitempty"`
	FileName    string `json:"file_name"`
	FilePath    string `json:"file_path,omitempty"`
	Status      string `json:"status"`
	CaptureTime string `json:"capture_time,omitempty"`
}

func filesToResponse(files []CapturedFile) []fileResponse {
	items := make([]fileResponse, len(files))
	for i, f := range files {
		items[i] = fileResponse{
			ID:        f.ID,
			WatcherID: f.WatcherID,
			JobID:     f.JobID,
			FileName:  f.FileName,
			FilePath:  f.FilePath,
			Status:    string(f.Status),
		}
		if f.CaptureTime != nil {
			items[i].CaptureTime = f.CaptureTime.Format(time.RFC3339)
		}
	}
	return items
}
