package jobs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
)

// WatcherCanceller cancels the watcher that spawned a job. Injected by the
// server so this package does not depend on the watchers package.
type WatcherCanceller func(watcherID uint) error

// ListJobsHandler handles GET /api/jobs.
// Query params: status (comma-separated), q, page, pageSize, sortBy, order.
func ListJobsHandler(store *Store) http.HandlerFunc {
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

		items := make([]jobResponse, len(records))
		for i := range records {
			items[i] = jobToResponse(&records[i])
		}

		query.WriteJSON(w, http.StatusOK,
			query.ListEnvelope("jobs", items, total, opts.Page, opts.PageSize))
	}
}

// GetJobHandler handles GET /api/jobs/{jobId}.
func GetJobHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := loadJob(store, r)
		if err != nil {
			query.WriteError(w, err)
			return
		}
		query.WriteJSON(w, http.StatusOK, map[string]any{"job": jobToResponse(job)})
	}
}

// GetJobDemandsHandler handles GET /api/jobs/{jobId}/demands. The stored
// demands JSON is decoded for the client; text that is not valid JSON is
// wrapped as {"raw_config": ...} rather than rejected.
func GetJobDemandsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := loadJob(store, r)
		if err != nil {
			query.WriteError(w, err)
			return
		}

		var demands any
		if job.Demands == "" {
			demands = map[string]any{}
		} else if err := json.Unmarshal([]byte(job.Demands), &demands); err != nil {
			demands = map[string]any{"raw_config": job.Demands}
		}

		query.WriteJSON(w, http.StatusOK, map[string]any{"demands": demands})
	}
}

// submitRequest is the POST /api/jobs body.
type submitRequest struct {
	Name        string          `json:"name"`
	JobType     string          `json:"job_type"`
	Demands     json.RawMessage `json:"demands"`
	Submitter   string          `json:"submitter"`
	LocalFolder string          `json:"local_folder"`
}

// SubmitJobHandler handles POST /api/jobs. Validation runs against the tool
// registry before any state is written.
func SubmitJobHandler(store *Store, registry *tools.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			query.WriteError(w, query.Errorf(query.CodeValidation, "invalid request body: %v", err))
			return
		}
		if req.JobType == "" {
			query.WriteError(w, query.Errorf(query.CodeValidation, "missing job_type"))
			return
		}

		demands := string(req.Demands)
		if err := registry.ValidateDemands(req.JobType, decodeDemands(demands)); err != nil {
			query.WriteError(w, err)
			return
		}

		spec, _ := registry.Spec(req.JobType)
		name := req.Name
		if name == "" {
			name = fmt.Sprintf("%s-%s", req.JobType, time.Now().Format("20060102-150405"))
		}

		job := &Job{
			Name:        name,
			JobType:     req.JobType,
			Demands:     demands,
			Submitter:   req.Submitter,
			LocalFolder: req.LocalFolder,
			TotalSteps:  spec.TotalSteps,
		}
		if err := store.Submit(job); err != nil {
			query.WriteError(w, err)
			return
		}

		query.WriteJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"job":     jobToResponse(job),
		})
	}
}

// StopJobHandler handles POST /api/jobs/{jobId}/stop. The cancel request is
// accepted asynchronously: the job shows cancelled only after its process is
// confirmed stopped. Stopping a job also cancels the watcher that spawned it.
func StopJobHandler(store *Store, engine *Engine, cancelWatcher WatcherCanceller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := loadJob(store, r)
		if err != nil {
			query.WriteError(w, err)
			return
		}

		if err := engine.Cancel(job.ID); err != nil {
			query.WriteError(w, err)
			return
		}

		resp := map[string]any{
			"success": true,
			"message": fmt.Sprintf("cancel requested for job %s", job.ID),
		}

		if job.WatcherID != nil && cancelWatcher != nil {
			if err := cancelWatcher(*job.WatcherID); err != nil {
				// The job cancel was accepted; report the cascade separately.
				resp["watcher_error"] = err.Error()
			} else {
				resp["message"] = fmt.Sprintf("cancel requested for job %s and watcher %d", job.ID, *job.WatcherID)
			}
		}

		query.WriteJSON(w, http.StatusOK, resp)
	}
}

func loadJob(store *Store, r *http.Request) (*Job, error) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		return nil, query.Errorf(query.CodeValidation, "missing job ID")
	}
	job, err := store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, query.Errorf(query.CodeNotFound, "job %q not found", jobID)
	}
	return job, nil
}

// jobResponse is the API representation of a job.
type jobResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	JobType        string  `json:"job_type"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	StepsDone      int     `json:"steps_done"`
	TotalSteps     int     `json:"total_steps"`
	Submitter      string  `json:"submitter,omitempty"`
	LocalFolder    string  `json:"local_folder,omitempty"`
	WatcherID      *uint   `json:"watcher_id,omitempty"`
	WatcherName    string  `json:"watcher_name,omitempty"`
	ErrorDetail    string  `json:"error_detail,omitempty"`
	CreationTime   string  `json:"creation_time"`
	StartTime      string  `json:"start_time,omitempty"`
	CompletionTime string  `json:"completion_time,omitempty"`
}

func jobToResponse(job *Job) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		Name:         job.Name,
		JobType:      job.JobType,
		Status:       string(job.Status),
		Progress:     job.Progress() * 100, // percent, as the dashboard displays it

		StepsDone:    job.StepsDone,
		TotalSteps:   job.TotalSteps,
		Submitter:    job.Submitter,
		LocalFolder:  job.LocalFolder,
		WatcherID:    job.WatcherID,
		WatcherName:  job.WatcherName,
		ErrorDetail:  job.ErrorDetail,
		CreationTime: job.CreationTime.Format(time.RFC3339),
	}
	if job.StartTime != nil {
		resp.StartTime = job.StartTime.Format(time.RFC3339)
	}
	if job.CompletionTime != nil {
		resp.CompletionTime = job.CompletionTime.Format(time.RFC3339)
	}
	return resp
}
