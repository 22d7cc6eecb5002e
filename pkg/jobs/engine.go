package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
)

// FileSource lists the captured input files for a job. Satisfied by the
// watcher capture ledger; nil means jobs run without captured inputs.
type FileSource interface {
	FilesForJob(jobID string) ([]string, error)
}

// Engine drives queued jobs through their lifecycle with a pool of worker
// goroutines. Each worker claims a queued job, starts its tool process, and
// supervises it until exit, mapping the result onto the state machine.
type Engine struct {
	store    *Store
	registry *tools.Registry
	files    FileSource
	cfg      *Config
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine creates a job engine.
func NewEngine(store *Store, registry *tools.Registry, files FileSource, cfg *Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		registry: registry,
		files:    files,
		cfg:      cfg,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run starts the engine. It recovers jobs interrupted by the previous
// shutdown, spawns cfg.Concurrency workers, and blocks until the context is
// cancelled and all workers have finished.
func (e *Engine) Run(ctx context.Context) {
	if !e.cfg.Enabled {
		e.logger.Info("job engine disabled")
		return
	}

	if recovered, err := e.store.RecoverInterrupted(); err != nil {
		e.logger.Error("failed to recover interrupted jobs", "error", err)
	} else if recovered > 0 {
		e.logger.Info("recovered interrupted jobs", "count", recovered)
	}

	e.logger.Info("job engine starting",
		"concurrency", e.cfg.Concurrency,
		"pollInterval", e.cfg.PollInterval.String())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.cleanupLoop(ctx)
	}()

	for i := 0; i < e.cfg.Concurrency; i++ {
		e.wg.Add(1)
		go func(workerID int) {
			defer e.wg.Done()
			e.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	e.logger.Info("job engine shutting down, waiting for workers")
	e.wg.Wait()
	e.logger.Info("job engine stopped")
}

// Cancel requests cooperative termination of a job. The call returns once the
// request is accepted; the job reaches cancelled only after its process is
// confirmed stopped. Cancelling a terminal job fails with invalid_transition.
func (e *Engine) Cancel(jobID string) error {
	prev, err := e.store.RequestCancel(jobID)
	if err != nil {
		return err
	}

	if prev.Status == StatusQueued {
		// Nothing is running yet; finalize queued cancels immediately.
		if _, err := e.store.CancelQueuedRequested(); err != nil {
			return err
		}
	}

	e.signalCancel(jobID)
	return nil
}

func (e *Engine) signalCancel(jobID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Info("job worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("job worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			e.processOne(ctx, workerID)
		}
	}
}

// processOne claims and runs a single job to completion.
func (e *Engine) processOne(ctx context.Context, workerID int) {
	job, err := e.store.Claim()
	if err != nil {
		e.logger.Error("failed to claim job", "workerID", workerID, "error", err)
		return
	}
	if job == nil {
		return
	}

	e.logger.Info("running job",
		"workerID", workerID,
		"jobID", job.ID,
		"name", job.Name,
		"type", job.JobType)

	runner, ok := e.registry.Lookup(job.JobType)
	if !ok {
		e.failJob(job.ID, "no runner registered for job type "+job.JobType)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[job.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, job.ID)
		e.mu.Unlock()
		cancel()
	}()

	var files []string
	if e.files != nil {
		if files, err = e.files.FilesForJob(job.ID); err != nil {
			e.logger.Error("failed to list job files", "jobID", job.ID, "error", err)
		}
	}

	handle, err := runner.Start(jobCtx, tools.Invocation{
		JobID:   job.ID,
		JobName: job.Name,
		Demands: decodeDemands(job.Demands),
		Files:   files,
		WorkDir: job.LocalFolder,
	})
	if err != nil {
		if cur, _ := e.store.Get(job.ID); cur != nil && cur.CancelRequested {
			e.finalizeCancel(job.ID)
			return
		}
		e.failJob(job.ID, fmt.Sprintf("start failed: %v", err))
		return
	}

	e.supervise(job, handle)
}

// supervise polls a started job until its process exits and records the
// terminal state. An accepted cancel always wins over a clean exit, even if
// the process finished a moment after the request.
func (e *Engine) supervise(job *Job, handle tools.Handle) {
	ticker := time.NewTicker(e.cfg.ProgressInterval)
	defer ticker.Stop()

	var (
		cancelSeen    bool
		terminated    bool
		graceDeadline time.Time
	)

	for range ticker.C {
		st := handle.Poll()

		if st.StepsDone > 0 {
			if err := e.store.Progress(job.ID, st.StepsDone); err != nil {
				e.logger.Error("failed to record progress", "jobID", job.ID, "error", err)
			}
		}

		if !cancelSeen {
			if cur, _ := e.store.Get(job.ID); cur != nil && cur.CancelRequested {
				cancelSeen = true
				graceDeadline = time.Now().Add(e.cfg.CancelGrace)
				e.signalCancel(job.ID)
				e.logger.Info("cancel accepted, requesting cooperative stop", "jobID", job.ID)
			}
		}

		if cancelSeen && !terminated && time.Now().After(graceDeadline) {
			e.logger.Info("cancel grace expired, terminating process", "jobID", job.ID)
			if err := handle.Terminate(); err != nil {
				e.logger.Error("failed to terminate process", "jobID", job.ID, "error", err)
			}
			terminated = true
		}

		if st.Running {
			continue
		}

		// Process exit observed; finalize.
		if !cancelSeen {
			if cur, _ := e.store.Get(job.ID); cur != nil && cur.CancelRequested {
				cancelSeen = true
			}
		}

		switch {
		case cancelSeen:
			e.finalizeCancel(job.ID)
		case st.Err != nil:
			e.failJob(job.ID, st.Err.Error())
		case st.ExitCode == 0:
			done, err := e.store.CompleteIfNotCancelled(job.ID)
			if err != nil {
				e.logger.Error("failed to complete job", "jobID", job.ID, "error", err)
			} else if !done {
				e.finalizeCancel(job.ID)
			} else {
				e.logger.Info("job completed", "jobID", job.ID)
			}
		default:
			e.failJob(job.ID, fmt.Sprintf("tool exited with code %d", st.ExitCode))
		}
		return
	}
}

func (e *Engine) failJob(jobID, detail string) {
	e.logger.Error("job failed", "jobID", jobID, "detail", detail)
	if err := e.store.Fail(jobID, detail); err != nil {
		e.logger.Error("failed to mark job as failed", "jobID", jobID, "error", err)
	}
}

func (e *Engine) finalizeCancel(jobID string) {
	if err := e.store.FinalizeCancel(jobID); err != nil {
		e.logger.Error("failed to finalize cancel", "jobID", jobID, "error", err)
	} else {
		e.logger.Info("job cancelled", "jobID", jobID)
	}
}

// cleanupLoop periodically finalizes queued cancels and fails stuck jobs.
func (e *Engine) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cancelled, err := e.store.CancelQueuedRequested(); err != nil {
				e.logger.Error("failed to cancel queued jobs", "error", err)
			} else if cancelled > 0 {
				e.logger.Info("cancelled queued jobs", "count", cancelled)
			}

			if e.cfg.StuckTimeout > 0 {
				if failed, err := e.store.CleanupStuck(e.cfg.StuckTimeout); err != nil {
					e.logger.Error("failed to cleanup stuck jobs", "error", err)
				} else if failed > 0 {
					e.logger.Info("failed stuck jobs", "count", failed)
				}
			}
		}
	}
}

// decodeDemands parses the persisted demands JSON into a flat string map.
// Non-string values are kept in their JSON form; unparseable text yields an
// empty map (the raw text is still stored on the job).
func decodeDemands(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err == nil {
			out[k] = string(b)
		}
	}
	return out
}
