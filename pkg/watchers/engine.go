package watchers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yoniyamin/cnio-prot-ui/pkg/jobs"
	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
)

// Engine runs one poller goroutine per monitoring watcher. Each poller scans
// its folder on a fixed interval, with fsnotify events waking it early when
// the filesystem supports it. All polls for a watcher are serialized, so an
// interval tick, an fsnotify wakeup, and an API rescan can never race each
// other into duplicate captures.
type Engine struct {
	store    *Store
	jobs     *jobs.Store
	registry *tools.Registry
	cfg      *Config
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	pollers map[uint]context.CancelFunc
	locks   map[uint]*sync.Mutex
}

// NewEngine creates a watcher engine. Spawned jobs go through jobStore;
// registry resolves their step totals.
func NewEngine(store *Store, jobStore *jobs.Store, registry *tools.Registry, cfg *Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		jobs:     jobStore,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		pollers:  make(map[uint]context.CancelFunc),
		locks:    make(map[uint]*sync.Mutex),
	}
}

// Run starts pollers for every monitoring watcher and blocks until the
// context is cancelled and all pollers have finished.
func (e *Engine) Run(ctx context.Context) {
	if !e.cfg.Enabled {
		e.logger.Info("watcher engine disabled")
		return
	}

	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	active, err := e.store.ListByStatus(StatusMonitoring)
	if err != nil {
		e.logger.Error("failed to load monitoring watchers", "error", err)
	}
	for i := range active {
		e.StartWatcher(active[i].ID)
	}
	e.logger.Info("watcher engine started", "watchers", len(active),
		"pollInterval", e.cfg.PollInterval.String())

	<-ctx.Done()
	e.logger.Info("watcher engine shutting down, waiting for pollers")
	e.wg.Wait()
	e.logger.Info("watcher engine stopped")
}

// StartWatcher ensures a poller is running for the watcher. A no-op when one
// is already running or the engine has not started yet; watchers created
// before startup are picked up by Run's reload.
func (e *Engine) StartWatcher(id uint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil || e.ctx.Err() != nil {
		return
	}
	if _, running := e.pollers[id]; running {
		return
	}

	ctx, cancel := context.WithCancel(e.ctx)
	e.pollers[id] = cancel
	e.wg.Add(1)
	go e.runPoller(ctx, id)
}

func (e *Engine) stopPoller(id uint) {
	e.mu.Lock()
	cancel, ok := e.pollers[id]
	if ok {
		delete(e.pollers, id)
	}
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// ApplyStatus runs a client-requested transition and adjusts polling to
// match: cancel and pause stop the poller, resuming restarts it. Captured
// files and already-spawned jobs are untouched.
func (e *Engine) ApplyStatus(id uint, to Status) error {
	if err := e.store.UpdateStatus(id, to); err != nil {
		return err
	}

	switch to {
	case StatusMonitoring:
		e.StartWatcher(id)
	default:
		e.stopPoller(id)
	}
	return nil
}

// CancelWatcher stops a watcher. Satisfies the stop-job cascade hook.
func (e *Engine) CancelWatcher(id uint) error {
	return e.ApplyStatus(id, StatusCancelled)
}

// Rescan forces an immediate out-of-cycle poll. Idempotent: with no new
// files on disk it changes nothing, and on a watcher that already left
// monitoring it succeeds without scanning, so callers can re-request the
// ledger of a completed watcher.
func (e *Engine) Rescan(id uint) error {
	w, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if w == nil {
		return query.Errorf(query.CodeNotFound, "watcher %d not found", id)
	}
	if w.Status != StatusMonitoring {
		return nil
	}

	if !e.pollOnce(id) {
		e.stopPoller(id)
	}
	return nil
}

func (e *Engine) runPoller(ctx context.Context, id uint) {
	defer e.wg.Done()
	defer e.stopPoller(id)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	events := e.watchFolder(ctx, id)

	e.logger.Info("watcher poller started", "watcherID", id)

	if !e.pollOnce(id) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("watcher poller stopped", "watcherID", id)
			return
		case <-ticker.C:
		case <-events:
		}
		if !e.pollOnce(id) {
			return
		}
	}
}

// watchFolder wires fsnotify wakeups for the watcher's folder. Interval
// polling remains the source of truth; losing events only delays capture to
// the next tick. Returns a nil channel when notifications are unavailable.
func (e *Engine) watchFolder(ctx context.Context, id uint) <-chan struct{} {
	w, err := e.store.Get(id)
	if err != nil || w == nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		e.logger.Warn("fsnotify unavailable, falling back to interval polling",
			"watcherID", id, "error", err)
		return nil
	}
	if err := fw.Add(w.FolderPath); err != nil {
		e.logger.Warn("cannot watch folder, falling back to interval polling",
			"watcherID", id, "folder", w.FolderPath, "error", err)
		fw.Close()
		return nil
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default: // a wakeup is already pending
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				e.logger.Warn("fsnotify error", "watcherID", id, "error", err)
			}
		}
	}()
	return wake
}

func (e *Engine) lockFor(id uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// pollOnce runs a single serialized poll cycle. Returns false once the
// watcher no longer needs polling (left monitoring, or completed this
// cycle). Scan errors are logged and retried next interval; they never
// terminate the watcher.
func (e *Engine) pollOnce(id uint) bool {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w, err := e.store.Get(id)
	if err != nil {
		e.logger.Error("failed to load watcher", "watcherID", id, "error", err)
		return true
	}
	if w == nil || w.Status != StatusMonitoring {
		return false
	}

	entries, err := os.ReadDir(w.FolderPath)
	if err != nil {
		e.logger.Warn("poll failed, will retry next interval",
			"watcherID", id, "folder", w.FolderPath, "error", err)
		return true
	}

	seen, err := e.store.CapturedNames(id)
	if err != nil {
		e.logger.Error("failed to load ledger", "watcherID", id, "error", err)
		return true
	}

	patterns := w.Patterns()
	capturedAny := false
	captured := len(seen)
	for _, entry := range entries {
		if w.ExpectedCount > 0 && captured >= w.ExpectedCount {
			// The ledger is full; extra matches stay uncaptured.
			break
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if seen[name] || !matchAny(patterns, name) {
			continue
		}

		path := filepath.Join(w.FolderPath, name)
		if !e.fileReady(path) {
			// Still being written; pick it up next cycle.
			continue
		}

		row, recorded, err := e.store.Capture(id, name, path)
		if err != nil {
			e.logger.Error("failed to record capture",
				"watcherID", id, "file", name, "error", err)
			continue
		}
		if !recorded {
			continue
		}
		capturedAny = true
		captured++
		e.logger.Info("captured file", "watcherID", id, "file", name)

		if w.JobType != "" {
			e.spawnJob(w, row)
		}
	}

	if capturedAny {
		if err := e.store.MarkExecuted(id); err != nil {
			e.logger.Error("failed to record execution time", "watcherID", id, "error", err)
		}
	}

	if w.ExpectedCount > 0 {
		count, err := e.store.CapturedCount(id)
		if err != nil {
			e.logger.Error("failed to count captures", "watcherID", id, "error", err)
			return true
		}
		if count >= w.ExpectedCount {
			if err := e.store.Complete(id); err != nil {
				e.logger.Error("failed to complete watcher", "watcherID", id, "error", err)
				return true
			}
			e.logger.Info("watcher completed",
				"watcherID", id, "captured", count, "expected", w.ExpectedCount)
			return false
		}
	}
	return true
}

// fileReady reports whether a file's size held steady across the settle
// interval. Instrument software writes large raw files incrementally;
// handing a half-written file to a tool wastes the whole run.
func (e *Engine) fileReady(path string) bool {
	if e.cfg.SettleInterval <= 0 {
		return true
	}

	before, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(e.cfg.SettleInterval)
	after, err := os.Stat(path)
	if err != nil {
		return false
	}
	return before.Size() == after.Size()
}

func (e *Engine) spawnJob(w *Watcher, file *CapturedFile) {
	prefix := w.JobNamePrefix
	if prefix == "" {
		prefix = w.JobType
	}
	stem := strings.TrimSuffix(file.FileName, filepath.Ext(file.FileName))

	totalSteps := 0
	if spec, ok := e.registry.Spec(w.JobType); ok {
		totalSteps = spec.TotalSteps
	}

	job := &jobs.Job{
		Name:        fmt.Sprintf("%s-%s-%d", prefix, stem, w.ID),
		JobType:     w.JobType,
		Demands:     w.JobDemands,
		LocalFolder: w.FolderPath,
		WatcherID:   &w.ID,
		WatcherName: prefix,
		TotalSteps:  totalSteps,
	}
	if err := e.jobs.Submit(job); err != nil {
		e.logger.Error("failed to spawn job",
			"watcherID", w.ID, "file", file.FileName, "error", err)
		return
	}
	if err := e.store.AssignJob(w.ID, file.FileName, job.ID); err != nil {
		e.logger.Error("failed to link job to ledger row",
			"watcherID", w.ID, "jobID", job.ID, "error", err)
	}

	e.logger.Info("spawned job for captured file",
		"watcherID", w.ID, "jobID", job.ID, "name", job.Name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
