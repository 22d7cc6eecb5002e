package watchers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoniyamin/cnio-prot-ui/pkg/jobs"
	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngineConfig() *Config {
	return &Config{
		PollInterval:   20 * time.Millisecond,
		SettleInterval: 0,
		Enabled:        true,
	}
}

func setupEngineTest(t *testing.T) (*Store, *jobs.Store, *Engine) {
	t.Helper()
	db := setupTestDB(t)
	require.NoError(t, db.AutoMigrate(&jobs.Job{}))

	store := NewStore(db)
	jobStore := jobs.NewStore(db)

	registry := tools.NewRegistry(&tools.Config{}, testLogger())
	registry.Register(
		tools.Spec{Type: "sim", TotalSteps: 3, Simulate: true},
		tools.NewSimRunner(3),
	)

	engine := NewEngine(store, jobStore, registry, testEngineConfig(), testLogger())
	return store, jobStore, engine
}

func runEngine(t *testing.T, engine *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func dropFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("spectra"), 0o644))
}

func watcherStatus(t *testing.T, store *Store, id uint) (Status, int) {
	t.Helper()
	w, err := store.Get(id)
	require.NoError(t, err)
	require.NotNil(t, w)
	return w.Status, w.CapturedCount
}

func TestEngineCapturesAndCompletes(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{FolderPath: dir, FilePattern: "*.raw", ExpectedCount: 2}
	require.NoError(t, store.Create(w))

	runEngine(t, engine)

	dropFile(t, dir, "a.raw")
	require.Eventually(t, func() bool {
		status, count := watcherStatus(t, store, w.ID)
		return status == StatusMonitoring && count == 1
	}, 5*time.Second, 10*time.Millisecond)

	dropFile(t, dir, "b.raw")
	require.Eventually(t, func() bool {
		status, count := watcherStatus(t, store, w.ID)
		return status == StatusCompleted && count == 2
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(w.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletionTime)
	assert.NotNil(t, got.ExecutionTime)
}

func TestEngineIgnoresNonMatchingFiles(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{FolderPath: dir, FilePattern: "*.raw"}
	require.NoError(t, store.Create(w))

	runEngine(t, engine)

	dropFile(t, dir, "notes.txt")
	dropFile(t, dir, "a.raw")
	require.Eventually(t, func() bool {
		_, count := watcherStatus(t, store, w.ID)
		return count == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Give a few more cycles the chance to pick up the .txt by mistake.
	time.Sleep(100 * time.Millisecond)
	_, count := watcherStatus(t, store, w.ID)
	assert.Equal(t, 1, count)
}

func TestEngineSpawnsJobPerCapturedFile(t *testing.T) {
	store, jobStore, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{
		FolderPath:    dir,
		FilePattern:   "*.raw",
		JobType:       "sim",
		JobNamePrefix: "plasma",
		JobDemands:    `{"fasta":"human.fasta"}`,
	}
	require.NoError(t, store.Create(w))

	runEngine(t, engine)

	dropFile(t, dir, "sample01.raw")

	var spawned jobs.Job
	require.Eventually(t, func() bool {
		list, _, err := jobStore.List(query.ListOptions{
			Page: 1, PageSize: 10,
			SortBy: jobs.SortColumns["creation_time"], Ascending: true,
		})
		require.NoError(t, err)
		if len(list) != 1 {
			return false
		}
		spawned = list[0]
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, fmt.Sprintf("plasma-sample01-%d", w.ID), spawned.Name)
	assert.Equal(t, "sim", spawned.JobType)
	assert.Equal(t, `{"fasta":"human.fasta"}`, spawned.Demands)
	assert.Equal(t, 3, spawned.TotalSteps)
	require.NotNil(t, spawned.WatcherID)
	assert.Equal(t, w.ID, *spawned.WatcherID)

	// The ledger row links back to the spawned job.
	paths, err := store.FilesForJob(spawned.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "sample01.raw")}, paths)
}

func TestRescanIsIdempotent(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{FolderPath: dir, FilePattern: "*.raw"}
	require.NoError(t, store.Create(w))

	dropFile(t, dir, "a.raw")

	require.NoError(t, engine.Rescan(w.ID))
	_, count := watcherStatus(t, store, w.ID)
	assert.Equal(t, 1, count)

	// Nothing new on disk: the second rescan is a no-op.
	require.NoError(t, engine.Rescan(w.ID))
	_, count = watcherStatus(t, store, w.ID)
	assert.Equal(t, 1, count)
}

func TestRescanOnCompletedWatcherIsNoOp(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{FolderPath: dir, FilePattern: "*.raw", ExpectedCount: 2}
	require.NoError(t, store.Create(w))

	dropFile(t, dir, "a.raw")
	dropFile(t, dir, "b.raw")
	require.NoError(t, engine.Rescan(w.ID))

	status, count := watcherStatus(t, store, w.ID)
	require.Equal(t, StatusCompleted, status)
	require.Equal(t, 2, count)

	// A completed watcher can still be rescanned; it succeeds without
	// capturing anything, even with a fresh match on disk.
	dropFile(t, dir, "c.raw")
	require.NoError(t, engine.Rescan(w.ID))

	status, count = watcherStatus(t, store, w.ID)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, 2, count)
}

func TestRescanOnCancelledWatcherIsNoOp(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	w := &Watcher{FolderPath: t.TempDir(), FilePattern: "*.raw"}
	require.NoError(t, store.Create(w))
	require.NoError(t, store.UpdateStatus(w.ID, StatusCancelled))

	require.NoError(t, engine.Rescan(w.ID))

	status, count := watcherStatus(t, store, w.ID)
	assert.Equal(t, StatusCancelled, status)
	assert.Equal(t, 0, count)
}

func TestCaptureStopsAtExpectedCount(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{FolderPath: dir, FilePattern: "*.raw", ExpectedCount: 1}
	require.NoError(t, store.Create(w))

	// All three files are on disk before the first poll runs; only one
	// may enter the ledger.
	dropFile(t, dir, "a.raw")
	dropFile(t, dir, "b.raw")
	dropFile(t, dir, "c.raw")

	require.NoError(t, engine.Rescan(w.ID))

	status, count := watcherStatus(t, store, w.ID)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, 1, count)

	n, err := store.CapturedCount(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRescanNotFound(t *testing.T) {
	_, _, engine := setupEngineTest(t)

	err := engine.Rescan(42)
	require.Error(t, err)
	assert.Equal(t, query.CodeNotFound, query.CodeOf(err))
}

func TestCancelKeepsCapturedFiles(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{FolderPath: dir, FilePattern: "*.raw"}
	require.NoError(t, store.Create(w))

	dropFile(t, dir, "a.raw")
	require.NoError(t, engine.Rescan(w.ID))

	require.NoError(t, engine.CancelWatcher(w.ID))

	status, count := watcherStatus(t, store, w.ID)
	assert.Equal(t, StatusCancelled, status)
	assert.Equal(t, 1, count)
}

func TestPauseAndResume(t *testing.T) {
	store, _, engine := setupEngineTest(t)

	dir := t.TempDir()
	w := &Watcher{FolderPath: dir, FilePattern: "*.raw"}
	require.NoError(t, store.Create(w))

	runEngine(t, engine)

	require.NoError(t, engine.ApplyStatus(w.ID, StatusPaused))

	dropFile(t, dir, "a.raw")
	require.NoError(t, engine.Rescan(w.ID))
	_, count := watcherStatus(t, store, w.ID)
	assert.Equal(t, 0, count, "paused watchers do not poll")

	require.NoError(t, engine.ApplyStatus(w.ID, StatusMonitoring))
	require.Eventually(t, func() bool {
		engine.StartWatcher(w.ID) // idempotent; covers engine startup racing the resume
		_, count := watcherStatus(t, store, w.ID)
		return count == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFileReadySkipsGrowingFile(t *testing.T) {
	store, _, _ := setupEngineTest(t)

	cfg := testEngineConfig()
	cfg.SettleInterval = 50 * time.Millisecond
	engine := NewEngine(store, nil, nil, cfg, testLogger())

	dir := t.TempDir()
	path := filepath.Join(dir, "growing.raw")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	// Keep appending while the settle check runs.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
				if err == nil {
					_, _ = f.WriteString("more")
					f.Close()
				}
			}
		}
	}()

	assert.False(t, engine.fileReady(path))
	close(stop)
	<-done

	// Once writes stop, the file settles.
	assert.True(t, engine.fileReady(path))
}

func TestEngineDisabled(t *testing.T) {
	_, _, engine := setupEngineTest(t)
	engine.cfg.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled engine should return immediately")
	}
}
