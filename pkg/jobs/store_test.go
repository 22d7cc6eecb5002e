package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yoniyamin/cnio-prot-ui/pkg/query"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Job{}))
	return db
}

func newTestJob(name, jobType string) *Job {
	return &Job{
		Name:    name,
		JobType: jobType,
		Demands: `{"fasta": "human.fasta"}`,
	}
}

func TestSubmitDefaults(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("run-1", "maxquant")
	require.NoError(t, store.Submit(job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.False(t, job.CreationTime.IsZero())

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.Name)
	assert.Equal(t, `{"fasta": "human.fasta"}`, got.Demands)
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := NewStore(setupTestDB(t))

	got, err := store.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateStatusEnforcesStateMachine(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("run-1", "maxquant")
	require.NoError(t, store.Submit(job))

	// queued -> completed skips running.
	err := store.UpdateStatus(job.ID, StatusCompleted)
	require.Error(t, err)
	assert.Equal(t, query.CodeInvalidTransition, query.CodeOf(err))

	require.NoError(t, store.UpdateStatus(job.ID, StatusRunning))
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartTime)

	require.NoError(t, store.UpdateStatus(job.ID, StatusCompleted))
	got, err = store.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletionTime)

	// Terminal states stay terminal.
	err = store.UpdateStatus(job.ID, StatusRunning)
	require.Error(t, err)
	assert.Equal(t, query.CodeInvalidTransition, query.CodeOf(err))
}

func TestUpdateStatusNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))

	err := store.UpdateStatus("missing", StatusRunning)
	require.Error(t, err)
	assert.Equal(t, query.CodeNotFound, query.CodeOf(err))
}

func TestClaimOldestQueuedFirst(t *testing.T) {
	store := NewStore(setupTestDB(t))

	old := newTestJob("older", "diann")
	old.CreationTime = time.Now().Add(-time.Hour)
	require.NoError(t, store.Submit(old))

	recent := newTestJob("newer", "diann")
	require.NoError(t, store.Submit(recent))

	claimed, err := store.Claim()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, old.ID, claimed.ID)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartTime)

	claimed2, err := store.Claim()
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, recent.ID, claimed2.ID)

	claimed3, err := store.Claim()
	require.NoError(t, err)
	assert.Nil(t, claimed3, "empty queue claims nothing")
}

func TestClaimSkipsCancelRequested(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("doomed", "diann")
	require.NoError(t, store.Submit(job))
	_, err := store.RequestCancel(job.ID)
	require.NoError(t, err)

	claimed, err := store.Claim()
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestRequestCancelRejectsTerminal(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("done", "diann")
	require.NoError(t, store.Submit(job))
	require.NoError(t, store.UpdateStatus(job.ID, StatusRunning))
	require.NoError(t, store.UpdateStatus(job.ID, StatusCompleted))

	_, err := store.RequestCancel(job.ID)
	require.Error(t, err)
	assert.Equal(t, query.CodeInvalidTransition, query.CodeOf(err))
}

func TestProgressIsMonotonic(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("run-1", "maxquant")
	job.TotalSteps = 4
	require.NoError(t, store.Submit(job))
	require.NoError(t, store.UpdateStatus(job.ID, StatusRunning))

	require.NoError(t, store.Progress(job.ID, 2))
	// A stale poll result must not move progress backwards.
	require.NoError(t, store.Progress(job.ID, 1))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.StepsDone)
}

func TestCompleteIfNotCancelledRace(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("racer", "maxquant")
	require.NoError(t, store.Submit(job))
	require.NoError(t, store.UpdateStatus(job.ID, StatusRunning))

	// A cancel accepted just before the clean exit wins.
	_, err := store.RequestCancel(job.ID)
	require.NoError(t, err)

	completed, err := store.CompleteIfNotCancelled(job.ID)
	require.NoError(t, err)
	assert.False(t, completed)

	require.NoError(t, store.FinalizeCancel(job.ID))
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletionTime)
}

func TestCompleteIfNotCancelledCleanExit(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("clean", "maxquant")
	require.NoError(t, store.Submit(job))
	require.NoError(t, store.UpdateStatus(job.ID, StatusRunning))

	completed, err := store.CompleteIfNotCancelled(job.ID)
	require.NoError(t, err)
	assert.True(t, completed)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestCancelQueuedRequested(t *testing.T) {
	store := NewStore(setupTestDB(t))

	job := newTestJob("queued-cancel", "diann")
	require.NoError(t, store.Submit(job))
	_, err := store.RequestCancel(job.ID)
	require.NoError(t, err)

	n, err := store.CancelQueuedRequested()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestRecoverInterrupted(t *testing.T) {
	store := NewStore(setupTestDB(t))

	running := newTestJob("was-running", "maxquant")
	require.NoError(t, store.Submit(running))
	require.NoError(t, store.UpdateStatus(running.ID, StatusRunning))

	queued := newTestJob("still-queued", "maxquant")
	require.NoError(t, store.Submit(queued))

	n, err := store.RecoverInterrupted()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(running.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorDetail, "interrupted")

	got, err = store.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestCleanupStuck(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	job := newTestJob("stuck", "maxquant")
	require.NoError(t, store.Submit(job))
	require.NoError(t, store.UpdateStatus(job.ID, StatusRunning))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&Job{}).Where("id = ?", job.ID).
		Update("start_time", past).Error)

	n, err := store.CleanupStuck(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestListPaginationAndSort(t *testing.T) {
	store := NewStore(setupTestDB(t))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		job := newTestJob(fmt.Sprintf("job-%d", i), "maxquant")
		job.CreationTime = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Submit(job))
	}

	opts := query.ListOptions{
		Page:      1,
		PageSize:  2,
		SortBy:    SortColumns["creation_time"],
		Ascending: true,
	}
	jobs, total, err := store.List(opts)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-0", jobs[0].Name)
	assert.Equal(t, "job-1", jobs[1].Name)

	opts.Page = 3
	jobs, total, err = store.List(opts)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-4", jobs[0].Name)
}

func TestListStatusFilter(t *testing.T) {
	store := NewStore(setupTestDB(t))

	queued := newTestJob("q", "maxquant")
	require.NoError(t, store.Submit(queued))

	running := newTestJob("r", "maxquant")
	require.NoError(t, store.Submit(running))
	require.NoError(t, store.UpdateStatus(running.ID, StatusRunning))

	jobs, total, err := store.List(query.ListOptions{
		Page: 1, PageSize: 10,
		SortBy: SortColumns["creation_time"], Ascending: true,
		Statuses: []string{"running"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, running.ID, jobs[0].ID)
}

func TestListSearch(t *testing.T) {
	store := NewStore(setupTestDB(t))

	a := newTestJob("Plasma-TMT-01", "maxquant")
	require.NoError(t, store.Submit(a))
	b := newTestJob("serum-lfq", "diann")
	require.NoError(t, store.Submit(b))

	jobs, total, err := store.List(query.ListOptions{
		Page: 1, PageSize: 10,
		SortBy: SortColumns["creation_time"], Ascending: true,
		Search: "plasma",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].ID)
}

func TestListProgressSort(t *testing.T) {
	store := NewStore(setupTestDB(t))

	low := newTestJob("low", "maxquant")
	low.TotalSteps = 10
	require.NoError(t, store.Submit(low))
	require.NoError(t, store.UpdateStatus(low.ID, StatusRunning))
	require.NoError(t, store.Progress(low.ID, 1))

	high := newTestJob("high", "maxquant")
	high.TotalSteps = 4
	require.NoError(t, store.Submit(high))
	require.NoError(t, store.UpdateStatus(high.ID, StatusRunning))
	require.NoError(t, store.Progress(high.ID, 3))

	jobs, _, err := store.List(query.ListOptions{
		Page: 1, PageSize: 10,
		SortBy: SortColumns["progress"], Ascending: false,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "high", jobs[0].Name)
}
