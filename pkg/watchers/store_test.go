package watchers

import (
	"testing"

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
	require.NoError(t, db.AutoMigrate(&Watcher{}, &CapturedFile{}))
	return db
}

func newTestWatcher(t *testing.T, store *Store, pattern string) *Watcher {
	t.Helper()
	w := &Watcher{
		FolderPath:  t.TempDir(),
		FilePattern: pattern,
	}
	require.NoError(t, store.Create(w))
	return w
}

func TestCreateDefaults(t *testing.T) {
	store := NewStore(setupTestDB(t))

	w := newTestWatcher(t, store, "*.raw")
	assert.NotZero(t, w.ID)
	assert.Equal(t, StatusMonitoring, w.Status)
	assert.False(t, w.CreationTime.IsZero())
	assert.Equal(t, 0, w.ExpectedCount, "pure glob patterns are open-ended")
}

func TestCreateExpectedCountFromExactPatterns(t *testing.T) {
	store := NewStore(setupTestDB(t))

	w := newTestWatcher(t, store, "a.raw;b.raw;*.mzML")
	assert.Equal(t, 2, w.ExpectedCount)

	// Exact patterns are pre-registered as pending.
	files, total, err := store.ListFiles(w, fileListDefaults())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, f := range files {
		assert.Equal(t, FilePending, f.Status)
		assert.Nil(t, f.CaptureTime)
	}
}

func TestCreateValidation(t *testing.T) {
	store := NewStore(setupTestDB(t))

	err := store.Create(&Watcher{FilePattern: "*.raw"})
	require.Error(t, err)
	assert.Equal(t, query.CodeValidation, query.CodeOf(err))

	err = store.Create(&Watcher{FolderPath: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, query.CodeValidation, query.CodeOf(err))
}

func TestCreateBuildsMissingFolder(t *testing.T) {
	store := NewStore(setupTestDB(t))

	w := &Watcher{
		FolderPath:  t.TempDir() + "/incoming/raw",
		FilePattern: "*.raw",
	}
	require.NoError(t, store.Create(w))
	assert.DirExists(t, w.FolderPath)
}

func TestUpdateStatusStateMachine(t *testing.T) {
	store := NewStore(setupTestDB(t))
	w := newTestWatcher(t, store, "*.raw")

	require.NoError(t, store.UpdateStatus(w.ID, StatusPaused))
	require.NoError(t, store.UpdateStatus(w.ID, StatusMonitoring))
	require.NoError(t, store.UpdateStatus(w.ID, StatusCancelled))

	got, err := store.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletionTime)

	err = store.UpdateStatus(w.ID, StatusMonitoring)
	require.Error(t, err)
	assert.Equal(t, query.CodeInvalidTransition, query.CodeOf(err))
}

func TestUpdateStatusNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))

	err := store.UpdateStatus(99, StatusCancelled)
	require.Error(t, err)
	assert.Equal(t, query.CodeNotFound, query.CodeOf(err))
}

func TestCaptureNewFile(t *testing.T) {
	store := NewStore(setupTestDB(t))
	w := newTestWatcher(t, store, "*.raw")

	row, captured, err := store.Capture(w.ID, "a.raw", "/data/a.raw")
	require.NoError(t, err)
	assert.True(t, captured)
	assert.Equal(t, FileCaptured, row.Status)
	require.NotNil(t, row.CaptureTime)

	count, err := store.CapturedCount(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCapturePromotesPending(t *testing.T) {
	store := NewStore(setupTestDB(t))
	w := newTestWatcher(t, store, "sample.raw")

	row, captured, err := store.Capture(w.ID, "sample.raw", "/data/sample.raw")
	require.NoError(t, err)
	assert.True(t, captured)
	assert.Equal(t, FileCaptured, row.Status)
	assert.Equal(t, "/data/sample.raw", row.FilePath)

	// No duplicate row appeared.
	_, total, err := store.ListFiles(w, fileListDefaults())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCaptureIsImmutableOnceCaptured(t *testing.T) {
	store := NewStore(setupTestDB(t))
	w := newTestWatcher(t, store, "*.raw")

	first, captured, err := store.Capture(w.ID, "a.raw", "/data/a.raw")
	require.NoError(t, err)
	require.True(t, captured)

	second, captured, err := store.Capture(w.ID, "a.raw", "/elsewhere/a.raw")
	require.NoError(t, err)
	assert.False(t, captured)
	assert.Equal(t, first.FilePath, second.FilePath)
	assert.Equal(t, first.CaptureTime.Unix(), second.CaptureTime.Unix())
}

func TestAssignJobAndFilesForJob(t *testing.T) {
	store := NewStore(setupTestDB(t))
	w := newTestWatcher(t, store, "*.raw")

	_, _, err := store.Capture(w.ID, "a.raw", "/data/a.raw")
	require.NoError(t, err)
	require.NoError(t, store.AssignJob(w.ID, "a.raw", "job-1"))

	paths, err := store.FilesForJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.raw"}, paths)

	paths, err = store.FilesForJob("job-unknown")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestListWithCapturedCounts(t *testing.T) {
	store := NewStore(setupTestDB(t))

	a := newTestWatcher(t, store, "*.raw")
	b := newTestWatcher(t, store, "*.mzML")
	_, _, err := store.Capture(a.ID, "x.raw", "/data/x.raw")
	require.NoError(t, err)
	_, _, err = store.Capture(a.ID, "y.raw", "/data/y.raw")
	require.NoError(t, err)

	records, total, err := store.List(query.ListOptions{
		Page: 1, PageSize: 10,
		SortBy: SortColumns["id"], Ascending: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].CapturedCount)
	assert.Equal(t, 0, records[1].CapturedCount)
	assert.Equal(t, b.ID, records[1].ID)
}

func TestListStatusFilterAndSearch(t *testing.T) {
	store := NewStore(setupTestDB(t))

	active := newTestWatcher(t, store, "*.raw")
	done := newTestWatcher(t, store, "*.mzML")
	require.NoError(t, store.UpdateStatus(done.ID, StatusCancelled))

	records, total, err := store.List(query.ListOptions{
		Page: 1, PageSize: 10,
		SortBy: SortColumns["id"], Ascending: true,
		Statuses: []string{"monitoring"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, active.ID, records[0].ID)

	records, total, err = store.List(query.ListOptions{
		Page: 1, PageSize: 10,
		SortBy: SortColumns["id"], Ascending: true,
		Search: "mzml",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, done.ID, records[0].ID)
}

func TestListFilesSortedByCaptureState(t *testing.T) {
	store := NewStore(setupTestDB(t))
	w := newTestWatcher(t, store, "a.raw;b.raw")

	_, _, err := store.Capture(w.ID, "b.raw", "/data/b.raw")
	require.NoError(t, err)

	files, total, err := store.ListFiles(w, query.ListOptions{
		Page: 1, PageSize: 10,
		SortBy: FileSortColumns["status"], Ascending: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, files, 2)
	assert.Equal(t, FileCaptured, files[0].Status)
	assert.Equal(t, FilePending, files[1].Status)
}
