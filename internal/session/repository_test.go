package session

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tus-upload-server/backend/internal/models"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestUpload(id string, expires time.Time) *models.Upload {
	return &models.Upload{
		ID:          "internal-" + id,
		UploadID:    id,
		Filename:    "test.bin",
		MimeType:    "application/octet-stream",
		Size:        100,
		StoragePath: "tus/" + id,
		CreateTime:  baseTime,
		ExpiredTime: expires,
	}
}

// runRepositorySuite exercises the behavior every driver must share.
func runRepositorySuite(t *testing.T, open func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("save and find", func(t *testing.T) {
		repo := open(t)
		u := newTestUpload("aaaa", baseTime.Add(time.Hour))
		u.Metadata = models.Metadata{"filename": "test.bin", "note": "hi"}

		require.NoError(t, repo.Save(ctx, u))
		assert.Equal(t, int64(1), u.Version)

		got, err := repo.FindByID(ctx, "aaaa")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, u.Size, got.Size)
		assert.Equal(t, u.StoragePath, got.StoragePath)
		assert.Equal(t, u.Metadata, got.Metadata)
		assert.True(t, u.ExpiredTime.Equal(got.ExpiredTime))
		assert.True(t, u.CreateTime.Equal(got.CreateTime))
		assert.Nil(t, got.CompleteTime)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("missing id", func(t *testing.T) {
		repo := open(t)
		_, err := repo.FindByID(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("nil metadata is distinct from empty", func(t *testing.T) {
		repo := open(t)
		none := newTestUpload("none", baseTime.Add(time.Hour))
		empty := newTestUpload("empty", baseTime.Add(time.Hour))
		empty.Metadata = models.Metadata{}
		require.NoError(t, repo.Save(ctx, none))
		require.NoError(t, repo.Save(ctx, empty))

		got, err := repo.FindByID(ctx, "none")
		require.NoError(t, err)
		assert.Nil(t, got.Metadata)

		got, err = repo.FindByID(ctx, "empty")
		require.NoError(t, err)
		assert.NotNil(t, got.Metadata)
		assert.Len(t, got.Metadata, 0)
	})

	t.Run("update bumps version and persists progress", func(t *testing.T) {
		repo := open(t)
		u := newTestUpload("bbbb", baseTime.Add(time.Hour))
		require.NoError(t, repo.Save(ctx, u))

		done := baseTime.Add(time.Minute)
		u.Offset = 100
		u.Completed = true
		u.CompleteTime = &done
		require.NoError(t, repo.Save(ctx, u))
		assert.Equal(t, int64(2), u.Version)

		got, err := repo.FindByID(ctx, "bbbb")
		require.NoError(t, err)
		assert.Equal(t, int64(100), got.Offset)
		assert.True(t, got.Completed)
		require.NotNil(t, got.CompleteTime)
		assert.True(t, done.Equal(*got.CompleteTime))
	})

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Save(ctx, newTestUpload("dup", baseTime.Add(time.Hour))))
		assert.ErrorIs(t, repo.Save(ctx, newTestUpload("dup", baseTime.Add(time.Hour))), ErrConflict)
	})

	t.Run("stale copy conflicts", func(t *testing.T) {
		repo := open(t)
		u := newTestUpload("cccc", baseTime.Add(time.Hour))
		require.NoError(t, repo.Save(ctx, u))

		first, _ := repo.FindByID(ctx, "cccc")
		second, _ := repo.FindByID(ctx, "cccc")

		first.Offset = 10
		require.NoError(t, repo.Save(ctx, first))

		second.Offset = 10
		assert.ErrorIs(t, repo.Save(ctx, second), ErrConflict)

		got, _ := repo.FindByID(ctx, "cccc")
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("update of removed record conflicts", func(t *testing.T) {
		repo := open(t)
		u := newTestUpload("gone", baseTime.Add(time.Hour))
		require.NoError(t, repo.Save(ctx, u))
		require.NoError(t, repo.Remove(ctx, "gone"))

		u.Offset = 5
		assert.ErrorIs(t, repo.Save(ctx, u), ErrConflict)
	})

	t.Run("find expired", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Save(ctx, newTestUpload("old1", baseTime.Add(-time.Hour))))
		require.NoError(t, repo.Save(ctx, newTestUpload("old2", baseTime.Add(-time.Minute))))
		require.NoError(t, repo.Save(ctx, newTestUpload("fresh", baseTime.Add(time.Hour))))

		expired, err := repo.FindExpired(ctx, baseTime)
		require.NoError(t, err)

		ids := make([]string, 0, len(expired))
		for _, u := range expired {
			ids = append(ids, u.UploadID)
		}
		assert.ElementsMatch(t, []string{"old1", "old2"}, ids)
	})

	t.Run("find incomplete", func(t *testing.T) {
		repo := open(t)
		done := newTestUpload("done", baseTime.Add(time.Hour))
		done.Offset = done.Size
		done.Completed = true
		now := baseTime
		done.CompleteTime = &now
		require.NoError(t, repo.Save(ctx, done))
		require.NoError(t, repo.Save(ctx, newTestUpload("pending", baseTime.Add(time.Hour))))

		list, err := repo.FindIncomplete(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "pending", list[0].UploadID)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Save(ctx, newTestUpload("rm", baseTime.Add(time.Hour))))
		require.NoError(t, repo.Remove(ctx, "rm"))
		require.NoError(t, repo.Remove(ctx, "rm"))

		_, err := repo.FindByID(ctx, "rm")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		repo := open(t)
		u := newTestUpload("copy", baseTime.Add(time.Hour))
		u.Metadata = models.Metadata{"k": "v"}
		require.NoError(t, repo.Save(ctx, u))

		u.Metadata["k"] = "changed"
		got, _ := repo.FindByID(ctx, "copy")
		assert.Equal(t, "v", got.Metadata["k"])
	})
}

func TestMemoryRepository(t *testing.T) {
	runRepositorySuite(t, func(t *testing.T) Repository {
		return NewMemoryRepository()
	})
}

func TestMemoryRepository_ConcurrentSaveOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, newTestUpload("race", baseTime.Add(time.Hour))))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		conflict int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, _ := repo.FindByID(ctx, "race")
			u.Version = 1 // every writer read version 1
			u.Offset = 50
			err := repo.Save(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if err == ErrConflict {
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 7, conflict)
}

func TestLevelRepository(t *testing.T) {
	runRepositorySuite(t, func(t *testing.T) Repository {
		repo, err := NewLevelRepository(filepath.Join(t.TempDir(), "sessions"), quietLogger())
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestLevelRepository_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "sessions")

	repo, err := NewLevelRepository(dir, quietLogger())
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, newTestUpload("persist", baseTime.Add(time.Hour))))
	require.NoError(t, repo.Close())

	repo, err = NewLevelRepository(dir, quietLogger())
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.FindByID(ctx, "persist")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestDuckRepository(t *testing.T) {
	runRepositorySuite(t, func(t *testing.T) Repository {
		repo, err := NewDuckRepository(filepath.Join(t.TempDir(), "sessions.duckdb"), quietLogger())
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	repo, err := Open(DriverMemory, "", quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)

	repo, err = Open(DriverLevelDB, filepath.Join(dir, "level"), quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &LevelRepository{}, repo)
	repo.Close()

	repo, err = Open(DriverDuckDB, filepath.Join(dir, "duck", "sessions.duckdb"), quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &DuckRepository{}, repo)
	repo.Close()

	_, err = Open("postgres", "", quietLogger())
	assert.Error(t, err)
}
