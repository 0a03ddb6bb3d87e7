package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/pkg/migration"
	"github.com/dbmirror/dbmirror/src/transfer"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "dbmirror.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_RunLifecycle(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	run := &Run{Mode: "multi", Source: "root@src:3306", Target: "root@dst:3306"}
	require.NoError(t, s.StartRun(ctx, run))
	require.NotEmpty(t, run.ID)
	assert.Equal(t, RunRunning, run.Status)

	ok := transfer.NewJob(transfer.TableDescriptor{Database: "shop", Name: "orders"}, 10)
	require.NoError(t, ok.MarkRunning())
	require.NoError(t, ok.MarkCompleted())
	bad := transfer.NewJob(transfer.TableDescriptor{Database: "shop", Name: "users"}, 10)
	require.NoError(t, bad.MarkRunning())
	require.NoError(t, bad.MarkFailed(errors.New("count rows: timeout")))

	require.NoError(t, s.RecordJob(ctx, NewJobRecord(run.ID, ok)))
	require.NoError(t, s.RecordJob(ctx, NewJobRecord(run.ID, bad)))

	run.Status = RunCompleted
	run.Databases = []string{"shop"}
	run.Tables, run.Completed, run.Failed, run.Faults = 2, 1, 1, 3
	require.NoError(t, s.FinishRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, []string{"shop"}, got.Databases)
	assert.Equal(t, 2, got.Tables)
	assert.Equal(t, int64(3), got.Faults)
	assert.Equal(t, "root@src:3306", got.Source)
	assert.False(t, got.FinishedAt.IsZero())
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Millisecond)

	jobs, err := s.ListJobs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "orders", jobs[0].Table)
	assert.Equal(t, transfer.StatusCompleted, jobs[0].Status)
	assert.Equal(t, transfer.StatusFailed, jobs[1].Status)
	assert.Equal(t, "count rows: timeout", jobs[1].Error)
	assert.False(t, jobs[0].StartedAt.IsZero())
}

func TestStore_ListRuns(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 3 {
		run := &Run{Mode: "single", Source: "s", Target: "t", StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.StartRun(ctx, run))
		ids = append(ids, run.ID)
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Nil(t, runs[0].Databases)

	runs, err = s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestStore_NotFound(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.FinishRun(ctx, &Run{ID: "missing", Status: RunFailed}), ErrRunNotFound)

	jobs, err := s.ListJobs(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStore_Reopen(t *testing.T) {
	s, path := openStore(t)
	ctx := context.Background()
	run := &Run{Mode: "single", Source: "s", Target: "t"}
	require.NoError(t, s.StartRun(ctx, run))
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	got, err := again.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}

func TestAcquireRunLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbmirror.db")
	lock, err := AcquireRunLock(path, "a")
	require.NoError(t, err)

	_, err = AcquireRunLock(path, "b")
	assert.ErrorIs(t, err, migration.ErrLocked)

	require.NoError(t, lock.Release())
	lock, err = AcquireRunLock(path, "b")
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}

func TestNewRunID(t *testing.T) {
	a, err := NewRunID()
	require.NoError(t, err)
	b, err := NewRunID()
	require.NoError(t, err)
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
