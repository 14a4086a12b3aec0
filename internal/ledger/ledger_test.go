package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a store in a temp dir with a controllable clock.
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }

	return s, &now
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Begin(ctx, "id-1", "a.mp4", "A", 10))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", rec.FileName)
}

func TestLifecycle_Success(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t)
	started := *now

	require.NoError(t, s.Begin(ctx, "id-1", "holiday.mp4", "Holiday", 100))

	rec, err := s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.False(t, rec.Finished())
	assert.True(t, started.Equal(rec.StartedAt))

	require.NoError(t, s.Progress(ctx, "id-1", 40))
	require.NoError(t, s.Progress(ctx, "id-1", 80))

	*now = now.Add(time.Minute)
	require.NoError(t, s.Finish(ctx, "id-1", "succeeded", "vid-1", nil))

	rec, err = s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", rec.Status)
	assert.Equal(t, "vid-1", rec.VideoID)
	assert.Empty(t, rec.Error)
	assert.Equal(t, int64(80), rec.Acknowledged)
	assert.True(t, rec.Finished())
	assert.Equal(t, time.Minute, rec.FinishedAt.Sub(rec.StartedAt))
}

func TestProgress_NeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "id-1", "a.mp4", "A", 100))
	require.NoError(t, s.Progress(ctx, "id-1", 60))
	require.NoError(t, s.Progress(ctx, "id-1", 20))

	rec, err := s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), rec.Acknowledged)
}

func TestProgress_IgnoredAfterFinish(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "id-1", "a.mp4", "A", 100))
	require.NoError(t, s.Finish(ctx, "id-1", "failed", "", errors.New("chunk transfer failed")))
	require.NoError(t, s.Progress(ctx, "id-1", 90))

	rec, err := s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Zero(t, rec.Acknowledged)
	assert.Equal(t, "chunk transfer failed", rec.Error)
}

func TestBegin_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "dup", "a.mp4", "A", 1))
	assert.Error(t, s.Begin(ctx, "dup", "a.mp4", "A", 1))
}

func TestFinish_KeepsFirstTerminalState(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "id-1", "a.mp4", "A", 100))
	require.NoError(t, s.Finish(ctx, "id-1", "succeeded", "vid-1", nil))
	finished := *now

	*now = now.Add(time.Minute)
	err := s.Finish(ctx, "id-1", "failed", "", errors.New("chunk transfer failed"))
	assert.ErrorIs(t, err, ErrAlreadyFinished)

	rec, err := s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", rec.Status)
	assert.Equal(t, "vid-1", rec.VideoID)
	assert.Empty(t, rec.Error)
	assert.True(t, finished.Equal(rec.FinishedAt))
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinish_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.Finish(context.Background(), "missing", "failed", "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecent_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t)

	for i := range 5 {
		*now = now.Add(time.Second)
		require.NoError(t, s.Begin(ctx, fmt.Sprintf("id-%d", i), "f.mp4", "T", int64(i+1)))
	}

	recs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "id-4", recs[0].ID)
	assert.Equal(t, "id-3", recs[1].ID)
	assert.Equal(t, "id-2", recs[2].ID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRecent_Empty(t *testing.T) {
	s, _ := newTestStore(t)

	recs, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
