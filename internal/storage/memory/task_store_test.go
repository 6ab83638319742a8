package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crashlens/leadcrawler/internal/leads"
)

func TestTaskStore_Lifecycle(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()

	task := leads.Task{ID: "t1", Status: leads.TaskStatusPending}
	require.NoError(t, store.CreateTask(ctx, task))
	require.Error(t, store.CreateTask(ctx, task), "duplicate create must fail")

	require.NoError(t, store.UpdateTask(ctx, "t1", leads.TaskStatusRunning, "", leads.CrawlStats{}))
	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusRunning, got.Status)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	stats := leads.CrawlStats{Candidates: 5, Inserted: 3, Updated: 2}
	require.NoError(t, store.UpdateTask(ctx, "t1", leads.TaskStatusSuccess, "", stats))
	got, err = store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusSuccess, got.Status)
	require.NotNil(t, got.Finished)
	require.Equal(t, stats, got.Stats)
}

func TestTaskStore_FailureKeepsErrorText(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, leads.Task{ID: "t2"}))
	require.NoError(t, store.UpdateTask(ctx, "t2", leads.TaskStatusFailure, "session budget exceeded", leads.CrawlStats{}))

	got, err := store.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusFailure, got.Status)
	require.Equal(t, "session budget exceeded", got.ErrorText)
	require.NotNil(t, got.Finished)
}

func TestTaskStore_UnknownTask(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()

	_, err := store.GetTask(ctx, "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.ErrorIs(t, store.UpdateTask(ctx, "missing", leads.TaskStatusRunning, "", leads.CrawlStats{}), ErrTaskNotFound)
}
