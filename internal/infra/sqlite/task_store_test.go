package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/ingestion"
)

func TestTaskStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store, recovered, err := OpenTaskStore(ctx, filepath.Join(t.TempDir(), "tasks.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, 0, recovered)

	task := ingestion.NewTask("manual.pdf", time.Now())
	require.NoError(t, store.Create(ctx, task))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual.pdf", got.FileName)
	assert.Equal(t, ingestion.StatusPending, got.Status)
	assert.Equal(t, ingestion.MessageQueued, got.Message)
	assert.Equal(t, task.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())

	updated, err := store.Transition(ctx, task.ID, ingestion.StatusProcessing, ingestion.MessageStarted)
	require.NoError(t, err)
	assert.Equal(t, ingestion.StatusProcessing, updated.Status)

	_, err = store.Transition(ctx, task.ID, ingestion.StatusCompleted, ingestion.MessageCompleted)
	require.NoError(t, err)

	_, err = store.Transition(ctx, task.ID, ingestion.StatusFailed, "late")
	assert.ErrorIs(t, err, ingestion.ErrInvalidTransition)

	got, err = store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.StatusCompleted, got.Status)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ingestion.ErrTaskNotFound)
}

func TestTaskStore_List(t *testing.T) {
	ctx := context.Background()
	store, _, err := OpenTaskStore(ctx, filepath.Join(t.TempDir(), "tasks.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Now()
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, store.Create(ctx, ingestion.NewTask(name, base.Add(time.Duration(i)*time.Second))))
	}

	tasks, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "c.txt", tasks[0].FileName)
	assert.Equal(t, "b.txt", tasks[1].FileName)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTaskStore_RecoversInterruptedTasks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.sqlite3")

	store, _, err := OpenTaskStore(ctx, path)
	require.NoError(t, err)

	pending := ingestion.NewTask("pending.txt", time.Now())
	running := ingestion.NewTask("running.txt", time.Now())
	done := ingestion.NewTask("done.txt", time.Now())
	for _, task := range []*ingestion.Task{pending, running, done} {
		require.NoError(t, store.Create(ctx, task))
	}
	_, err = store.Transition(ctx, running.ID, ingestion.StatusProcessing, ingestion.MessageStarted)
	require.NoError(t, err)
	_, err = store.Transition(ctx, done.ID, ingestion.StatusProcessing, ingestion.MessageStarted)
	require.NoError(t, err)
	_, err = store.Transition(ctx, done.ID, ingestion.StatusCompleted, ingestion.MessageCompleted)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, recovered, err := OpenTaskStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	assert.Equal(t, 2, recovered)

	for _, id := range []uuid.UUID{pending.ID, running.ID} {
		task, err := reopened.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ingestion.StatusFailed, task.Status)
		assert.Equal(t, ingestion.MessageInterrupted, task.Message)
	}

	task, err := reopened.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, ingestion.StatusCompleted, task.Status)
}
