package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/platform/logger"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	jobs  []Job
	fn    func(ctx context.Context, attempt int) error
}

func (r *stubRunner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()

	if r.fn == nil {
		return nil
	}
	return r.fn(ctx, n)
}

func (r *stubRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubReloader struct {
	calls atomic.Int32
	err   error
}

func (r *stubReloader) Reload(ctx context.Context) error {
	r.calls.Add(1)
	return r.err
}

type fixture struct {
	orch     *Orchestrator
	store    *MemoryStore
	runner   *stubRunner
	reloader *stubReloader
	docsDir  string
}

func newFixture(t *testing.T, runner *stubRunner, queueSize int, opts ...OrchestratorOption) *fixture {
	t.Helper()
	docsDir := filepath.Join(t.TempDir(), "docs")
	store := NewMemoryStore(100)
	queue := NewQueue(queueSize, 1, WithQueueLogger(logger.Discard()), WithShutdownGrace(time.Second))
	reloader := &stubReloader{}

	base := []OrchestratorOption{
		WithOrchestratorLogger(logger.Discard()),
		WithReloader(reloader),
		WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
	}
	orch := NewOrchestrator(store, queue, runner, docsDir, append(base, opts...)...)

	return &fixture{orch: orch, store: store, runner: runner, reloader: reloader, docsDir: docsDir}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *fixture) waitStatus(t *testing.T, id uuid.UUID, want TaskStatus) *Task {
	t.Helper()
	var task *Task
	require.Eventually(t, func() bool {
		got, err := f.orch.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 3*time.Second, 5*time.Millisecond)
	return task
}

func TestOrchestrator_SubmitCompletesAndReloads(t *testing.T) {
	f := newFixture(t, &stubRunner{}, 10)
	f.start(t)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("hello"), "../../etc/notes.txt")
	require.NoError(t, err)

	task := f.waitStatus(t, id, StatusCompleted)
	assert.Equal(t, MessageCompleted, task.Message)
	assert.Equal(t, "notes.txt", task.FileName)

	content, err := os.ReadFile(filepath.Join(f.docsDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	assert.Eventually(t, func() bool { return f.reloader.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, filepath.Join(f.docsDir, "notes.txt"), f.runner.jobs[0].FilePath)
}

func TestOrchestrator_SubmitOverwritesSameName(t *testing.T) {
	f := newFixture(t, &stubRunner{}, 10)

	_, err := f.orch.Submit(context.Background(), strings.NewReader("v1"), "doc.txt")
	require.NoError(t, err)
	_, err = f.orch.Submit(context.Background(), strings.NewReader("v2"), "doc.txt")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(f.docsDir, "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	entries, err := os.ReadDir(f.docsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOrchestrator_SubmitInvalidName(t *testing.T) {
	f := newFixture(t, &stubRunner{}, 10)

	_, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "")
	assert.ErrorIs(t, err, ErrInvalidFileName)
	_, err = f.orch.Submit(context.Background(), strings.NewReader("x"), "..")
	assert.ErrorIs(t, err, ErrInvalidFileName)
}

func TestOrchestrator_SubmitQueueFull(t *testing.T) {
	f := newFixture(t, &stubRunner{}, 1)

	_, err := f.orch.Submit(context.Background(), strings.NewReader("a"), "a.txt")
	require.NoError(t, err)

	_, err = f.orch.Submit(context.Background(), strings.NewReader("b"), "b.txt")
	assert.ErrorIs(t, err, ErrQueueFull)

	tasks, err := f.orch.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, StatusFailed, tasks[0].Status)
	assert.Equal(t, MessageQueueFull, tasks[0].Message)
}

func TestOrchestrator_PermanentFailureIsNotRetried(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, attempt int) error {
		return ClassifyExit(ExitCodePermanent, "unsupported file type: image.png")
	}}
	f := newFixture(t, runner, 10, WithMaxAttempts(3))
	f.start(t)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "image.png")
	require.NoError(t, err)

	task := f.waitStatus(t, id, StatusFailed)
	assert.Contains(t, task.Message, "Exit code: 2")
	assert.Contains(t, task.Message, "unsupported file type")
	assert.Equal(t, 1, runner.Calls())
	assert.Equal(t, int32(0), f.reloader.calls.Load())
}

func TestOrchestrator_RetriesTransientFailure(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return ClassifyExit(1, "connection reset")
		}
		return nil
	}}
	f := newFixture(t, runner, 10, WithMaxAttempts(2))
	f.start(t)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	f.waitStatus(t, id, StatusCompleted)
	assert.Equal(t, 2, runner.Calls())
}

func TestOrchestrator_FailureMessages(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, attempt int) error {
		return errors.New("exec: \"docqa\": executable file not found")
	}}
	f := newFixture(t, runner, 10)
	f.start(t)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	task := f.waitStatus(t, id, StatusFailed)
	assert.True(t, strings.HasPrefix(task.Message, "Exception during ingestion:"))
}

func TestOrchestrator_Timeout(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, attempt int) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	f := newFixture(t, runner, 10, WithRunTimeout(20*time.Millisecond))
	f.start(t)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	task := f.waitStatus(t, id, StatusFailed)
	assert.Contains(t, task.Message, "timed out")
}

func TestOrchestrator_CancelPending(t *testing.T) {
	f := newFixture(t, &stubRunner{}, 10)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	task, err := f.orch.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, MessageCancelled, task.Message)

	_, err = f.orch.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, ErrTaskFinished)

	// 取り出されても実行されない
	f.start(t)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.runner.Calls())

	_, err = f.orch.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestOrchestrator_CancelProcessing(t *testing.T) {
	started := make(chan struct{})
	runner := &stubRunner{fn: func(ctx context.Context, attempt int) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	f := newFixture(t, runner, 10, WithMaxAttempts(3))
	f.start(t)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "a.txt")
	require.NoError(t, err)
	<-started

	_, err = f.orch.Cancel(context.Background(), id)
	require.NoError(t, err)

	task := f.waitStatus(t, id, StatusFailed)
	assert.Equal(t, MessageCancelled, task.Message)
	assert.Equal(t, 1, runner.Calls())
}

func TestOrchestrator_ReloadFailureStillCompletes(t *testing.T) {
	f := newFixture(t, &stubRunner{}, 10)
	f.reloader.err = errors.New("index locked")
	f.start(t)

	id, err := f.orch.Submit(context.Background(), strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	f.waitStatus(t, id, StatusCompleted)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(document.ErrUnsupportedFileType))
	assert.True(t, IsPermanent(ErrNoDocuments))
	assert.True(t, IsPermanent(fmt.Errorf("failed to load a.docx: %w", document.ErrUnreadableDocument)))
	assert.True(t, IsPermanent(ClassifyExit(ExitCodePermanent, "")))
	assert.False(t, IsPermanent(ClassifyExit(1, "")))
	assert.False(t, IsPermanent(errors.New("network")))
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "Ingestion failed.", FailureMessage(nil))
	assert.Equal(t, MessageBatchSize, FailureMessage(ClassifyExit(1, "ValueError: Batch size 7000 exceeds maximum")))
	assert.Equal(t, "Exception during ingestion: boom", FailureMessage(errors.New("boom")))
}

func TestOrchestrator_SubmitStoreFullKeepsNoFile(t *testing.T) {
	docsDir := filepath.Join(t.TempDir(), "docs")
	store := NewMemoryStore(1)
	queue := NewQueue(10, 1, WithQueueLogger(logger.Discard()))
	orch := NewOrchestrator(store, queue, &stubRunner{}, docsDir, WithOrchestratorLogger(logger.Discard()))

	_, err := orch.Submit(context.Background(), strings.NewReader("first"), "first.txt")
	require.NoError(t, err)

	_, err = orch.Submit(context.Background(), strings.NewReader("second"), "second.txt")
	require.ErrorIs(t, err, ErrStoreFull)

	assert.FileExists(t, filepath.Join(docsDir, "first.txt"))
	assert.NoFileExists(t, filepath.Join(docsDir, "second.txt"))
}

func TestOrchestrator_ConcurrentSubmissionsWithTwoWorkers(t *testing.T) {
	docsDir := filepath.Join(t.TempDir(), "docs")
	store := NewMemoryStore(100)
	queue := NewQueue(10, 2, WithQueueLogger(logger.Discard()), WithShutdownGrace(time.Second))
	reloader := &stubReloader{}

	// 2 件のジョブが同時に実行されるまで待ち合わせる
	var running sync.WaitGroup
	running.Add(2)
	runner := &stubRunner{fn: func(ctx context.Context, attempt int) error {
		running.Done()
		running.Wait()
		return nil
	}}

	orch := NewOrchestrator(store, queue, runner, docsDir,
		WithOrchestratorLogger(logger.Discard()),
		WithReloader(reloader),
	)
	f := &fixture{
		orch:     orch,
		store:    store,
		runner:   runner,
		reloader: reloader,
		docsDir:  docsDir,
	}
	f.start(t)

	first, err := f.orch.Submit(context.Background(), strings.NewReader("a"), "a.txt")
	require.NoError(t, err)
	second, err := f.orch.Submit(context.Background(), strings.NewReader("b"), "b.txt")
	require.NoError(t, err)

	f.waitStatus(t, first, StatusCompleted)
	f.waitStatus(t, second, StatusCompleted)

	assert.Equal(t, 2, runner.Calls())
	assert.Eventually(t, func() bool { return reloader.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	tasks, err := f.orch.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.True(t, task.Status.IsTerminal())
	}
}
