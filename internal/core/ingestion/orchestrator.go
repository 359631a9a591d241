package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRunTimeout は 1 回の取り込み実行の上限時間
	DefaultRunTimeout = 30 * time.Minute
	// DefaultRetryBackoff は再試行間隔の初期値
	DefaultRetryBackoff = 2 * time.Second
	// DefaultMaxRetryBackoff は再試行間隔の上限
	DefaultMaxRetryBackoff = time.Minute
)

// ErrInvalidFileName はファイル名が空または不正な場合のエラー
var ErrInvalidFileName = errors.New("invalid file name")

// Reloader は取り込み完了後に問い合わせパイプラインを再構築するインターフェース
type Reloader interface {
	Reload(ctx context.Context) error
}

// Orchestrator はアップロードされたファイルの保存、タスク管理、取り込みジョブの実行を担う
type Orchestrator struct {
	store         TaskStore
	queue         *Queue
	runner        Runner
	reloader      Reloader
	documentsPath string
	maxAttempts   int
	runTimeout    time.Duration
	backoff       time.Duration
	maxBackoff    time.Duration
	logger        *slog.Logger
}

type orchestratorOptions struct {
	reloader    Reloader
	maxAttempts int
	runTimeout  time.Duration
	backoff     time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

// OrchestratorOption は Orchestrator のオプション設定
type OrchestratorOption func(*orchestratorOptions)

// WithOrchestratorLogger は Orchestrator にロガーを設定する
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.logger = logger
	}
}

// WithReloader は取り込み完了時に呼び出す Reloader を設定する
func WithReloader(r Reloader) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.reloader = r
	}
}

// WithMaxAttempts は 1 タスクあたりの最大実行回数を設定する
func WithMaxAttempts(n int) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.maxAttempts = n
	}
}

// WithRunTimeout は 1 回の実行の上限時間を設定する
func WithRunTimeout(d time.Duration) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.runTimeout = d
	}
}

// WithRetryBackoff は再試行間隔の初期値と上限を設定する
func WithRetryBackoff(base, limit time.Duration) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.backoff = base
		o.maxBackoff = limit
	}
}

// NewOrchestrator は新しいOrchestratorを作成する
func NewOrchestrator(store TaskStore, queue *Queue, runner Runner, documentsPath string, opts ...OrchestratorOption) *Orchestrator {
	options := orchestratorOptions{
		maxAttempts: 1,
		runTimeout:  DefaultRunTimeout,
		backoff:     DefaultRetryBackoff,
		maxBackoff:  DefaultMaxRetryBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.maxAttempts < 1 {
		options.maxAttempts = 1
	}
	if options.runTimeout <= 0 {
		options.runTimeout = DefaultRunTimeout
	}

	return &Orchestrator{
		store:         store,
		queue:         queue,
		runner:        runner,
		reloader:      options.reloader,
		documentsPath: documentsPath,
		maxAttempts:   options.maxAttempts,
		runTimeout:    options.runTimeout,
		backoff:       options.backoff,
		maxBackoff:    options.maxBackoff,
		logger:        options.logger,
	}
}

// Submit はファイルを保存してタスクを登録し、ジョブを投入する。処理の完了は待たない。
func (o *Orchestrator) Submit(ctx context.Context, r io.Reader, fileName string) (uuid.UUID, error) {
	name := sanitizeFileName(fileName)
	if name == "" {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidFileName, fileName)
	}

	// タスクを登録できない場合はファイルを保存しない
	task := NewTask(name, time.Now())
	if err := o.store.Create(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("failed to register task: %w", err)
	}

	path, err := o.saveFile(r, name)
	if err != nil {
		o.fail(ctx, task.ID, fmt.Sprintf("Failed to save the uploaded file: %v", err))
		return uuid.Nil, fmt.Errorf("failed to save file: %w", err)
	}

	if err := o.queue.Enqueue(Job{TaskID: task.ID, FilePath: path}); err != nil {
		o.fail(ctx, task.ID, MessageQueueFull)
		return uuid.Nil, err
	}

	o.logger.Info("ingestion task queued", "taskID", task.ID, "file", name)
	return task.ID, nil
}

func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, message string) {
	if _, err := o.store.Transition(context.WithoutCancel(ctx), id, StatusFailed, message); err != nil {
		o.logger.Warn("failed to mark task as failed", "taskID", id, "error", err)
	}
}

// GetStatus はタスクの現在の状態を返す
func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (*Task, error) {
	return o.store.Get(ctx, id)
}

// List は新しい順にタスクを返す
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*Task, error) {
	return o.store.List(ctx, limit)
}

// Cancel はタスクをキャンセルする
// pending のタスクは即座に failed になり、processing のタスクは実行中のプロセスを停止する
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (*Task, error) {
	task, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, ErrTaskFinished
	}

	if task.Status == StatusPending {
		updated, err := o.store.Transition(ctx, id, StatusFailed, MessageCancelled)
		if err == nil {
			o.logger.Info("pending ingestion task cancelled", "taskID", id)
			return updated, nil
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		// ワーカーが先に取り出した場合は実行中のキャンセルに切り替える
	}

	if !o.queue.Cancel(id) {
		task, err = o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.IsTerminal() {
			return task, ErrTaskFinished
		}
	}

	o.logger.Info("running ingestion task cancelled", "taskID", id)
	return o.store.Get(ctx, id)
}

// Run はキューのワーカーを起動し、ctx が終了するまでブロックする
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.queue.Run(ctx, o.process)
}

// process は 1 件のジョブを実行し、タスクの状態を更新する
func (o *Orchestrator) process(ctx context.Context, job Job) {
	logger := o.logger.With("taskID", job.TaskID)

	if _, err := o.store.Transition(ctx, job.TaskID, StatusProcessing, MessageStarted); err != nil {
		// キャンセル済みなど
		logger.Info("skipping ingestion job", "reason", err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 {
			msg := fmt.Sprintf("Retrying ingestion (attempt %d/%d)...", attempt, o.maxAttempts)
			o.transition(ctx, logger, job.TaskID, StatusProcessing, msg)
			if err := sleepContext(ctx, o.retryDelay(attempt-1)); err != nil {
				o.transition(ctx, logger, job.TaskID, StatusFailed, MessageCancelled)
				return
			}
		}

		lastErr = o.runOnce(ctx, job)
		if lastErr == nil {
			o.transition(ctx, logger, job.TaskID, StatusCompleted, MessageCompleted)
			logger.Info("ingestion completed", "attempts", attempt)
			o.reload(ctx, logger)
			return
		}
		if ctx.Err() != nil {
			o.transition(ctx, logger, job.TaskID, StatusFailed, MessageCancelled)
			logger.Info("ingestion cancelled")
			return
		}

		logger.Warn("ingestion attempt failed", "attempt", attempt, "error", lastErr)
		if IsPermanent(lastErr) {
			break
		}
	}

	o.transition(ctx, logger, job.TaskID, StatusFailed, FailureMessage(lastErr))
}

func (o *Orchestrator) runOnce(ctx context.Context, job Job) error {
	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	err := o.runner.Run(runCtx, job)
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &RunError{
			Message: fmt.Sprintf("Ingestion timed out after %s.", o.runTimeout),
			Err:     err,
		}
	}
	return err
}

func (o *Orchestrator) reload(ctx context.Context, logger *slog.Logger) {
	if o.reloader == nil {
		return
	}
	// ジョブのキャンセルに巻き込まれないよう切り離す
	if err := o.reloader.Reload(context.WithoutCancel(ctx)); err != nil {
		logger.Error("failed to reload query pipeline", "error", err)
	}
}

func (o *Orchestrator) transition(ctx context.Context, logger *slog.Logger, id uuid.UUID, next TaskStatus, message string) {
	if _, err := o.store.Transition(context.WithoutCancel(ctx), id, next, message); err != nil {
		logger.Error("failed to update task status", "status", next, "error", err)
	}
}

// retryDelay は指数バックオフの待ち時間を返す
func (o *Orchestrator) retryDelay(retry int) time.Duration {
	delay := o.backoff
	for i := 1; i < retry; i++ {
		delay *= 2
		if o.maxBackoff > 0 && delay >= o.maxBackoff {
			return o.maxBackoff
		}
	}
	return delay
}

// saveFile はファイルを一時ファイル経由で DOCUMENTS_PATH に保存する。同名ファイルは上書きする。
func (o *Orchestrator) saveFile(r io.Reader, name string) (string, error) {
	if err := os.MkdirAll(o.documentsPath, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(o.documentsPath, ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	dest := filepath.Join(o.documentsPath, name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return dest, nil
}

// FailureMessage はタスクに記録する失敗メッセージを返す
func FailureMessage(err error) string {
	if err == nil {
		return "Ingestion failed."
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Message
	}
	return fmt.Sprintf("Exception during ingestion: %v", err)
}

// sanitizeFileName はパス要素を取り除いたベース名を返す。不正な場合は空文字を返す。
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(filepath.FromSlash(name)))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return ""
	}
	return name
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
