package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultQueueSize は待機できるジョブ数の既定値
	DefaultQueueSize = 100
	// DefaultShutdownGrace は停止時に実行中ジョブの完了を待つ時間
	DefaultShutdownGrace = 30 * time.Second
)

var (
	// ErrQueueFull はキューが満杯の場合のエラー
	ErrQueueFull = errors.New("ingestion queue is full")
	// ErrQueueClosed は停止済みのキューに投入しようとした場合のエラー
	ErrQueueClosed = errors.New("ingestion queue is closed")
)

// Job は 1 件の取り込みジョブ
type Job struct {
	TaskID   uuid.UUID
	FilePath string
}

// JobHandler はジョブを処理する関数。ctx はジョブのキャンセルで終了する。
type JobHandler func(ctx context.Context, job Job)

// Queue は固定数のワーカーでジョブを処理するキュー
type Queue struct {
	jobs          chan Job
	workers       int
	shutdownGrace time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	closed  bool
}

type QueueOption func(*Queue)

// WithQueueLogger は Queue にロガーを設定する
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithShutdownGrace は停止時の猶予時間を設定する
func WithShutdownGrace(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.shutdownGrace = d
	}
}

// NewQueue は新しいQueueを作成する
func NewQueue(size, workers int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if workers <= 0 {
		workers = 1
	}

	q := &Queue{
		jobs:          make(chan Job, size),
		workers:       workers,
		shutdownGrace: DefaultShutdownGrace,
		logger:        slog.Default(),
		running:       make(map[uuid.UUID]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(q)
	}

	if q.logger == nil {
		q.logger = slog.Default()
	}

	return q
}

// Enqueue はジョブを投入する。ブロックせず、満杯の場合は ErrQueueFull を返す。
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len は待機中のジョブ数を返す
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cancel は実行中のジョブをキャンセルする。実行中でなければ false を返す。
func (q *Queue) Cancel(taskID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancel, ok := q.running[taskID]
	if ok {
		cancel()
	}
	return ok
}

// Run はワーカーを起動し、ctx が終了するまでジョブを処理する
// 停止時は新規ジョブの取り出しをやめ、実行中のジョブを猶予時間だけ待ってからキャンセルする
func (q *Queue) Run(ctx context.Context, handler JobHandler) error {
	base, cancelAll := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelAll()

	var g errgroup.Group
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx, base, handler)
			return nil
		})
	}

	q.logger.Info("ingestion workers started", "workers", q.workers)

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	<-ctx.Done()

	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	timer := time.NewTimer(q.shutdownGrace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		q.logger.Warn("shutdown grace period exceeded, cancelling running jobs")
		cancelAll()
		<-done
	}

	q.logger.Info("ingestion workers stopped", "pending", q.Len())
	return nil
}

func (q *Queue) work(ctx, base context.Context, handler JobHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.runJob(base, handler, job)
		}
	}
}

func (q *Queue) runJob(base context.Context, handler JobHandler, job Job) {
	jobCtx, cancel := context.WithCancel(base)
	defer cancel()

	q.mu.Lock()
	q.running[job.TaskID] = cancel
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, job.TaskID)
		q.mu.Unlock()
	}()

	handler(jobCtx, job)
}
