package ingestion

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus は取り込みタスクの状態
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// タスクの状態メッセージ
const (
	MessageQueued      = "Queued for processing..."
	MessageStarted     = "Processing started in the background..."
	MessageCompleted   = "Ingestion completed successfully."
	MessageCancelled   = "Ingestion cancelled."
	MessageInterrupted = "Interrupted by server restart."
	MessageQueueFull   = "Ingestion queue is full."
	MessageBatchSize   = "Batch size error from the vector index. The document may be too large or the chunk settings need to be adjusted."
)

var (
	// ErrInvalidTransition は許可されていない状態遷移の場合のエラー
	ErrInvalidTransition = errors.New("invalid task status transition")
	// ErrTaskNotFound はタスクが存在しない場合のエラー
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskFinished は終了済みタスクを操作しようとした場合のエラー
	ErrTaskFinished = errors.New("task already finished")
)

// IsTerminal は終了状態かどうかを返す
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid は既知の状態かどうかを返す
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo は next への遷移が許可されているかを返す
// processing から processing への遷移はリトライ時のメッセージ更新として許可する
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Task は 1 回のファイル取り込みを表す
type Task struct {
	ID        uuid.UUID
	FileName  string
	Status    TaskStatus
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTask は pending 状態のタスクを作成する
func NewTask(fileName string, now time.Time) *Task {
	return &Task{
		ID:        uuid.New(),
		FileName:  fileName,
		Status:    StatusPending,
		Message:   MessageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition は状態を遷移させる。許可されない遷移の場合はタスクを変更しない。
func (t *Task) Transition(next TaskStatus, message string, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.Message = message
	t.UpdatedAt = now
	return nil
}

// Clone はタスクのコピーを返す
func (t *Task) Clone() *Task {
	c := *t
	return &c
}
