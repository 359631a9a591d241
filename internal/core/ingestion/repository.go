package ingestion

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrStoreFull は保持できるタスク数の上限に達した場合のエラー
var ErrStoreFull = errors.New("task store is full")

// TaskStore はタスクの永続化を抽象化するインターフェース
type TaskStore interface {
	// Create は新しいタスクを登録する
	Create(ctx context.Context, task *Task) error

	// Get はタスクを取得する。存在しない場合は ErrTaskNotFound を返す。
	Get(ctx context.Context, id uuid.UUID) (*Task, error)

	// Transition は状態遷移を検証した上で原子的に適用し、更新後のタスクを返す
	Transition(ctx context.Context, id uuid.UUID, next TaskStatus, message string) (*Task, error)

	// List は新しい順に最大 limit 件を返す（limit <= 0 の場合は全件）
	List(ctx context.Context, limit int) ([]*Task, error)
}
