package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/docqa/internal/core/ingestion"
)

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	file_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at);
`

// TaskStore は SQLite に永続化する ingestion.TaskStore 実装
type TaskStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenTaskStore はタスクストアを開く
// 前回のプロセスが残した pending/processing のタスクは failed として記録し直す
func OpenTaskStore(ctx context.Context, path string) (*TaskStore, int, error) {
	db, err := open(path)
	if err != nil {
		return nil, 0, err
	}

	if _, err := db.ExecContext(ctx, taskSchema); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("creating task schema: %w", err)
	}

	s := &TaskStore{db: db, now: time.Now}

	recovered, err := s.recoverInterrupted(ctx)
	if err != nil {
		db.Close()
		return nil, 0, err
	}
	return s, recovered, nil
}

func (s *TaskStore) recoverInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, message = ?, updated_at = ?
		WHERE status IN (?, ?)
	`, ingestion.StatusFailed, ingestion.MessageInterrupted, s.now().UnixNano(),
		ingestion.StatusPending, ingestion.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted tasks: %w", err)
	}
	return int(n), nil
}

// Close はデータベース接続を閉じる
func (s *TaskStore) Close() error {
	return s.db.Close()
}

func (s *TaskStore) Create(ctx context.Context, task *ingestion.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, file_name, status, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.ID.String(), task.FileName, string(task.Status), task.Message,
		task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving task: %w", err)
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*ingestion.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, status, message, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id.String())

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ingestion.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Transition は現在の状態を条件にした UPDATE で遷移を原子的に適用する
func (s *TaskStore) Transition(ctx context.Context, id uuid.UUID, next ingestion.TaskStatus, message string) (*ingestion.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := task.Status
	if err := task.Transition(next, message, s.now()); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(task.Status), task.Message, task.UpdatedAt.UnixNano(), id.String(), string(prev))
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	if n == 0 {
		// 他の更新が先に適用された
		return nil, fmt.Errorf("%w: task %s changed concurrently", ingestion.ErrInvalidTransition, id)
	}
	return task, nil
}

func (s *TaskStore) List(ctx context.Context, limit int) ([]*ingestion.Task, error) {
	query := `
		SELECT id, file_name, status, message, created_at, updated_at
		FROM tasks ORDER BY created_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ingestion.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*ingestion.Task, error) {
	var (
		id, fileName, status, message string
		createdAt, updatedAt          int64
	)
	if err := row.Scan(&id, &fileName, &status, &message, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing task id: %w", err)
	}

	return &ingestion.Task{
		ID:        taskID,
		FileName:  fileName,
		Status:    ingestion.TaskStatus(status),
		Message:   message,
		CreatedAt: time.Unix(0, createdAt),
		UpdatedAt: time.Unix(0, updatedAt),
	}, nil
}

// インターフェース実装の確認
var _ ingestion.TaskStore = (*TaskStore)(nil)
