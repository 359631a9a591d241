package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStoreCapacity はメモリ上に保持するタスク数の既定値
const DefaultStoreCapacity = 1000

// MemoryStore は上限付きのインメモリ TaskStore
// 上限に達した場合は最も古い終了済みタスクを破棄する
type MemoryStore struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*Task
	order    []uuid.UUID // 作成順
	capacity int
	now      func() time.Time
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &MemoryStore{
		tasks:    make(map[uuid.UUID]*Task),
		capacity: capacity,
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) >= s.capacity && !s.evictOldestTerminal() {
		return ErrStoreFull
	}

	s.tasks[task.ID] = task.Clone()
	s.order = append(s.order, task.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, next TaskStatus, message string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := task.Transition(next, message, s.now()); err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}

	tasks := make([]*Task, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(tasks) < n; i-- {
		tasks = append(tasks, s.tasks[s.order[i]].Clone())
	}
	return tasks, nil
}

// evictOldestTerminal は最も古い終了済みタスクを 1 件削除する。呼び出し側でロックを保持すること。
func (s *MemoryStore) evictOldestTerminal() bool {
	for i, id := range s.order {
		if s.tasks[id].Status.IsTerminal() {
			delete(s.tasks, id)
			s.order = append(s.order[:i], s.order[i+1:]...)
			return true
		}
	}
	return false
}
