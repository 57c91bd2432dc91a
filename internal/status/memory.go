package status

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

var (
	// ErrTaskNotFound — задачи нет в MemoryTaskStore.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists — задача с таким ID уже есть.
	ErrTaskExists = errors.New("task already exists")
)

// MemoryTaskStore — TaskStore в памяти.
//
// Используется в тестах и в локальном режиме worker'а без БД.
// Хранит историю всех применённых обновлений.
type MemoryTaskStore struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*domain.Task
	history map[uuid.UUID][]domain.TaskUpdate

	// Err, если задан, возвращается из UpdateTask.
	Err error
}

// NewMemoryTaskStore создаёт пустое хранилище.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:   make(map[uuid.UUID]*domain.Task),
		history: make(map[uuid.UUID][]domain.TaskUpdate),
	}
}

// Put добавляет или заменяет задачу.
func (s *MemoryTaskStore) Put(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *task
	s.tasks[task.ID] = &t
}

// Get возвращает копию задачи.
func (s *MemoryTaskStore) Get(id uuid.UUID) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// History возвращает обновления задачи в порядке применения.
func (s *MemoryTaskStore) History(id uuid.UUID) []domain.TaskUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.TaskUpdate(nil), s.history[id]...)
}

// UpdateTask реализует TaskStore.
func (s *MemoryTaskStore) UpdateTask(_ context.Context, id uuid.UUID, upd domain.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	upd.Apply(t)
	s.history[id] = append(s.history[id], upd)
	return nil
}

// Create добавляет новую задачу.
func (s *MemoryTaskStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return ErrTaskExists
	}
	t := *task
	s.tasks[task.ID] = &t
	return nil
}

// GetByID возвращает копию задачи или ErrTaskNotFound.
func (s *MemoryTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	t, ok := s.Get(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

// List возвращает задачи по фильтру, новые первыми.
func (s *MemoryTaskStore) List(_ context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	s.mu.Lock()
	var tasks []domain.Task
	for _, t := range s.tasks {
		if f.Match(t) {
			tasks = append(tasks, *t)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(tasks, func(a, b domain.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	if f.Offset >= len(tasks) {
		return nil, nil
	}
	tasks = tasks[f.Offset:]
	if f.Limit > 0 && len(tasks) > f.Limit {
		tasks = tasks[:f.Limit]
	}
	return tasks, nil
}
