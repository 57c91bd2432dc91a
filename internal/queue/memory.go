package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore — Store в памяти.
//
// Все методы возвращают копии jobs: изменение результата не
// меняет состояние хранилища.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
	now  func() time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*domain.Job),
		now:  time.Now,
	}
}

// SetClock подменяет источник времени.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddFlow реализует Store.
func (s *MemoryStore) AddFlow(_ context.Context, flow Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	all := append([]*domain.Job{flow.Parent}, flow.Children...)
	for _, j := range all {
		if _, exists := s.jobs[j.ID]; exists {
			return fmt.Errorf("%w: job %s already exists", ErrInvalidFlow, j.ID)
		}
	}

	for _, c := range flow.Children {
		child := cloneJob(c)
		child.State = domain.JobStateWaiting
		if child.CreatedAt.IsZero() {
			child.CreatedAt = now
		}
		s.jobs[child.ID] = child
	}

	parent := cloneJob(flow.Parent)
	parent.PendingChildren = len(flow.Children)
	parent.State = domain.JobStateWaitingChildren
	if parent.PendingChildren == 0 {
		parent.State = domain.JobStateWaiting
	}
	if parent.CreatedAt.IsZero() {
		parent.CreatedAt = now
	}
	s.jobs[parent.ID] = parent

	return nil
}

// GetJob реализует Store.
func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return cloneJob(j), nil
}

// UpdateData реализует Store.
func (s *MemoryStore) UpdateData(_ context.Context, id uuid.UUID, data json.RawMessage, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Version != expectedVersion {
		return 0, fmt.Errorf("%w: job %s has version %d, expected %d", ErrVersionConflict, id, j.Version, expectedVersion)
	}

	j.Data = slices.Clone(data)
	j.Version++
	return j.Version, nil
}

// MarkActive реализует Store.
func (s *MemoryStore) MarkActive(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.State != domain.JobStateWaiting {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotWaiting, id, j.State)
	}

	now := s.now()
	j.State = domain.JobStateActive
	j.ProcessedOn = &now
	return cloneJob(j), nil
}

// RecordFailedAttempt реализует Store.
func (s *MemoryStore) RecordFailedAttempt(_ context.Context, id uuid.UUID, reason string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeJob(id)
	if err != nil {
		return nil, err
	}

	j.AttemptsMade++
	j.FailedReason = reason
	return cloneJob(j), nil
}

// MarkCompleted реализует Store.
func (s *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID, returnValue json.RawMessage) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeJob(id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	j.AttemptsMade++
	j.State = domain.JobStateCompleted
	j.ReturnValue = slices.Clone(returnValue)
	j.FinishedOn = &now
	return cloneJob(j), nil
}

// MarkFailed реализует Store.
func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeJob(id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	j.AttemptsMade++
	j.State = domain.JobStateFailed
	j.FailedReason = reason
	j.FinishedOn = &now
	return cloneJob(j), nil
}

// ResolveChild реализует Store.
func (s *MemoryStore) ResolveChild(_ context.Context, parentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.jobs[parentID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, parentID)
	}
	return s.resolveLocked(p), nil
}

// ChildrenValues реализует Store.
func (s *MemoryStore) ChildrenValues(_ context.Context, parentID uuid.UUID) (map[uuid.UUID]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[uuid.UUID]json.RawMessage)
	for _, j := range s.jobs {
		if isChildOf(j, parentID) && j.State == domain.JobStateCompleted && len(j.ReturnValue) > 0 {
			values[j.ID] = slices.Clone(j.ReturnValue)
		}
	}
	return values, nil
}

// ListChildren реализует Store.
func (s *MemoryStore) ListChildren(_ context.Context, parentID uuid.UUID, states ...domain.JobState) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Job
	for _, j := range s.jobs {
		if !isChildOf(j, parentID) {
			continue
		}
		if len(states) > 0 && !slices.Contains(states, j.State) {
			continue
		}
		result = append(result, cloneJob(j))
	}
	sortJobs(result)
	return result, nil
}

// ListWaiting реализует Store.
func (s *MemoryStore) ListWaiting(_ context.Context, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Job
	for _, j := range s.jobs {
		if j.State == domain.JobStateWaiting {
			result = append(result, cloneJob(j))
		}
	}
	sortJobs(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByTask реализует Store.
func (s *MemoryStore) ListByTask(_ context.Context, taskID uuid.UUID) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Job
	for _, j := range s.jobs {
		if j.TaskID == taskID {
			result = append(result, cloneJob(j))
		}
	}
	sortJobs(result)
	return result, nil
}

// RepairStalledParents реализует Store.
func (s *MemoryStore) RepairStalledParents(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var repaired []uuid.UUID
	for _, j := range s.jobs {
		if j.State == domain.JobStateWaitingChildren && s.resolveLocked(j) {
			repaired = append(repaired, j.ID)
		}
	}
	return repaired, nil
}

// RequeueStale реализует Store.
func (s *MemoryStore) RequeueStale(_ context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(-olderThan)
	var requeued []uuid.UUID
	for _, j := range s.jobs {
		if j.State != domain.JobStateActive || j.ProcessedOn == nil || !j.ProcessedOn.Before(deadline) {
			continue
		}
		j.State = domain.JobStateWaiting
		requeued = append(requeued, j.ID)
	}
	return requeued, nil
}

func (s *MemoryStore) activeJob(id uuid.UUID) (*domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.State != domain.JobStateActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotActive, id, j.State)
	}
	return j, nil
}

// resolveLocked пересчитывает PendingChildren. Вызывается под s.mu.
func (s *MemoryStore) resolveLocked(p *domain.Job) bool {
	pending := 0
	for _, j := range s.jobs {
		if isChildOf(j, p.ID) && !j.State.IsTerminal() {
			pending++
		}
	}
	p.PendingChildren = pending

	if pending == 0 && p.State == domain.JobStateWaitingChildren {
		p.State = domain.JobStateWaiting
		return true
	}
	return false
}

func isChildOf(j *domain.Job, parentID uuid.UUID) bool {
	return j.ParentID != nil && *j.ParentID == parentID
}

func sortJobs(jobs []*domain.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.Data = slices.Clone(j.Data)
	c.ReturnValue = slices.Clone(j.ReturnValue)
	if j.ParentID != nil {
		id := *j.ParentID
		c.ParentID = &id
	}
	if j.ProcessedOn != nil {
		t := *j.ProcessedOn
		c.ProcessedOn = &t
	}
	if j.FinishedOn != nil {
		t := *j.FinishedOn
		c.FinishedOn = &t
	}
	return &c
}
