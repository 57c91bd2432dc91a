package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

func newTestFlow(children int) Flow {
	taskID := uuid.New()
	parent := &domain.Job{
		ID:     uuid.New(),
		TaskID: taskID,
		Name:   "label-detection",
		Data:   json.RawMessage(`{"stepResults":{}}`),
	}

	flow := Flow{Parent: parent}
	for i := 0; i < children; i++ {
		pid := parent.ID
		flow.Children = append(flow.Children, &domain.Job{
			ID:       uuid.New(),
			ParentID: &pid,
			TaskID:   taskID,
			Name:     fmt.Sprintf("STEP%d", i),
		})
	}
	return flow
}

func TestMemoryStore_AddFlow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	flow := newTestFlow(2)

	if err := s.AddFlow(ctx, flow); err != nil {
		t.Fatalf("AddFlow: %v", err)
	}

	parent, err := s.GetJob(ctx, flow.Parent.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if parent.State != domain.JobStateWaitingChildren {
		t.Errorf("parent state = %s, want waiting-children", parent.State)
	}
	if parent.PendingChildren != 2 {
		t.Errorf("pending = %d, want 2", parent.PendingChildren)
	}

	waiting, _ := s.ListWaiting(ctx, 0)
	if len(waiting) != 2 {
		t.Errorf("expected 2 waiting children, got %d", len(waiting))
	}

	// Повторное добавление тех же jobs — ошибка.
	if err := s.AddFlow(ctx, flow); !errors.Is(err, ErrInvalidFlow) {
		t.Errorf("expected ErrInvalidFlow, got %v", err)
	}
}

func TestMemoryStore_AddFlow_Validation(t *testing.T) {
	flow := newTestFlow(1)
	other := uuid.New()
	flow.Children[0].ParentID = &other

	if err := NewMemoryStore().AddFlow(context.Background(), flow); !errors.Is(err, ErrInvalidFlow) {
		t.Errorf("expected ErrInvalidFlow, got %v", err)
	}
}

func TestMemoryStore_NoChildrenParentIsWaiting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	flow := newTestFlow(0)
	_ = s.AddFlow(ctx, flow)

	parent, _ := s.GetJob(ctx, flow.Parent.ID)
	if parent.State != domain.JobStateWaiting {
		t.Errorf("state = %s, want waiting", parent.State)
	}
}

func TestMemoryStore_UpdateData_CAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	flow := newTestFlow(0)
	_ = s.AddFlow(ctx, flow)

	v, err := s.UpdateData(ctx, flow.Parent.ID, json.RawMessage(`{"a":1}`), 0)
	if err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}

	// Устаревшая версия.
	_, err = s.UpdateData(ctx, flow.Parent.ID, json.RawMessage(`{"a":2}`), 0)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	job, _ := s.GetJob(ctx, flow.Parent.ID)
	if string(job.Data) != `{"a":1}` {
		t.Errorf("data = %s", job.Data)
	}

	_, err = s.UpdateData(ctx, uuid.New(), nil, 0)
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	flow := newTestFlow(2)
	_ = s.AddFlow(ctx, flow)

	a, b := flow.Children[0].ID, flow.Children[1].ID

	if _, err := s.MarkActive(ctx, a); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	if _, err := s.MarkActive(ctx, a); !errors.Is(err, ErrJobNotWaiting) {
		t.Errorf("second MarkActive: expected ErrJobNotWaiting, got %v", err)
	}

	job, _ := s.RecordFailedAttempt(ctx, a, "boom")
	if job.AttemptsMade != 1 || job.State != domain.JobStateActive {
		t.Errorf("after failed attempt: attempts=%d state=%s", job.AttemptsMade, job.State)
	}

	job, _ = s.MarkCompleted(ctx, a, json.RawMessage(`{"stepType":"STEP0","status":"completed"}`))
	if job.AttemptsMade != 2 || job.State != domain.JobStateCompleted || job.FinishedOn == nil {
		t.Errorf("after complete: %+v", job)
	}

	ready, _ := s.ResolveChild(ctx, flow.Parent.ID)
	if ready {
		t.Error("parent should not be ready with one child pending")
	}

	_, _ = s.MarkActive(ctx, b)
	if _, err := s.MarkFailed(ctx, b, "fatal"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	ready, _ = s.ResolveChild(ctx, flow.Parent.ID)
	if !ready {
		t.Error("parent should be ready")
	}
	// Идемпотентно: второй вызов не переводит parent повторно.
	ready, _ = s.ResolveChild(ctx, flow.Parent.ID)
	if ready {
		t.Error("second resolve should report false")
	}

	values, _ := s.ChildrenValues(ctx, flow.Parent.ID)
	if len(values) != 1 {
		t.Fatalf("expected 1 child value, got %d", len(values))
	}
	if _, ok := values[a]; !ok {
		t.Error("value of completed child missing")
	}

	failed, _ := s.ListChildren(ctx, flow.Parent.ID, domain.JobStateFailed)
	if len(failed) != 1 || failed[0].FailedReason != "fatal" {
		t.Errorf("failed children = %+v", failed)
	}

	all, _ := s.ListByTask(ctx, flow.Parent.TaskID)
	if len(all) != 3 {
		t.Errorf("expected 3 jobs for task, got %d", len(all))
	}
}

func TestMemoryStore_MarkCompletedRequiresActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	flow := newTestFlow(1)
	_ = s.AddFlow(ctx, flow)

	_, err := s.MarkCompleted(ctx, flow.Children[0].ID, nil)
	if !errors.Is(err, ErrJobNotActive) {
		t.Errorf("expected ErrJobNotActive, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	flow := newTestFlow(0)
	_ = s.AddFlow(ctx, flow)

	job, _ := s.GetJob(ctx, flow.Parent.ID)
	job.State = domain.JobStateFailed
	job.Data[0] = 'X'

	again, _ := s.GetJob(ctx, flow.Parent.ID)
	if again.State != domain.JobStateWaiting || again.Data[0] != '{' {
		t.Error("store state leaked through returned job")
	}
}

func TestMemoryStore_RepairStalledParents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	flow := newTestFlow(1)
	_ = s.AddFlow(ctx, flow)

	child := flow.Children[0].ID
	_, _ = s.MarkActive(ctx, child)
	_, _ = s.MarkCompleted(ctx, child, nil)
	// Worker упал до ResolveChild.

	repaired, _ := s.RepairStalledParents(ctx)
	if len(repaired) != 1 || repaired[0] != flow.Parent.ID {
		t.Errorf("repaired = %v", repaired)
	}

	repaired, _ = s.RepairStalledParents(ctx)
	if len(repaired) != 0 {
		t.Errorf("second repair should be empty, got %v", repaired)
	}
}

func TestMemoryStore_RequeueStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	flow := newTestFlow(1)
	_ = s.AddFlow(ctx, flow)
	child := flow.Children[0].ID
	_, _ = s.MarkActive(ctx, child)

	if ids, _ := s.RequeueStale(ctx, 5*time.Minute); len(ids) != 0 {
		t.Errorf("fresh job should not be requeued: %v", ids)
	}

	now = now.Add(10 * time.Minute)
	ids, _ := s.RequeueStale(ctx, 5*time.Minute)
	if len(ids) != 1 || ids[0] != child {
		t.Fatalf("requeued = %v", ids)
	}

	job, _ := s.GetJob(ctx, child)
	if job.State != domain.JobStateWaiting {
		t.Errorf("state = %s, want waiting", job.State)
	}
}

func TestUnrecoverable(t *testing.T) {
	base := errors.New("unknown step type")
	err := fmt.Errorf("process: %w", Unrecoverable(base))

	if !IsUnrecoverable(err) {
		t.Error("wrapped unrecoverable should be detected")
	}
	if !errors.Is(err, base) {
		t.Error("should unwrap to base error")
	}
	if IsUnrecoverable(base) {
		t.Error("plain error is recoverable")
	}
	if Unrecoverable(nil) != nil {
		t.Error("Unrecoverable(nil) should be nil")
	}
	if err.Error() != "process: unknown step type" {
		t.Errorf("message = %q", err.Error())
	}
}
