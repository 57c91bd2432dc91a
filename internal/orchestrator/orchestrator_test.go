package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/status"
	"github.com/shaiso/mediaflow/internal/steps"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

// testClock — монотонные часы: каждый вызов сдвигает время на 1ms.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// harness — оркестратор поверх MemoryStore с упрощённым циклом worker'а.
type harness struct {
	t        *testing.T
	store    queue.Store
	mem      *queue.MemoryStore
	tasks    *status.MemoryTaskStore
	orch     *Orchestrator
	producer *Producer
	handlers map[queue.Event]queue.EventHandler
	calls    map[domain.StepType]*atomic.Int32
	task     *domain.Task
}

type stepBehavior func(attempt int) (any, error)

func succeed(output any) stepBehavior {
	return func(int) (any, error) { return output, nil }
}

func fail(msg string) stepBehavior {
	return func(int) (any, error) { return nil, errors.New(msg) }
}

func testFlows() map[string]FlowDefinition {
	flows := DefaultFlows()
	for name, f := range flows {
		f.Retry = domain.RetryPolicy{MaxAttempts: 2, Backoff: "fixed"}
		flows[name] = f
	}
	return flows
}

func newHarness(t *testing.T, behaviors map[domain.StepType]stepBehavior) *harness {
	t.Helper()

	clock := newTestClock()
	mem := queue.NewMemoryStore()
	mem.SetClock(clock.Now)

	h := &harness{
		t:     t,
		store: mem,
		mem:   mem,
		tasks: status.NewMemoryTaskStore(),
		calls: make(map[domain.StepType]*atomic.Int32),
	}

	registry := steps.NewRegistry()
	for stepType, behave := range behaviors {
		counter := &atomic.Int32{}
		h.calls[stepType] = counter
		registry.Register(stepType, steps.ProcessorFunc(
			func(_ context.Context, _ map[string]any, jc steps.JobContext) (any, error) {
				counter.Add(1)
				return behave(jc.Attempt)
			}))
	}

	h.task = domain.NewTask("ws-1", FlowLabelDetection)
	h.tasks.Put(h.task)

	flows := testFlows()
	h.orch = New(Config{
		Store:      mem,
		Processors: registry,
		Reporter:   status.New(status.Config{Store: h.tasks, Logger: telemetry.Discard()}),
		Flows:      flows,
		Logger:     telemetry.Discard(),
		Clock:      clock.Now,
	})
	h.handlers = h.orch.Handlers()
	h.producer = NewProducer(ProducerConfig{Store: mem, Flows: flows, Logger: telemetry.Discard()})

	return h
}

func (h *harness) enqueue(flow string, enabled ...domain.StepType) uuid.UUID {
	h.t.Helper()
	id, err := h.producer.Enqueue(context.Background(), EnqueueRequest{
		TaskID:       h.task.ID,
		WorkspaceID:  h.task.WorkspaceID,
		Flow:         flow,
		EnabledSteps: enabled,
	})
	if err != nil {
		h.t.Fatalf("Enqueue: %v", err)
	}
	return id
}

// run выполняет job так же, как worker: попытки, события, разрешение parent.
func (h *harness) run(id uuid.UUID) (*domain.Job, error) {
	h.t.Helper()
	ctx := context.Background()

	job, err := h.store.MarkActive(ctx, id)
	if err != nil {
		h.t.Fatalf("MarkActive(%s): %v", id, err)
	}

	var procErr error
	for {
		h.handlers[queue.EventActive](ctx, job, nil)

		var value any
		value, procErr = h.orch.Process(ctx, job)
		if procErr == nil {
			raw, _ := json.Marshal(value)
			job, _ = h.store.MarkCompleted(ctx, id, raw)
			h.handlers[queue.EventCompleted](ctx, job, nil)
			break
		}

		if job.AttemptsMade+1 >= job.MaxAttempts() || queue.IsUnrecoverable(procErr) {
			job, _ = h.store.MarkFailed(ctx, id, procErr.Error())
			h.handlers[queue.EventFailed](ctx, job, procErr)
			break
		}

		job, _ = h.store.RecordFailedAttempt(ctx, id, procErr.Error())
		h.handlers[queue.EventFailed](ctx, job, procErr)
	}

	if job.ParentID != nil {
		if _, err := h.store.ResolveChild(ctx, *job.ParentID); err != nil {
			h.t.Fatalf("ResolveChild: %v", err)
		}
	}
	return job, procErr
}

// runFlow выполняет всех детей, затем parent.
func (h *harness) runFlow(parentID uuid.UUID) (*domain.Job, error) {
	h.t.Helper()
	children, err := h.store.ListChildren(context.Background(), parentID)
	if err != nil {
		h.t.Fatalf("ListChildren: %v", err)
	}
	for _, c := range children {
		h.run(c.ID)
	}

	parent, _ := h.store.GetJob(context.Background(), parentID)
	if parent.State != domain.JobStateWaiting {
		h.t.Fatalf("parent should be waiting after children, got %s", parent.State)
	}
	return h.run(parentID)
}

func (h *harness) child(parentID uuid.UUID, step domain.StepType) *domain.Job {
	h.t.Helper()
	children, _ := h.store.ListChildren(context.Background(), parentID)
	for _, c := range children {
		if c.Name == string(step) {
			return c
		}
	}
	h.t.Fatalf("no child for %s", step)
	return nil
}

func (h *harness) parentData(parentID uuid.UUID) *domain.ParentJobData {
	h.t.Helper()
	job, err := h.store.GetJob(context.Background(), parentID)
	if err != nil {
		h.t.Fatalf("GetJob: %v", err)
	}
	data, err := decodeParentData(job)
	if err != nil {
		h.t.Fatalf("decode: %v", err)
	}
	return data
}

func (h *harness) finalTask() domain.Task {
	h.t.Helper()
	task, ok := h.tasks.Get(h.task.ID)
	if !ok {
		h.t.Fatal("task missing")
	}
	return task
}

// --- Flow scenarios ---

func TestFlow_PartialSuccess(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel:  succeed(map[string]any{"labels": []string{"dog"}}),
		domain.StepFace:   fail("face service unavailable"),
		domain.StepSpeech: fail("no audio track"),
	})

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel, domain.StepFace, domain.StepSpeech)
	parent, err := h.runFlow(parentID)
	if err != nil {
		t.Fatalf("parent should succeed, got %v", err)
	}
	if parent.State != domain.JobStateCompleted {
		t.Errorf("parent state = %s", parent.State)
	}

	task := h.finalTask()
	if task.Status != domain.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
	if task.Progress != 100 {
		t.Errorf("progress = %d", task.Progress)
	}
	if task.Result == nil {
		t.Fatal("result missing")
	}
	if fmt.Sprint(task.Result.CompletedSteps) != "[LABEL]" {
		t.Errorf("completedSteps = %v", task.Result.CompletedSteps)
	}
	if fmt.Sprint(task.Result.FailedSteps) != "[FACE SPEECH]" {
		t.Errorf("failedSteps = %v", task.Result.FailedSteps)
	}
	if task.Result.CompletedAt == nil {
		t.Error("completedAt should be set on final result")
	}

	entries, err := engine.ParseErrorLog(task.ErrorLog)
	if err != nil {
		t.Fatalf("ParseErrorLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 error log entries, got %+v", entries)
	}
	for _, e := range entries {
		if e.Step != "FACE" && e.Step != "SPEECH" {
			t.Errorf("unexpected entry %+v", e)
		}
	}

	// Независимые шаги повторялись до потолка.
	if got := h.calls[domain.StepFace].Load(); got != 2 {
		t.Errorf("FACE calls = %d, want 2", got)
	}
}

func TestFlow_AllStepsFailed(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel:  fail("label quota exceeded"),
		domain.StepFace:   fail("face service unavailable"),
		domain.StepSpeech: fail("no audio track"),
	})

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel, domain.StepFace, domain.StepSpeech)
	parent, err := h.runFlow(parentID)

	var aggErr *engine.AggregationError
	if !errors.As(err, &aggErr) {
		t.Fatalf("expected AggregationError, got %v", err)
	}
	if !queue.IsUnrecoverable(err) {
		t.Error("aggregation error should not be retried")
	}
	for _, s := range []string{"LABEL", "FACE", "SPEECH"} {
		if !strings.Contains(err.Error(), s) {
			t.Errorf("error %q should mention %s", err, s)
		}
	}
	if parent.State != domain.JobStateFailed || parent.AttemptsMade != 1 {
		t.Errorf("parent = %s after %d attempts", parent.State, parent.AttemptsMade)
	}

	task := h.finalTask()
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}

	entries, _ := engine.ParseErrorLog(task.ErrorLog)
	if len(entries) != 4 {
		t.Fatalf("expected 3 step entries + parent entry, got %d", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Step != "parent" || last.Context["flow"] != FlowLabelDetection {
		t.Errorf("parent entry = %+v", last)
	}
}

func TestFlow_StrictPipelineFails(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepProbe:     succeed(map[string]any{"duration": 12.5}),
		domain.StepTranscode: fail("codec not supported"),
		domain.StepThumbnail: succeed("thumb.jpg"),
	})

	parentID := h.enqueue(FlowTranscode)

	transcode := h.child(parentID, domain.StepTranscode)
	job, err := h.run(transcode.ID)
	if err == nil || job.State != domain.JobStateFailed {
		t.Fatalf("non-independent step should fail the job, got %s / %v", job.State, err)
	}

	// Промежуточный отчёт: задача ещё RUNNING, ошибка шага записана.
	data := h.parentData(parentID)
	if r := data.StepResults[domain.StepTranscode]; r.Status != domain.StepStatusFailed || r.Attempts != 2 {
		t.Errorf("cached TRANSCODE = %+v", r)
	}
	if task := h.finalTask(); task.Status != domain.TaskStatusRunning {
		t.Errorf("status after step failure = %s", task.Status)
	}

	h.run(h.child(parentID, domain.StepProbe).ID)
	h.run(h.child(parentID, domain.StepThumbnail).ID)
	_, err = h.run(parentID)

	var aggErr *engine.AggregationError
	if !errors.As(err, &aggErr) || fmt.Sprint(aggErr.FailedSteps) != "[TRANSCODE]" {
		t.Fatalf("expected aggregation error for TRANSCODE, got %v", err)
	}
	if task := h.finalTask(); task.Status != domain.TaskStatusFailed {
		t.Errorf("status = %s", task.Status)
	}
}

func TestFlow_RetryAfterTransientError(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel: func(attempt int) (any, error) {
			if attempt == 1 {
				return nil, errors.New("connection reset")
			}
			return "ok", nil
		},
	})

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel)
	job, err := h.run(h.child(parentID, domain.StepLabel).ID)
	if err != nil {
		t.Fatalf("second attempt should succeed: %v", err)
	}
	if job.AttemptsMade != 2 {
		t.Errorf("attemptsMade = %d", job.AttemptsMade)
	}

	r := h.parentData(parentID).StepResults[domain.StepLabel]
	if !r.IsCompleted() || r.Attempts != 2 {
		t.Errorf("cached LABEL = %+v", r)
	}
	if h.finalTask().ErrorLog != "" {
		t.Error("recovered step should not leave an error log")
	}
}

// --- Idempotency ---

func TestProcessStep_ReturnsCachedResult(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel: succeed(map[string]any{"labels": 3}),
	})

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel)
	child, err := h.run(h.child(parentID, domain.StepLabel).ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.calls[domain.StepLabel].Load() != 1 {
		t.Fatalf("processor should run once")
	}

	// Повтор job после сбоя воркера.
	value, err := h.orch.Process(context.Background(), child)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.calls[domain.StepLabel].Load() != 1 {
		t.Error("processor must not run again for a completed step")
	}

	raw, _ := json.Marshal(value)
	if string(raw) != string(child.ReturnValue) {
		t.Errorf("cached result changed:\n got %s\nwant %s", raw, child.ReturnValue)
	}
}

// --- Reconciliation ---

func TestProcessParent_ChildDiedWithoutResult(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel: succeed("ok"),
		domain.StepShot:  succeed("ok"),
	})
	ctx := context.Background()

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel, domain.StepShot)
	h.run(h.child(parentID, domain.StepLabel).ID)

	// SHOT упал без событий: воркер умер, очередь пометила job failed.
	shot := h.child(parentID, domain.StepShot)
	h.store.MarkActive(ctx, shot.ID)
	h.store.MarkFailed(ctx, shot.ID, "job stalled more than allowable limit")
	h.store.ResolveChild(ctx, parentID)

	if _, err := h.run(parentID); err != nil {
		t.Fatalf("parent: %v", err)
	}

	r := h.parentData(parentID).StepResults[domain.StepShot]
	if r.Status != domain.StepStatusFailed {
		t.Fatalf("SHOT should be synthesized as failed, got %+v", r)
	}
	if r.Error != "job stalled more than allowable limit" || r.Attempts != 1 {
		t.Errorf("synthesized entry = %+v", r)
	}
	if r.StartedAt == nil || r.CompletedAt == nil {
		t.Error("synthesized entry should carry queue timestamps")
	}

	task := h.finalTask()
	if task.Status != domain.TaskStatusSuccess || fmt.Sprint(task.Result.FailedSteps) != "[SHOT]" {
		t.Errorf("task = %s, failed %v", task.Status, task.Result.FailedSteps)
	}
}

func TestProcessParent_NeverScheduledStep(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel: succeed("ok"),
	})
	ctx := context.Background()

	parentData, _ := json.Marshal(domain.ParentJobData{
		TaskID:       h.task.ID,
		WorkspaceID:  h.task.WorkspaceID,
		Flow:         FlowLabelDetection,
		EnabledSteps: []domain.StepType{domain.StepLabel, domain.StepText},
	})
	parent := &domain.Job{ID: uuid.New(), TaskID: h.task.ID, Name: FlowLabelDetection, Data: parentData}

	childData, _ := json.Marshal(domain.StepJobData{
		TaskID:      h.task.ID,
		ParentJobID: parent.ID,
		StepType:    domain.StepLabel,
	})
	child := &domain.Job{ID: uuid.New(), ParentID: &parent.ID, TaskID: h.task.ID, Name: "LABEL", Data: childData}

	if err := h.store.AddFlow(ctx, queue.Flow{Parent: parent, Children: []*domain.Job{child}}); err != nil {
		t.Fatalf("AddFlow: %v", err)
	}

	if _, err := h.runFlow(parent.ID); err != nil {
		t.Fatalf("parent: %v", err)
	}

	r := h.parentData(parent.ID).StepResults[domain.StepText]
	if r.Status != domain.StepStatusFailed || r.Error != reasonNeverStarted {
		t.Errorf("TEXT = %+v", r)
	}
}

func TestProcessParent_UnknownFlow(t *testing.T) {
	h := newHarness(t, nil)

	data, _ := json.Marshal(domain.ParentJobData{TaskID: h.task.ID, Flow: "render"})
	_, err := h.orch.Process(context.Background(), &domain.Job{ID: uuid.New(), Data: data})

	if !errors.Is(err, ErrUnknownFlow) || !queue.IsUnrecoverable(err) {
		t.Errorf("expected unrecoverable ErrUnknownFlow, got %v", err)
	}
}

func TestProcessParent_CorruptedStepResults(t *testing.T) {
	h := newHarness(t, nil)

	data, _ := json.Marshal(domain.ParentJobData{
		TaskID:       h.task.ID,
		Flow:         FlowLabelDetection,
		EnabledSteps: []domain.StepType{domain.StepLabel},
		StepResults: map[domain.StepType]domain.StepResult{
			domain.StepLabel: {StepType: domain.StepFace, Status: domain.StepStatusCompleted},
		},
	})
	_, err := h.orch.Process(context.Background(), &domain.Job{ID: uuid.New(), Data: data})

	if !errors.Is(err, ErrInvalidJobData) || !queue.IsUnrecoverable(err) {
		t.Errorf("expected unrecoverable ErrInvalidJobData, got %v", err)
	}
}

// --- Routing ---

func TestProcess_UnknownStepType(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel: succeed("ok"),
	})

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel, domain.StepShot)
	job, err := h.run(h.child(parentID, domain.StepShot).ID)

	if !errors.Is(err, steps.ErrUnknownStepType) || !queue.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable ErrUnknownStepType, got %v", err)
	}
	if job.AttemptsMade != 1 {
		t.Errorf("unknown step should not be retried, attempts = %d", job.AttemptsMade)
	}

	r := h.parentData(parentID).StepResults[domain.StepShot]
	if r.Status != domain.StepStatusFailed {
		t.Errorf("SHOT = %+v", r)
	}
}

func TestProcess_MarkerChildSkipped(t *testing.T) {
	h := newHarness(t, nil)
	parentID := uuid.New()

	tests := []struct {
		name string
		data json.RawMessage
	}{
		{"empty data", nil},
		{"no step type", json.RawMessage(`{"taskId":"` + uuid.NewString() + `"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := h.orch.Process(context.Background(), &domain.Job{
				ID:       uuid.New(),
				ParentID: &parentID,
				Data:     tt.data,
			})
			if err != nil || value != nil {
				t.Errorf("marker should be skipped, got %v, %v", value, err)
			}
		})
	}
}

// --- Hooks ---

func TestHooks_ProgressReports(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel: succeed("ok"),
		domain.StepShot:  succeed("ok"),
		domain.StepFace:  succeed("ok"),
	})

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel, domain.StepShot, domain.StepFace)
	h.run(h.child(parentID, domain.StepLabel).ID)

	history := h.tasks.History(h.task.ID)
	if len(history) != 2 {
		t.Fatalf("expected active + completed reports, got %d", len(history))
	}

	active := history[0]
	if *active.Status != domain.TaskStatusRunning || active.Result.CurrentStep != domain.StepLabel {
		t.Errorf("active report = %+v", active)
	}
	if *active.Progress != 0 {
		t.Errorf("active progress = %d", *active.Progress)
	}

	completed := history[1]
	if *completed.Progress != 33 {
		t.Errorf("progress after 1/3 = %d", *completed.Progress)
	}
	if completed.ErrorLog != nil {
		t.Error("empty error log should not be reported")
	}

	if h.parentData(parentID).StartedAt == nil {
		t.Error("first active step should set flow startedAt")
	}
}

func TestHooks_FailedBelowCeilingReportsRunningOnly(t *testing.T) {
	h := newHarness(t, nil)

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel)
	child := h.child(parentID, domain.StepLabel)
	child.AttemptsMade = 1

	h.handlers[queue.EventFailed](context.Background(), child, errors.New("timeout"))

	history := h.tasks.History(h.task.ID)
	if len(history) != 1 {
		t.Fatalf("expected 1 report, got %d", len(history))
	}
	if *history[0].Status != domain.TaskStatusRunning || history[0].Result != nil || history[0].ErrorLog != nil {
		t.Errorf("report = %+v", history[0])
	}
	if _, ok := h.parentData(parentID).StepResults[domain.StepLabel]; ok {
		t.Error("non-final failure should not touch the cache")
	}
}

func TestHooks_StaleActiveDoesNotOverwriteCompleted(t *testing.T) {
	h := newHarness(t, map[domain.StepType]stepBehavior{
		domain.StepLabel: succeed("ok"),
	})

	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel)
	child, _ := h.run(h.child(parentID, domain.StepLabel).ID)

	h.handlers[queue.EventActive](context.Background(), child, nil)

	if r := h.parentData(parentID).StepResults[domain.StepLabel]; !r.IsCompleted() {
		t.Errorf("completed entry overwritten: %+v", r)
	}
}

// --- Parent data CAS ---

// conflictStore возвращает ErrVersionConflict первые n вызовов UpdateData.
type conflictStore struct {
	*queue.MemoryStore
	conflicts atomic.Int32
	n         int32
}

func (s *conflictStore) UpdateData(ctx context.Context, id uuid.UUID, data json.RawMessage, v int64) (int64, error) {
	if s.conflicts.Add(1) <= s.n {
		return 0, queue.ErrVersionConflict
	}
	return s.MemoryStore.UpdateData(ctx, id, data, v)
}

func TestUpdateParentData_Conflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int32
		wantErr   error
	}{
		{"no conflicts", 0, nil},
		{"recovers after conflicts", 3, nil},
		{"gives up", 100, ErrParentDataConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			parentID := h.enqueue(FlowLabelDetection, domain.StepLabel)

			store := &conflictStore{MemoryStore: h.mem, n: tt.conflicts}
			o := New(Config{Store: store, Logger: telemetry.Discard(), MaxConflictRetries: 5})

			now := time.Now().UTC()
			_, err := o.updateParentData(context.Background(), parentID, func(d *domain.ParentJobData) bool {
				return engine.MergeStepResult(d.StepResults, domain.StepResult{
					StepType:  domain.StepLabel,
					Status:    domain.StepStatusRunning,
					StartedAt: &now,
				})
			})

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				if r := h.parentData(parentID).StepResults[domain.StepLabel]; r.Status != domain.StepStatusRunning {
					t.Errorf("update lost: %+v", r)
				}
			}
		})
	}
}

func TestUpdateParentData_NoChangeSkipsWrite(t *testing.T) {
	h := newHarness(t, nil)
	parentID := h.enqueue(FlowLabelDetection, domain.StepLabel)

	before, _ := h.store.GetJob(context.Background(), parentID)
	_, err := h.orch.updateParentData(context.Background(), parentID, func(*domain.ParentJobData) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	after, _ := h.store.GetJob(context.Background(), parentID)
	if before.Version != after.Version {
		t.Error("unchanged data should not bump version")
	}
}

// --- Producer ---

type recordingNotifier struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (n *recordingNotifier) NotifyReady(_ context.Context, id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
	return nil
}

func TestProducer_Enqueue(t *testing.T) {
	store := queue.NewMemoryStore()
	notifier := &recordingNotifier{}

	flows := DefaultFlows()
	f := flows[FlowLabelDetection]
	f.StepInputs = map[domain.StepType]map[string]any{
		domain.StepLabel: {"uri": "{{ .Inputs.source_uri }}", "mode": "{{ .Task.Flow }}"},
	}
	flows[FlowLabelDetection] = f

	p := NewProducer(ProducerConfig{Store: store, Notifier: notifier, Flows: flows, Logger: telemetry.Discard()})
	taskID := uuid.New()

	parentID, err := p.Enqueue(context.Background(), EnqueueRequest{
		TaskID:      taskID,
		WorkspaceID: "ws-1",
		Flow:        FlowLabelDetection,
		Inputs:      map[string]any{"source_uri": "gs://bucket/a.mp4", "lang": "en"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	parent, _ := store.GetJob(context.Background(), parentID)
	if parent.State != domain.JobStateWaitingChildren || parent.PendingChildren != 5 {
		t.Errorf("parent = %s, pending %d", parent.State, parent.PendingChildren)
	}

	data, _ := decodeParentData(parent)
	if len(data.EnabledSteps) != 5 || len(data.StepResults) != 0 {
		t.Errorf("parent data = %+v", data)
	}
	if len(notifier.ids) != 5 {
		t.Errorf("notified %d jobs, want 5", len(notifier.ids))
	}

	children, _ := store.ListChildren(context.Background(), parentID)
	for _, c := range children {
		sd, _ := decodeStepData(c)
		if sd.StepType != domain.StepLabel {
			continue
		}
		if sd.Input["uri"] != "gs://bucket/a.mp4" || sd.Input["mode"] != FlowLabelDetection || sd.Input["lang"] != "en" {
			t.Errorf("rendered input = %v", sd.Input)
		}
	}
}

func TestProducer_Errors(t *testing.T) {
	p := NewProducer(ProducerConfig{Store: queue.NewMemoryStore(), Logger: telemetry.Discard()})

	tests := []struct {
		name    string
		req     EnqueueRequest
		wantErr error
	}{
		{"unknown flow", EnqueueRequest{Flow: "render"}, ErrUnknownFlow},
		{"step not in flow", EnqueueRequest{Flow: FlowTranscode, EnabledSteps: []domain.StepType{domain.StepLabel}}, ErrStepNotInFlow},
		{"duplicate step", EnqueueRequest{Flow: FlowTranscode, EnabledSteps: []domain.StepType{domain.StepProbe, domain.StepProbe}}, engine.ErrDuplicateStepType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Enqueue(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProducer_ResolveDefaultsToAllSteps(t *testing.T) {
	p := NewProducer(ProducerConfig{Store: queue.NewMemoryStore(), Logger: telemetry.Discard()})

	flow, enabled, err := p.Resolve(EnqueueRequest{Flow: FlowTranscode})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if flow.Name != FlowTranscode {
		t.Errorf("flow = %s, want %s", flow.Name, FlowTranscode)
	}
	if !slices.Equal(enabled, flow.Steps) {
		t.Errorf("enabled = %v, want %v", enabled, flow.Steps)
	}

	// Клон, а не общий срез
	enabled[0] = domain.StepLabel
	if flow.Steps[0] == domain.StepLabel {
		t.Error("Resolve returned the flow's own Steps slice")
	}
}

// --- FlowDefinition ---

func TestDefaultFlows_Valid(t *testing.T) {
	for name, f := range DefaultFlows() {
		if err := f.Validate(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}

	bad := FlowDefinition{
		Name:             "x",
		Steps:            []domain.StepType{domain.StepLabel},
		IndependentSteps: map[domain.StepType]bool{domain.StepFace: true},
	}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidFlow) {
		t.Errorf("expected ErrInvalidFlow, got %v", err)
	}

	sorted := SortedFlows(DefaultFlows())
	if sorted[0].Name != FlowLabelDetection || sorted[1].Name != FlowTranscode {
		t.Errorf("sorted = %v, %v", sorted[0].Name, sorted[1].Name)
	}
}
