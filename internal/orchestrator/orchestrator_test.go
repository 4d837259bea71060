package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shaiso/tta-agent/internal/clock"
	"github.com/shaiso/tta-agent/internal/domain"
	"github.com/shaiso/tta-agent/internal/repo"
	"github.com/shaiso/tta-agent/internal/steps"
	"github.com/shaiso/tta-agent/internal/telemetry"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

var testRequest = domain.RunRequest{Who: "teacher", Action: "analyze", Extra: map[string]any{"k": "v"}}

// okStep возвращает шаг, который пишет в outputs своё имя
// и количество предыдущих результатов.
func okStep(name string) steps.Step {
	return steps.Func(name, func(_ context.Context, req *steps.Request) (*steps.Response, error) {
		return steps.NewResponse(map[string]any{
			"step":     name,
			"previous": len(req.Previous),
		}), nil
	})
}

func failStep(name, msg string) steps.Step {
	return steps.Func(name, func(context.Context, *steps.Request) (*steps.Response, error) {
		return nil, errors.New(msg)
	})
}

// countingStep считает вызовы.
func countingStep(name string, calls *atomic.Int32) steps.Step {
	return steps.Func(name, func(context.Context, *steps.Request) (*steps.Response, error) {
		calls.Add(1)
		return steps.NewResponse(nil), nil
	})
}

// blockingStep сигналит в entered и ждёт release.
func blockingStep(name string, entered chan<- struct{}, release <-chan struct{}) steps.Step {
	return steps.Func(name, func(ctx context.Context, _ *steps.Request) (*steps.Response, error) {
		entered <- struct{}{}
		select {
		case <-release:
			return steps.NewResponse(map[string]any{"released": true}), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

type testEnv struct {
	orch  *Orchestrator
	store *repo.MemoryStore
	reg   *prometheus.Registry
}

func newTestEnv(t *testing.T, stepList []steps.Step, configure func(*Config)) *testEnv {
	t.Helper()

	registry := steps.NewRegistry()
	pipeline := make([]string, 0, len(stepList))
	for _, s := range stepList {
		registry.MustRegister(s)
		pipeline = append(pipeline, s.Name())
	}

	store := repo.NewMemoryStore()
	reg := prometheus.NewRegistry()
	cfg := Config{
		Store:        store,
		Registry:     registry,
		Pipeline:     pipeline,
		Clock:        clock.NewFake(t0, time.Second),
		IDGenerator:  &clock.SequenceGenerator{Prefix: "run"},
		Metrics:      telemetry.NewMetrics(reg),
		PollInterval: 5 * time.Millisecond,
	}
	if configure != nil {
		configure(&cfg)
	}

	orch, err := New(cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return &testEnv{orch: orch, store: store, reg: reg}
}

func waitTimeout(t *testing.T, o *Orchestrator, id string) *domain.RunRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	run, err := o.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait %s: %v", id, err)
	}
	return run
}

// --- Construction ---

func TestNew_EmptyPipeline(t *testing.T) {
	_, err := New(Config{Store: repo.NewMemoryStore(), Registry: steps.NewRegistry()})
	if !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("expected ErrEmptyPipeline, got %v", err)
	}
}

func TestNew_UnknownStep(t *testing.T) {
	registry := steps.NewRegistry()
	registry.MustRegister(okStep("agentA"))

	_, err := New(Config{
		Store:    repo.NewMemoryStore(),
		Registry: registry,
		Pipeline: []string{"agentA", "agentX"},
	})
	if !errors.Is(err, steps.ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
	if !strings.Contains(err.Error(), "agentX") {
		t.Errorf("error should name the unknown step: %v", err)
	}
}

func TestNew_SealsRegistry(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("a")}, nil)
	if !env.orch.registry.Sealed() {
		t.Error("registry should be sealed after New")
	}
	if got := env.orch.Pipeline(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("unexpected pipeline: %v", got)
	}
}

// --- Pipeline execution ---

func TestStart_AllStepsSucceed(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A"), okStep("B"), okStep("C")}, nil)
	ctx := context.Background()

	id, err := env.orch.Start(ctx, testRequest)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "run-1" {
		t.Errorf("expected run-1, got %s", id)
	}

	run, err := env.orch.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", run.Status, run.Error)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(run.Steps))
	}
	for i, name := range []string{"A", "B", "C"} {
		st := run.Steps[i]
		if st.Name != name || st.Status != domain.StepStatusOK {
			t.Errorf("step %d: unexpected %+v", i, st)
		}
		// Каждый шаг видит результаты всех предыдущих
		if st.Detail["previous"] != i {
			t.Errorf("step %s saw %v previous results, want %d", name, st.Detail["previous"], i)
		}
		if !st.FinishedAt.After(st.StartedAt) {
			t.Errorf("step %s: finished_at must be after started_at", name)
		}
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(t0.Add(8*time.Second)) {
		t.Errorf("unexpected completed_at: %v", run.CompletedAt)
	}
	if run.Error != "" {
		t.Errorf("unexpected error: %s", run.Error)
	}
	if env.orch.ActiveRuns() != 0 {
		t.Errorf("expected no active runs, got %d", env.orch.ActiveRuns())
	}
}

func TestStart_FailFast(t *testing.T) {
	var cCalls atomic.Int32
	env := newTestEnv(t, []steps.Step{okStep("A"), failStep("B", "bad input"), countingStep("C", &cCalls)}, nil)
	ctx := context.Background()

	id, err := env.orch.Start(ctx, testRequest)
	if err != nil {
		t.Fatalf("step failure must not be a Start error: %v", err)
	}

	run, _ := env.orch.Get(ctx, id)
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(run.Steps))
	}
	if cCalls.Load() != 0 {
		t.Error("step after failure must not run")
	}
	if run.Steps[1].Error != "bad input" || run.Steps[1].Detail != nil {
		t.Errorf("unexpected failed step: %+v", run.Steps[1])
	}
	if !strings.Contains(run.Error, "bad input") {
		t.Errorf("run error should describe the failure: %q", run.Error)
	}
}

func TestStart_LastStepTimeout(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A"), okStep("B"), failStep("C", "timeout")}, nil)
	ctx := context.Background()

	id, _ := env.orch.Start(ctx, testRequest)
	run, _ := env.orch.Get(ctx, id)

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	want := []struct {
		name   string
		status domain.StepStatus
		err    string
	}{
		{"A", domain.StepStatusOK, ""},
		{"B", domain.StepStatusOK, ""},
		{"C", domain.StepStatusError, "timeout"},
	}
	if len(run.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(run.Steps))
	}
	for i, w := range want {
		st := run.Steps[i]
		if st.Name != w.name || st.Status != w.status || st.Error != w.err {
			t.Errorf("step %d = {%s %s %q}, want {%s %s %q}", i, st.Name, st.Status, st.Error, w.name, w.status, w.err)
		}
	}
	if run.CompletedAt == nil {
		t.Error("completed_at must be set")
	}
}

func TestStart_StepPanic(t *testing.T) {
	panicky := steps.Func("boom", func(context.Context, *steps.Request) (*steps.Response, error) {
		panic("nil map write")
	})
	env := newTestEnv(t, []steps.Step{okStep("A"), panicky}, nil)
	ctx := context.Background()

	id, err := env.orch.Start(ctx, testRequest)
	if err != nil {
		t.Fatalf("panic must not escape Start: %v", err)
	}

	run, _ := env.orch.Get(ctx, id)
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	last, _ := run.LastStep()
	if !strings.Contains(last.Error, "panicked") || !strings.Contains(last.Error, "nil map write") {
		t.Errorf("unexpected step error: %q", last.Error)
	}
}

func TestStart_StepTimeout(t *testing.T) {
	slow := steps.Func("slow", func(ctx context.Context, _ *steps.Request) (*steps.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	env := newTestEnv(t, []steps.Step{slow}, func(c *Config) {
		c.StepTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()

	id, _ := env.orch.Start(ctx, testRequest)
	run, _ := env.orch.Get(ctx, id)

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if !strings.Contains(run.Steps[0].Error, "timed out") {
		t.Errorf("unexpected step error: %q", run.Steps[0].Error)
	}
}

func TestStart_InvalidRequest(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A")}, nil)

	_, err := env.orch.Start(context.Background(), domain.RunRequest{Who: " ", Action: "x"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
	if env.store.Len() != 0 {
		t.Error("invalid request must not create a run")
	}
}

func TestStart_DuplicateRunID(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, []steps.Step{countingStep("A", &calls)}, func(c *Config) {
		c.IDGenerator = clock.FixedGenerator("run-fixed")
	})
	ctx := context.Background()

	id, err := env.orch.Start(ctx, testRequest)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	first, _ := env.orch.Get(ctx, id)

	_, err = env.orch.Start(ctx, domain.RunRequest{Who: "other", Action: "other"})
	if !errors.Is(err, repo.ErrDuplicateRunID) {
		t.Fatalf("expected ErrDuplicateRunID, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("duplicate start must not execute steps, got %d calls", calls.Load())
	}

	after, _ := env.orch.Get(ctx, id)
	if !reflect.DeepEqual(first, after) {
		t.Errorf("first run was modified:\n%+v\n%+v", first, after)
	}
}

// failingStore возвращает ошибку на Create.
type failingStore struct {
	*repo.MemoryStore
	err error
}

func (s *failingStore) Create(context.Context, *domain.RunRecord) error {
	return s.err
}

func TestStart_StoreUnavailable(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, []steps.Step{countingStep("A", &calls)}, func(c *Config) {
		c.Store = &failingStore{MemoryStore: repo.NewMemoryStore(), err: fmt.Errorf("%w: connection refused", repo.ErrStoreUnavailable)}
	})

	_, err := env.orch.Start(context.Background(), testRequest)
	if !errors.Is(err, repo.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("no step may run without a persisted record")
	}
}

func TestStart_SyncCallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Шаг A обрывает контекст вызывающего, как при разрыве HTTP соединения.
	hangUp := steps.Func("A", func(context.Context, *steps.Request) (*steps.Response, error) {
		cancel()
		return steps.NewResponse(map[string]any{"done": true}), nil
	})
	env := newTestEnv(t, []steps.Step{hangUp, okStep("B")}, nil)

	id, err := env.orch.Start(ctx, testRequest)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	run, err := env.orch.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (error %q)", run.Status, run.Error)
	}
	if len(run.Steps) != 2 {
		t.Errorf("expected both steps recorded, got %d", len(run.Steps))
	}
}

func TestGet_Idempotent(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A"), okStep("B")}, nil)
	ctx := context.Background()

	id, _ := env.orch.Start(ctx, testRequest)

	first, err := env.orch.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, _ := env.orch.Get(ctx, id)
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated reads of a finished run must be identical")
	}

	// Изменение снимка не видно следующему читателю
	first.Steps[0].Detail["step"] = "mutated"
	third, _ := env.orch.Get(ctx, id)
	if third.Steps[0].Detail["step"] != "A" {
		t.Error("snapshot must be independent from the store")
	}

	if _, err := env.orch.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

// --- Async ---

func TestStart_Async(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	env := newTestEnv(t, []steps.Step{blockingStep("A", entered, release), okStep("B")}, func(c *Config) {
		c.Async = true
	})
	ctx := context.Background()

	id, err := env.orch.Start(ctx, testRequest)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Start вернулся, пока шаг A ещё выполняется
	<-entered
	run, _ := env.orch.Get(ctx, id)
	if run.Status != domain.RunStatusRunning {
		t.Errorf("expected running, got %s", run.Status)
	}
	if env.orch.ActiveRuns() != 1 {
		t.Errorf("expected 1 active run, got %d", env.orch.ActiveRuns())
	}

	close(release)
	run = waitTimeout(t, env.orch, id)
	if run.Status != domain.RunStatusSucceeded || len(run.Steps) != 2 {
		t.Errorf("unexpected final run: %s, %d steps", run.Status, len(run.Steps))
	}
}

func TestStart_AsyncConcurrentRuns(t *testing.T) {
	slow := steps.Func("slow", func(ctx context.Context, _ *steps.Request) (*steps.Response, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return steps.NewResponse(nil), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	env := newTestEnv(t, []steps.Step{slow}, func(c *Config) {
		c.Async = true
		c.Clock = clock.Real{}
	})
	ctx := context.Background()

	const n = 10
	start := time.Now()
	ids := make([]string, n)
	for i := range ids {
		id, err := env.orch.Start(ctx, testRequest)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if _, err := env.orch.Wait(waitCtx, id); err != nil {
				t.Errorf("wait %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	// Медленный шаг одного run не задерживает остальные
	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Errorf("runs were serialized: %v", elapsed)
	}
}

// --- Cancellation ---

func TestCancel_BetweenSteps(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var bCalls atomic.Int32
	env := newTestEnv(t, []steps.Step{blockingStep("A", entered, release), countingStep("B", &bCalls)}, func(c *Config) {
		c.Async = true
	})
	ctx := context.Background()

	id, _ := env.orch.Start(ctx, testRequest)
	<-entered

	snapshot, err := env.orch.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Отмена кооперативная: шаг A продолжает выполняться
	if snapshot.Status != domain.RunStatusRunning {
		t.Errorf("expected running right after cancel, got %s", snapshot.Status)
	}

	close(release)
	run := waitTimeout(t, env.orch, id)

	if run.Status != domain.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", run.Status)
	}
	if len(run.Steps) != 1 || run.Steps[0].Status != domain.StepStatusOK {
		t.Errorf("step A should complete, got %+v", run.Steps)
	}
	if bCalls.Load() != 0 {
		t.Error("step B must not run after cancellation")
	}
	if run.CompletedAt == nil {
		t.Error("completed_at must be set")
	}
}

// gateKey помечает вызовы Update, которые gatedStore придерживает.
type gateKey struct{}

// gatedStore вызывает onCreate после создания записи и задерживает
// Update с gateKey в контексте до закрытия gate.
type gatedStore struct {
	*repo.MemoryStore
	onCreate func(id string)
	gate     chan struct{}
}

func (s *gatedStore) Create(ctx context.Context, run *domain.RunRecord) error {
	if err := s.MemoryStore.Create(ctx, run); err != nil {
		return err
	}
	if s.onCreate != nil {
		s.onCreate(run.ID)
	}
	return nil
}

func (s *gatedStore) Update(ctx context.Context, id string, mutate func(*domain.RunRecord) error) (*domain.RunRecord, error) {
	if ctx.Value(gateKey{}) != nil {
		<-s.gate
	}
	return s.MemoryStore.Update(ctx, id, mutate)
}

func TestCancel_IssuedBeforeDriverRegistered(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var bCalls atomic.Int32

	type cancelResult struct {
		run *domain.RunRecord
		err error
	}
	results := make(chan cancelResult, 1)

	store := &gatedStore{MemoryStore: repo.NewMemoryStore(), gate: make(chan struct{})}
	env := newTestEnv(t, []steps.Step{blockingStep("A", entered, release), countingStep("B", &bCalls)}, func(c *Config) {
		c.Async = true
		c.Store = store
	})

	// Cancel стартует между Create и регистрацией горутины run,
	// а его запись применяется, когда run уже в running.
	cancelCtx := context.WithValue(context.Background(), gateKey{}, true)
	store.onCreate = func(id string) {
		go func() {
			run, err := env.orch.Cancel(cancelCtx, id)
			results <- cancelResult{run, err}
		}()
	}

	id, err := env.orch.Start(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	close(store.gate)

	res := <-results
	if res.err != nil {
		t.Fatalf("cancel: %v", res.err)
	}
	if res.run.Status != domain.RunStatusRunning {
		t.Errorf("cancel must leave the running run to its driver, got %s (%q)", res.run.Status, res.run.Error)
	}

	close(release)
	run := waitTimeout(t, env.orch, id)

	if run.Status != domain.RunStatusCancelled || run.Error != "cancelled before step B" {
		t.Fatalf("expected cancelled before step B, got %s (%q)", run.Status, run.Error)
	}
	if len(run.Steps) != 1 || run.Steps[0].Status != domain.StepStatusOK {
		t.Errorf("step A must be recorded, got %+v", run.Steps)
	}
	if bCalls.Load() != 0 {
		t.Error("step B must not run after cancellation")
	}
}

func TestCancel_Pending(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A")}, nil)
	ctx := context.Background()

	// Запись pending, которую не ведёт ни одна горутина
	env.store.Create(ctx, domain.NewRunRecord("run-pending", testRequest, t0))

	run, err := env.orch.Cancel(ctx, "run-pending")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if run.Status != domain.RunStatusCancelled || run.CompletedAt == nil {
		t.Errorf("unexpected run: %+v", run)
	}
	if len(run.Steps) != 0 {
		t.Error("cancelled pending run must have no steps")
	}
}

func TestCancel_Finished(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A")}, nil)
	ctx := context.Background()

	id, _ := env.orch.Start(ctx, testRequest)
	if _, err := env.orch.Cancel(ctx, id); !errors.Is(err, ErrRunFinished) {
		t.Errorf("expected ErrRunFinished, got %v", err)
	}

	run, _ := env.orch.Get(ctx, id)
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("finished run must not change, got %s", run.Status)
	}
}

func TestCancel_NotFound(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A")}, nil)
	if _, err := env.orch.Cancel(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

// --- Notifier & metrics ---

type recordingNotifier struct {
	mu   sync.Mutex
	runs []*domain.RunRecord
	err  error
}

func (n *recordingNotifier) RunFinished(_ context.Context, run *domain.RunRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	return n.err
}

func TestNotifier(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("broker down")}
	env := newTestEnv(t, []steps.Step{okStep("A")}, func(c *Config) {
		c.Notifier = notifier
	})
	ctx := context.Background()

	id, err := env.orch.Start(ctx, testRequest)
	if err != nil {
		t.Fatalf("notifier error must not fail the run: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.runs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.runs))
	}
	if notifier.runs[0].ID != id || notifier.runs[0].Status != domain.RunStatusSucceeded {
		t.Errorf("unexpected notification: %+v", notifier.runs[0])
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, []steps.Step{okStep("A"), failStep("B", "x")}, nil)
	ctx := context.Background()

	env.orch.Start(ctx, testRequest)
	env.orch.Start(ctx, testRequest)

	families, err := env.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	checks := map[string]float64{
		"tta_runs_started_total":                        2,
		"tta_runs_finished_total,status=failed":         2,
		"tta_active_runs":                               0,
		"tta_step_duration_seconds,status=ok,step=A":    2,
		"tta_step_duration_seconds,status=error,step=B": 2,
	}
	for key, want := range checks {
		if got, ok := values[key]; !ok || got != want {
			t.Errorf("%s = %v (present=%v), want %v", key, got, ok, want)
		}
	}
}

// --- Shutdown ---

func TestShutdown(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	env := newTestEnv(t, []steps.Step{blockingStep("A", entered, release)}, func(c *Config) {
		c.Async = true
	})
	ctx := context.Background()

	id, _ := env.orch.Start(ctx, testRequest)
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- env.orch.Shutdown(context.Background())
	}()

	// Новые runs не принимаются
	time.Sleep(10 * time.Millisecond)
	if _, err := env.orch.Start(ctx, testRequest); !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("expected ErrOrchestratorStopped, got %v", err)
	}
	if !env.orch.IsStopped() {
		t.Error("orchestrator should report stopped")
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("shutdown: %v", err)
	}

	run, _ := env.orch.Get(ctx, id)
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("in-flight run should finish, got %s", run.Status)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	entered := make(chan struct{}, 1)
	never := make(chan struct{})
	env := newTestEnv(t, []steps.Step{blockingStep("A", entered, never)}, func(c *Config) {
		c.Async = true
	})
	ctx := context.Background()

	id, _ := env.orch.Start(ctx, testRequest)
	<-entered

	shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := env.orch.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	// Шагу отменён контекст, run завершается с ошибкой
	run := waitTimeout(t, env.orch, id)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("expected failed after forced shutdown, got %s", run.Status)
	}
}
