package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
)

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newRun(id string, created time.Time) *domain.RunRecord {
	return domain.NewRunRecord(id, domain.RunRequest{Who: "teacher", Action: "analyze"}, created)
}

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := newRun("run-1", baseTime)
	if err := s.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "run-1" || got.Status != domain.RunStatusPending {
		t.Errorf("unexpected run: %+v", got)
	}

	// Копия не связана с хранилищем
	got.Status = domain.RunStatusFailed
	again, _ := s.Get(ctx, "run-1")
	if again.Status != domain.RunStatusPending {
		t.Error("store must return copies")
	}

	// Изменение исходного объекта не влияет на хранилище
	run.Request.Who = "changed"
	again, _ = s.Get(ctx, "run-1")
	if again.Request.Who != "teacher" {
		t.Error("store must copy on create")
	}
}

func TestMemoryStore_Duplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, newRun("run-1", baseTime)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Первая запись должна остаться нетронутой
	second := newRun("run-1", baseTime.Add(time.Hour))
	second.Request.Who = "intruder"
	err := s.Create(ctx, second)
	if !errors.Is(err, ErrDuplicateRunID) {
		t.Fatalf("expected ErrDuplicateRunID, got %v", err)
	}

	got, _ := s.Get(ctx, "run-1")
	if got.Request.Who != "teacher" || !got.CreatedAt.Equal(baseTime) {
		t.Errorf("existing record was overwritten: %+v", got)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	_, err := s.Update(ctx, "missing", func(*domain.RunRecord) error { return nil })
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newRun("run-1", baseTime))

	updated, err := s.Update(ctx, "run-1", func(r *domain.RunRecord) error {
		return r.MarkRunning(baseTime.Add(time.Second))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.RunStatusRunning {
		t.Errorf("expected running, got %s", updated.Status)
	}

	// Ошибка mutate не меняет запись
	boom := errors.New("boom")
	_, err = s.Update(ctx, "run-1", func(r *domain.RunRecord) error {
		r.Status = domain.RunStatusFailed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := s.Get(ctx, "run-1")
	if got.Status != domain.RunStatusRunning {
		t.Errorf("failed mutate must not persist, got %s", got.Status)
	}
}

func TestMemoryStore_ConcurrentReaders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newRun("run-1", baseTime))
	s.Update(ctx, "run-1", func(r *domain.RunRecord) error { return r.MarkRunning(baseTime) })

	const steps = 50
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < steps; i++ {
			s.Update(ctx, "run-1", func(r *domain.RunRecord) error {
				return r.AppendStep(domain.StepResult{
					Name:   fmt.Sprintf("step-%d", i),
					Status: domain.StepStatusOK,
					Detail: map[string]any{"i": i},
				})
			})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := 0
			for i := 0; i < steps; i++ {
				got, err := s.Get(ctx, "run-1")
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				// Шаги только добавляются и видны целиком
				if len(got.Steps) < prev {
					t.Errorf("steps shrank from %d to %d", prev, len(got.Steps))
				}
				for j, st := range got.Steps {
					if st.Name != fmt.Sprintf("step-%d", j) {
						t.Errorf("unexpected step %d: %s", j, st.Name)
					}
				}
				prev = len(got.Steps)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "run-1")
	if len(got.Steps) != steps {
		t.Errorf("expected %d steps, got %d", steps, len(got.Steps))
	}
}

func TestMemoryStore_List(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Create(ctx, newRun(fmt.Sprintf("run-%d", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}
	s.Update(ctx, "run-3", func(r *domain.RunRecord) error { return r.MarkRunning(baseTime) })

	all, err := s.List(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 runs, got %d", len(all))
	}
	if all[0].ID != "run-4" || all[4].ID != "run-0" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[4].ID)
	}

	running, _ := s.List(ctx, RunFilter{Status: domain.RunStatusRunning})
	if len(running) != 1 || running[0].ID != "run-3" {
		t.Errorf("unexpected status filter result: %v", running)
	}

	page, _ := s.List(ctx, RunFilter{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ID != "run-3" {
		t.Errorf("unexpected page: %d runs", len(page))
	}

	empty, _ := s.List(ctx, RunFilter{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("expected empty page, got %d", len(empty))
	}
}

func TestMemoryStore_DeleteFinishedBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// old-done: завершён давно
	s.Create(ctx, newRun("old-done", baseTime))
	s.Update(ctx, "old-done", func(r *domain.RunRecord) error {
		r.MarkRunning(baseTime)
		return r.MarkSucceeded(baseTime.Add(time.Minute))
	})

	// old-running: старый, но не завершён
	s.Create(ctx, newRun("old-running", baseTime))
	s.Update(ctx, "old-running", func(r *domain.RunRecord) error { return r.MarkRunning(baseTime) })

	// new-done: завершён недавно
	s.Create(ctx, newRun("new-done", baseTime))
	s.Update(ctx, "new-done", func(r *domain.RunRecord) error {
		r.MarkRunning(baseTime)
		return r.MarkFailed(baseTime.Add(2*time.Hour), "boom")
	})

	deleted, err := s.DeleteFinishedBefore(ctx, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	if _, err := s.Get(ctx, "old-done"); !errors.Is(err, ErrRunNotFound) {
		t.Error("old-done should be deleted")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", s.Len())
	}
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Create(ctx, newRun("run-1", baseTime)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
