// Package trace строит представление run для клиентов.
//
// Render — чистая функция: одна и та же запись всегда даёт один и тот
// же Trace. Порядок шагов совпадает с порядком их выполнения.
package trace

import (
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
)

// Trace — представление run для API и событий.
type Trace struct {
	RunID       string           `json:"run_id"`
	Status      domain.RunStatus `json:"status"`
	Who         string           `json:"who"`
	Action      string           `json:"action"`
	Steps       []TraceStep      `json:"steps"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
	Error       string           `json:"error,omitempty"`
}

// TraceStep — один шаг в Trace.
type TraceStep struct {
	Name       string            `json:"name"`
	Status     domain.StepStatus `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	DurationMs int64             `json:"duration_ms"`
	Detail     map[string]any    `json:"detail,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Render строит Trace по записи run.
// Для nil возвращает пустой Trace.
func Render(run *domain.RunRecord) Trace {
	if run == nil {
		return Trace{Steps: []TraceStep{}}
	}

	t := Trace{
		RunID:      run.ID,
		Status:     run.Status,
		Who:        run.Request.Who,
		Action:     run.Request.Action,
		Steps:      make([]TraceStep, len(run.Steps)),
		CreatedAt:  run.CreatedAt.UTC(),
		DurationMs: run.Duration().Milliseconds(),
		Error:      run.Error,
	}
	if run.StartedAt != nil {
		ts := run.StartedAt.UTC()
		t.StartedAt = &ts
	}
	if run.CompletedAt != nil {
		ts := run.CompletedAt.UTC()
		t.CompletedAt = &ts
	}

	for i, s := range run.Steps {
		t.Steps[i] = TraceStep{
			Name:       s.Name,
			Status:     s.Status,
			StartedAt:  s.StartedAt.UTC(),
			FinishedAt: s.FinishedAt.UTC(),
			DurationMs: s.Duration().Milliseconds(),
			Detail:     s.Detail,
			Error:      s.Error,
		}
	}
	return t
}

// RenderAll строит Trace для каждой записи.
func RenderAll(runs []*domain.RunRecord) []Trace {
	out := make([]Trace, len(runs))
	for i, r := range runs {
		out[i] = Render(r)
	}
	return out
}
