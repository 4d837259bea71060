package domain

import (
	"fmt"
	"time"
)

// RunRecord — состояние одного run.
//
// Запись создаётся оркестратором при старте и изменяется только
// горутиной, которая ведёт этот run. После перехода в финальный
// статус запись больше не меняется.
//
// Steps — append-only: результат шага добавляется целиком и после
// этого не изменяется.
type RunRecord struct {
	// ID — уникальный идентификатор run.
	ID string `json:"run_id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Request — входные данные, с которыми run был запущен.
	Request RunRequest `json:"request"`

	// Steps — результаты выполненных шагов в порядке pipeline.
	Steps []StepResult `json:"steps"`

	// Error — причина завершения с failed/cancelled.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время перехода в running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время перехода в финальный статус.
	// Nil, пока run не завершён. Устанавливается ровно один раз.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRunRecord создаёт запись в статусе pending.
func NewRunRecord(id string, req RunRequest, now time.Time) *RunRecord {
	return &RunRecord{
		ID:        id,
		Status:    RunStatusPending,
		Request:   req.Clone(),
		Steps:     []StepResult{},
		CreatedAt: now.UTC(),
	}
}

// StepResult — результат выполнения одного шага.
type StepResult struct {
	// Name — имя шага в реестре.
	Name string `json:"name"`

	// Status — ok или error.
	Status StepStatus `json:"status"`

	// StartedAt — время начала шага.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения шага.
	FinishedAt time.Time `json:"finished_at"`

	// Detail — полезная нагрузка успешного шага.
	Detail map[string]any `json:"detail,omitempty"`

	// Error — описание ошибки упавшего шага.
	Error string `json:"error,omitempty"`
}

// Duration возвращает продолжительность шага.
func (s StepResult) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Succeeded возвращает true для успешного шага.
func (s StepResult) Succeeded() bool {
	return s.Status == StepStatusOK
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *RunRecord) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *RunRecord) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус running.
func (r *RunRecord) MarkRunning(now time.Time) error {
	if err := r.transition(RunStatusRunning); err != nil {
		return err
	}
	t := now.UTC()
	r.StartedAt = &t
	return nil
}

// AppendStep добавляет результат шага. Допустимо только в статусе running.
func (r *RunRecord) AppendStep(res StepResult) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: append step %q to %s run", ErrInvalidTransition, res.Name, r.Status)
	}
	res.StartedAt = res.StartedAt.UTC()
	res.FinishedAt = res.FinishedAt.UTC()
	r.Steps = append(r.Steps, res)
	return nil
}

// MarkSucceeded переводит run в статус succeeded.
func (r *RunRecord) MarkSucceeded(now time.Time) error {
	return r.finish(RunStatusSucceeded, now, "")
}

// MarkFailed переводит run в статус failed с причиной.
func (r *RunRecord) MarkFailed(now time.Time, reason string) error {
	return r.finish(RunStatusFailed, now, reason)
}

// MarkCancelled переводит run в статус cancelled.
func (r *RunRecord) MarkCancelled(now time.Time, reason string) error {
	return r.finish(RunStatusCancelled, now, reason)
}

// LastStep возвращает последний выполненный шаг.
func (r *RunRecord) LastStep() (StepResult, bool) {
	if len(r.Steps) == 0 {
		return StepResult{}, false
	}
	return r.Steps[len(r.Steps)-1], true
}

// Clone возвращает глубокую копию записи.
// Читатели получают копию и не видят записи, которые идут параллельно.
func (r *RunRecord) Clone() *RunRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Request = r.Request.Clone()
	out.Steps = make([]StepResult, len(r.Steps))
	for i, s := range r.Steps {
		if s.Detail != nil {
			s.Detail = cloneMap(s.Detail)
		}
		out.Steps[i] = s
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// finish выполняет финальный переход; CompletedAt ставится один раз.
func (r *RunRecord) finish(to RunStatus, now time.Time, reason string) error {
	if err := r.transition(to); err != nil {
		return err
	}
	if r.CompletedAt == nil {
		t := now.UTC()
		r.CompletedAt = &t
	}
	r.Error = reason
	return nil
}

func (r *RunRecord) transition(to RunStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}
