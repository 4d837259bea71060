package steps

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
)

// Ошибки шагов.
var (
	// ErrDuplicateStep — шаг с таким именем уже зарегистрирован.
	ErrDuplicateStep = errors.New("step already registered")

	// ErrUnknownStep — шаг не найден в реестре.
	ErrUnknownStep = errors.New("unknown step")

	// ErrEmptyStepName — шаг без имени.
	ErrEmptyStepName = errors.New("step name is empty")

	// ErrRegistrySealed — реестр заморожен, регистрация невозможна.
	ErrRegistrySealed = errors.New("step registry is sealed")

	// ErrInvalidConfig — невалидные параметры шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Step — единица работы в pipeline.
type Step interface {
	// Name возвращает имя шага, под которым он регистрируется.
	Name() string

	// Execute выполняет шаг и возвращает результат.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// RunID — идентификатор run.
	RunID string

	// Run — исходный запрос run.
	Run domain.RunRequest

	// Previous — результаты уже выполненных шагов этого run.
	Previous []domain.StepResult

	// Timeout — таймаут шага. 0 — без ограничения сверх ctx.
	Timeout time.Duration
}

// Response — результат выполнения шага.
type Response struct {
	// Outputs — выходные данные шага.
	// Попадают в StepResult.Detail и видны следующим шагам через Previous.
	Outputs map[string]any
}

// NewRequest создаёт новый Request.
func NewRequest(runID string, run domain.RunRequest, previous []domain.StepResult, timeout time.Duration) *Request {
	return &Request{
		RunID:    runID,
		Run:      run,
		Previous: previous,
		Timeout:  timeout,
	}
}

// NewResponse создаёт новый Response с outputs.
func NewResponse(outputs map[string]any) *Response {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &Response{
		Outputs: outputs,
	}
}

// PreviousOutputs возвращает outputs ранее выполненного шага.
func (r *Request) PreviousOutputs(name string) (map[string]any, bool) {
	for i := len(r.Previous) - 1; i >= 0; i-- {
		if r.Previous[i].Name == name {
			return r.Previous[i].Detail, true
		}
	}
	return nil, false
}

// StepFunc позволяет зарегистрировать функцию как шаг.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, req *Request) (*Response, error)
}

// Func создаёт StepFunc.
func Func(name string, fn func(ctx context.Context, req *Request) (*Response, error)) *StepFunc {
	return &StepFunc{StepName: name, Fn: fn}
}

// Name возвращает имя шага.
func (f *StepFunc) Name() string {
	return f.StepName
}

// Execute вызывает функцию.
func (f *StepFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f.Fn(ctx, req)
}

// GetExtraString извлекает строковое значение из Extra запроса.
func GetExtraString(extra map[string]any, key string) string {
	if v, ok := extra[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetExtraInt извлекает числовое значение из Extra запроса.
func GetExtraInt(extra map[string]any, key string) int {
	if v, ok := extra[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}
