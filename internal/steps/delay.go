package steps

import (
	"context"
	"fmt"
	"time"
)

const (
	// StepNameDelay — имя шага задержки.
	StepNameDelay = "delay"

	// Ключ Extra с длительностью задержки.
	extraDelayMs = "delay_ms"
)

// DelayStep — шаг задержки.
//
// Приостанавливает выполнение на Extra["delay_ms"] миллисекунд.
// Поддерживает graceful shutdown через context cancellation.
type DelayStep struct{}

// NewDelayStep создаёт новый DelayStep.
func NewDelayStep() *DelayStep {
	return &DelayStep{}
}

// Name возвращает имя шага.
func (s *DelayStep) Name() string {
	return StepNameDelay
}

// Execute выполняет задержку.
func (s *DelayStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	ms := GetExtraInt(req.Run.Extra, extraDelayMs)
	if ms < 0 {
		return nil, fmt.Errorf("%w: %s: %s must be non-negative", ErrInvalidConfig, StepNameDelay, extraDelayMs)
	}
	duration := time.Duration(ms) * time.Millisecond

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	case <-timer.C:
		return NewResponse(map[string]any{
			"duration_ms": duration.Milliseconds(),
		}), nil
	}
}
