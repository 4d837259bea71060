package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
	"github.com/shaiso/tta-agent/internal/steps"
	"github.com/shaiso/tta-agent/internal/telemetry"
)

// execute ведёт один run от pending до финального статуса.
// Единственный писатель записи run на всё время её жизни.
func (o *Orchestrator) execute(ctx context.Context, h *runHandle) {
	defer o.wg.Done()
	defer o.active.remove(h)

	logger := telemetry.WithRunID(o.logger, h.id)

	// 1. pending → running
	run, err := o.store.Update(ctx, h.id, func(r *domain.RunRecord) error {
		return r.MarkRunning(o.clock.Now())
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// run отменили до того, как горутина успела его взять
		logger.Debug("run not started", "reason", err)
		return
	}
	if err != nil {
		o.abandon(ctx, logger, h.id, fmt.Errorf("mark running: %w", err))
		return
	}

	logger.Info("run started", "pipeline", o.pipeline)

	// 2. Шаги по порядку
	for _, name := range o.pipeline {
		if h.shouldCancel() {
			o.finalize(ctx, logger, h.id, func(r *domain.RunRecord) error {
				return r.MarkCancelled(o.clock.Now(), fmt.Sprintf("cancelled before step %s", name))
			})
			return
		}

		result := o.runStep(ctx, logger, run, name)

		run, err = o.store.Update(ctx, h.id, func(r *domain.RunRecord) error {
			if err := r.AppendStep(result); err != nil {
				return err
			}
			if !result.Succeeded() {
				return r.MarkFailed(result.FinishedAt, fmt.Sprintf("step %s: %s", name, result.Error))
			}
			return nil
		})
		if err != nil {
			o.abandon(ctx, logger, h.id, fmt.Errorf("record step %s: %w", name, err))
			return
		}

		if !result.Succeeded() {
			o.logRunFinished(logger, run)
			o.finished(ctx, run)
			return
		}
	}

	// 3. Все шаги успешны
	o.finalize(ctx, logger, h.id, func(r *domain.RunRecord) error {
		return r.MarkSucceeded(o.clock.Now())
	})
}

// runStep выполняет один шаг и превращает результат в StepResult.
// Ошибка шага — данные run, а не ошибка execute.
func (o *Orchestrator) runStep(ctx context.Context, logger *slog.Logger, run *domain.RunRecord, name string) domain.StepResult {
	stepLogger := telemetry.WithStep(logger, name)
	result := domain.StepResult{Name: name}

	result.StartedAt = o.clock.Now()
	outputs, err := o.invoke(ctx, name, steps.NewRequest(run.ID, run.Request.Clone(), run.Clone().Steps, o.stepTimeout))
	result.FinishedAt = o.clock.Now()

	if err != nil {
		result.Status = domain.StepStatusError
		result.Error = err.Error()
		stepLogger.Warn("step failed", "error", err, "duration", result.Duration())
	} else {
		result.Status = domain.StepStatusOK
		result.Detail = outputs
		stepLogger.Debug("step completed", "duration", result.Duration())
	}

	o.metrics.StepObserved(name, string(result.Status), result.Duration())
	return result
}

// invoke вызывает шаг с таймаутом и перехватом паники.
func (o *Orchestrator) invoke(ctx context.Context, name string, req *steps.Request) (outputs map[string]any, err error) {
	step, err := o.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("step panic", "run_id", req.RunID, "step", name, "panic", r, "stack", string(debug.Stack()))
			outputs, err = nil, fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
	}()

	resp, err := step.Execute(ctx, req)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && o.stepTimeout > 0 {
		return nil, fmt.Errorf("%w after %s", ErrStepTimeout, o.stepTimeout)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return map[string]any{}, nil
	}
	if resp.Outputs == nil {
		return map[string]any{}, nil
	}
	return resp.Outputs, nil
}

// finalize выполняет финальный переход и уведомляет о нём.
func (o *Orchestrator) finalize(ctx context.Context, logger *slog.Logger, id string, mark func(*domain.RunRecord) error) {
	run, err := o.store.Update(ctx, id, mark)
	if err != nil {
		o.abandon(ctx, logger, id, fmt.Errorf("finalize: %w", err))
		return
	}
	o.logRunFinished(logger, run)
	o.finished(ctx, run)
}

// abandon вызывается, когда запись run не удалось обновить.
// Делает одну попытку пометить run как failed, иначе run остаётся
// в последнем сохранённом состоянии.
func (o *Orchestrator) abandon(ctx context.Context, logger *slog.Logger, id string, cause error) {
	if errors.Is(cause, domain.ErrInvalidTransition) {
		// запись уже финализирована в обход этой горутины
		logger.Warn("run finalized elsewhere", "error", cause)
		return
	}
	logger.Error("run store update failed", "error", cause)

	run, err := o.store.Update(context.WithoutCancel(ctx), id, func(r *domain.RunRecord) error {
		return r.MarkFailed(o.clock.Now(), fmt.Sprintf("internal error: %v", cause))
	})
	if err != nil {
		logger.Error("run abandoned", "error", err)
		o.metrics.RunFinished("abandoned")
		return
	}
	o.logRunFinished(logger, run)
	o.finished(ctx, run)
}

// finished обновляет метрики и уведомляет Notifier.
// Вызывается ровно один раз на run — после успешного финального перехода.
func (o *Orchestrator) finished(ctx context.Context, run *domain.RunRecord) {
	o.metrics.RunFinished(string(run.Status))

	if o.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultNotifyTimeout)
	defer cancel()
	if err := o.notifier.RunFinished(notifyCtx, run.Clone()); err != nil {
		o.logger.Warn("run notification failed", "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) logRunFinished(logger *slog.Logger, run *domain.RunRecord) {
	attrs := []any{
		"status", run.Status,
		"steps", len(run.Steps),
		"duration", run.Duration().Round(time.Millisecond),
	}
	if run.Error != "" {
		attrs = append(attrs, "error", run.Error)
	}
	logger.Info("run finished", attrs...)
}
