package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	pending → running → succeeded
//	                  ↘ failed
//	   (или) → cancelled (из pending или running)
//
// Назад переходы запрещены.
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded — все шаги pipeline завершились успешно.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed — один из шагов упал, pipeline остановлен.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled — run отменён между шагами.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус входит в известный набор.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to RunStatus) bool {
	switch from {
	case RunStatusPending:
		return to == RunStatusRunning || to == RunStatusCancelled
	case RunStatusRunning:
		return to == RunStatusSucceeded || to == RunStatusFailed || to == RunStatusCancelled
	default:
		return false
	}
}

// StepStatus — результат выполнения одного шага.
type StepStatus string

const (
	// StepStatusOK — шаг выполнен успешно.
	StepStatusOK StepStatus = "ok"

	// StepStatusError — шаг завершился ошибкой.
	StepStatusError StepStatus = "error"
)
