package orchestrator

import (
	"errors"

	"github.com/shaiso/tta-agent/internal/repo"
)

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = repo.ErrRunNotFound

	// ErrEmptyPipeline — pipeline не содержит ни одного шага.
	ErrEmptyPipeline = errors.New("pipeline is empty")

	// ErrRunFinished — run уже в финальном статусе.
	ErrRunFinished = errors.New("run already finished")

	// ErrOrchestratorStopped — оркестратор остановлен и не принимает runs.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrStepPanic — шаг завершился паникой.
	ErrStepPanic = errors.New("step panicked")

	// ErrStepTimeout — шаг не уложился в таймаут.
	ErrStepTimeout = errors.New("step timed out")

	// errNoChange — Update не должен ничего записывать.
	errNoChange = errors.New("no change")
)
