package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// runHandle — состояние выполняющегося run в памяти.
//
// Создаётся при Start и удаляется, когда горутина run завершается.
// Через него Cancel передаёт запрос на отмену ведущей горутине.
type runHandle struct {
	id        string
	startedAt time.Time

	cancelRequested atomic.Bool
}

// requestCancel поднимает флаг отмены.
func (h *runHandle) requestCancel() {
	h.cancelRequested.Store(true)
}

// shouldCancel проверяется между шагами.
func (h *runHandle) shouldCancel() bool {
	return h.cancelRequested.Load()
}

// activeRuns — runs, которые ведёт этот процесс.
type activeRuns struct {
	mu   sync.RWMutex
	runs map[string]*runHandle
}

func newActiveRuns() *activeRuns {
	return &activeRuns{runs: make(map[string]*runHandle)}
}

// add регистрирует run. Повторная регистрация заменяет handle.
func (a *activeRuns) add(id string, now time.Time) *runHandle {
	h := &runHandle{id: id, startedAt: now}
	a.mu.Lock()
	a.runs[id] = h
	a.mu.Unlock()
	return h
}

func (a *activeRuns) get(id string) *runHandle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runs[id]
}

// remove удаляет run, только если зарегистрирован именно h.
func (a *activeRuns) remove(h *runHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runs[h.id] == h {
		delete(a.runs, h.id)
	}
}

func (a *activeRuns) count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.runs)
}
