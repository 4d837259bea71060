package steps

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry — реестр шагов.
//
// Заполняется при старте процесса, затем замораживается через Seal.
// После Seal таблица больше не меняется, и Resolve читает её без блокировки.
type Registry struct {
	mu     sync.RWMutex
	steps  map[string]Step
	sealed atomic.Bool
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
	}
}

// Options — параметры стандартного реестра.
type Options struct {
	// RemoteAgentURL — адрес удалённого агента для шага http.
	// Если пусто, шаг http не регистрируется.
	RemoteAgentURL string
}

// DefaultRegistry создаёт реестр со всеми стандартными шагами.
func DefaultRegistry(opts Options) (*Registry, error) {
	r := NewRegistry()

	defaults := []Step{
		NewAnalyzeStep(),
		NewAuditStep(),
		NewRewriteStep(),
		NewDelayStep(),
		NewFailStep(),
	}
	if opts.RemoteAgentURL != "" {
		defaults = append(defaults, NewHTTPStep(opts.RemoteAgentURL))
	}

	for _, s := range defaults {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register регистрирует шаг.
// Возвращает ErrDuplicateStep, если имя уже занято.
func (r *Registry) Register(step Step) error {
	name := strings.TrimSpace(step.Name())
	if name == "" {
		return ErrEmptyStepName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("%w: %s", ErrRegistrySealed, name)
	}
	if _, exists := r.steps[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, name)
	}
	r.steps[name] = step
	return nil
}

// MustRegister регистрирует шаг и паникует при ошибке.
func (r *Registry) MustRegister(step Step) {
	if err := r.Register(step); err != nil {
		panic(err)
	}
}

// Seal замораживает реестр.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed сообщает, заморожен ли реестр.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Resolve возвращает шаг по имени.
// Возвращает ErrUnknownStep, если шаг не найден.
func (r *Registry) Resolve(name string) (Step, error) {
	var (
		step   Step
		exists bool
	)
	if r.sealed.Load() {
		step, exists = r.steps[name]
	} else {
		r.mu.RLock()
		step, exists = r.steps[name]
		r.mu.RUnlock()
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	return step, nil
}

// Has проверяет, зарегистрирован ли шаг.
func (r *Registry) Has(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// Validate проверяет, что все шаги pipeline зарегистрированы.
// Возвращает все неизвестные имена сразу.
func (r *Registry) Validate(pipeline []string) error {
	var errs []error
	for _, name := range pipeline {
		if !r.Has(name) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownStep, name))
		}
	}
	return errors.Join(errs...)
}

// Names возвращает отсортированный список зарегистрированных шагов.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.steps))
	for n := range r.steps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}
