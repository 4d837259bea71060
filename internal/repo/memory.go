package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
)

// MemoryStore — хранилище runs в памяти процесса.
//
// Записи копируются на входе и на выходе, поэтому ни вызывающий код,
// ни читатели не держат ссылок на внутреннее состояние.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.RunRecord
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*domain.RunRecord),
	}
}

// Create сохраняет новую запись.
func (s *MemoryStore) Create(ctx context.Context, run *domain.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRunID, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get возвращает копию записи.
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run.Clone(), nil
}

// Update применяет mutate к копии записи и подменяет её целиком.
func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*domain.RunRecord) error) (*domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.runs[id] = next
	return next.Clone(), nil
}

// List возвращает записи по фильтру, новые первыми.
func (s *MemoryStore) List(ctx context.Context, filter RunFilter) ([]*domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.normalized()

	s.mu.RLock()
	matched := make([]*domain.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		matched = append(matched, run.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Offset >= len(matched) {
		return []*domain.RunRecord{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// DeleteFinishedBefore удаляет завершённые runs старше t.
func (s *MemoryStore) DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, run := range s.runs {
		if run.IsFinished() && run.CompletedAt != nil && run.CompletedAt.Before(t) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping всегда успешен.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len возвращает количество записей.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
