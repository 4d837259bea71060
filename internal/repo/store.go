package repo

import (
	"context"
	"time"

	"github.com/shaiso/tta-agent/internal/domain"
)

// Store — хранилище записей run.
//
// Реализации обязаны быть безопасными для конкурентного доступа:
// один писатель на run (горутина оркестратора) и сколько угодно
// читателей. Читатели всегда получают целостный снимок записи.
type Store interface {
	// Create сохраняет новую запись. ErrDuplicateRunID, если id занят.
	Create(ctx context.Context, run *domain.RunRecord) error

	// Get возвращает копию записи. ErrRunNotFound, если её нет.
	Get(ctx context.Context, id string) (*domain.RunRecord, error)

	// Update атомарно применяет mutate к записи и сохраняет результат.
	// Если mutate вернул ошибку, запись не меняется.
	Update(ctx context.Context, id string, mutate func(*domain.RunRecord) error) (*domain.RunRecord, error)

	// List возвращает записи по фильтру, новые первыми.
	List(ctx context.Context, filter RunFilter) ([]*domain.RunRecord, error)

	// DeleteFinishedBefore удаляет завершённые runs, у которых
	// CompletedAt раньше t. Возвращает количество удалённых.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error)

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Status domain.RunStatus
	Limit  int
	Offset int
}

// Лимиты выборки по умолчанию.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// normalized возвращает фильтр с применёнными лимитами.
func (f RunFilter) normalized() RunFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
