// Package clock — источник времени и идентификаторов run.
//
// Оркестратор не вызывает time.Now и uuid напрямую: и время, и id
// подставляются снаружи, поэтому тесты получают детерминированные
// timestamps и могут форсировать коллизию id.
package clock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock — источник текущего времени.
type Clock interface {
	Now() time.Time
}

// Real — системные часы, всегда UTC.
type Real struct{}

// Now возвращает текущее время в UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake — управляемые часы для тестов.
// Каждый вызов Now сдвигает время на Step.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFake создаёт Fake, начинающиеся с start и шагающие на step за вызов.
func NewFake(start time.Time, step time.Duration) *Fake {
	return &Fake{now: start.UTC(), step: step}
}

// Now возвращает текущее фиктивное время и сдвигает его на step.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.step)
	return t
}

// Advance сдвигает время на d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// IDGenerator выдаёт идентификаторы run.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator — id вида "run-<uuid v7>".
// UUIDv7 упорядочен по времени и не повторяется внутри одной секунды.
type UUIDGenerator struct{}

// NewID возвращает новый id.
func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "run-" + id.String()
}

// SequenceGenerator — предсказуемые id для тестов: prefix-1, prefix-2, ...
type SequenceGenerator struct {
	Prefix string
	n      atomic.Int64
}

// NewID возвращает следующий id последовательности.
func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.n.Add(1))
}

// FixedGenerator всегда возвращает один и тот же id.
type FixedGenerator string

// NewID возвращает фиксированный id.
func (g FixedGenerator) NewID() string {
	return string(g)
}
