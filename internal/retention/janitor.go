// Package retention удаляет завершённые runs старше TTL.
//
// Janitor запускается по cron-расписанию (robfig/cron). Незавершённые
// runs не удаляются никогда, сколько бы им ни было лет.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/tta-agent/internal/clock"
	"github.com/shaiso/tta-agent/internal/repo"
)

// Default configuration values.
const (
	DefaultTTL      = 24 * time.Hour
	DefaultSchedule = "@every 10m"
)

// cronParser — стандартные 5 полей плюс дескрипторы (@hourly, @every 10m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Janitor — периодическая очистка хранилища runs.
type Janitor struct {
	store    repo.Store
	ttl      time.Duration
	schedule cron.Schedule
	spec     string
	clock    clock.Clock
	logger   *slog.Logger
}

// Config — конфигурация Janitor.
type Config struct {
	Store    repo.Store
	TTL      time.Duration // default: 24h
	Schedule string        // default: @every 10m
	Clock    clock.Clock
	Logger   *slog.Logger
}

// New создаёт новый Janitor.
func New(cfg Config) (*Janitor, error) {
	if cfg.Store == nil {
		return nil, errors.New("retention: store is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	spec := cfg.Schedule
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := ValidateSchedule(spec)
	if err != nil {
		return nil, err
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		store:    cfg.Store,
		ttl:      ttl,
		schedule: schedule,
		spec:     spec,
		clock:    clk,
		logger:   logger.With("component", "retention"),
	}, nil
}

// ValidateSchedule проверяет cron-выражение.
func ValidateSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Tick выполняет одну очистку: удаляет завершённые runs,
// у которых completed_at раньше now - TTL.
func (j *Janitor) Tick(ctx context.Context) (int, error) {
	cutoff := j.clock.Now().Add(-j.ttl)

	deleted, err := j.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished runs: %w", err)
	}

	if deleted > 0 {
		j.logger.Info("retention tick completed", "deleted", deleted, "cutoff", cutoff)
	} else {
		j.logger.Debug("retention tick completed", "deleted", 0, "cutoff", cutoff)
	}
	return deleted, nil
}

// Run выполняет Tick по расписанию до отмены ctx.
// Ошибка одного тика логируется и не останавливает Janitor.
func (j *Janitor) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.Tick(ctx); err != nil {
			j.logger.Error("retention tick failed", "error", err)
		}
	}))

	j.logger.Info("retention janitor started", "schedule", j.spec, "ttl", j.ttl)
	c.Start()

	<-ctx.Done()

	// Ждём завершения текущего тика
	<-c.Stop().Done()
	j.logger.Info("retention janitor stopped")
	return nil
}

// Next возвращает время следующего запуска после t.
func (j *Janitor) Next(t time.Time) time.Time {
	return j.schedule.Next(t)
}
