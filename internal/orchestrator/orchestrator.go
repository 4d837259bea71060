package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/tta-agent/internal/clock"
	"github.com/shaiso/tta-agent/internal/domain"
	"github.com/shaiso/tta-agent/internal/repo"
	"github.com/shaiso/tta-agent/internal/steps"
	"github.com/shaiso/tta-agent/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval  = 20 * time.Millisecond
	defaultNotifyTimeout = 5 * time.Second
)

// Notifier получает уведомление о каждом завершённом run.
// Ошибка уведомления логируется и не влияет на run.
type Notifier interface {
	RunFinished(ctx context.Context, run *domain.RunRecord) error
}

// Orchestrator ведёт runs через pipeline шагов.
//
// Orchestrator:
//   - Создаёт запись run в хранилище (pending)
//   - Запускает шаги по порядку, передавая каждому результаты предыдущих
//   - Останавливается на первом упавшем шаге (failed)
//   - Проверяет флаг отмены между шагами (cancelled)
//   - Уведомляет Notifier о финальном статусе
type Orchestrator struct {
	store    repo.Store
	registry *steps.Registry
	pipeline []string

	clock    clock.Clock
	ids      clock.IDGenerator
	notifier Notifier
	metrics  *telemetry.Metrics

	stepTimeout  time.Duration
	async        bool
	pollInterval time.Duration

	// Active runs — runs в процессе выполнения (runID → handle)
	active *activeRuns

	// Lifecycle
	logger     *slog.Logger
	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store    repo.Store
	Registry *steps.Registry

	// Pipeline — имена шагов в порядке выполнения.
	Pipeline []string

	Clock       clock.Clock       // default: clock.Real
	IDGenerator clock.IDGenerator // default: clock.UUIDGenerator
	Notifier    Notifier          // optional
	Metrics     *telemetry.Metrics

	// StepTimeout — таймаут одного шага (0 — без таймаута).
	StepTimeout time.Duration

	// Async — Start возвращается сразу, run ведёт отдельная горутина.
	// Иначе Start выполняет run целиком и возвращается после финала.
	Async bool

	// PollInterval — интервал опроса в Wait (default: 20ms).
	PollInterval time.Duration

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
//
// Проверяет pipeline: пустой pipeline — ErrEmptyPipeline, ссылка на
// незарегистрированный шаг — steps.ErrUnknownStep. Обе ошибки
// конфигурационные, процесс с ними стартовать не должен.
// После успешной проверки реестр замораживается.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if len(cfg.Pipeline) == 0 {
		return nil, ErrEmptyPipeline
	}
	if err := cfg.Registry.Validate(cfg.Pipeline); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	cfg.Registry.Seal()

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	ids := cfg.IDGenerator
	if ids == nil {
		ids = clock.UUIDGenerator{}
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		store:        cfg.Store,
		registry:     cfg.Registry,
		pipeline:     append([]string(nil), cfg.Pipeline...),
		clock:        clk,
		ids:          ids,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		stepTimeout:  cfg.StepTimeout,
		async:        cfg.Async,
		pollInterval: pollInterval,
		active:       newActiveRuns(),
		logger:       logger,
		baseCtx:      baseCtx,
		cancelBase:   cancel,
	}, nil
}

// Pipeline возвращает копию настроенного pipeline.
func (o *Orchestrator) Pipeline() []string {
	return append([]string(nil), o.pipeline...)
}

// Start принимает запрос и запускает run.
//
// Запрос валидируется, run получает новый id и сохраняется в статусе
// pending. Ошибка Create (дубликат id, недоступное хранилище)
// возвращается вызывающему, и ни один шаг не запускается.
//
// В async режиме Start возвращается сразу после создания записи.
// В sync режиме — после того как run дошёл до финального статуса;
// падение шага при этом ошибкой Start не считается.
func (o *Orchestrator) Start(ctx context.Context, req domain.RunRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	// wg.Add под тем же RLock, что и проверка stopped:
	// Shutdown не начнёт wg.Wait, пока run регистрируется.
	o.stoppedMu.RLock()
	if o.stopped {
		o.stoppedMu.RUnlock()
		return "", ErrOrchestratorStopped
	}

	id := o.ids.NewID()
	record := domain.NewRunRecord(id, req, o.clock.Now())
	if err := o.store.Create(ctx, record); err != nil {
		o.stoppedMu.RUnlock()
		return "", fmt.Errorf("create run: %w", err)
	}

	handle := o.active.add(id, record.CreatedAt)
	o.wg.Add(1)
	o.stoppedMu.RUnlock()

	o.metrics.RunStarted()

	o.logger.Info("run accepted",
		"run_id", id,
		"who", req.Who,
		"action", req.Action,
		"steps", len(o.pipeline),
	)

	// run ведётся на baseCtx в обоих режимах: обрыв запроса вызывающего
	// не должен оставить запись в промежуточном состоянии.
	if o.async {
		go o.execute(o.baseCtx, handle)
		return id, nil
	}

	o.execute(o.baseCtx, handle)
	return id, nil
}

// Get возвращает снимок run.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	return o.store.Get(ctx, id)
}

// List возвращает runs по фильтру.
func (o *Orchestrator) List(ctx context.Context, filter repo.RunFilter) ([]*domain.RunRecord, error) {
	return o.store.List(ctx, filter)
}

// Cancel запрашивает отмену run.
//
//   - pending — run сразу переходит в cancelled
//   - running — поднимается флаг, горутина run остановится перед следующим шагом
//   - финальный статус — ErrRunFinished
//
// Возвращает снимок run после запроса отмены.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*domain.RunRecord, error) {
	updated, err := o.store.Update(ctx, id, func(r *domain.RunRecord) error {
		// handle читается под блокировкой записи: running означает, что
		// MarkRunning уже прошёл, а он выполняется только после active.add.
		handle := o.active.get(id)

		switch {
		case r.IsFinished():
			return fmt.Errorf("%w: %s is %s", ErrRunFinished, r.ID, r.Status)
		case r.Status == domain.RunStatusPending:
			if handle != nil {
				handle.requestCancel()
			}
			return r.MarkCancelled(o.clock.Now(), "cancelled before start")
		case handle == nil:
			// run в running, но его не ведёт ни одна горутина этого процесса
			return r.MarkCancelled(o.clock.Now(), "cancelled: run has no active driver")
		default:
			handle.requestCancel()
			return errNoChange
		}
	})
	if errors.Is(err, errNoChange) {
		o.logger.Info("run cancellation requested", "run_id", id)
		return o.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("run cancelled", "run_id", id, "reason", updated.Error)
	o.finished(ctx, updated)
	return updated, nil
}

// Wait ждёт, пока run дойдёт до финального статуса.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*domain.RunRecord, error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		run, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.IsFinished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown перестаёт принимать runs и ждёт завершения выполняющихся.
// Если ctx истекает раньше, шагам отменяется контекст и
// возвращается ошибка ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...", "active_runs", o.active.count())

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancelBase()
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.cancelBase()
		o.logger.Warn("orchestrator stopped before runs finished", "error", ctx.Err())
		return ctx.Err()
	}
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// ActiveRuns возвращает количество выполняющихся runs.
func (o *Orchestrator) ActiveRuns() int {
	return o.active.count()
}

// Ping проверяет доступность хранилища.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}
