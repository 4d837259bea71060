package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shaiso/tta-agent/internal/clock"
	"github.com/shaiso/tta-agent/internal/domain"
	"github.com/shaiso/tta-agent/internal/repo"
	"github.com/shaiso/tta-agent/internal/telemetry"
)

// Runner — операции оркестратора, которые нужны API.
type Runner interface {
	Start(ctx context.Context, req domain.RunRequest) (string, error)
	Get(ctx context.Context, id string) (*domain.RunRecord, error)
	Cancel(ctx context.Context, id string) (*domain.RunRecord, error)
	List(ctx context.Context, filter repo.RunFilter) ([]*domain.RunRecord, error)
	Ping(ctx context.Context) error
	ActiveRuns() int
}

// ServiceInfo — метаданные сервиса для /status.
type ServiceInfo struct {
	Service   string
	Version   string
	CommitSHA string
	StartTime time.Time
	Pipeline  []string
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runner         Runner
	info           ServiceInfo
	metrics        *telemetry.Metrics
	metricsHandler http.Handler
	clock          clock.Clock
	logger         *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runner  Runner
	Info    ServiceInfo
	Metrics *telemetry.Metrics

	// MetricsHandler обслуживает /metrics (обычно promhttp).
	// Если nil, маршрут не регистрируется.
	MetricsHandler http.Handler

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	info := cfg.Info
	if info.StartTime.IsZero() {
		info.StartTime = clk.Now()
	}

	return &Handler{
		runner:         cfg.Runner,
		info:           info,
		metrics:        cfg.Metrics,
		metricsHandler: cfg.MetricsHandler,
		clock:          clk,
		logger:         logger,
	}
}
