package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики сервиса.
//
// Все методы безопасны для nil-получателя: компоненты, которым
// метрики не переданы, просто ничего не записывают.
type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// Для production передаётся prometheus.DefaultRegisterer,
// в тестах — отдельный prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "tta_runs_started_total",
			Help: "Total runs accepted by the orchestrator",
		}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tta_runs_finished_total",
			Help: "Total runs that reached a terminal status",
		}, []string{"status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tta_step_duration_seconds",
			Help:    "Step execution duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "status"}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "tta_active_runs",
			Help: "Runs currently executing",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tta_http_requests_total",
			Help: "Total HTTP requests handled by the API",
		}, []string{"method", "route", "code"}),
	}
}

// RunStarted отмечает принятый run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished отмечает завершение run со статусом status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
	m.activeRuns.Dec()
}

// StepObserved записывает длительность шага.
func (m *Metrics) StepObserved(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

// HTTPRequest считает обработанный HTTP запрос.
func (m *Metrics) HTTPRequest(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}
