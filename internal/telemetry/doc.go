// Package telemetry обеспечивает наблюдаемость сервиса.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Сервис и CLI используют единый формат логирования,
// метрики экспортируются на /metrics endpoint.
package telemetry
