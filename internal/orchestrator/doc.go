// Package orchestrator управляет выполнением runs.
//
// Orchestrator отвечает за:
//   - Приём запроса и создание записи run в статусе pending
//   - Последовательный запуск шагов pipeline (fail-fast)
//   - Запись результата каждого шага в хранилище
//   - Кооперативную отмену между шагами
//   - Финализацию run (succeeded/failed/cancelled) и уведомление о ней
//
// Каждый run ведёт ровно одна горутина от начала до конца. Разные
// runs выполняются параллельно и друг друга не ждут.
package orchestrator
