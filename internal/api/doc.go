// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go     — Handler с DI (оркестратор, метрики, logger)
//   - routes.go      — регистрация маршрутов
//   - middleware.go  — middleware (recovery, metrics, logging)
//   - response.go    — JSON-ответы и отображение ошибок в HTTP статусы
//   - dto.go         — Data Transfer Objects (response)
//   - run_handler.go — обработчики для /run_agent, /run/{id}, /runs, /status
//
// Ошибки:
//
//	400 BAD_REQUEST        — некорректное тело или параметры
//	404 NOT_FOUND          — run не найден
//	409 CONFLICT           — повтор run_id
//	422 INVALID_STATE      — отмена завершённого run
//	503 STORE_UNAVAILABLE  — хранилище недоступно, можно повторить
package api
