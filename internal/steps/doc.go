// Package steps содержит реестр шагов и их стандартные реализации.
//
// # Обзор
//
// Шаг — именованная единица работы в pipeline run. Каждый шаг:
//   - Получает исходный запрос run и результаты предыдущих шагов
//   - Выполняет действие (анализ, аудит, вызов удалённого агента, задержка)
//   - Возвращает outputs, которые попадают в StepResult.Detail
//
// # Registry
//
// Registry заполняется при старте процесса и замораживается:
//
//	registry, err := steps.DefaultRegistry(steps.Options{})
//	if err != nil {
//	    // дубликат имени
//	}
//	if err := registry.Validate(pipeline); err != nil {
//	    // pipeline ссылается на незарегистрированный шаг — старт невозможен
//	}
//	registry.Seal()
//
// Повторная регистрация имени возвращает ErrDuplicateStep,
// поиск неизвестного имени — ErrUnknownStep.
//
// # Стандартные шаги
//
//   - agentA (agents.go)  — анализ результатов класса из Extra["scores"]
//   - agentB (agents.go)  — аудит черновика Extra["draft"] по слабой теме
//   - agentC (agents.go)  — оценка черновика и доработка по замечаниям
//   - delay (delay.go)    — пауза на Extra["delay_ms"]
//   - fail (fail.go)      — всегда падает с Extra["fail_message"]
//   - http (http.go)      — вызов удалённого агента, если задан REMOTE_AGENT_URL
//
// # Обработка ошибок
//
// Ошибка шага — это данные run, а не ошибка системы: оркестратор
// записывает её в StepResult и останавливает pipeline.
package steps
