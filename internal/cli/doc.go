// Package cli реализует инструмент командной строки tta.
//
// # Обзор
//
// CLI — клиентская утилита для tta-agent. Команды run и status
// работают через HTTP и не импортируют internal/api; команда events
// читает RabbitMQ напрямую через internal/mq.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует запросы, парсинг ответов
// (плоские тела, ListResponse, ErrorResponse) и ошибки (APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	resp, err := client.StartRun(ctx, "teacher-1", "analyze", nil)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: tta run list --json | jq .
//
// ## Commands
//
//   - run: start, show, cancel, list
//   - status
//   - events
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
