// Package cli реализует инструмент командной строки FDL.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с FDL API плюс
// локальные команды для работы с YAML-файлами flows без сервера.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для FDL API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	flows, err := client.ListFlows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: fdl flow list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - flow: list, create, show, update, delete, versions, publish
//   - run: list, start, show, cancel, history; `run FILE` исполняет
//     flow локально с эхо-обработчиками
//   - schedule: list, create, show, update, delete, enable, disable
//   - validate: локальная проверка YAML-файла flow
//   - parse: отладочный разбор GML-выражения (--tokens, --eval)
//
// Каждая группа создаётся через фабричную функцию (NewFlowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
