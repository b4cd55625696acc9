// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - flow_handler.go     — обработчики для /flows и версий
//   - run_handler.go      — обработчики для /runs и журнала исполнения
//   - schedule_handler.go — обработчики для /schedules
//
// API предоставляет REST endpoints для управления flows, их версиями
// (YAML-тексты, валидируются при загрузке), runs и schedules.
package api
