// Package worker исполняет runs.
//
// # Обзор
//
// Worker — stateless компонент системы FDL, который прогоняет flows
// по заявкам, созданным API или планировщиком. Worker отвечает за:
//
//   - Получение заявок из очереди RabbitMQ (event-driven)
//   - Периодическую проверку pending runs в БД (polling fallback)
//   - Исполнение flow через runner (парсинг версии, экзекьютор, журнал)
//   - Сохранение журнала исполнения и финального снимка переменных
//   - Публикацию результата в очередь runs.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди runs.requested.
//
// # Обработка run
//
//  1. Получение заявки (из очереди или polling)
//  2. Загрузка run из БД, проверка статуса PENDING
//  3. Загрузка исходного текста версии flow
//  4. Перевод в RUNNING
//  5. Исполнение через runner.Execute
//  6. Сохранение журнала исполнения (и при ошибке — пройденной части)
//  7. Успех → MarkSucceeded, publish run.completed(SUCCEEDED)
//  8. Ошибка → MarkFailed, publish run.completed(FAILED)
//
// Run не в статусе PENDING (уже взят другим воркером, отменён)
// подтверждается без исполнения.
package worker
