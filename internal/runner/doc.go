// Package runner связывает хранимый run с экзекьютором.
//
// Runner парсит исходный YAML-текст версии flow, строит экзекьютор
// с обработчиками внешних узлов, прогоняет его и собирает журнал
// исполнения в виде domain.RunHistoryEntry. Метрики прогона и узлов
// публикуются через telemetry.
package runner
