// Package graph строит граф зависимостей узлов flow и планирует
// их выполнение.
//
// Включает:
//   - graph.go     — построение DependencyGraph, сортировка Кана, батчи
//   - scheduler.go — ParallelScheduler: ready/running/completed/failed
//
// Граф неизменяем после построения. Планировщик ведёт собственные
// множества состояний поверх графа и рассчитан на владение одной
// горутиной; конкурентность даёт ExecuteParallel через fan-out
// по готовому батчу.
package graph
