// Package flow описывает модель flow: узлы, рёбра и параметры.
//
// Включает:
//   - model.go — типизированные конфигурации узлов (tagged union),
//     рёбра, валидация структуры
//   - yaml.go  — разбор YAML-определений: тип узла выводится из
//     набора присутствующих полей
//
// Поля-выражения узлов содержат GML-текст и вычисляются экзекьютором
// во время выполнения, модель их не интерпретирует.
package flow
