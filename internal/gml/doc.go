// Package gml реализует язык выражений для мапирования данных
// внутри flow.
//
// Включает:
//   - lexer.go   — сканирование текста в лексемы (устойчиво к мусору)
//   - parser.go  — рекурсивный спуск, сбор нескольких ошибок за проход
//   - eval.go    — вычисление программ в заданном контексте
//   - funcs.go   — реестр встроенных функций (SUM, CONCAT, DATE, ...)
//   - methods.go — методы массивов, строк и объектов (map, filter, ...)
//
// Программа — последовательность statements, разделённых переводами
// строк, ';' или ','. Присваивания формируют объект-результат,
// программа без присваиваний возвращает значение последнего выражения.
// Временные переменные с префиксом $ видны внутри программы, но
// не попадают в результат.
package gml
