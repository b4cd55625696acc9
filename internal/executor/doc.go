// Пакет executor интерпретирует flow: обходит граф узлов по рёбрам,
// диспетчеризует семантику по типу узла и вычисляет выражения через
// пакет gml.
//
// Состав:
//   - executor.go — машина состояний прогона: idle → running ⇄ paused →
//     completed | error, точки останова, пошаговый режим, единственный
//     слот продолжения паузы;
//   - nodes.go — семантика узлов: exec, mapping, condition, switch,
//     delay, each, loop, agent, approval, mcp, handoff, guard;
//   - context.go — ExecutionContext: переменные, аргументы, журнал
//     исполнения, область видимости выражений;
//   - events.go — события жизненного цикла и разбор длительностей.
//
// Изоляция sub-flow: each и loop передают вложенному экзекьютору копию
// переменных; обратно переносятся только имена, явно названные в sets
// родительского узла. Зарезервированные имена $, $input, $value, $vars,
// $args, $history в переменные не копируются никогда.
//
// Условие only любого узла вычисляется перед его исполнением: ложное
// значение пропускает узел без ошибки, обход продолжается по ребру
// next. Переменные и журнал хранят только простые структурные
// значения; замыкания живут внутри одной GML-программы.
package executor
