package executor

import (
	"time"

	"github.com/shaiso/fdl/internal/gml"
)

// Mode — режим прохода по узлам.
type Mode string

// Режимы исполнения.
const (
	ModeRun  Mode = "run"
	ModeStep Mode = "step"
)

// HistoryEntry — запись журнала об исполнении одного узла.
type HistoryEntry struct {
	NodeID     string    `json:"nodeId"`
	Timestamp  time.Time `json:"timestamp"`
	State      string    `json:"state"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs,omitempty"`
}

// ExecutionContext — изменяемое состояние одного прогона flow.
// Контекстом владеет ровно один экзекьютор; sub-flow получают копию
// переменных, а не ссылку.
type ExecutionContext struct {
	// Vars — переменные прогона. Значения всегда простые структуры
	// данных: числа, строки, bool, null, массивы, отображения.
	Vars map[string]any

	// Args — входные аргументы запуска, читаются выражениями
	// через $args и $input.
	Args map[string]any

	// CurrentNodeID — исполняемый сейчас узел, пустая строка вне прогона.
	CurrentNodeID string

	// History — упорядоченный журнал исполнения, только добавление.
	History []HistoryEntry

	// Breakpoints — идентификаторы узлов, перед которыми прогон
	// переходит в paused.
	Breakpoints map[string]bool

	// Mode — run либо step.
	Mode Mode
}

// NewExecutionContext создаёт контекст прогона с копиями входных данных.
func NewExecutionContext(args, vars map[string]any) *ExecutionContext {
	ec := &ExecutionContext{
		Vars:        make(map[string]any, len(vars)),
		Args:        make(map[string]any, len(args)),
		Breakpoints: map[string]bool{},
		Mode:        ModeRun,
	}
	for k, v := range vars {
		ec.Vars[k] = gml.CloneValue(v)
	}
	for k, v := range args {
		ec.Args[k] = gml.CloneValue(v)
	}
	return ec
}

// Snapshot возвращает глубокую копию контекста для внешних наблюдателей.
func (ec *ExecutionContext) Snapshot() *ExecutionContext {
	cp := &ExecutionContext{
		Vars:          make(map[string]any, len(ec.Vars)),
		Args:          make(map[string]any, len(ec.Args)),
		CurrentNodeID: ec.CurrentNodeID,
		History:       make([]HistoryEntry, len(ec.History)),
		Breakpoints:   make(map[string]bool, len(ec.Breakpoints)),
		Mode:          ec.Mode,
	}
	for k, v := range ec.Vars {
		cp.Vars[k] = gml.CloneValue(v)
	}
	for k, v := range ec.Args {
		cp.Args[k] = gml.CloneValue(v)
	}
	copy(cp.History, ec.History)
	for k := range ec.Breakpoints {
		cp.Breakpoints[k] = true
	}
	return cp
}

// appendHistory добавляет запись журнала с текущим временем.
func (ec *ExecutionContext) appendHistory(nodeID, state string, output any, err error, dur time.Duration) {
	entry := HistoryEntry{
		NodeID:     nodeID,
		Timestamp:  time.Now().UTC(),
		State:      state,
		Output:     output,
		DurationMS: dur.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	ec.History = append(ec.History, entry)
}

// evalScope собирает видимую выражениям область: переменные прогона,
// входные аргументы и зарезервированные имена. Зарезервированные имена
// никогда не копируются обратно в Vars.
func (ec *ExecutionContext) evalScope(value any) map[string]any {
	scope := make(map[string]any, len(ec.Vars)+len(ec.Args)+6)
	for k, v := range ec.Args {
		scope[k] = v
	}
	for k, v := range ec.Vars {
		scope[k] = v
	}
	hist := make([]any, 0, len(ec.History))
	for _, h := range ec.History {
		hist = append(hist, map[string]any{
			"nodeId":     h.NodeID,
			"state":      h.State,
			"output":     h.Output,
			"error":      h.Error,
			"durationMs": h.DurationMS,
		})
	}
	scope["$input"] = mapToAny(ec.Args)
	scope["$args"] = mapToAny(ec.Args)
	scope["$vars"] = mapToAny(ec.Vars)
	scope["$value"] = value
	scope["$history"] = hist
	return scope
}

// reservedNames — имена, недоступные для копирования обратно в Vars.
var reservedNames = map[string]bool{
	"$":        true,
	"$input":   true,
	"$value":   true,
	"$vars":    true,
	"$args":    true,
	"$history": true,
}

func mapToAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
