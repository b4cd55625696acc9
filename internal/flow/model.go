package flow

import (
	"errors"
	"fmt"
)

// NodeType — тип узла flow.
type NodeType string

// Типы узлов.
const (
	NodeExec      NodeType = "exec"
	NodeMapping   NodeType = "mapping"
	NodeCondition NodeType = "condition"
	NodeSwitch    NodeType = "switch"
	NodeDelay     NodeType = "delay"
	NodeEach      NodeType = "each"
	NodeLoop      NodeType = "loop"
	NodeAgent     NodeType = "agent"
	NodeApproval  NodeType = "approval"
	NodeMCP       NodeType = "mcp"
	NodeHandoff   NodeType = "handoff"
	NodeGuard     NodeType = "guard"
)

// EdgeType — тип ребра.
type EdgeType string

// Типы рёбер. Ветки switch используют EdgeCase с индексом: case-0..case-N.
const (
	EdgeNext EdgeType = "next"
	EdgeFail EdgeType = "fail"
	EdgeThen EdgeType = "then"
	EdgeElse EdgeType = "else"
	EdgeCase EdgeType = "case"
)

// CaseEdgeType возвращает тип ребра для ветки switch с индексом i.
func CaseEdgeType(i int) EdgeType {
	return EdgeType(fmt.Sprintf("case-%d", i))
}

// Flow — определение потока: узлы, рёбра, стартовые переменные.
type Flow struct {
	// Meta — имя и описание.
	Meta Meta

	// Vars — GML-выражения стартовых переменных, вычисляются при запуске.
	Vars map[string]string

	// Nodes — узлы с уникальными идентификаторами.
	Nodes []Node

	// Edges — направленные рёбра между узлами.
	Edges []Edge
}

// Meta — метаданные flow.
type Meta struct {
	Name        string
	Description string
}

// Node — один узел flow. Config несёт типоспецифичные поля.
type Node struct {
	ID   string
	Name string

	// Only — GML-условие исполнения. Ложное значение пропускает узел
	// без ошибки, обход продолжается по ребру next.
	Only string

	Config NodeConfig
}

// Type возвращает тип узла из его конфигурации.
func (n Node) Type() NodeType {
	if n.Config == nil {
		return ""
	}
	return n.Config.Type()
}

// Edge — направленное ребро. Пустой Kind означает EdgeNext.
type Edge struct {
	ID     string
	Source string
	Target string
	Kind   EdgeType
}

// EdgeKind возвращает тип ребра с учётом значения по умолчанию.
func (e Edge) EdgeKind() EdgeType {
	if e.Kind == "" {
		return EdgeNext
	}
	return e.Kind
}

// NodeConfig — типизированная конфигурация узла. Ровно один вариант
// на каждый NodeType; обращение к полям чужого типа исключено на
// уровне компиляции.
type NodeConfig interface {
	Type() NodeType
}

// ExecConfig — вызов внешнего инструмента.
type ExecConfig struct {
	// Exec — URI инструмента, например "api://orders/create".
	Exec string

	// Args — GML-выражение аргументов вызова.
	Args string

	// With — GML-трансформация результата.
	With string

	// Sets — GML-присваивания в переменные после выполнения.
	Sets string
}

// MappingConfig — чистое преобразование данных без внешнего вызова.
type MappingConfig struct {
	With string
	Sets string
}

// ConditionConfig — условный переход: when истинно — ребро then,
// иначе ребро else.
type ConditionConfig struct {
	When string
}

// SwitchCase — одна ветка switch.
type SwitchCase struct {
	When string
}

// SwitchConfig — множественное ветвление: первая истинная ветка
// даёт ребро case-i, иначе ребро else.
type SwitchConfig struct {
	Cases []SwitchCase
}

// DelayConfig — приостановка пути выполнения.
type DelayConfig struct {
	// Wait — длительность: целые миллисекунды либо строка
	// вида "500ms", "2s", "1m", "1h".
	Wait string
}

// EachConfig — итерация по массиву.
type EachConfig struct {
	// Each — выражение вида "source => item" или "source => item, index".
	Each string

	// Sets — GML-присваивания после итерации (обычно над $results).
	Sets string

	// Body — необязательный изолированный sub-flow на каждый элемент.
	Body *Flow

	// Parallel — выполнять элементы батчами конкурентно.
	Parallel bool

	// MaxConcurrency — размер батча при Parallel (по умолчанию 4).
	MaxConcurrency int
}

// LoopConfig — цикл с предусловием. Ровно одно из When и Until
// должно быть задано: When продолжает пока истинно, Until — пока ложно.
type LoopConfig struct {
	When  string
	Until string

	// Vars — GML-инициализация локальных переменных цикла.
	Vars string

	// Sets — GML-шаг цикла; только имена из Sets переносятся
	// в родительскую область.
	Sets string

	// Body — необязательный изолированный sub-flow на каждую итерацию.
	Body *Flow

	// MaxIterations — предел итераций (по умолчанию берётся у экзекьютора).
	MaxIterations int
}

// AgentConfig — делегирование AI-агенту.
type AgentConfig struct {
	// Agent — URI агента, например "agent://support/chat".
	Agent        string
	Model        string
	Instructions string
	Args         string
	With         string
	Sets         string
}

// ApprovalConfig — ожидание ручного подтверждения.
type ApprovalConfig struct {
	Title string

	// Timeout — длительность ожидания в формате DelayConfig.Wait.
	Timeout string

	// TimeoutAction — "approve" либо "reject" по истечении таймаута.
	TimeoutAction string
}

// MCPConfig — вызов инструмента MCP-сервера.
type MCPConfig struct {
	Server string
	Tool   string
	Args   string
	Sets   string
}

// HandoffConfig — передача управления другому исполнителю.
type HandoffConfig struct {
	Target string
	Args   string
}

// GuardConfig — проверка содержимого перед продолжением.
type GuardConfig struct {
	GuardTypes []string

	// Action — "block" останавливает путь по ребру fail, "warn"
	// пропускает дальше с пометкой.
	Action string
}

func (ExecConfig) Type() NodeType      { return NodeExec }
func (MappingConfig) Type() NodeType   { return NodeMapping }
func (ConditionConfig) Type() NodeType { return NodeCondition }
func (SwitchConfig) Type() NodeType    { return NodeSwitch }
func (DelayConfig) Type() NodeType     { return NodeDelay }
func (EachConfig) Type() NodeType      { return NodeEach }
func (LoopConfig) Type() NodeType      { return NodeLoop }
func (AgentConfig) Type() NodeType     { return NodeAgent }
func (ApprovalConfig) Type() NodeType  { return NodeApproval }
func (MCPConfig) Type() NodeType       { return NodeMCP }
func (HandoffConfig) Type() NodeType   { return NodeHandoff }
func (GuardConfig) Type() NodeType     { return NodeGuard }

// Ошибки валидации.
var (
	ErrNoNodes       = errors.New("flow has no nodes")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrDanglingEdge  = errors.New("edge references unknown node")
	ErrNodeConfig    = errors.New("invalid node configuration")
)

// ValidationError — ошибка валидации с привязкой к элементу модели.
type ValidationError struct {
	Elem string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %s", e.Elem, e.Msg)
}

// Validate проверяет структурную целостность flow: уникальность
// идентификаторов, ссылки рёбер, минимальную полноту конфигураций.
// Циклы проверяет экзекьютор при построении графа зависимостей.
func (f *Flow) Validate() error {
	if len(f.Nodes) == 0 {
		return ErrNoNodes
	}

	seen := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			return &ValidationError{Elem: "node", Msg: "empty id"}
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		seen[n.ID] = true

		if err := validateConfig(n); err != nil {
			return err
		}
	}

	for _, e := range f.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("%w: source %s", ErrDanglingEdge, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("%w: target %s", ErrDanglingEdge, e.Target)
		}
	}
	return nil
}

func validateConfig(n Node) error {
	switch cfg := n.Config.(type) {
	case nil:
		return &ValidationError{Elem: n.ID, Msg: "missing configuration"}
	case ExecConfig:
		if cfg.Exec == "" {
			return &ValidationError{Elem: n.ID, Msg: "exec node requires a tool uri"}
		}
	case ConditionConfig:
		if cfg.When == "" {
			return &ValidationError{Elem: n.ID, Msg: "condition node requires when"}
		}
	case SwitchConfig:
		if len(cfg.Cases) == 0 {
			return &ValidationError{Elem: n.ID, Msg: "switch node requires cases"}
		}
	case EachConfig:
		if cfg.Each == "" {
			return &ValidationError{Elem: n.ID, Msg: "each node requires an iteration expression"}
		}
		if cfg.Body != nil {
			if err := cfg.Body.Validate(); err != nil {
				return fmt.Errorf("each %s body: %w", n.ID, err)
			}
		}
	case LoopConfig:
		if cfg.When == "" && cfg.Until == "" {
			return &ValidationError{Elem: n.ID, Msg: "loop node requires when or until"}
		}
		if cfg.When != "" && cfg.Until != "" {
			return &ValidationError{Elem: n.ID, Msg: "loop node accepts when or until, not both"}
		}
		if cfg.Body != nil {
			if err := cfg.Body.Validate(); err != nil {
				return fmt.Errorf("loop %s body: %w", n.ID, err)
			}
		}
	case AgentConfig:
		if cfg.Agent == "" {
			return &ValidationError{Elem: n.ID, Msg: "agent node requires an agent uri"}
		}
	case MCPConfig:
		if cfg.Server == "" || cfg.Tool == "" {
			return &ValidationError{Elem: n.ID, Msg: "mcp node requires server and tool"}
		}
	case HandoffConfig:
		if cfg.Target == "" {
			return &ValidationError{Elem: n.ID, Msg: "handoff node requires a target"}
		}
	}
	return nil
}

// NodeByID возвращает узел по идентификатору.
func (f *Flow) NodeByID(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// EdgesFrom возвращает рёбра, исходящие из узла.
func (f *Flow) EdgesFrom(id string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// StartNode возвращает первый узел без входящих рёбер. Если такого
// нет (пустой flow — отдельный случай выше), возвращает false.
func (f *Flow) StartNode() (Node, bool) {
	incoming := map[string]bool{}
	for _, e := range f.Edges {
		incoming[e.Target] = true
	}
	for _, n := range f.Nodes {
		if !incoming[n.ID] {
			return n, true
		}
	}
	return Node{}, false
}
