package flow

import (
	"errors"
	"testing"
)

func TestValidate_DuplicateNode(t *testing.T) {
	f := &Flow{Nodes: []Node{
		{ID: "a", Config: MappingConfig{Sets: "x = 1"}},
		{ID: "a", Config: MappingConfig{Sets: "y = 2"}},
	}}
	if err := f.Validate(); !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("ожидалась ErrDuplicateNode, получено %v", err)
	}
}

func TestValidate_DanglingEdge(t *testing.T) {
	f := &Flow{
		Nodes: []Node{{ID: "a", Config: MappingConfig{Sets: "x = 1"}}},
		Edges: []Edge{{Source: "a", Target: "ghost"}},
	}
	if err := f.Validate(); !errors.Is(err, ErrDanglingEdge) {
		t.Fatalf("ожидалась ErrDanglingEdge, получено %v", err)
	}
}

func TestValidate_LoopWhenAndUntil(t *testing.T) {
	f := &Flow{Nodes: []Node{
		{ID: "l", Config: LoopConfig{When: "a", Until: "b"}},
	}}
	err := f.Validate()
	if err == nil {
		t.Fatal("ожидалась ошибка валидации")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Elem != "l" {
		t.Fatalf("ожидалась ValidationError для узла l, получено %v", err)
	}
}

func TestValidate_EmptyFlow(t *testing.T) {
	f := &Flow{}
	if err := f.Validate(); !errors.Is(err, ErrNoNodes) {
		t.Fatalf("ожидалась ErrNoNodes, получено %v", err)
	}
}

func TestParse_SequenceForm(t *testing.T) {
	src := `
meta:
  name: order-pipeline
vars:
  count: "0"
nodes:
  - id: fetch
    name: Fetch orders
    exec: api://orders/list
    args: "status = 'new'"
    sets: "orders = $value"
    next: check
  - id: check
    when: "orders.length() > 0"
    then: notify
    else: done
  - id: notify
    exec: api://notify/send
  - id: done
    sets: "finished = true"
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Meta.Name != "order-pipeline" {
		t.Errorf("Meta.Name = %q", f.Meta.Name)
	}
	if f.Vars["count"] != "0" {
		t.Errorf("Vars[count] = %q", f.Vars["count"])
	}
	if len(f.Nodes) != 4 {
		t.Fatalf("узлов %d, ожидалось 4", len(f.Nodes))
	}

	// Типы выведены из полей.
	if f.Nodes[0].Type() != NodeExec {
		t.Errorf("fetch: тип %s", f.Nodes[0].Type())
	}
	if f.Nodes[1].Type() != NodeCondition {
		t.Errorf("check: тип %s", f.Nodes[1].Type())
	}
	if f.Nodes[3].Type() != NodeMapping {
		t.Errorf("done: тип %s", f.Nodes[3].Type())
	}

	// Сокращения next/then/else превратились в рёбра.
	kinds := map[EdgeType]string{}
	for _, e := range f.EdgesFrom("check") {
		kinds[e.EdgeKind()] = e.Target
	}
	if kinds[EdgeThen] != "notify" || kinds[EdgeElse] != "done" {
		t.Errorf("рёбра check: %v", kinds)
	}
	next := f.EdgesFrom("fetch")
	if len(next) != 1 || next[0].EdgeKind() != EdgeNext || next[0].Target != "check" {
		t.Errorf("рёбра fetch: %+v", next)
	}
}

func TestParse_MappingFormPreservesOrder(t *testing.T) {
	src := `
nodes:
  first:
    sets: "a = 1"
  second:
    sets: "b = 2"
  third:
    sets: "c = 3"
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if f.Nodes[i].ID != id {
			t.Errorf("Nodes[%d].ID = %q, ожидалось %q", i, f.Nodes[i].ID, id)
		}
	}
	start, ok := f.StartNode()
	if !ok || start.ID != "first" {
		t.Errorf("StartNode = %v %v", start.ID, ok)
	}
}

func TestParse_SwitchCases(t *testing.T) {
	src := `
nodes:
  route:
    case:
      - when: "priority == 'high'"
        then: urgent
      - when: "priority == 'low'"
        then: backlog
    else: normal
  urgent:
    sets: "q = 'urgent'"
  backlog:
    sets: "q = 'backlog'"
  normal:
    sets: "q = 'normal'"
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	route, _ := f.NodeByID("route")
	cfg, ok := route.Config.(SwitchConfig)
	if !ok {
		t.Fatalf("route: тип %T", route.Config)
	}
	if len(cfg.Cases) != 2 || cfg.Cases[0].When != "priority == 'high'" {
		t.Errorf("Cases = %+v", cfg.Cases)
	}

	targets := map[EdgeType]string{}
	for _, e := range f.EdgesFrom("route") {
		targets[e.EdgeKind()] = e.Target
	}
	if targets[CaseEdgeType(0)] != "urgent" || targets[CaseEdgeType(1)] != "backlog" {
		t.Errorf("рёбра веток: %v", targets)
	}
	if targets[EdgeElse] != "normal" {
		t.Errorf("ребро else: %v", targets)
	}
}

func TestParse_LoopWithBody(t *testing.T) {
	src := `
nodes:
  repeat:
    when: "count < 3"
    vars: "count = 0"
    sets: "count = count + 1"
    node:
      step:
        sets: "tmp = count * 2"
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, _ := f.NodeByID("repeat")
	cfg, ok := n.Config.(LoopConfig)
	if !ok {
		t.Fatalf("repeat: тип %T", n.Config)
	}
	if cfg.When != "count < 3" || cfg.Vars != "count = 0" {
		t.Errorf("конфигурация цикла: %+v", cfg)
	}
	if cfg.Body == nil || len(cfg.Body.Nodes) != 1 || cfg.Body.Nodes[0].ID != "step" {
		t.Fatalf("тело цикла: %+v", cfg.Body)
	}
}

func TestParse_EachParallel(t *testing.T) {
	src := `
nodes:
  fan:
    each: "orders => order, i"
    parallel: true
    maxConcurrency: 8
    sets: "done = $results"
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg := f.Nodes[0].Config.(EachConfig)
	if cfg.Each != "orders => order, i" || !cfg.Parallel || cfg.MaxConcurrency != 8 {
		t.Errorf("конфигурация each: %+v", cfg)
	}
}

func TestParse_ExternalNodes(t *testing.T) {
	src := `
nodes:
  ask:
    agent: agent://support/chat
    model: gpt-4o
    args: "question = $input"
  call:
    mcp: mcp://crm/create_ticket
    args: "title = subject"
  confirm:
    approval: "Approve refund"
    timeout: 24h
    timeoutAction: reject
  pass:
    handoff: billing-flow
  scan:
    guard: [pii, profanity]
    action: block
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg := mustConfig[AgentConfig](t, f, "ask"); cfg.Agent != "agent://support/chat" || cfg.Model != "gpt-4o" {
		t.Errorf("agent: %+v", cfg)
	}
	if cfg := mustConfig[MCPConfig](t, f, "call"); cfg.Server != "crm" || cfg.Tool != "create_ticket" {
		t.Errorf("mcp: %+v", cfg)
	}
	if cfg := mustConfig[ApprovalConfig](t, f, "confirm"); cfg.Title != "Approve refund" || cfg.TimeoutAction != "reject" {
		t.Errorf("approval: %+v", cfg)
	}
	if cfg := mustConfig[HandoffConfig](t, f, "pass"); cfg.Target != "billing-flow" {
		t.Errorf("handoff: %+v", cfg)
	}
	if cfg := mustConfig[GuardConfig](t, f, "scan"); len(cfg.GuardTypes) != 2 || cfg.Action != "block" {
		t.Errorf("guard: %+v", cfg)
	}
}

func TestParse_UnknownNodeFails(t *testing.T) {
	src := `
nodes:
  mystery:
    name: no recognizable fields
`
	if _, err := Parse([]byte(src)); !errors.Is(err, ErrNodeConfig) {
		t.Fatalf("ожидалась ErrNodeConfig, получено %v", err)
	}
}

func TestParse_ExplicitEdges(t *testing.T) {
	src := `
nodes:
  a:
    sets: "x = 1"
  b:
    sets: "y = 2"
edges:
  - source: a
    target: b
    type: fail
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edges := f.EdgesFrom("a")
	if len(edges) != 1 || edges[0].EdgeKind() != EdgeFail || edges[0].Target != "b" {
		t.Errorf("рёбра: %+v", edges)
	}
}

func mustConfig[T NodeConfig](t *testing.T, f *Flow, id string) T {
	t.Helper()
	n, ok := f.NodeByID(id)
	if !ok {
		t.Fatalf("узел %s не найден", id)
	}
	cfg, ok := n.Config.(T)
	if !ok {
		t.Fatalf("узел %s: тип %T", id, n.Config)
	}
	return cfg
}

func TestParse_OnlyCondition(t *testing.T) {
	src := `
nodes:
  - id: setup
    sets: "skip = true"
    next: maybe
  - id: maybe
    only: "!skip"
    sets: "ran = true"
`
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Nodes[0].Only != "" {
		t.Errorf("setup.Only = %q", f.Nodes[0].Only)
	}
	if f.Nodes[1].Only != "!skip" {
		t.Errorf("maybe.Only = %q", f.Nodes[1].Only)
	}
}
