package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse разбирает YAML-определение flow.
//
// Тип узла не указывается явно: он выводится из набора присутствующих
// полей (exec → exec, agent → agent, when → condition, case → switch,
// wait → delay, each → each, when/until + node → loop и т.д.).
// Поля next, fail, then, else и case[].then — сокращения, из которых
// синтезируются рёбра соответствующих типов.
func Parse(data []byte) (*Flow, error) {
	var doc struct {
		Meta struct {
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		} `yaml:"meta"`
		Vars  map[string]string `yaml:"vars"`
		Nodes yaml.Node         `yaml:"nodes"`
		Edges []struct {
			ID     string `yaml:"id"`
			Source string `yaml:"source"`
			Target string `yaml:"target"`
			Type   string `yaml:"type"`
		} `yaml:"edges"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse flow yaml: %w", err)
	}

	f := &Flow{
		Meta: Meta{Name: doc.Meta.Name, Description: doc.Meta.Description},
		Vars: doc.Vars,
	}

	nodes, edges, err := parseNodes(&doc.Nodes)
	if err != nil {
		return nil, err
	}
	f.Nodes = nodes
	f.Edges = edges

	for _, e := range doc.Edges {
		f.Edges = append(f.Edges, Edge{
			ID:     e.ID,
			Source: e.Source,
			Target: e.Target,
			Kind:   EdgeType(e.Type),
		})
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// parseNodes обрабатывает секцию nodes в двух формах: последовательность
// объектов с полем id либо отображение id → тело узла. Порядок
// документа сохраняется в обоих случаях.
func parseNodes(n *yaml.Node) ([]Node, []Edge, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil, nil
	}
	var nodes []Node
	var edges []Edge

	appendNode := func(id string, body map[string]any) error {
		node, shorthand, err := buildNode(id, body)
		if err != nil {
			return err
		}
		nodes = append(nodes, node)
		edges = append(edges, shorthand...)
		return nil
	}

	switch n.Kind {
	case yaml.SequenceNode:
		for _, item := range n.Content {
			var body map[string]any
			if err := item.Decode(&body); err != nil {
				return nil, nil, fmt.Errorf("decode node: %w", err)
			}
			id, _ := body["id"].(string)
			if err := appendNode(id, body); err != nil {
				return nil, nil, err
			}
		}
	case yaml.MappingNode:
		// Пары ключ-значение в Content сохраняют порядок документа.
		for i := 0; i+1 < len(n.Content); i += 2 {
			id := n.Content[i].Value
			var body map[string]any
			if err := n.Content[i+1].Decode(&body); err != nil {
				return nil, nil, fmt.Errorf("decode node %s: %w", id, err)
			}
			if err := appendNode(id, body); err != nil {
				return nil, nil, err
			}
		}
	default:
		return nil, nil, fmt.Errorf("%w: nodes must be a sequence or mapping", ErrNodeConfig)
	}
	return nodes, edges, nil
}

// buildNode собирает узел и синтезированные из сокращений рёбра.
func buildNode(id string, body map[string]any) (Node, []Edge, error) {
	cfg, err := inferConfig(id, body)
	if err != nil {
		return Node{}, nil, err
	}
	node := Node{
		ID:     id,
		Name:   str(body, "name"),
		Only:   str(body, "only"),
		Config: cfg,
	}

	var edges []Edge
	addEdge := func(target string, kind EdgeType) {
		if target != "" {
			edges = append(edges, Edge{Source: id, Target: target, Kind: kind})
		}
	}
	addEdge(str(body, "next"), EdgeNext)
	addEdge(str(body, "fail"), EdgeFail)
	addEdge(str(body, "then"), EdgeThen)
	addEdge(str(body, "else"), EdgeElse)
	for i, c := range caseList(body) {
		addEdge(c.then, CaseEdgeType(i))
	}
	return node, edges, nil
}

// inferConfig выводит типизированную конфигурацию из присутствующих
// полей. Порядок проверок повторяет приоритет распознавания:
// внешние вызовы, ветвления, задержка, итерации, чистый маппинг.
func inferConfig(id string, body map[string]any) (NodeConfig, error) {
	switch {
	case has(body, "exec"):
		return ExecConfig{
			Exec: str(body, "exec"),
			Args: str(body, "args"),
			With: str(body, "with"),
			Sets: str(body, "sets"),
		}, nil

	case has(body, "agent"):
		return AgentConfig{
			Agent:        str(body, "agent"),
			Model:        str(body, "model"),
			Instructions: str(body, "instructions"),
			Args:         str(body, "args"),
			With:         str(body, "with"),
			Sets:         str(body, "sets"),
		}, nil

	case has(body, "mcp"):
		server, tool := splitMCP(str(body, "mcp"))
		return MCPConfig{
			Server: server,
			Tool:   tool,
			Args:   str(body, "args"),
			Sets:   str(body, "sets"),
		}, nil

	case has(body, "approval"), has(body, "title") && has(body, "timeoutAction"):
		return ApprovalConfig{
			Title:         firstStr(body, "approval", "title"),
			Timeout:       str(body, "timeout"),
			TimeoutAction: str(body, "timeoutAction"),
		}, nil

	case has(body, "handoff"):
		return HandoffConfig{
			Target: str(body, "handoff"),
			Args:   str(body, "args"),
		}, nil

	case has(body, "guard"):
		return GuardConfig{
			GuardTypes: strList(body, "guard"),
			Action:     str(body, "action"),
		}, nil

	case has(body, "case"):
		var cases []SwitchCase
		for _, c := range caseList(body) {
			cases = append(cases, SwitchCase{When: c.when})
		}
		return SwitchConfig{Cases: cases}, nil

	case has(body, "wait"):
		return DelayConfig{Wait: str(body, "wait")}, nil

	case has(body, "each"):
		sub, err := subFlow(id, body)
		if err != nil {
			return nil, err
		}
		return EachConfig{
			Each:           str(body, "each"),
			Sets:           str(body, "sets"),
			Body:           sub,
			Parallel:       boolVal(body, "parallel"),
			MaxConcurrency: intVal(body, "maxConcurrency"),
		}, nil

	case has(body, "until"), has(body, "when") && (has(body, "node") || has(body, "vars")):
		sub, err := subFlow(id, body)
		if err != nil {
			return nil, err
		}
		return LoopConfig{
			When:          str(body, "when"),
			Until:         str(body, "until"),
			Vars:          str(body, "vars"),
			Sets:          str(body, "sets"),
			Body:          sub,
			MaxIterations: intVal(body, "maxIterations"),
		}, nil

	case has(body, "when"):
		return ConditionConfig{When: str(body, "when")}, nil

	case has(body, "with"), has(body, "sets"):
		return MappingConfig{
			With: str(body, "with"),
			Sets: str(body, "sets"),
		}, nil
	}
	return nil, fmt.Errorf("%w: cannot infer type of node %s", ErrNodeConfig, id)
}

// subFlow собирает вложенный sub-flow из секции node узла each/loop.
func subFlow(id string, body map[string]any) (*Flow, error) {
	raw, ok := body["node"]
	if !ok {
		return nil, nil
	}
	// Вложенная секция уже декодирована в map; прогоняем её через
	// yaml заново, чтобы переиспользовать parseNodes.
	data, err := yaml.Marshal(map[string]any{"nodes": raw})
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	sub, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("node %s body: %w", id, err)
	}
	return sub, nil
}

type caseEntry struct {
	when string
	then string
}

func caseList(body map[string]any) []caseEntry {
	raw, ok := body["case"].([]any)
	if !ok {
		return nil
	}
	var out []caseEntry
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, caseEntry{when: str(m, "when"), then: str(m, "then")})
	}
	return out
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case int:
		return fmt.Sprintf("%d", v)
	}
	return ""
}

func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m, k); s != "" {
			return s
		}
	}
	return ""
}

func strList(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func boolVal(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func intVal(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// splitMCP разбирает URI вида "mcp://server/tool".
func splitMCP(uri string) (server, tool string) {
	rest := uri
	const prefix = "mcp://"
	if len(rest) >= len(prefix) && rest[:len(prefix)] == prefix {
		rest = rest[len(prefix):]
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}
