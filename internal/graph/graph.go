package graph

import (
	"errors"
	"fmt"
	"sort"
)

// Ошибки построения графа.
var (
	// ErrCycle — граф содержит цикл.
	ErrCycle = errors.New("dependency graph contains a cycle")

	// ErrUnknownNode — ребро ссылается на отсутствующий узел.
	ErrUnknownNode = errors.New("edge references unknown node")

	// ErrDependencyFailed — узел пропущен из-за проваленной зависимости.
	ErrDependencyFailed = errors.New("dependency failed")
)

// Edge — направленная зависимость: To выполняется после From.
type Edge struct {
	From string
	To   string
}

// NodeInfo — сведения об одном узле графа.
type NodeInfo struct {
	// DependsOn — прямые зависимости узла.
	DependsOn map[string]bool

	// Dependents — узлы, зависящие от данного.
	Dependents map[string]bool

	// InDegree — число входящих рёбер.
	InDegree int
}

// DependencyGraph — граф зависимостей с готовым топологическим
// порядком. После Build граф не изменяется: планировщик ведёт свои
// множества состояний отдельно.
type DependencyGraph struct {
	nodes  map[string]*NodeInfo
	sorted []string
}

// Build строит граф по списку узлов и рёбер и выполняет
// топологическую сортировку алгоритмом Кана. Цикл — фатальная
// ошибка, выполнение в этом случае не начинается.
func Build(nodeIDs []string, edges []Edge) (*DependencyGraph, error) {
	g := &DependencyGraph{nodes: make(map[string]*NodeInfo, len(nodeIDs))}
	for _, id := range nodeIDs {
		g.nodes[id] = &NodeInfo{
			DependsOn:  map[string]bool{},
			Dependents: map[string]bool{},
		}
	}

	for _, e := range edges {
		from, ok := g.nodes[e.From]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, e.From)
		}
		to, ok := g.nodes[e.To]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, e.To)
		}
		if to.DependsOn[e.From] {
			continue // дубликат ребра
		}
		to.DependsOn[e.From] = true
		from.Dependents[e.To] = true
		to.InDegree++
	}

	sorted, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.sorted = sorted
	return g, nil
}

// topoSort выполняет сортировку Кана над приватной копией степеней
// захода, не трогая InDegree самих узлов.
func (g *DependencyGraph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = n.InDegree
	}

	var queue []string
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	// Детерминированный порядок обхода при равных условиях.
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		var released []string
		for dep := range g.nodes[id].Dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(sorted) != len(g.nodes) {
		return nil, ErrCycle
	}
	return sorted, nil
}

// Size возвращает число узлов.
func (g *DependencyGraph) Size() int { return len(g.nodes) }

// Sorted возвращает топологический порядок узлов.
func (g *DependencyGraph) Sorted() []string {
	out := make([]string, len(g.sorted))
	copy(out, g.sorted)
	return out
}

// Node возвращает сведения об узле либо nil.
func (g *DependencyGraph) Node(id string) *NodeInfo { return g.nodes[id] }

// DependsOn сообщает, зависит ли узел id от dep напрямую.
func (g *DependencyGraph) DependsOn(id, dep string) bool {
	n := g.nodes[id]
	return n != nil && n.DependsOn[dep]
}

// ExecutionBatches разбивает узлы на последовательные волны:
// в волну попадают все узлы, чьи зависимости покрыты предыдущими
// волнами. Узлы одной волны безопасно выполнять параллельно.
func (g *DependencyGraph) ExecutionBatches() ([][]string, error) {
	done := make(map[string]bool, len(g.nodes))
	pending := make(map[string]bool, len(g.nodes))
	for id := range g.nodes {
		pending[id] = true
	}

	var batches [][]string
	for len(pending) > 0 {
		var batch []string
		for id := range pending {
			ready := true
			for dep := range g.nodes[id].DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, id)
			}
		}
		// Циклы исключены на этапе Build; пустая волна означает
		// нарушение инварианта графа.
		if len(batch) == 0 {
			return nil, fmt.Errorf("%w: no progress over %d pending nodes", ErrCycle, len(pending))
		}
		sort.Strings(batch)
		for _, id := range batch {
			done[id] = true
			delete(pending, id)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
