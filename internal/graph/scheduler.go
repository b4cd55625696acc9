package graph

import (
	"context"
	"sort"
	"sync"
)

// NodeResult — итог выполнения одного узла планировщиком.
type NodeResult struct {
	NodeID  string
	Success bool
	Output  any
	Err     error
}

// NodeExecutor — функция выполнения одного узла, поставляемая
// вызывающей стороной.
type NodeExecutor func(ctx context.Context, nodeID string) NodeResult

// ParallelScheduler ведёт четыре непересекающихся множества узлов —
// pending, running, completed, failed — поверх неизменяемого графа.
// Экземпляр создаётся на одно выполнение flow и не предназначен для
// конкурентного доступа извне; ExecuteParallel синхронизирует свои
// горутины самостоятельно.
type ParallelScheduler struct {
	graph *DependencyGraph

	pending   map[string]bool
	running   map[string]bool
	completed map[string]bool
	failed    map[string]bool

	results map[string]NodeResult
}

// NewParallelScheduler создаёт планировщик, засеянный всеми узлами
// графа как ожидающими.
func NewParallelScheduler(g *DependencyGraph) *ParallelScheduler {
	s := &ParallelScheduler{
		graph:     g,
		pending:   make(map[string]bool, g.Size()),
		running:   map[string]bool{},
		completed: map[string]bool{},
		failed:    map[string]bool{},
		results:   map[string]NodeResult{},
	}
	for _, id := range g.Sorted() {
		s.pending[id] = true
	}
	return s
}

// ReadyNodes возвращает ожидающие узлы, все зависимости которых
// завершены и ни одна не провалена. Узлы с проваленными
// зависимостями не считаются готовыми, но и не проваливаются
// автоматически — их собирает SkippedNodes.
func (s *ParallelScheduler) ReadyNodes() []string {
	var ready []string
	for id := range s.pending {
		ok := true
		for dep := range s.graph.Node(id).DependsOn {
			if s.failed[dep] || !s.completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// SkippedNodes возвращает ожидающие узлы, у которых провалена хотя бы
// одна прямая зависимость. Транзитивное распространение происходит
// лениво: по мере перевода прямых зависимых в failed последующие
// вызовы видят следующий уровень.
func (s *ParallelScheduler) SkippedNodes() []string {
	var skipped []string
	for id := range s.pending {
		for dep := range s.graph.Node(id).DependsOn {
			if s.failed[dep] {
				skipped = append(skipped, id)
				break
			}
		}
	}
	sort.Strings(skipped)
	return skipped
}

// MarkStarted переводит узел из pending в running.
func (s *ParallelScheduler) MarkStarted(id string) {
	if s.pending[id] {
		delete(s.pending, id)
		s.running[id] = true
	}
}

// MarkCompleted переводит узел в completed и сохраняет результат.
func (s *ParallelScheduler) MarkCompleted(id string, res NodeResult) {
	delete(s.pending, id)
	delete(s.running, id)
	s.completed[id] = true
	s.results[id] = res
}

// MarkFailed переводит узел в failed и сохраняет результат.
func (s *ParallelScheduler) MarkFailed(id string, res NodeResult) {
	delete(s.pending, id)
	delete(s.running, id)
	s.failed[id] = true
	s.results[id] = res
}

// IsBlocked сообщает, что прогресс невозможен: остались ожидающие
// узлы, ничего не выполняется и готовых нет.
func (s *ParallelScheduler) IsBlocked() bool {
	return len(s.pending) > 0 && len(s.running) == 0 && len(s.ReadyNodes()) == 0
}

// Done сообщает, что ожидающих и выполняющихся узлов не осталось.
func (s *ParallelScheduler) Done() bool {
	return len(s.pending) == 0 && len(s.running) == 0
}

// Results возвращает накопленные результаты по узлам.
func (s *ParallelScheduler) Results() map[string]NodeResult {
	out := make(map[string]NodeResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Counts возвращает размеры множеств pending/running/completed/failed.
func (s *ParallelScheduler) Counts() (pending, running, completed, failed int) {
	return len(s.pending), len(s.running), len(s.completed), len(s.failed)
}

// ExecuteParallel выполняет граф волнами: каждая волна готовых узлов
// запускается конкурентно, следующая не начинается, пока не завершатся
// все узлы текущей. Узлы, заблокированные проваленными зависимостями,
// в конце переводятся в failed с результатом-заглушкой.
func (s *ParallelScheduler) ExecuteParallel(ctx context.Context, exec NodeExecutor) (map[string]NodeResult, error) {
	for !s.Done() {
		ready := s.ReadyNodes()
		if len(ready) == 0 {
			break
		}
		for _, id := range ready {
			s.MarkStarted(id)
		}

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			outcome = make(map[string]NodeResult, len(ready))
		)
		for _, id := range ready {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				res := exec(ctx, id)
				mu.Lock()
				outcome[id] = res
				mu.Unlock()
			}(id)
		}
		wg.Wait()

		for _, id := range ready {
			res := outcome[id]
			if res.Success {
				s.MarkCompleted(id, res)
			} else {
				s.MarkFailed(id, res)
			}
		}

		if err := ctx.Err(); err != nil {
			return s.Results(), err
		}
	}

	// Добираем узлы, отрезанные проваленными зависимостями.
	// Повторные проходы раскрывают транзитивные цепочки.
	for {
		skipped := s.SkippedNodes()
		if len(skipped) == 0 {
			break
		}
		for _, id := range skipped {
			s.MarkFailed(id, NodeResult{NodeID: id, Success: false, Err: ErrDependencyFailed})
		}
	}
	return s.Results(), nil
}
