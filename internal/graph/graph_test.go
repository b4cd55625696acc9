package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestBuild_TopologicalOrder(t *testing.T) {
	g, err := Build([]string{"A", "B", "C"}, []Edge{
		{From: "A", To: "B"},
		{From: "B", To: "C"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sorted := g.Sorted()
	if len(sorted) != 3 {
		t.Fatalf("expected 3 nodes in order, got %v", sorted)
	}
	// Каждый узел идёт после всех своих зависимостей.
	pos := map[string]int{}
	for i, id := range sorted {
		pos[id] = i
	}
	if pos["A"] > pos["B"] || pos["B"] > pos["C"] {
		t.Errorf("unexpected order: %v", sorted)
	}
}

func TestBuild_CycleFails(t *testing.T) {
	_, err := Build([]string{"A", "B"}, []Edge{
		{From: "A", To: "B"},
		{From: "B", To: "A"},
	})
	if !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got %v", err)
	}
}

func TestBuild_UnknownNodeFails(t *testing.T) {
	_, err := Build([]string{"A"}, []Edge{{From: "A", To: "X"}})
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestBuild_InDegreeNotMutatedBySort(t *testing.T) {
	g, err := Build([]string{"A", "B"}, []Edge{{From: "A", To: "B"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Сортировка работает над копией степеней захода.
	if g.Node("B").InDegree != 1 {
		t.Errorf("InDegree of B should survive sorting, got %d", g.Node("B").InDegree)
	}
}

func TestExecutionBatches_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	g, err := Build([]string{"A", "B", "C", "D"}, []Edge{
		{From: "A", To: "B"},
		{From: "A", To: "C"},
		{From: "B", To: "D"},
		{From: "C", To: "D"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batches, err := g.ExecutionBatches()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %v", batches)
	}
	if len(batches[0]) != 1 || batches[0][0] != "A" {
		t.Errorf("batch 0 should be [A], got %v", batches[0])
	}
	if len(batches[1]) != 2 {
		t.Errorf("batch 1 should contain B and C, got %v", batches[1])
	}
	if len(batches[2]) != 1 || batches[2][0] != "D" {
		t.Errorf("batch 2 should be [D], got %v", batches[2])
	}
}

func TestScheduler_ReadyAndSkipped(t *testing.T) {
	// A → B → C: после провала A узел B пропускается сразу,
	// C — только на следующем проходе (ленивая транзитивность).
	g, err := Build([]string{"A", "B", "C"}, []Edge{
		{From: "A", To: "B"},
		{From: "B", To: "C"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewParallelScheduler(g)

	ready := s.ReadyNodes()
	if len(ready) != 1 || ready[0] != "A" {
		t.Fatalf("expected ready [A], got %v", ready)
	}

	s.MarkStarted("A")
	s.MarkFailed("A", NodeResult{NodeID: "A"})

	skipped := s.SkippedNodes()
	if len(skipped) != 1 || skipped[0] != "B" {
		t.Errorf("expected skipped [B] only, got %v", skipped)
	}

	// Узлы с проваленной зависимостью не готовы, но и не провалены.
	if len(s.ReadyNodes()) != 0 {
		t.Errorf("no node should be ready, got %v", s.ReadyNodes())
	}
	if !s.IsBlocked() {
		t.Error("scheduler should report blocked")
	}

	// После провала B транзитивно открывается C.
	s.MarkFailed("B", NodeResult{NodeID: "B"})
	skipped = s.SkippedNodes()
	if len(skipped) != 1 || skipped[0] != "C" {
		t.Errorf("expected skipped [C] on second scan, got %v", skipped)
	}
}

func TestScheduler_ExecuteParallel(t *testing.T) {
	g, err := Build([]string{"A", "B", "C", "D"}, []Edge{
		{From: "A", To: "B"},
		{From: "A", To: "C"},
		{From: "B", To: "D"},
		{From: "C", To: "D"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewParallelScheduler(g)

	var mu sync.Mutex
	var order []string
	results, err := s.ExecuteParallel(context.Background(), func(_ context.Context, id string) NodeResult {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		return NodeResult{NodeID: id, Success: true}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for id, res := range results {
		if !res.Success {
			t.Errorf("node %s should succeed", id)
		}
	}
	// A строго первым, D строго последним: волны не пересекаются.
	if order[0] != "A" || order[len(order)-1] != "D" {
		t.Errorf("unexpected wave order: %v", order)
	}
}

func TestScheduler_ExecuteParallelSweepsSkipped(t *testing.T) {
	g, err := Build([]string{"A", "B", "C"}, []Edge{
		{From: "A", To: "B"},
		{From: "B", To: "C"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewParallelScheduler(g)

	boom := errors.New("boom")
	results, err := s.ExecuteParallel(context.Background(), func(_ context.Context, id string) NodeResult {
		if id == "A" {
			return NodeResult{NodeID: id, Success: false, Err: boom}
		}
		return NodeResult{NodeID: id, Success: true}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Вся цепочка за проваленным узлом выметается в failed.
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !errors.Is(results["B"].Err, ErrDependencyFailed) {
		t.Errorf("B should fail with ErrDependencyFailed, got %v", results["B"].Err)
	}
	if !errors.Is(results["C"].Err, ErrDependencyFailed) {
		t.Errorf("C should fail with ErrDependencyFailed, got %v", results["C"].Err)
	}
	if !s.Done() {
		t.Error("scheduler should be done after sweep")
	}
}
