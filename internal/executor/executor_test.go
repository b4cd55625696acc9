package executor

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/fdl/internal/flow"
)

func mappingNode(id, sets string) flow.Node {
	return flow.Node{ID: id, Config: flow.MappingConfig{Sets: sets}}
}

func nextEdge(src, dst string) flow.Edge {
	return flow.Edge{Source: src, Target: dst}
}

func TestStart_LinearFlow(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			mappingNode("a", "result = 1"),
			mappingNode("b", "result = result + 1"),
		},
		Edges: []flow.Edge{nextEdge("a", "b")},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if x.Status() != StatusCompleted {
		t.Errorf("статус %s", x.Status())
	}
	ec := x.Context()
	if got := ec.Vars["result"]; got != int64(2) {
		t.Errorf("result = %v", got)
	}
	if len(ec.History) != 2 || ec.History[0].NodeID != "a" || ec.History[1].NodeID != "b" {
		t.Errorf("журнал: %+v", ec.History)
	}
}

func TestStart_FlowVarsAndArgs(t *testing.T) {
	f := &flow.Flow{
		Vars: map[string]string{
			"greeting": "'Hello ' + name",
			"note":     "just plain text!!",
		},
		Nodes: []flow.Node{mappingNode("a", "done = true")},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), map[string]any{"name": "Bob"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	if got := ec.Vars["greeting"]; got != "Hello Bob" {
		t.Errorf("greeting = %v", got)
	}
	// Неразбираемое выражение деградирует до строкового литерала.
	if got := ec.Vars["note"]; got != "just plain text!!" {
		t.Errorf("note = %v", got)
	}
}

func TestEvalValue_FallbackChain(t *testing.T) {
	x := New(&flow.Flow{Nodes: []flow.Node{mappingNode("a", "x = 1")}}, Config{})
	scope := map[string]any{
		"user": map[string]any{"name": "Ann"},
	}
	if got := x.evalValue("user.name", scope); got != "Ann" {
		t.Errorf("выражение: %v", got)
	}
	if got := x.evalValue("1 + 2", scope); got != int64(3) {
		t.Errorf("арифметика: %v", got)
	}
	if got := x.evalValue("not an ) expression", scope); got != "not an ) expression" {
		t.Errorf("литеральный фолбэк: %v", got)
	}
}

func TestCondition_Branches(t *testing.T) {
	build := func(count int64) *Executor {
		f := &flow.Flow{
			Nodes: []flow.Node{
				{ID: "check", Config: flow.ConditionConfig{When: "count > 3"}},
				mappingNode("high", "picked = 'high'"),
				mappingNode("low", "picked = 'low'"),
			},
			Edges: []flow.Edge{
				{Source: "check", Target: "high", Kind: flow.EdgeThen},
				{Source: "check", Target: "low", Kind: flow.EdgeElse},
			},
		}
		x := New(f, Config{})
		if err := x.Start(context.Background(), nil, map[string]any{"count": count}); err != nil {
			t.Fatalf("Start: %v", err)
		}
		return x
	}
	if got := build(5).Context().Vars["picked"]; got != "high" {
		t.Errorf("ветка then: %v", got)
	}
	if got := build(1).Context().Vars["picked"]; got != "low" {
		t.Errorf("ветка else: %v", got)
	}
}

func TestSwitch_CaseEdges(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "route", Config: flow.SwitchConfig{Cases: []flow.SwitchCase{
				{When: "priority == 'high'"},
				{When: "priority == 'low'"},
			}}},
			mappingNode("urgent", "q = 'urgent'"),
			mappingNode("backlog", "q = 'backlog'"),
			mappingNode("normal", "q = 'normal'"),
		},
		Edges: []flow.Edge{
			{Source: "route", Target: "urgent", Kind: flow.CaseEdgeType(0)},
			{Source: "route", Target: "backlog", Kind: flow.CaseEdgeType(1)},
			{Source: "route", Target: "normal", Kind: flow.EdgeElse},
		},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, map[string]any{"priority": "low"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["q"]; got != "backlog" {
		t.Errorf("q = %v", got)
	}
}

func TestLoop_WhenCondition(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "l", Config: flow.LoopConfig{
				When: "count < 3",
				Sets: "count = count + 1",
			}},
		},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, map[string]any{"count": int64(0)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	if got := ec.Vars["count"]; got != int64(3) {
		t.Errorf("count = %v", got)
	}
	out, _ := ec.History[0].Output.(map[string]any)
	if out["iterations"] != int64(3) {
		t.Errorf("итераций %v", out["iterations"])
	}
}

func TestLoop_UntilCondition(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "l", Config: flow.LoopConfig{
				Until: "count >= 5",
				Sets:  "count = count + 1",
			}},
		},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, map[string]any{"count": int64(0)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["count"]; got != int64(5) {
		t.Errorf("count = %v", got)
	}
}

func TestLoop_BreakSignal(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "l", Config: flow.LoopConfig{
				When: "true",
				Sets: "count = count + 1, $break = count >= 2",
			}},
		},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, map[string]any{"count": int64(0)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["count"]; got != int64(2) {
		t.Errorf("count = %v", got)
	}
}

func TestLoop_MaxIterationsFatal(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "l", Config: flow.LoopConfig{When: "true", MaxIterations: 5}},
		},
	}
	x := New(f, Config{})
	err := x.Start(context.Background(), nil, nil)
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("ожидалась ErrMaxIterations, получено %v", err)
	}
	if x.Status() != StatusError {
		t.Errorf("статус %s", x.Status())
	}
}

func TestEach_SubFlowIsolation(t *testing.T) {
	body := &flow.Flow{
		Nodes: []flow.Node{mappingNode("calc", "temp = item * 2, $result = temp")},
	}
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "fan", Config: flow.EachConfig{
				Each: "items => item, i",
				Body: body,
				Sets: "doubled = $results",
			}},
		},
	}
	x := New(f, Config{})
	err := x.Start(context.Background(), nil, map[string]any{
		"items": []any{int64(1), int64(2), int64(3)},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	want := []any{int64(2), int64(4), int64(6)}
	if !reflect.DeepEqual(ec.Vars["doubled"], want) {
		t.Errorf("doubled = %v", ec.Vars["doubled"])
	}
	// Локальная переменная sub-flow не протекает наружу.
	if _, ok := ec.Vars["temp"]; ok {
		t.Errorf("temp просочился в родительский контекст: %v", ec.Vars["temp"])
	}
}

func TestEach_ParallelKeepsOrder(t *testing.T) {
	body := &flow.Flow{
		Nodes: []flow.Node{mappingNode("calc", "$result = item * 10")},
	}
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "fan", Config: flow.EachConfig{
				Each:           "items => item",
				Body:           body,
				Parallel:       true,
				MaxConcurrency: 2,
			}},
		},
	}
	x := New(f, Config{})
	items := []any{int64(1), int64(2), int64(3), int64(4), int64(5)}
	if err := x.Start(context.Background(), nil, map[string]any{"items": items}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []any{int64(10), int64(20), int64(30), int64(40), int64(50)}
	if !reflect.DeepEqual(x.Context().Vars["$results"], want) {
		t.Errorf("$results = %v", x.Context().Vars["$results"])
	}
}

func TestEach_InPlaceBinding(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "fan", Config: flow.EachConfig{
				Each: "items => item",
				Sets: "total = total + item",
			}},
		},
	}
	x := New(f, Config{})
	err := x.Start(context.Background(), nil, map[string]any{
		"items": []any{int64(1), int64(2), int64(3)},
		"total": int64(0),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["total"]; got != int64(6) {
		t.Errorf("total = %v", got)
	}
}

func TestEach_SourceNotArray(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "fan", Config: flow.EachConfig{Each: "items => item"}},
		},
	}
	x := New(f, Config{})
	err := x.Start(context.Background(), nil, map[string]any{"items": "oops"})
	if !errors.Is(err, ErrEachSource) {
		t.Fatalf("ожидалась ErrEachSource, получено %v", err)
	}
}

func TestTool_HandlerArgsAndSets(t *testing.T) {
	var gotArgs map[string]any
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "call", Config: flow.ExecConfig{
				Exec: "api://orders/list",
				Args: "status = 'new', limit = 10",
				With: "$value.items",
				Sets: "orders = $value",
			}},
		},
	}
	x := New(f, Config{
		Tool: func(_ context.Context, cfg flow.ExecConfig, args map[string]any, _ *ExecutionContext) (any, error) {
			gotArgs = args
			return map[string]any{"items": []any{"a", "b"}}, nil
		},
	})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if gotArgs["status"] != "new" || gotArgs["limit"] != int64(10) {
		t.Errorf("аргументы: %v", gotArgs)
	}
	want := []any{"a", "b"}
	if !reflect.DeepEqual(x.Context().Vars["orders"], want) {
		t.Errorf("orders = %v", x.Context().Vars["orders"])
	}
}

func TestTool_FailEdge(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "call", Config: flow.ExecConfig{Exec: "api://broken"}},
			mappingNode("recover", "recovered = true"),
		},
		Edges: []flow.Edge{
			{Source: "call", Target: "recover", Kind: flow.EdgeFail},
		},
	}
	x := New(f, Config{
		Tool: func(context.Context, flow.ExecConfig, map[string]any, *ExecutionContext) (any, error) {
			return nil, errors.New("boom")
		},
	})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	if ec.Vars["recovered"] != true {
		t.Errorf("recovered = %v", ec.Vars["recovered"])
	}
	if ec.History[0].State != "error" || ec.History[0].Error == "" {
		t.Errorf("журнал ошибки: %+v", ec.History[0])
	}
}

func TestTool_NoFailEdgeIsFatal(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{{ID: "call", Config: flow.ExecConfig{Exec: "api://broken"}}},
	}
	x := New(f, Config{
		Tool: func(context.Context, flow.ExecConfig, map[string]any, *ExecutionContext) (any, error) {
			return nil, errors.New("boom")
		},
	})
	if err := x.Start(context.Background(), nil, nil); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if x.Status() != StatusError {
		t.Errorf("статус %s", x.Status())
	}
}

func TestApproval_RejectedFollowsFailEdge(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "gate", Config: flow.ApprovalConfig{Title: "Refund"}},
			mappingNode("denied", "state = 'denied'"),
		},
		Edges: []flow.Edge{
			{Source: "gate", Target: "denied", Kind: flow.EdgeFail},
		},
	}
	x := New(f, Config{
		Approval: func(context.Context, flow.ApprovalConfig, *ExecutionContext) (bool, any, error) {
			return false, nil, nil
		},
	})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["state"]; got != "denied" {
		t.Errorf("state = %v", got)
	}
}

func TestGuard_WarnContinues(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "scan", Config: flow.GuardConfig{GuardTypes: []string{"pii"}, Action: "warn"}},
			mappingNode("after", "passed = true"),
		},
		Edges: []flow.Edge{nextEdge("scan", "after")},
	}
	x := New(f, Config{
		Guard: func(context.Context, flow.GuardConfig, *ExecutionContext) ([]string, error) {
			return []string{"pii"}, nil
		},
	})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if x.Context().Vars["passed"] != true {
		t.Errorf("узел после guard не выполнился")
	}
}

func TestGuard_BlockIsFailure(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "scan", Config: flow.GuardConfig{GuardTypes: []string{"pii"}, Action: "block"}},
		},
	}
	x := New(f, Config{
		Guard: func(context.Context, flow.GuardConfig, *ExecutionContext) ([]string, error) {
			return []string{"pii"}, nil
		},
	})
	if err := x.Start(context.Background(), nil, nil); !errors.Is(err, ErrGuardBlocked) {
		t.Fatalf("ожидалась ErrGuardBlocked, получено %v", err)
	}
}

func TestDelay_Waits(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{{ID: "wait", Config: flow.DelayConfig{Wait: "20ms"}}},
	}
	x := New(f, Config{})
	started := time.Now()
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 20*time.Millisecond {
		t.Errorf("задержка %v меньше ожидаемой", elapsed)
	}
}

func TestParseWait(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"500", 500 * time.Millisecond},
		{"500ms", 500 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"1m", time.Minute},
		{"1h", time.Hour},
		{"", time.Second},
		{"soon", time.Second},
	}
	for _, c := range cases {
		if got := parseWait(c.raw); got != c.want {
			t.Errorf("parseWait(%q) = %v, ожидалось %v", c.raw, got, c.want)
		}
	}
}

func TestMaxIterations_BoundsMainLoop(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			mappingNode("a", "x = 1"),
			mappingNode("b", "x = 2"),
			mappingNode("c", "x = 3"),
		},
		Edges: []flow.Edge{nextEdge("a", "b"), nextEdge("b", "c")},
	}
	x := New(f, Config{MaxIterations: 2})
	if err := x.Start(context.Background(), nil, nil); !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("ожидалась ErrMaxIterations, получено %v", err)
	}
}

func TestCyclicFlow_FailsBeforeExecution(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			mappingNode("a", "x = 1"),
			mappingNode("b", "x = 2"),
		},
		Edges: []flow.Edge{nextEdge("a", "b"), nextEdge("b", "a")},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, nil); err == nil {
		t.Fatal("ожидалась ошибка цикла")
	}
	if len(x.Context().History) != 0 {
		t.Errorf("узлы исполнялись до проверки графа: %+v", x.Context().History)
	}
}

func TestEvents_Sequence(t *testing.T) {
	var mu sync.Mutex
	var got []EventType
	f := &flow.Flow{
		Nodes: []flow.Node{mappingNode("a", "x = 1"), mappingNode("b", "y = 2")},
		Edges: []flow.Edge{nextEdge("a", "b")},
	}
	x := New(f, Config{Events: func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	}})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []EventType{
		EventStart,
		EventNodeStart, EventNodeComplete,
		EventNodeStart, EventNodeComplete,
		EventComplete,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("события %v, ожидалось %v", got, want)
	}
}

func TestBreakpoint_PauseResume(t *testing.T) {
	paused := make(chan string, 2)
	f := &flow.Flow{
		Nodes: []flow.Node{mappingNode("a", "x = 1"), mappingNode("b", "y = 2")},
		Edges: []flow.Edge{nextEdge("a", "b")},
	}
	x := New(f, Config{Events: func(e Event) {
		if e.Type == EventPause {
			paused <- e.NodeID
		}
	}})
	x.SetBreakpoint("b")

	done := make(chan error, 1)
	go func() { done <- x.Start(context.Background(), nil, nil) }()

	select {
	case id := <-paused:
		if id != "b" {
			t.Errorf("пауза на узле %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("пауза не наступила")
	}
	if x.Status() != StatusPaused {
		t.Errorf("статус %s", x.Status())
	}
	// Второй запрос паузы при уже приостановленном прогоне отклоняется.
	if err := x.Pause(); !errors.Is(err, ErrPausePending) {
		t.Errorf("Pause при паузе: %v", err)
	}
	if err := x.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["y"]; got != int64(2) {
		t.Errorf("y = %v", got)
	}
}

func TestStep_PausesAfterEachNode(t *testing.T) {
	paused := make(chan string, 4)
	f := &flow.Flow{
		Nodes: []flow.Node{mappingNode("a", "x = 1"), mappingNode("b", "y = 2")},
		Edges: []flow.Edge{nextEdge("a", "b")},
	}
	x := New(f, Config{Events: func(e Event) {
		if e.Type == EventPause {
			paused <- e.NodeID
		}
	}})
	x.SetBreakpoint("a")

	done := make(chan error, 1)
	go func() { done <- x.Start(context.Background(), nil, nil) }()

	waitPause := func() string {
		select {
		case id := <-paused:
			return id
		case <-time.After(2 * time.Second):
			t.Fatal("пауза не наступила")
			return ""
		}
	}

	if id := waitPause(); id != "a" {
		t.Fatalf("первая пауза на %s", id)
	}
	if err := x.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// Шаг исполняет a и приостанавливается перед b.
	if id := waitPause(); id != "b" {
		t.Fatalf("вторая пауза на %s", id)
	}
	ec := x.Context()
	if len(ec.History) != 1 || ec.History[0].NodeID != "a" {
		t.Errorf("журнал после шага: %+v", ec.History)
	}
	if err := x.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if x.Status() != StatusCompleted {
		t.Errorf("статус %s", x.Status())
	}
}

func TestStop_IsCooperative(t *testing.T) {
	started := make(chan struct{}, 1)
	f := &flow.Flow{
		Nodes: []flow.Node{{ID: "wait", Config: flow.DelayConfig{Wait: "5s"}}},
	}
	x := New(f, Config{Events: func(e Event) {
		if e.Type == EventNodeStart {
			started <- struct{}{}
		}
	}})

	done := make(chan error, 1)
	go func() { done <- x.Start(context.Background(), nil, nil) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("узел не стартовал")
	}
	x.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("ожидалась ErrStopped, получено %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop не прервал ожидание")
	}
	if x.Status() != StatusIdle {
		t.Errorf("статус %s", x.Status())
	}
}

func TestBreakpoints_Accessors(t *testing.T) {
	x := New(&flow.Flow{Nodes: []flow.Node{mappingNode("a", "x = 1")}}, Config{})
	x.SetBreakpoint("b")
	x.SetBreakpoint("a")
	if got := x.Breakpoints(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Breakpoints = %v", got)
	}
	x.RemoveBreakpoint("a")
	if got := x.Breakpoints(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("после удаления: %v", got)
	}
	x.ClearBreakpoints()
	if got := x.Breakpoints(); len(got) != 0 {
		t.Errorf("после очистки: %v", got)
	}
}

func TestPause_RequiresRunning(t *testing.T) {
	x := New(&flow.Flow{Nodes: []flow.Node{mappingNode("a", "x = 1")}}, Config{})
	if err := x.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Pause в idle: %v", err)
	}
	if err := x.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume в idle: %v", err)
	}
}

func TestParseEachExpr(t *testing.T) {
	src, item, idx, err := parseEachExpr("orders => order, i")
	if err != nil || src != "orders" || item != "order" || idx != "i" {
		t.Errorf("разбор: %q %q %q %v", src, item, idx, err)
	}
	if _, _, _, err := parseEachExpr("orders"); !errors.Is(err, ErrBadEachExpr) {
		t.Errorf("ожидалась ErrBadEachExpr, получено %v", err)
	}
}

func TestOnly_FalsySkipsNodeWithoutFailing(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			mappingNode("setup", "skip = true"),
			{ID: "maybe", Only: "!skip", Config: flow.MappingConfig{Sets: "ran = true"}},
			mappingNode("final", "done = true"),
		},
		Edges: []flow.Edge{nextEdge("setup", "maybe"), nextEdge("maybe", "final")},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	if _, ok := ec.Vars["ran"]; ok {
		t.Error("пропущенный узел не должен выполняться")
	}
	if ec.Vars["done"] != true {
		t.Errorf("обход должен продолжиться: done = %v", ec.Vars["done"])
	}
	// Пропуск фиксируется в журнале отдельным состоянием.
	var skipped *HistoryEntry
	for i := range ec.History {
		if ec.History[i].NodeID == "maybe" {
			skipped = &ec.History[i]
		}
	}
	if skipped == nil || skipped.State != "skipped" {
		t.Errorf("журнал: %+v", ec.History)
	}
}

func TestOnly_TruthyExecutesNode(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			mappingNode("setup", "skip = false"),
			{ID: "maybe", Only: "!skip", Config: flow.MappingConfig{Sets: "ran = true"}},
		},
		Edges: []flow.Edge{nextEdge("setup", "maybe")},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["ran"]; got != true {
		t.Errorf("ran = %v", got)
	}
}

func TestOnly_EvalErrorFollowsFailEdge(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "a", Only: "1 +", Config: flow.MappingConfig{Sets: "ran = true"}},
			mappingNode("recover", "recovered = true"),
		},
		Edges: []flow.Edge{{Source: "a", Target: "recover", Kind: flow.EdgeFail}},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	if _, ok := ec.Vars["ran"]; ok {
		t.Error("узел с неразбираемым only не должен выполняться")
	}
	if ec.Vars["recovered"] != true {
		t.Errorf("ожидался переход по ребру fail: %v", ec.Vars)
	}
}

func TestSets_ClosureStaysInsideProgram(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			mappingNode("a", "double = x => x * 2, y = double(4)"),
		},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	// Внутри программы функция доступна, в переменные контекста
	// попадают только простые структурные значения.
	if got := ec.Vars["y"]; got != int64(8) {
		t.Errorf("y = %v", got)
	}
	if _, ok := ec.Vars["double"]; ok {
		t.Errorf("в Vars не должно быть функций: %T", ec.Vars["double"])
	}
	// Журнал тоже хранит только простые данные.
	out, ok := ec.History[0].Output.(map[string]any)
	if !ok {
		t.Fatalf("журнал: %+v", ec.History)
	}
	if _, ok := out["double"]; ok {
		t.Errorf("в журнале не должно быть функций: %T", out["double"])
	}
	if out["y"] != int64(8) {
		t.Errorf("вывод журнала: %v", out)
	}
}

func TestFlowVars_ClosureDropped(t *testing.T) {
	f := &flow.Flow{
		Vars: map[string]string{
			"fn":    "x => x + 1",
			"plain": "40 + 2",
		},
		Nodes: []flow.Node{mappingNode("a", "done = true")},
	}
	x := New(f, Config{})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	if got := ec.Vars["plain"]; got != int64(42) {
		t.Errorf("plain = %v", got)
	}
	if _, ok := ec.Vars["fn"]; ok {
		t.Errorf("fn не должна попадать в Vars: %T", ec.Vars["fn"])
	}
}

func TestHandoff_TargetNodeTakesControl(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "h", Config: flow.HandoffConfig{Target: "c"}},
			mappingNode("b", "b_ran = true"),
			mappingNode("c", "c_ran = true"),
		},
		Edges: []flow.Edge{nextEdge("h", "b")},
	}
	x := New(f, Config{
		Handoff: func(ctx context.Context, cfg flow.HandoffConfig, args map[string]any, ec *ExecutionContext) (any, error) {
			return map[string]any{"target": cfg.Target}, nil
		},
	})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ec := x.Context()
	// Цель-узел получает управление в обход ребра next.
	if ec.Vars["c_ran"] != true {
		t.Errorf("управление должно перейти к c: %v", ec.Vars)
	}
	if _, ok := ec.Vars["b_ran"]; ok {
		t.Error("ребро next не должно использоваться при явной цели")
	}
}

func TestHandoff_AgentTargetFollowsEdges(t *testing.T) {
	f := &flow.Flow{
		Nodes: []flow.Node{
			{ID: "h", Config: flow.HandoffConfig{Target: "billing-agent"}},
			mappingNode("b", "b_ran = true"),
		},
		Edges: []flow.Edge{nextEdge("h", "b")},
	}
	x := New(f, Config{
		Handoff: func(ctx context.Context, cfg flow.HandoffConfig, args map[string]any, ec *ExecutionContext) (any, error) {
			return nil, nil
		},
	})
	if err := x.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := x.Context().Vars["b_ran"]; got != true {
		t.Errorf("внешняя цель продолжает путь по рёбрам: %v", got)
	}
}
