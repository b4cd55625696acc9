package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/fdl/internal/flow"
	"github.com/shaiso/fdl/internal/gml"
)

// nodeResult — итог исполнения одного узла. Branch выбирает
// помеченное ребро (then, else, case-N); явный NextNodeID имеет
// приоритет над рёбрами.
type nodeResult struct {
	Output     any
	NextNodeID string
	Branch     flow.EdgeType
}

func (x *Executor) executeNode(ctx context.Context, n flow.Node, ec *ExecutionContext) (nodeResult, error) {
	switch cfg := n.Config.(type) {
	case flow.ExecConfig:
		return x.execTool(ctx, cfg, ec)
	case flow.MappingConfig:
		return x.execMapping(cfg, ec)
	case flow.ConditionConfig:
		return x.execCondition(cfg, ec)
	case flow.SwitchConfig:
		return x.execSwitch(cfg, ec)
	case flow.DelayConfig:
		return x.execDelay(ctx, cfg)
	case flow.EachConfig:
		return x.execEach(ctx, cfg, ec)
	case flow.LoopConfig:
		return x.execLoop(ctx, cfg, ec)
	case flow.AgentConfig:
		return x.execAgent(ctx, cfg, ec)
	case flow.ApprovalConfig:
		return x.execApproval(ctx, cfg, ec)
	case flow.MCPConfig:
		return x.execMCP(ctx, cfg, ec)
	case flow.HandoffConfig:
		return x.execHandoff(ctx, cfg, ec)
	case flow.GuardConfig:
		return x.execGuard(ctx, cfg, ec)
	}
	return nodeResult{}, fmt.Errorf("node %s: missing configuration", n.ID)
}

// execTool вызывает внешний инструмент, затем применяет with и sets
// к его результату.
func (x *Executor) execTool(ctx context.Context, cfg flow.ExecConfig, ec *ExecutionContext) (nodeResult, error) {
	if x.cfg.Tool == nil {
		return nodeResult{}, fmt.Errorf("%w: tool", ErrNoHandler)
	}
	callCtx, cancel := x.handlerCtx(ctx)
	defer cancel()
	out, err := x.cfg.Tool(callCtx, cfg, x.evalArgs(cfg.Args, ec), ec)
	if err != nil {
		return nodeResult{}, fmt.Errorf("tool %s: %w", cfg.Exec, err)
	}
	out = x.applyWith(cfg.With, ec, out)
	x.applySets(cfg.Sets, ec, out)
	return nodeResult{Output: out}, nil
}

func (x *Executor) execMapping(cfg flow.MappingConfig, ec *ExecutionContext) (nodeResult, error) {
	var out any
	if cfg.With != "" {
		out = x.evalValue(cfg.With, ec.evalScope(nil))
	}
	if res := x.applySets(cfg.Sets, ec, out); res != nil && cfg.With == "" {
		out = res.Output()
	}
	return nodeResult{Output: out}, nil
}

func (x *Executor) execCondition(cfg flow.ConditionConfig, ec *ExecutionContext) (nodeResult, error) {
	ok, err := x.evalCondition(cfg.When, ec.evalScope(nil))
	if err != nil {
		return nodeResult{}, fmt.Errorf("condition %q: %w", cfg.When, err)
	}
	branch := flow.EdgeElse
	if ok {
		branch = flow.EdgeThen
	}
	return nodeResult{Output: ok, Branch: branch}, nil
}

func (x *Executor) execSwitch(cfg flow.SwitchConfig, ec *ExecutionContext) (nodeResult, error) {
	scope := ec.evalScope(nil)
	for i, c := range cfg.Cases {
		ok, err := x.evalCondition(c.When, scope)
		if err != nil {
			return nodeResult{}, fmt.Errorf("switch case %d %q: %w", i, c.When, err)
		}
		if ok {
			return nodeResult{Output: int64(i), Branch: flow.CaseEdgeType(i)}, nil
		}
	}
	return nodeResult{Output: nil, Branch: flow.EdgeElse}, nil
}

func (x *Executor) execDelay(ctx context.Context, cfg flow.DelayConfig) (nodeResult, error) {
	d := parseWait(cfg.Wait)
	x.mu.Lock()
	stop := x.stopCh
	x.mu.Unlock()
	select {
	case <-time.After(d):
	case <-stop:
		return nodeResult{}, ErrStopped
	case <-ctx.Done():
		return nodeResult{}, fmt.Errorf("%w: %v", ErrStopped, ctx.Err())
	}
	return nodeResult{Output: d.Milliseconds()}, nil
}

// execEach итерирует массив: "source => item" либо "source => item, index".
// Без тела элементы связываются прямо в контексте; с телом каждый
// элемент получает изолированный sub-flow с копией переменных.
// Результаты итераций собираются в $results в порядке элементов.
func (x *Executor) execEach(ctx context.Context, cfg flow.EachConfig, ec *ExecutionContext) (nodeResult, error) {
	srcExpr, itemName, idxName, err := parseEachExpr(cfg.Each)
	if err != nil {
		return nodeResult{}, err
	}
	src := x.evalValue(srcExpr, ec.evalScope(nil))
	arr, ok := src.([]any)
	if !ok {
		return nodeResult{}, fmt.Errorf("%w: %q", ErrEachSource, srcExpr)
	}

	results := make([]any, len(arr))
	runIsolated := func(ctx context.Context, i int, item any) error {
		subVars := make(map[string]any, len(ec.Vars)+2)
		for k, v := range ec.Vars {
			subVars[k] = gml.CloneValue(v)
		}
		subVars[itemName] = item
		if idxName != "" {
			subVars[idxName] = int64(i)
		}
		sub := x.subExecutor(cfg.Body)
		if err := sub.Start(ctx, ec.Args, subVars); err != nil {
			return fmt.Errorf("each item %d: %w", i, err)
		}
		if r, ok := sub.Context().Vars["$result"]; ok {
			results[i] = r
		} else {
			results[i] = item
		}
		return nil
	}

	switch {
	case cfg.Body != nil && cfg.Parallel:
		mc := cfg.MaxConcurrency
		if mc <= 0 {
			mc = 4
		}
		for start := 0; start < len(arr); start += mc {
			if err := x.checkStop(ctx); err != nil {
				return nodeResult{}, err
			}
			end := start + mc
			if end > len(arr) {
				end = len(arr)
			}
			var wg sync.WaitGroup
			errs := make([]error, end-start)
			for i := start; i < end; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i-start] = runIsolated(ctx, i, arr[i])
				}(i)
			}
			wg.Wait()
			for _, err := range errs {
				if err != nil {
					return nodeResult{}, err
				}
			}
		}
	case cfg.Body != nil:
		for i, item := range arr {
			if err := x.checkStop(ctx); err != nil {
				return nodeResult{}, err
			}
			if err := runIsolated(ctx, i, item); err != nil {
				return nodeResult{}, err
			}
		}
	default:
		for i, item := range arr {
			if err := x.checkStop(ctx); err != nil {
				return nodeResult{}, err
			}
			ec.Vars[itemName] = item
			if idxName != "" {
				ec.Vars[idxName] = int64(i)
			}
			results[i] = item
			if cfg.Sets != "" {
				if res := x.applySets(cfg.Sets, ec, item); res != nil {
					if r, ok := res.Lookup("$result"); ok {
						results[i] = r
					}
				}
			}
		}
	}

	ec.Vars["$results"] = results
	if cfg.Body != nil {
		x.applySets(cfg.Sets, ec, results)
	}
	return nodeResult{Output: results}, nil
}

// execLoop ведёт строгую последовательность итераций над копией
// переменных. $iteration доступен внутри итерации; when продолжает
// пока истинно, until — пока ложно. Обратно в родительский контекст
// переносятся только имена, названные в sets.
func (x *Executor) execLoop(ctx context.Context, cfg flow.LoopConfig, ec *ExecutionContext) (nodeResult, error) {
	if cfg.When == "" && cfg.Until == "" {
		return nodeResult{}, ErrLoopCondition
	}
	loop := &ExecutionContext{
		Vars:        make(map[string]any, len(ec.Vars)+4),
		Args:        ec.Args,
		History:     ec.History,
		Breakpoints: map[string]bool{},
		Mode:        ModeRun,
	}
	for k, v := range ec.Vars {
		loop.Vars[k] = gml.CloneValue(v)
	}
	x.applySets(cfg.Vars, loop, nil)

	max := cfg.MaxIterations
	if max <= 0 {
		max = x.cfg.MaxIterations
	}

	var results []any
	iter := 0
	for {
		if err := x.checkStop(ctx); err != nil {
			return nodeResult{}, err
		}
		iter++
		loop.Vars["$iteration"] = int64(iter)

		cont, err := x.loopContinues(cfg, loop)
		if err != nil {
			return nodeResult{}, err
		}
		if !cont {
			iter--
			loop.Vars["$iteration"] = int64(iter)
			break
		}
		if iter > max {
			return nodeResult{}, fmt.Errorf("%w: loop exceeded %d iterations", ErrMaxIterations, max)
		}

		if cfg.Body != nil {
			subVars := make(map[string]any, len(loop.Vars))
			for k, v := range loop.Vars {
				subVars[k] = gml.CloneValue(v)
			}
			sub := x.subExecutor(cfg.Body)
			if err := sub.Start(ctx, loop.Args, subVars); err != nil {
				return nodeResult{}, fmt.Errorf("loop iteration %d: %w", iter, err)
			}
			sv := sub.Context().Vars
			if r, ok := sv["$result"]; ok {
				results = append(results, r)
			}
			for _, name := range x.setsTargets(cfg.Sets) {
				if v, ok := sv[name]; ok {
					loop.Vars[name] = v
				}
			}
			if gml.Truthy(sv["$break"]) {
				break
			}
			if gml.Truthy(sv["$continue"]) {
				continue
			}
		}

		x.applySets(cfg.Sets, loop, nil)
		if gml.Truthy(loop.Vars["$break"]) {
			delete(loop.Vars, "$break")
			break
		}
		delete(loop.Vars, "$continue")
	}

	for _, name := range x.setsTargets(cfg.Sets) {
		if v, ok := loop.Vars[name]; ok {
			ec.Vars[name] = v
		}
	}
	ec.Vars["$results"] = results
	return nodeResult{Output: map[string]any{
		"iterations": int64(iter),
		"results":    results,
	}}, nil
}

func (x *Executor) loopContinues(cfg flow.LoopConfig, loop *ExecutionContext) (bool, error) {
	if cfg.When != "" {
		ok, err := x.evalCondition(cfg.When, loop.evalScope(nil))
		if err != nil {
			return false, fmt.Errorf("loop when %q: %w", cfg.When, err)
		}
		return ok, nil
	}
	ok, err := x.evalCondition(cfg.Until, loop.evalScope(nil))
	if err != nil {
		return false, fmt.Errorf("loop until %q: %w", cfg.Until, err)
	}
	return !ok, nil
}

func (x *Executor) execAgent(ctx context.Context, cfg flow.AgentConfig, ec *ExecutionContext) (nodeResult, error) {
	if x.cfg.Agent == nil {
		return nodeResult{}, fmt.Errorf("%w: agent", ErrNoHandler)
	}
	callCtx, cancel := x.handlerCtx(ctx)
	defer cancel()
	out, err := x.cfg.Agent(callCtx, cfg, x.evalArgs(cfg.Args, ec), ec)
	if err != nil {
		return nodeResult{}, fmt.Errorf("agent %s: %w", cfg.Agent, err)
	}
	out = x.applyWith(cfg.With, ec, out)
	x.applySets(cfg.Sets, ec, out)
	return nodeResult{Output: out}, nil
}

// execApproval ждёт решения до таймаута узла; по истечении действует
// timeoutAction: approve продолжает путь, всё остальное отклоняет.
func (x *Executor) execApproval(ctx context.Context, cfg flow.ApprovalConfig, ec *ExecutionContext) (nodeResult, error) {
	if x.cfg.Approval == nil {
		return nodeResult{}, fmt.Errorf("%w: approval", ErrNoHandler)
	}
	callCtx := ctx
	cancel := func() {}
	if cfg.Timeout != "" {
		callCtx, cancel = context.WithTimeout(ctx, parseWait(cfg.Timeout))
	}
	defer cancel()

	approved, out, err := x.cfg.Approval(callCtx, cfg, ec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if cfg.TimeoutAction == "approve" {
				return nodeResult{Output: map[string]any{"approved": true, "timedOut": true}}, nil
			}
			return nodeResult{}, fmt.Errorf("%w: timed out", ErrApprovalRejected)
		}
		return nodeResult{}, fmt.Errorf("approval %q: %w", cfg.Title, err)
	}
	if !approved {
		return nodeResult{}, ErrApprovalRejected
	}
	return nodeResult{Output: out}, nil
}

func (x *Executor) execMCP(ctx context.Context, cfg flow.MCPConfig, ec *ExecutionContext) (nodeResult, error) {
	if x.cfg.MCP == nil {
		return nodeResult{}, fmt.Errorf("%w: mcp", ErrNoHandler)
	}
	callCtx, cancel := x.handlerCtx(ctx)
	defer cancel()
	out, err := x.cfg.MCP(callCtx, cfg, x.evalArgs(cfg.Args, ec), ec)
	if err != nil {
		return nodeResult{}, fmt.Errorf("mcp %s/%s: %w", cfg.Server, cfg.Tool, err)
	}
	x.applySets(cfg.Sets, ec, out)
	return nodeResult{Output: out}, nil
}

func (x *Executor) execHandoff(ctx context.Context, cfg flow.HandoffConfig, ec *ExecutionContext) (nodeResult, error) {
	if x.cfg.Handoff == nil {
		return nodeResult{}, fmt.Errorf("%w: handoff", ErrNoHandler)
	}
	callCtx, cancel := x.handlerCtx(ctx)
	defer cancel()
	out, err := x.cfg.Handoff(callCtx, cfg, x.evalArgs(cfg.Args, ec), ec)
	if err != nil {
		return nodeResult{}, fmt.Errorf("handoff %s: %w", cfg.Target, err)
	}
	// Цель, совпадающая с узлом текущего flow, получает управление
	// напрямую, минуя рёбра. Имя внешнего агента узлом не является,
	// путь продолжается по рёбрам.
	res := nodeResult{Output: out}
	if _, ok := x.flow.NodeByID(cfg.Target); ok {
		res.NextNodeID = cfg.Target
	}
	return res, nil
}

// execGuard проверяет содержимое; нарушения с action block уводят путь
// на ребро fail, с warn — пропускают дальше с перечнем нарушений.
func (x *Executor) execGuard(ctx context.Context, cfg flow.GuardConfig, ec *ExecutionContext) (nodeResult, error) {
	if x.cfg.Guard == nil {
		return nodeResult{Output: nil}, nil
	}
	callCtx, cancel := x.handlerCtx(ctx)
	defer cancel()
	violations, err := x.cfg.Guard(callCtx, cfg, ec)
	if err != nil {
		return nodeResult{}, fmt.Errorf("guard: %w", err)
	}
	if len(violations) == 0 {
		return nodeResult{Output: nil}, nil
	}
	list := make([]any, 0, len(violations))
	for _, v := range violations {
		list = append(list, v)
	}
	if cfg.Action == "warn" {
		return nodeResult{Output: map[string]any{"violations": list}}, nil
	}
	return nodeResult{}, fmt.Errorf("%w: %s", ErrGuardBlocked, strings.Join(violations, ", "))
}

// applyWith преобразует результат узла: $value связан с исходным
// значением.
func (x *Executor) applyWith(with string, ec *ExecutionContext, value any) any {
	if strings.TrimSpace(with) == "" {
		return value
	}
	return x.evalValue(with, ec.evalScope(value))
}

// subExecutor создаёт экзекьютор sub-flow с теми же обработчиками,
// но без подписчика событий: события публикует только корневой прогон.
func (x *Executor) subExecutor(f *flow.Flow) *Executor {
	cfg := x.cfg
	cfg.Events = nil
	return New(f, cfg)
}

// parseEachExpr разбирает выражение итерации "source => item[, index]".
func parseEachExpr(raw string) (src, item, index string, err error) {
	parts := strings.SplitN(raw, "=>", 2)
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("%w: %q", ErrBadEachExpr, raw)
	}
	src = strings.TrimSpace(parts[0])
	names := strings.Split(parts[1], ",")
	item = strings.TrimSpace(names[0])
	if len(names) > 1 {
		index = strings.TrimSpace(names[1])
	}
	if src == "" || item == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrBadEachExpr, raw)
	}
	return src, item, index, nil
}
