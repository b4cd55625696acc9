package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/fdl/internal/flow"
	"github.com/shaiso/fdl/internal/gml"
	"github.com/shaiso/fdl/internal/graph"
)

// Status — состояние экзекьютора.
type Status string

// Состояния: idle → running ⇄ paused → completed | error.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Ошибки прогона.
var (
	ErrAlreadyRunning   = errors.New("executor is already running")
	ErrNotRunning       = errors.New("executor is not running")
	ErrNotPaused        = errors.New("executor is not paused")
	ErrPausePending     = errors.New("pause request already pending")
	ErrStopped          = errors.New("execution stopped")
	ErrMaxIterations    = errors.New("iteration limit exceeded")
	ErrNoHandler        = errors.New("no handler configured")
	ErrEachSource       = errors.New("each source is not an array")
	ErrBadEachExpr      = errors.New("malformed each expression")
	ErrLoopCondition    = errors.New("loop requires when or until")
	ErrApprovalRejected = errors.New("approval rejected")
	ErrGuardBlocked     = errors.New("guard blocked content")
	ErrUnknownNode      = errors.New("unknown node")
)

// Обработчики делегируемых узлов. Каждый получает типизированную
// конфигурацию узла, вычисленные аргументы и живой контекст прогона,
// возвращает простое структурированное значение.
type (
	ToolHandler     func(ctx context.Context, cfg flow.ExecConfig, args map[string]any, ec *ExecutionContext) (any, error)
	AgentHandler    func(ctx context.Context, cfg flow.AgentConfig, args map[string]any, ec *ExecutionContext) (any, error)
	ApprovalHandler func(ctx context.Context, cfg flow.ApprovalConfig, ec *ExecutionContext) (approved bool, output any, err error)
	MCPHandler      func(ctx context.Context, cfg flow.MCPConfig, args map[string]any, ec *ExecutionContext) (any, error)
	HandoffHandler  func(ctx context.Context, cfg flow.HandoffConfig, args map[string]any, ec *ExecutionContext) (any, error)
	GuardHandler    func(ctx context.Context, cfg flow.GuardConfig, ec *ExecutionContext) (violations []string, err error)
)

// Config — конфигурация экзекьютора.
type Config struct {
	// Timeout — рекомендательный предел одного вызова обработчика.
	// Ноль отключает ограничение.
	Timeout time.Duration

	// MaxIterations ограничивает главный цикл и циклы loop.
	// По умолчанию 1000.
	MaxIterations int

	// Обработчики внешних узлов. Узел без своего обработчика
	// завершается ошибкой ErrNoHandler.
	Tool     ToolHandler
	Agent    AgentHandler
	Approval ApprovalHandler
	MCP      MCPHandler
	Handoff  HandoffHandler
	Guard    GuardHandler

	// Events — подписчик событий жизненного цикла.
	Events EventFunc

	// Logger — структурный логгер прогона.
	Logger *slog.Logger
}

// Executor — интерпретатор одного flow. Экземпляр обслуживает один
// прогон за раз; Pause, Resume, Step и Stop безопасно вызывать из
// других горутин.
type Executor struct {
	flow *flow.Flow
	cfg  Config
	ev   *gml.Evaluator
	log  *slog.Logger

	mu          sync.Mutex
	status      Status
	ec          *ExecutionContext
	breakpoints map[string]bool
	cont        chan struct{}
	pauseReq    bool
	stopCh      chan struct{}
}

// New создаёт экзекьютор для flow.
func New(f *flow.Flow, cfg Config) *Executor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1000
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		flow:        f,
		cfg:         cfg,
		ev:          gml.NewEvaluator(),
		log:         log,
		status:      StatusIdle,
		breakpoints: map[string]bool{},
	}
}

// Status возвращает текущее состояние.
func (x *Executor) Status() Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

// Context возвращает снимок контекста прогона, nil до первого запуска.
func (x *Executor) Context() *ExecutionContext {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ec == nil {
		return nil
	}
	return x.ec.Snapshot()
}

// SetBreakpoint ставит точку останова перед узлом.
func (x *Executor) SetBreakpoint(nodeID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.breakpoints[nodeID] = true
	if x.ec != nil {
		x.ec.Breakpoints[nodeID] = true
	}
}

// RemoveBreakpoint снимает точку останова.
func (x *Executor) RemoveBreakpoint(nodeID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.breakpoints, nodeID)
	if x.ec != nil {
		delete(x.ec.Breakpoints, nodeID)
	}
}

// ClearBreakpoints снимает все точки останова.
func (x *Executor) ClearBreakpoints() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.breakpoints = map[string]bool{}
	if x.ec != nil {
		x.ec.Breakpoints = map[string]bool{}
	}
}

// Breakpoints возвращает отсортированный список точек останова.
func (x *Executor) Breakpoints() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.breakpoints))
	for id := range x.breakpoints {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Pause запрашивает приостановку перед следующим узлом. Действует
// только в состоянии running; повторный запрос при уже ожидающей
// приостановке отклоняется.
func (x *Executor) Pause() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status == StatusPaused || x.pauseReq {
		return ErrPausePending
	}
	if x.status != StatusRunning {
		return ErrNotRunning
	}
	x.pauseReq = true
	return nil
}

// Resume продолжает приостановленный прогон в режиме run.
func (x *Executor) Resume() error {
	return x.release(ModeRun)
}

// Step продолжает прогон на один узел: после его исполнения прогон
// снова приостанавливается.
func (x *Executor) Step() error {
	return x.release(ModeStep)
}

func (x *Executor) release(mode Mode) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status != StatusPaused || x.cont == nil {
		return ErrNotPaused
	}
	x.ec.Mode = mode
	ch := x.cont
	x.cont = nil
	close(ch)
	return nil
}

// Stop кооперативно останавливает прогон: флаг наблюдается на границе
// узлов, уже начатый вызов обработчика не прерывается.
func (x *Executor) Stop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopCh != nil {
		select {
		case <-x.stopCh:
		default:
			close(x.stopCh)
		}
	}
	if x.cont != nil {
		ch := x.cont
		x.cont = nil
		close(ch)
	}
	if x.ec != nil {
		x.ec.CurrentNodeID = ""
	}
}

// Start запускает прогон: сбрасывает контекст, вычисляет блок vars,
// находит стартовый узел и ведёт обход по рёбрам. Блокируется до
// завершения, остановки или фатальной ошибки.
func (x *Executor) Start(ctx context.Context, args, initialVars map[string]any) error {
	x.mu.Lock()
	if x.status == StatusRunning || x.status == StatusPaused {
		x.mu.Unlock()
		return ErrAlreadyRunning
	}
	x.ec = NewExecutionContext(args, initialVars)
	for id := range x.breakpoints {
		x.ec.Breakpoints[id] = true
	}
	x.stopCh = make(chan struct{})
	x.pauseReq = false
	x.status = StatusRunning
	ec := x.ec
	x.mu.Unlock()

	x.emit(EventStart, "", nil)
	err := x.run(ctx, ec)

	x.mu.Lock()
	ec.CurrentNodeID = ""
	switch {
	case err == nil:
		x.status = StatusCompleted
	case errors.Is(err, ErrStopped):
		x.status = StatusIdle
	default:
		x.status = StatusError
	}
	x.mu.Unlock()

	switch {
	case err == nil:
		x.emit(EventComplete, "", nil)
	case errors.Is(err, ErrStopped):
	default:
		x.emit(EventError, "", err)
	}
	return err
}

func (x *Executor) run(ctx context.Context, ec *ExecutionContext) error {
	ids := make([]string, 0, len(x.flow.Nodes))
	for _, n := range x.flow.Nodes {
		ids = append(ids, n.ID)
	}
	edges := make([]graph.Edge, 0, len(x.flow.Edges))
	for _, e := range x.flow.Edges {
		edges = append(edges, graph.Edge{From: e.Source, To: e.Target})
	}
	if _, err := graph.Build(ids, edges); err != nil {
		return fmt.Errorf("flow graph: %w", err)
	}

	// Стартовые переменные flow вычисляются в детерминированном порядке.
	for _, name := range sortedKeys(x.flow.Vars) {
		v := x.evalValue(x.flow.Vars[name], ec.evalScope(nil))
		if gml.ContainsClosure(v) {
			x.log.Warn("flow var holds a function, dropped", "name", name)
			continue
		}
		ec.Vars[name] = v
	}

	node, ok := x.flow.StartNode()
	if !ok {
		return nil
	}

	iterations := 0
	for {
		iterations++
		if iterations > x.cfg.MaxIterations {
			return fmt.Errorf("%w: flow exceeded %d nodes", ErrMaxIterations, x.cfg.MaxIterations)
		}
		if err := x.checkStop(ctx); err != nil {
			return err
		}
		if x.shouldPause(ec, node.ID) {
			if err := x.waitResume(ctx, node.ID); err != nil {
				return err
			}
		}

		// Условие only: ложь пропускает узел без ошибки, ошибка
		// вычисления идёт обычным путём отказа узла.
		var onlyErr error
		if node.Only != "" {
			cond, condErr := x.evalCondition(node.Only, ec.evalScope(nil))
			if condErr != nil {
				onlyErr = fmt.Errorf("only %q: %w", node.Only, condErr)
			} else if !cond {
				ec.appendHistory(node.ID, "skipped", nil, nil, 0)
				x.log.Debug("node skipped", "node", node.ID, "only", node.Only)
				nextID := x.nextNode(node, nodeResult{})
				if nextID == "" {
					return nil
				}
				node, ok = x.flow.NodeByID(nextID)
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnknownNode, nextID)
				}
				continue
			}
		}

		x.mu.Lock()
		ec.CurrentNodeID = node.ID
		x.mu.Unlock()
		x.emit(EventNodeStart, node.ID, nil)
		started := time.Now()

		var res nodeResult
		err := onlyErr
		if err == nil {
			res, err = x.executeNode(ctx, node, ec)
		}
		dur := time.Since(started)
		if err != nil {
			ec.appendHistory(node.ID, "error", nil, err, dur)
			x.emit(EventNodeError, node.ID, err)
			x.log.Warn("node failed", "node", node.ID, "error", err)
			if errors.Is(err, ErrStopped) || errors.Is(err, ErrMaxIterations) {
				return err
			}
			target, ok := x.edgeTarget(node.ID, flow.EdgeFail)
			if !ok {
				return fmt.Errorf("node %s: %w", node.ID, err)
			}
			node, ok = x.flow.NodeByID(target)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownNode, target)
			}
			continue
		}

		ec.appendHistory(node.ID, "completed", gml.WithoutClosures(res.Output), nil, dur)
		x.emit(EventNodeComplete, node.ID, nil)
		if ec.Mode == ModeStep {
			x.mu.Lock()
			x.pauseReq = true
			x.mu.Unlock()
		}

		nextID := x.nextNode(node, res)
		if nextID == "" {
			return nil
		}
		node, ok = x.flow.NodeByID(nextID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, nextID)
		}
	}
}

// nextNode разрешает следующий узел: явный nextNodeId результата,
// затем ребро выбранной ветки, затем ребро next, иначе конец пути.
func (x *Executor) nextNode(n flow.Node, res nodeResult) string {
	if res.NextNodeID != "" {
		return res.NextNodeID
	}
	if res.Branch != "" {
		if target, ok := x.edgeTarget(n.ID, res.Branch); ok {
			return target
		}
	}
	if target, ok := x.edgeTarget(n.ID, flow.EdgeNext); ok {
		return target
	}
	return ""
}

func (x *Executor) edgeTarget(nodeID string, kind flow.EdgeType) (string, bool) {
	for _, e := range x.flow.EdgesFrom(nodeID) {
		if e.EdgeKind() == kind {
			return e.Target, true
		}
	}
	return "", false
}

func (x *Executor) shouldPause(ec *ExecutionContext, nodeID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if ec.Breakpoints[nodeID] || x.pauseReq {
		x.pauseReq = false
		return true
	}
	return false
}

// waitResume переводит прогон в paused и блокируется на единственном
// слоте продолжения до Resume, Step или Stop.
func (x *Executor) waitResume(ctx context.Context, nodeID string) error {
	x.mu.Lock()
	ch := make(chan struct{})
	x.cont = ch
	x.status = StatusPaused
	stop := x.stopCh
	x.mu.Unlock()

	x.emit(EventPause, nodeID, nil)
	select {
	case <-ch:
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	x.mu.Lock()
	if x.cont == nil && x.stopChClosed() {
		x.mu.Unlock()
		return ErrStopped
	}
	x.status = StatusRunning
	x.mu.Unlock()
	x.emit(EventResume, nodeID, nil)
	return nil
}

func (x *Executor) stopChClosed() bool {
	select {
	case <-x.stopCh:
		return true
	default:
		return false
	}
}

func (x *Executor) checkStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStopped, err)
	}
	x.mu.Lock()
	stop := x.stopCh
	x.mu.Unlock()
	select {
	case <-stop:
		return ErrStopped
	default:
		return nil
	}
}

func (x *Executor) emit(t EventType, nodeID string, err error) {
	if x.cfg.Events == nil {
		return
	}
	x.cfg.Events(Event{Type: t, NodeID: nodeID, Timestamp: time.Now().UTC(), Err: err})
}

// handlerCtx применяет рекомендательный таймаут к вызову обработчика.
func (x *Executor) handlerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if x.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, x.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

var identPathRe = regexp.MustCompile(`^\$?[A-Za-z_][A-Za-z0-9_]*(\.\$?[A-Za-z_][A-Za-z0-9_]*)*$`)

// evalValue вычисляет выражение с деградацией: полный разбор и
// вычисление, при неудаче — поиск по точечному пути переменной,
// иначе исходный текст как строковый литерал.
func (x *Executor) evalValue(src string, scope map[string]any) any {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil
	}
	res, err := x.ev.Eval(src, scope)
	if err == nil {
		return res.Output()
	}
	if identPathRe.MatchString(trimmed) {
		return lookupPath(scope, strings.Split(trimmed, "."))
	}
	x.log.Debug("expression fallback to literal", "expr", trimmed, "error", err)
	return src
}

// evalCondition вычисляет выражение как булево условие.
func (x *Executor) evalCondition(src string, scope map[string]any) (bool, error) {
	res, err := x.ev.Eval(src, scope)
	if err != nil {
		return false, err
	}
	return gml.Truthy(res.Value), nil
}

// applySets вычисляет sets-выражение и переносит его присваивания в
// переменные контекста. Зарезервированные имена не переносятся.
func (x *Executor) applySets(src string, ec *ExecutionContext, value any) *gml.Result {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	res, err := x.ev.Eval(src, ec.evalScope(value))
	if err != nil {
		x.log.Warn("sets expression failed", "expr", src, "error", err)
		return nil
	}
	for _, b := range res.All {
		if reservedNames[b.Name] {
			continue
		}
		// Переменные контекста хранят только простые структурные
		// значения; замыкания остаются внутри sets-программы.
		if gml.ContainsClosure(b.Value) {
			x.log.Warn("sets binding holds a function, dropped", "name", b.Name)
			continue
		}
		ec.Vars[b.Name] = b.Value
	}
	return res
}

// evalArgs вычисляет args-выражение в отображение аргументов вызова.
func (x *Executor) evalArgs(src string, ec *ExecutionContext) map[string]any {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	v := x.evalValue(src, ec.evalScope(nil))
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// setsTargets возвращает имена, которым присваивает значения
// sets-выражение, в порядке появления.
func (x *Executor) setsTargets(src string) []string {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	pr := gml.Parse(src)
	if !pr.Success {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, stmt := range pr.Program.Stmts {
		if stmt.Target != "" && !seen[stmt.Target] {
			seen[stmt.Target] = true
			out = append(out, stmt.Target)
		}
	}
	return out
}

func lookupPath(scope map[string]any, parts []string) any {
	var cur any
	v, ok := scope[parts[0]]
	if !ok {
		return nil
	}
	cur = v
	for _, p := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
