package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/fdl/internal/domain"
	"github.com/shaiso/fdl/internal/executor"
	"github.com/shaiso/fdl/internal/flow"
	"github.com/shaiso/fdl/internal/telemetry"
)

// Config — конфигурация Runner.
type Config struct {
	// Timeout — предел одного вызова внешнего обработчика.
	Timeout time.Duration

	// MaxIterations — предел итераций главного цикла и loop-узлов.
	MaxIterations int

	// Обработчики внешних узлов. Nil-обработчик означает, что узел
	// соответствующего типа завершится ошибкой.
	Tool     executor.ToolHandler
	Agent    executor.AgentHandler
	Approval executor.ApprovalHandler
	MCP      executor.MCPHandler
	Handoff  executor.HandoffHandler
	Guard    executor.GuardHandler

	// Logger — структурный логгер.
	Logger *slog.Logger
}

// Runner исполняет один run: парсит исходный текст flow, строит
// экзекьютор, прогоняет его и собирает журнал исполнения.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Result — итог исполнения run.
type Result struct {
	// Vars — финальный снимок переменных прогона.
	Vars map[string]any

	// History — журнал исполнения узлов в порядке прохождения.
	History []domain.RunHistoryEntry
}

// Execute исполняет run по исходному YAML-тексту flow.
//
// Результат возвращается и при ошибке исполнения: журнал и снимок
// переменных отражают пройденную часть flow.
func (r *Runner) Execute(ctx context.Context, run *domain.Run, source string) (*Result, error) {
	f, err := flow.Parse([]byte(source))
	if err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate flow: %w", err)
	}

	log := telemetry.WithRunID(r.logger, run.ID.String())
	log = telemetry.WithFlowID(log, run.FlowID.String())

	nodeStarts := make(map[string]time.Time)
	events := func(ev executor.Event) {
		switch ev.Type {
		case executor.EventNodeStart:
			nodeStarts[ev.NodeID] = ev.Timestamp
		case executor.EventNodeComplete, executor.EventNodeError:
			result := "completed"
			if ev.Type == executor.EventNodeError {
				result = "error"
			}
			nodeType := r.nodeType(f, ev.NodeID)
			telemetry.NodeExecutions.WithLabelValues(nodeType, result).Inc()
			if started, ok := nodeStarts[ev.NodeID]; ok {
				telemetry.NodeDuration.WithLabelValues(nodeType).Observe(ev.Timestamp.Sub(started).Seconds())
				delete(nodeStarts, ev.NodeID)
			}
		}
	}

	x := executor.New(f, executor.Config{
		Timeout:       r.cfg.Timeout,
		MaxIterations: r.cfg.MaxIterations,
		Tool:          r.cfg.Tool,
		Agent:         r.cfg.Agent,
		Approval:      r.cfg.Approval,
		MCP:           r.cfg.MCP,
		Handoff:       r.cfg.Handoff,
		Guard:         r.cfg.Guard,
		Events:        events,
		Logger:        log,
	})

	telemetry.RunsStarted.Inc()
	started := time.Now()

	execErr := x.Start(ctx, run.Args, nil)

	telemetry.RunDuration.Observe(time.Since(started).Seconds())
	if execErr != nil {
		telemetry.RunsFailed.Inc()
		log.Warn("run failed", "error", execErr, "duration", time.Since(started))
	} else {
		telemetry.RunsCompleted.Inc()
		log.Info("run completed", "duration", time.Since(started))
	}

	snap := x.Context()
	result := &Result{Vars: snap.Vars}
	for i, h := range snap.History {
		result.History = append(result.History, domain.RunHistoryEntry{
			RunID:      run.ID,
			Seq:        i + 1,
			NodeID:     h.NodeID,
			State:      h.State,
			Output:     h.Output,
			Error:      h.Error,
			DurationMS: h.DurationMS,
			Timestamp:  h.Timestamp,
		})
	}

	return result, execErr
}

func (r *Runner) nodeType(f *flow.Flow, nodeID string) string {
	n, ok := f.NodeByID(nodeID)
	if !ok || n.Config == nil {
		return "unknown"
	}
	return string(n.Config.Type())
}
