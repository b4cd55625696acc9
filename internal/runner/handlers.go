package runner

import (
	"context"
	"log/slog"

	"github.com/shaiso/fdl/internal/executor"
	"github.com/shaiso/fdl/internal/flow"
)

// EchoHandlers заполняет в cfg незаданные обработчики эхо-заглушками:
// внешние узлы возвращают свои аргументы, approval подтверждается,
// guard пропускает. Реальные коннекторы подключаются снаружи.
func EchoHandlers(cfg Config, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Tool == nil {
		cfg.Tool = func(_ context.Context, c flow.ExecConfig, args map[string]any, _ *executor.ExecutionContext) (any, error) {
			logger.Debug("echo tool call", "exec", c.Exec, "args", args)
			return echoOutput(args), nil
		}
	}
	if cfg.Agent == nil {
		cfg.Agent = func(_ context.Context, c flow.AgentConfig, args map[string]any, _ *executor.ExecutionContext) (any, error) {
			logger.Debug("echo agent call", "agent", c.Agent, "model", c.Model)
			return echoOutput(args), nil
		}
	}
	if cfg.Approval == nil {
		cfg.Approval = func(_ context.Context, c flow.ApprovalConfig, _ *executor.ExecutionContext) (bool, any, error) {
			logger.Debug("echo approval", "title", c.Title)
			return true, map[string]any{"approved": true}, nil
		}
	}
	if cfg.MCP == nil {
		cfg.MCP = func(_ context.Context, c flow.MCPConfig, args map[string]any, _ *executor.ExecutionContext) (any, error) {
			logger.Debug("echo mcp call", "server", c.Server, "tool", c.Tool)
			return echoOutput(args), nil
		}
	}
	if cfg.Handoff == nil {
		cfg.Handoff = func(_ context.Context, c flow.HandoffConfig, args map[string]any, _ *executor.ExecutionContext) (any, error) {
			logger.Debug("echo handoff", "target", c.Target)
			return echoOutput(args), nil
		}
	}
	if cfg.Guard == nil {
		cfg.Guard = func(_ context.Context, c flow.GuardConfig, _ *executor.ExecutionContext) ([]string, error) {
			logger.Debug("echo guard", "types", c.GuardTypes)
			return nil, nil
		}
	}

	return cfg
}

func echoOutput(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
