package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/fdl/internal/domain"
	"github.com/shaiso/fdl/internal/flow"
	"github.com/shaiso/fdl/internal/gml"
	"github.com/shaiso/fdl/internal/runner"
	"github.com/shaiso/fdl/internal/telemetry"
)

// NewValidateCmd создаёт команду локальной валидации YAML-файла flow.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FLOW_FILE",
		Short: "Validate a flow YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read flow file: %w", err)
			}

			if err := validateSource(data); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow is valid: %s", args[0]))
			return nil
		},
	}
}

// NewParseCmd создаёт команду отладочного разбора GML-выражения.
func NewParseCmd(outputFn func() *Output) *cobra.Command {
	var showTokens bool
	var evaluate bool

	cmd := &cobra.Command{
		Use:   "parse EXPR",
		Short: "Parse a GML expression and report diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			src := args[0]

			if showTokens {
				tokens := gml.Tokenize(src)
				headers := []string{"KIND", "TEXT", "LINE", "COL"}
				rows := make([][]string, len(tokens))
				for i, t := range tokens {
					rows[i] = []string{
						fmt.Sprintf("%v", t.Kind), t.Text,
						strconv.Itoa(t.Line), strconv.Itoa(t.Col),
					}
				}
				out.Print(headers, rows, tokens)
			}

			res := gml.Parse(src)
			if !res.Success {
				for _, pe := range res.Errors {
					out.Error(pe.Error())
				}
				return fmt.Errorf("%d parse error(s)", len(res.Errors))
			}

			out.Success(fmt.Sprintf("Parsed %d statement(s)", len(res.Program.Stmts)))

			if evaluate {
				ev := gml.NewEvaluator()
				result, err := ev.EvalProgram(res.Program, nil)
				if err != nil {
					return fmt.Errorf("evaluation failed: %w", err)
				}
				out.JSON(result.Output())
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&showTokens, "tokens", false, "Print the token stream")
	cmd.Flags().BoolVar(&evaluate, "eval", false, "Evaluate with an empty context and print the result")

	return cmd
}

// validateSource парсит и валидирует YAML-текст flow.
func validateSource(data []byte) error {
	f, err := flow.Parse(data)
	if err != nil {
		return fmt.Errorf("flow does not parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("flow validation failed: %w", err)
	}
	return nil
}

// runLocal исполняет flow из файла без сервера: эхо-обработчики
// вместо реальных коннекторов, журнал и переменные в вывод.
func runLocal(out *Output, path string, kvArgs []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read flow file: %w", err)
	}

	runArgs := make(map[string]any)
	for _, kv := range kvArgs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid arg format %q, expected KEY=VALUE", kv)
		}
		runArgs[parts[0]] = parts[1]
	}

	logger := telemetry.SetupLogger()
	r := runner.New(runner.EchoHandlers(runner.Config{Logger: logger}, logger))

	run := &domain.Run{
		ID:   uuid.New(),
		Args: runArgs,
	}

	result, execErr := r.Execute(context.Background(), run, string(data))

	if result != nil {
		headers := []string{"SEQ", "NODE", "STATE", "DURATION_MS", "ERROR"}
		rows := make([][]string, len(result.History))
		for i, e := range result.History {
			rows[i] = []string{
				strconv.Itoa(e.Seq), e.NodeID, e.State,
				strconv.FormatInt(e.DurationMS, 10), e.Error,
			}
		}
		out.Print(headers, rows, result.History)

		if len(result.Vars) > 0 {
			out.Success("Final vars:")
			out.JSON(result.Vars)
		}
	}

	if execErr != nil {
		return fmt.Errorf("run failed: %w", execErr)
	}

	out.Success("Run completed")
	return nil
}
