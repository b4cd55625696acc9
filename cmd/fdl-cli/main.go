// FDL CLI — инструмент командной строки для работы с flows,
// runs и schedules через HTTP API и локально.
//
// Использование:
//
//	fdl [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	flow      Управление flows
//	run       Запуск flow из файла и управление runs
//	schedule  Управление schedules
//	validate  Локальная проверка YAML-файла flow
//	parse     Разбор GML-выражения
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/fdl/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "fdl",
		Short:         "FDL CLI — workflow definition and execution tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
		cli.NewValidateCmd(outputFn),
		cli.NewParseCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
