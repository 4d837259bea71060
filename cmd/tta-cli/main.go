// tta — инструмент командной строки для tta-agent.
//
// Использование:
//
//	tta [--api-url URL] [--json] <command> [subcommand] [flags]
//
// Команды:
//
//	run     Запуск и просмотр runs
//	status  Метаданные сервиса
//	events  События run.finished из RabbitMQ
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/tta-agent/internal/cli"
	"github.com/shaiso/tta-agent/internal/mq"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var amqpURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "tta",
		Short:         "tta CLI — agent run orchestrator client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultAPI := os.Getenv("TTA_API_URL")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:8080"
	}
	defaultAMQP := os.Getenv("RABBITMQ_URL")
	if defaultAMQP == "" {
		defaultAMQP = mq.DefaultURL()
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultAPI, "API server URL")
	rootCmd.PersistentFlags().StringVar(&amqpURL, "amqp-url", defaultAMQP, "RabbitMQ URL for events")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	amqpFn := func() string { return amqpURL }

	rootCmd.AddCommand(
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewStatusCmd(clientFn, outputFn),
		cli.NewEventsCmd(amqpFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
