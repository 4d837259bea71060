package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"RUN_ID", "STATUS", "WHO", "ACTION", "STEPS", "DURATION", "CREATED"}

func runRow(t TraceResponse) []string {
	return []string{
		t.RunID,
		t.Status,
		t.Who,
		t.Action,
		strconv.Itoa(len(t.Steps)),
		formatMs(t.DurationMs),
		t.CreatedAt,
	}
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(cmd.Context(), ListRunsOpts{
				Status: status,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, succeeded, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var who, action string
	var extras []string
	var wait bool
	var waitTimeout, interval time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			extra, err := parseExtras(extras)
			if err != nil {
				return err
			}

			resp, err := client.StartRun(cmd.Context(), who, action, extra)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run started: %s", resp.RunID))

			tr := resp.Trace
			if wait && !tr.IsFinished() {
				ctx := cmd.Context()
				if waitTimeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, waitTimeout)
					defer cancel()
				}
				done, err := client.WaitRun(ctx, resp.RunID, interval)
				if err != nil {
					return err
				}
				tr = *done
			}

			printTrace(out, tr)
			return nil
		},
	}

	cmd.Flags().StringVar(&who, "who", "", "Run initiator (required)")
	cmd.Flags().StringVar(&action, "action", "", "Action name (required)")
	cmd.Flags().StringArrayVar(&extras, "extra", nil, "Extra request field as KEY=VALUE; JSON values are decoded (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the run finishes")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 5*time.Minute, "Maximum time to wait with --wait")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Polling interval with --wait")
	cmd.MarkFlagRequired("who")
	cmd.MarkFlagRequired("action")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tr, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printTrace(out, *tr)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tr, err := client.CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			// running run отменяется между шагами, статус может ещё не смениться
			out.Success(fmt.Sprintf("Cancel requested: %s (status %s)", tr.RunID, tr.Status))
			return nil
		},
	}
}

// printTrace выводит run и его шаги.
func printTrace(out *Output, tr TraceResponse) {
	if out.JSONMode() {
		out.JSON(tr)
		return
	}

	out.Table(runHeaders, [][]string{runRow(tr)})
	if tr.Error != "" {
		out.Line("error: " + tr.Error)
	}
	if len(tr.Steps) == 0 {
		return
	}

	rows := make([][]string, len(tr.Steps))
	for i, s := range tr.Steps {
		rows[i] = []string{strconv.Itoa(i + 1), s.Name, s.Status, formatMs(s.DurationMs), s.Error}
	}
	out.Line("")
	out.Table([]string{"#", "STEP", "STATUS", "DURATION", "ERROR"}, rows)
}

// parseExtras разбирает KEY=VALUE. Значение, которое является валидным JSON
// (число, bool, массив, объект), декодируется; иначе остаётся строкой.
func parseExtras(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}

	extra := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid extra format %q, expected KEY=VALUE", kv)
		}
		if key == "who" || key == "action" {
			return nil, fmt.Errorf("extra key %q is reserved, use --%s", key, key)
		}

		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			extra[key] = decoded
		} else {
			extra[key] = value
		}
	}
	return extra, nil
}
