package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewStatusCmd создаёт команду вывода метаданных сервиса.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out.Print(
				[]string{"SERVICE", "VERSION", "COMMIT", "STARTED", "READY", "ACTIVE", "PIPELINE"},
				[][]string{{
					st.Service,
					st.Version,
					st.CommitSHA,
					st.StartTime,
					strconv.FormatBool(st.Ready),
					strconv.Itoa(st.ActiveRuns),
					strings.Join(st.Pipeline, ","),
				}},
				st,
			)
			return nil
		},
	}
}
