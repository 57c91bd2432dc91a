package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewFlowCmd создаёт группу команд для просмотра flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Inspect flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
	)

	return cmd
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flows, err := client.ListFlows()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "STEPS", "POLICY", "MAX_ATTEMPTS"}
			rows := make([][]string, len(flows))
			for i, f := range flows {
				rows[i] = []string{
					f.Name,
					strings.Join(f.Steps, ","),
					f.Policy,
					strconv.Itoa(f.Retry.MaxAttempts),
				}
			}

			out.Print(headers, rows, flows)
			return nil
		},
	}
}
