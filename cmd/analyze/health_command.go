package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the analysis host is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := ctx.newClient(cmd)
			if err != nil {
				return err
			}
			payload, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("analysis host %s: %w", client.BaseURL(), err)
			}
			if ctx.JSONMode() {
				out := map[string]any{"host": client.BaseURL(), "status": "ok"}
				if len(payload) > 0 {
					out["upstream"] = json.RawMessage(payload)
				}
				return writeJSON(cmd, out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Host", "Status", "Response"},
				[][]string{{client.BaseURL(), "ok", string(payload)}},
			))
			return nil
		},
	}
}
