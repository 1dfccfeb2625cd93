package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"omniui/internal/api"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := client.Health(cmd.Context())
			if jsonOut {
				if err != nil {
					if writeErr := writeJSON(cmd, map[string]any{"base_url": client.BaseURL(), "error": err}); writeErr != nil {
						return writeErr
					}
					return err
				}
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderField("Backend", client.BaseURL()))
			if err != nil {
				hint := api.Message(err)
				if api.IsUnreachable(err) {
					hint = "unreachable; start the backend or set OMNIUI_API_BASE_URL"
				}
				fmt.Fprintln(out, renderStatusLine("Health", statusError, hint, colorize))
				return err
			}
			fmt.Fprintln(out, renderStatusLine("Health", statusOK, fmt.Sprintf("%s at %s", resp.Status, resp.Timestamp), colorize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
