package main

import (
	"encoding/json"
	"fmt"

	"CalChat/internal/tools"

	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the booking tools the agent may call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// handlers are never invoked here, so no client is needed
			registry, err := tools.NewBookingRegistry(nil)
			if err != nil {
				return err
			}

			list := make([]toolView, 0, registry.Count())
			for _, t := range registry.Tools() {
				list = append(list, toolView{
					Name:        t.Name(),
					Description: t.Description(),
					InputSchema: t.Schema.Definition(),
				})
			}
			return writeTools(cmd, "Booking tools", list, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tool definitions as JSON")
	return cmd
}

func writeTools(cmd *cobra.Command, title string, list []toolView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), renderTools(title, list, newStyles()))
	return err
}
