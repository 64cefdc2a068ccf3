package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CalChat/internal/mcp"

	"github.com/spf13/cobra"
)

const defaultMCPURL = "http://localhost:8000/mcp"

func newMCPCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Talk to a running calchat over its MCP endpoint",
	}
	cmd.PersistentFlags().StringVar(&url, "url", defaultMCPURL, "MCP endpoint URL")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	// connect bounds the whole command by --timeout
	connect := func(cmd *cobra.Command) (context.Context, *mcp.Client, func(), error) {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		client, err := mcp.Dial(ctx, url)
		if err != nil {
			cancel()
			return nil, nil, nil, err
		}
		return ctx, client, func() {
			_ = client.Close()
			cancel()
		}, nil
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools a server exposes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, client, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			remote, err := client.ListTools(ctx)
			if err != nil {
				return err
			}

			list := make([]toolView, 0, len(remote))
			for _, t := range remote {
				list = append(list, toolView{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
			}
			return writeTools(cmd, fmt.Sprintf("Tools at %s (%s %s)", url, client.Server.Name, client.Server.Version), list, asJSON)
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print tool definitions as JSON")

	var rawArgs string
	callCmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}

			ctx, client, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			result, err := client.CallTool(ctx, args[0], toolArgs)
			if err != nil {
				return err
			}
			for _, text := range mcp.Texts(result) {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), text); err != nil {
					return err
				}
			}
			if result.IsError {
				return fmt.Errorf("tool %s reported an error", args[0])
			}
			return nil
		},
	}
	callCmd.Flags().StringVar(&rawArgs, "args", "{}", "tool arguments as a JSON object")

	cmd.AddCommand(listCmd, callCmd)
	return cmd
}
