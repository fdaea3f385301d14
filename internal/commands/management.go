// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"github.com/spf13/cobra"
)

// newBootstrapCommand creates the bootstrap command.
func newBootstrapCommand() *cobra.Command {
	var (
		chatID    string
		forwardTo string
		healthURL string
		whitelist []string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Deploy the managed workflow catalog",
		Long:  "Deploys every managed workflow template. Templates that fail or reference credentials missing on the server are reported without aborting the rest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if cmd.Flags().Changed("chat-id") {
				overrides["chat_id"] = chatID
			}
			if cmd.Flags().Changed("forward-to") {
				overrides["forward_to"] = forwardTo
			}
			if cmd.Flags().Changed("health-url") {
				overrides["health_url"] = healthURL
			}
			if cmd.Flags().Changed("whitelist") {
				overrides["whitelist"] = whitelist
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.Bootstrap(cmd.Context(), overrides)
			if raw != nil {
				// Partial results are still worth showing on failure.
				_ = printJSON(cmd, raw)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&chatID, "chat-id", "", "Telegram chat ID for digests and reports")
	cmd.Flags().StringVar(&forwardTo, "forward-to", "", "mail address for the Telegram forwarder")
	cmd.Flags().StringVar(&healthURL, "health-url", "", "endpoint the heartbeat workflow pings")
	cmd.Flags().StringSliceVar(&whitelist, "whitelist", nil, "Telegram user IDs allowed to trigger the forwarder")
	return cmd
}

// newWorkflowsCommand creates the workflows command group.
func newWorkflowsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect workflows on the server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	})
	return cmd
}

// newExecutionsCommand creates the executions command.
func newExecutionsCommand() *cobra.Command {
	var (
		workflowID string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List recent workflow executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.ListExecutions(cmd.Context(), workflowID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow", "", "limit to one workflow ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of executions")
	return cmd
}

// newHistoryCommand creates the history command.
func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the daemon's lifecycle event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}
