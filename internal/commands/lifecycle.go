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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/flowgate/internal/client"
)

// newStatusCommand creates the status command.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the workflow service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}
}

// newStartCommand creates the start command.
func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the hosted workflow service",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.Start(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}
}

// newStopCommand creates the stop command.
func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the hosted workflow service",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.Stop(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}
}

// newTriggerCommand creates the trigger command.
func newTriggerCommand() *cobra.Command {
	var (
		keepAlive   bool
		payloadStr  string
		payloadFile string
	)

	cmd := &cobra.Command{
		Use:   "trigger <workflow-id>",
		Short: "Invoke a workflow with the full lifecycle wrapper",
		Long:  "Starts the hosted workflow service if needed, fires the webhook, and stops the service again unless --keep-alive is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := loadPayload(payloadStr, payloadFile)
			if err != nil {
				return err
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.Trigger(cmd.Context(), args[0], payload, keepAlive)
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}

	cmd.Flags().BoolVar(&keepAlive, "keep-alive", false, "leave the service running after the invocation")
	cmd.Flags().StringVar(&payloadStr, "payload", "", "inline JSON payload")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "path to a JSON payload file")
	return cmd
}

// newBatchCommand creates the batch command.
func newBatchCommand() *cobra.Command {
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "batch <workflow-id>...",
		Short: "Run several workflows against one start/stop cycle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads := map[string]any{}
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("failed to read payload file: %w", err)
				}
				if err := json.Unmarshal(data, &payloads); err != nil {
					return fmt.Errorf("payload file must map workflow IDs to JSON payloads: %w", err)
				}
			}

			items := make([]client.BatchItem, 0, len(args))
			for _, id := range args {
				items = append(items, client.BatchItem{WorkflowID: id, Payload: payloads[id]})
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			raw, err := c.Batch(cmd.Context(), items)
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}

	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "JSON file mapping workflow IDs to payloads")
	return cmd
}

// loadPayload resolves the payload from the inline flag or a file.
func loadPayload(inline, file string) (any, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	}

	var data []byte
	switch {
	case inline != "":
		data = []byte(inline)
	case file != "":
		read, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		data = read
	default:
		return map[string]any{}, nil
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("payload must be valid JSON: %w", err)
	}
	return payload, nil
}

// newVersionCommand creates the version command.
func newVersionCommand(info VersionInfo) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Printf("flowgate version %s\n", info.Version)
			cmd.Printf("  commit:     %s\n", info.Commit)
			cmd.Printf("  build date: %s\n", info.BuildDate)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}
