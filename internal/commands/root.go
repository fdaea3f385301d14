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

// Package commands implements the flowgate CLI commands.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/flowgate/internal/client"
)

// VersionInfo contains build metadata injected via ldflags.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var (
	flagAddr    string
	flagAuthKey string
)

// NewRootCommand creates the flowgate root command.
func NewRootCommand(info VersionInfo) *cobra.Command {
	root := &cobra.Command{
		Use:           "flowgate",
		Short:         "Control the flowgate workflow façade",
		Long:          "flowgate talks to a running flowgated daemon: start and stop the hosted workflow service, trigger workflows, deploy the managed catalog, and inspect history.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagAddr, "addr", defaultAddr(), "flowgated base URL")
	root.PersistentFlags().StringVar(&flagAuthKey, "auth-key", os.Getenv("FLOWGATE_AUTH_KEY"), "bearer token for the daemon")

	root.AddCommand(
		newStatusCommand(),
		newStartCommand(),
		newStopCommand(),
		newTriggerCommand(),
		newBatchCommand(),
		newBootstrapCommand(),
		newWorkflowsCommand(),
		newExecutionsCommand(),
		newHistoryCommand(),
		newVersionCommand(info),
	)
	return root
}

// defaultAddr resolves the daemon address from the environment.
func defaultAddr() string {
	if addr := os.Getenv("FLOWGATE_ADDR"); addr != "" {
		if len(addr) < 7 || (addr[:7] != "http://" && (len(addr) < 8 || addr[:8] != "https://")) {
			return "http://" + addr
		}
		return addr
	}
	return "http://127.0.0.1:8080"
}

// newClient builds the daemon client from the persistent flags.
func newClient() (*client.Client, error) {
	return client.New(flagAddr, client.WithAuthKey(flagAuthKey))
}

// printJSON pretty-prints a raw JSON payload to the command's stdout.
func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	if len(raw) == 0 {
		cmd.Println("{}")
		return nil
	}
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		cmd.Println(string(raw))
		return nil
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	cmd.Println(string(pretty))
	return nil
}
