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

package template

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tombee/flowgate/internal/n8n"
)

// ManagementClient is the subset of the management API the deployer uses.
type ManagementClient interface {
	n8n.CredentialLister
	CreateWorkflow(ctx context.Context, spec n8n.WorkflowSpec) (n8n.FlexibleID, json.RawMessage, error)
	RunOnce(ctx context.Context, workflowID string, runData any) (json.RawMessage, error)
	ActivateWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error)
	DeactivateWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error)
	DeleteWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error)
}

// DeployResult reports one template's deployment.
type DeployResult struct {
	Name               string          `json:"name"`
	WorkflowID         string          `json:"workflow_id,omitempty"`
	OK                 bool            `json:"ok"`
	Error              string          `json:"error,omitempty"`
	Test               json.RawMessage `json:"test,omitempty"`
	MissingCredentials []string        `json:"missing_credentials,omitempty"`
}

// BootstrapResult aggregates a full catalog deployment. OK is true when at
// least one template deployed; per-template outcomes carry the detail.
type BootstrapResult struct {
	OK                 bool           `json:"ok"`
	Workflows          []DeployResult `json:"workflows"`
	MissingCredentials []string       `json:"missing_credentials,omitempty"`
}

// Deployer creates managed workflows from templates.
type Deployer struct {
	client ManagementClient
	logger *slog.Logger
}

// NewDeployer creates a deployer.
func NewDeployer(client ManagementClient, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{client: client, logger: logger}
}

// Deploy builds one template and creates it on the server. When test is
// set the new workflow gets a one-off run; a failed test is reported in
// the result rather than failing the deploy.
func (d *Deployer) Deploy(ctx context.Context, name string, build Builder, params Params, test bool) DeployResult {
	resolver := n8n.NewResolver(d.client, d.logger)
	spec := build(ctx, resolver, params)

	result := DeployResult{
		Name:               name,
		MissingCredentials: resolver.Missing(),
	}

	id, _, err := d.client.CreateWorkflow(ctx, *spec)
	if err != nil {
		d.logger.Error("workflow deploy failed",
			slog.String("template", name),
			slog.Any("error", err),
		)
		result.Error = err.Error()
		return result
	}

	result.WorkflowID = id.String()
	result.OK = true
	d.logger.Info("workflow deployed",
		slog.String("template", name),
		slog.String("workflow_id", result.WorkflowID),
		slog.Int("missing_credentials", len(result.MissingCredentials)),
	)

	if test {
		out, err := d.client.RunOnce(ctx, result.WorkflowID, nil)
		if err != nil {
			encoded, _ := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
			result.Test = encoded
		} else {
			result.Test = out
		}
	}
	return result
}

// DeployAll deploys the whole catalog. One template failing does not stop
// the rest; the aggregate is ok when any template made it.
func (d *Deployer) DeployAll(ctx context.Context, params Params) BootstrapResult {
	var out BootstrapResult
	seen := make(map[string]struct{})

	for _, entry := range Catalog {
		result := d.Deploy(ctx, entry.Name, entry.Build, params, entry.Test)
		out.Workflows = append(out.Workflows, result)
		if result.OK {
			out.OK = true
		}
		for _, name := range result.MissingCredentials {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out.MissingCredentials = append(out.MissingCredentials, name)
		}
	}
	return out
}

// Activate enables a deployed workflow's triggers.
func (d *Deployer) Activate(ctx context.Context, workflowID string) (json.RawMessage, error) {
	return d.client.ActivateWorkflow(ctx, workflowID)
}

// Deactivate disables a deployed workflow's triggers.
func (d *Deployer) Deactivate(ctx context.Context, workflowID string) (json.RawMessage, error) {
	return d.client.DeactivateWorkflow(ctx, workflowID)
}

// Destroy deactivates (best effort) then deletes a workflow.
func (d *Deployer) Destroy(ctx context.Context, workflowID string) (json.RawMessage, error) {
	if _, err := d.client.DeactivateWorkflow(ctx, workflowID); err != nil {
		d.logger.Warn("deactivate before delete failed",
			slog.String("workflow_id", workflowID),
			slog.Any("error", err),
		)
	}
	return d.client.DeleteWorkflow(ctx, workflowID)
}
