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

package n8n

import (
	"encoding/json"
)

// FlexibleID is a workflow or credential identifier. Older n8n versions
// return numeric IDs, newer ones return strings; both decode to a string.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// String returns the identifier as a string.
func (f FlexibleID) String() string {
	return string(f)
}

// WorkflowSpec is the document submitted to the workflow server to create
// an automation: nodes plus directed connections. The server requires
// { name, nodes, connections, active, settings? }.
type WorkflowSpec struct {
	Name        string         `json:"name"`
	Nodes       []Node         `json:"nodes"`
	Connections Connections    `json:"connections"`
	Active      bool           `json:"active"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// Node describes a single workflow node.
type Node struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Type        string                   `json:"type"`
	TypeVersion float64                  `json:"typeVersion"`
	Position    [2]int                   `json:"position"`
	Parameters  map[string]any           `json:"parameters"`
	Credentials map[string]CredentialRef `json:"credentials,omitempty"`
}

// CredentialRef is the structure the workflow server expects on nodes,
// keyed by credential type (e.g. "telegramApi", "gmailOAuth2").
type CredentialRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Connections maps a node name to its downstream edges.
type Connections map[string]NodeOutput

// NodeOutput holds the ordered output ports of a node. The workflow server
// models each port as a list of edges; "main" is the default port.
type NodeOutput struct {
	Main [][]Edge `json:"main"`
}

// Edge is a directed connection to a downstream node input.
type Edge struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MainEdge builds the single-edge output port used by linear chains.
func MainEdge(node string) NodeOutput {
	return NodeOutput{Main: [][]Edge{{{Node: node, Type: "main", Index: 0}}}}
}

// Credential is a stored credential as listed by the management API.
type Credential struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
	Type string     `json:"type"`
}

// Workflow is the subset of workflow fields flowgate cares about.
type Workflow struct {
	ID     FlexibleID `json:"id"`
	Name   string     `json:"name"`
	Active bool       `json:"active"`
}
