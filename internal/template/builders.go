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

// Package template builds the managed workflow specs flowgate knows how to
// deploy: a daily mail digest, a Telegram-to-Gmail forwarder, a failure
// guard, and a health heartbeat.
//
// Builders resolve credential display names through a Resolver; an
// unresolvable credential does not abort the build — the node is emitted
// without a credentials block and the miss is reported alongside the spec,
// so an operator can finish wiring in the UI.
package template

import (
	"context"
	"strings"

	"github.com/tombee/flowgate/internal/n8n"
)

// Params carries the operator-supplied inputs the builders need.
type Params struct {
	// Credential display names as they appear in the workflow server UI.
	GmailCredential    string
	OpenAICredential   string
	TelegramCredential string

	// ChatID is the Telegram chat that receives digests and reports.
	ChatID string

	// Whitelist restricts which Telegram user IDs may trigger the forwarder.
	Whitelist []string

	// ForwardTo is the mail address the forwarder delivers to.
	ForwardTo string

	// HealthURL is the endpoint the heartbeat workflow pings.
	HealthURL string

	// TargetWorkflowID is the workflow the failure guard watches.
	TargetWorkflowID string

	// ManagementBaseURL lets in-workflow HTTP nodes call back into the
	// management API.
	ManagementBaseURL string
}

// withDefaults fills the credential names the UI creates by default.
func (p Params) withDefaults() Params {
	if p.GmailCredential == "" {
		p.GmailCredential = "Gmail account"
	}
	if p.OpenAICredential == "" {
		p.OpenAICredential = "OpenAi account 2"
	}
	if p.TelegramCredential == "" {
		p.TelegramCredential = "Telegram account 2"
	}
	return p
}

// Builder produces one managed workflow spec.
type Builder func(ctx context.Context, resolver *n8n.Resolver, params Params) *n8n.WorkflowSpec

// Catalog maps template names to their builders, in bootstrap order.
var Catalog = []struct {
	Name  string
	Build Builder
	// Test marks templates exercised with a one-off run after deploy.
	Test bool
}{
	{Name: "mail-digest", Build: MailDigest, Test: true},
	{Name: "tg-forward", Build: TelegramForward},
	{Name: "failure-guard", Build: FailureGuard},
	{Name: "heartbeat", Build: Heartbeat},
}

// baseSpec returns an inactive spec shell with v1 execution ordering.
func baseSpec(name string) *n8n.WorkflowSpec {
	return &n8n.WorkflowSpec{
		Name:        name,
		Nodes:       []n8n.Node{},
		Connections: n8n.Connections{},
		Active:      false,
		Settings:    map[string]any{"executionOrder": "v1"},
	}
}

// MailDigest builds the daily digest: cron at 09:00, fetch recent mail,
// summarize with an LLM, deliver to Telegram.
func MailDigest(ctx context.Context, resolver *n8n.Resolver, params Params) *n8n.WorkflowSpec {
	params = params.withDefaults()

	gmailCred, _ := resolver.Resolve(ctx, "gmailOAuth2", params.GmailCredential)
	openaiCred, _ := resolver.Resolve(ctx, "openAiApi", params.OpenAICredential)
	telegramCred, _ := resolver.Resolve(ctx, "telegramApi", params.TelegramCredential)

	spec := baseSpec("flowgate-managed/mail-digest/prod")
	spec.Nodes = []n8n.Node{
		{
			ID:          "schedule-0900",
			Name:        "Schedule 09:00",
			Type:        "n8n-nodes-base.cron",
			TypeVersion: 2,
			Position:    [2]int{300, 300},
			Parameters: map[string]any{
				"triggerTimes": []any{map[string]any{"hour": 9, "minute": 0}},
			},
		},
		{
			ID:          "gmail-get",
			Name:        "Get Emails",
			Type:        "n8n-nodes-base.gmail",
			TypeVersion: 3,
			Position:    [2]int{560, 300},
			Parameters: map[string]any{
				"operation": "getMany",
				"filters": map[string]any{
					// 24h window, skip promotions and spam.
					"q":          "newer_than:1d -category:promotions -in:spam",
					"maxResults": 30,
				},
			},
			Credentials: gmailCred,
		},
		{
			ID:          "openai-sum",
			Name:        "Summarize",
			Type:        "@n8n/n8n-nodes-langchain.lmChatOpenAi",
			TypeVersion: 1.2,
			Position:    [2]int{820, 300},
			Parameters: map[string]any{
				"model": map[string]any{"__rl": true, "value": "gpt-4o-mini", "mode": "list"},
				"options": map[string]any{
					"temperature": 0.2,
					"maxTokens":   800,
					"systemMessage": "You are a helpful assistant summarizing emails into a concise Korean daily digest.\n" +
						"- Keep it under 12 bullet points.\n" +
						"- Group by topic if possible.\n" +
						"- Include sender and subject when meaningful.\n",
				},
				"promptType": "define",
				"text":       "={{ ($json || []).map(e => (e.payload?.headers || []).find(h => h.name==='Subject')?.value || 'No Subject').join('\\n') }}",
			},
			Credentials: openaiCred,
		},
		{
			ID:          "tg-send",
			Name:        "Send to Telegram",
			Type:        "n8n-nodes-base.telegram",
			TypeVersion: 1.2,
			Position:    [2]int{1080, 300},
			Parameters: map[string]any{
				"chatId":           params.ChatID,
				"text":             "📬 *Daily Mail Digest*\\n\\n{{ $json.text || 'No summary' }}",
				"additionalFields": map[string]any{"parseMode": "Markdown"},
			},
			Credentials: telegramCred,
		},
	}
	spec.Connections = n8n.Connections{
		"Schedule 09:00": n8n.MainEdge("Get Emails"),
		"Get Emails":     n8n.MainEdge("Summarize"),
		"Summarize":      n8n.MainEdge("Send to Telegram"),
	}
	return spec
}

// TelegramForward builds the Telegram-to-Gmail forwarder with an inline
// delivery acknowledgement back to the chat.
func TelegramForward(ctx context.Context, resolver *n8n.Resolver, params Params) *n8n.WorkflowSpec {
	params = params.withDefaults()

	telegramCred, _ := resolver.Resolve(ctx, "telegramApi", params.TelegramCredential)
	gmailCred, _ := resolver.Resolve(ctx, "gmailOAuth2", params.GmailCredential)

	spec := baseSpec("flowgate-managed/tg-forward/prod")
	spec.Nodes = []n8n.Node{
		{
			ID:          "tg-trigger",
			Name:        "Telegram Trigger",
			Type:        "n8n-nodes-base.telegramTrigger",
			TypeVersion: 1.1,
			Position:    [2]int{300, 300},
			Parameters: map[string]any{
				"updates":          []any{"message"},
				"additionalFields": map[string]any{"userIds": strings.Join(params.Whitelist, ",")},
			},
			Credentials: telegramCred,
		},
		{
			ID:          "gmail-send",
			Name:        "Forward to Gmail",
			Type:        "n8n-nodes-base.gmail",
			TypeVersion: 3,
			Position:    [2]int{560, 300},
			Parameters: map[string]any{
				"operation": "send",
				"toList":    params.ForwardTo,
				"subject":   "Telegram → Gmail",
				"message":   "={{$json.message?.text || 'No text'}}",
			},
			Credentials: gmailCred,
		},
		{
			ID:          "tg-ack",
			Name:        "Reply Ack",
			Type:        "n8n-nodes-base.telegram",
			TypeVersion: 1.2,
			Position:    [2]int{820, 300},
			Parameters: map[string]any{
				"chatId": "={{$json.message.chat.id}}",
				"text":   "✉️ Forwarded to Gmail",
			},
			Credentials: telegramCred,
		},
	}
	spec.Connections = n8n.Connections{
		"Telegram Trigger": n8n.MainEdge("Forward to Gmail"),
		"Forward to Gmail": n8n.MainEdge("Reply Ack"),
	}
	return spec
}

// FailureGuard builds the circuit-breaker workflow: inspect the target
// workflow's recent executions and deactivate it after three consecutive
// errors, notifying Telegram either way.
func FailureGuard(ctx context.Context, resolver *n8n.Resolver, params Params) *n8n.WorkflowSpec {
	params = params.withDefaults()

	telegramCred, _ := resolver.Resolve(ctx, "telegramApi", params.TelegramCredential)
	apiBase := strings.TrimRight(params.ManagementBaseURL, "/")

	spec := baseSpec("flowgate-managed/failure-guard/prod")
	spec.Nodes = []n8n.Node{
		{
			ID:          "manual",
			Name:        "Manual Trigger",
			Type:        "n8n-nodes-base.manualTrigger",
			TypeVersion: 1,
			Position:    [2]int{300, 300},
			Parameters:  map[string]any{},
		},
		{
			ID:          "check",
			Name:        "Check Executions",
			Type:        "n8n-nodes-base.function",
			TypeVersion: 2,
			Position:    [2]int{560, 300},
			Parameters: map[string]any{
				"functionCode": "const wfId = $json.TARGET_WORKFLOW_ID || $env.TARGET_WORKFLOW_ID || '';\n" +
					"if (!wfId) { return [{ decision: 'skip', reason: 'no target' }]; }\n" +
					"return [{ decision: 'inspect', workflowId: wfId }];",
			},
		},
		{
			ID:          "http-exe",
			Name:        "List Executions",
			Type:        "n8n-nodes-base.httpRequest",
			TypeVersion: 4.1,
			Position:    [2]int{820, 300},
			Parameters: map[string]any{
				"method":    "GET",
				"url":       apiBase + "/rest/executions",
				"sendQuery": true,
				"queryParameters": map[string]any{
					"parameters": []any{
						map[string]any{"name": "workflowId", "value": "={{$json.workflowId}}"},
						map[string]any{"name": "limit", "value": "5"},
					},
				},
				"sendHeaders": true,
				"headerParameters": map[string]any{
					"parameters": []any{
						map[string]any{"name": "Authorization", "value": "Bearer {{$env.N8N_API_KEY}}"},
					},
				},
			},
		},
		{
			ID:          "eval",
			Name:        "Eval Errors",
			Type:        "n8n-nodes-base.function",
			TypeVersion: 2,
			Position:    [2]int{1080, 300},
			Parameters: map[string]any{
				"functionCode": "const list = items[0].json.data || items[0].json.items || [];\n" +
					"let c=0; for (const it of list) { if ((it.status||it.finished||it.error) && (it.status==='error' || it.error)) c++; else break; }\n" +
					"if (c>=3) { return [{ action: 'deactivate' }]; } else { return [{ action: 'noop', count: c }]; }",
			},
		},
		{
			ID:          "http-deact",
			Name:        "Deactivate Workflow",
			Type:        "n8n-nodes-base.httpRequest",
			TypeVersion: 4.1,
			Position:    [2]int{1340, 240},
			Parameters: map[string]any{
				"method":      "POST",
				"url":         apiBase + "/rest/workflows/={{$json.workflowId}}/deactivate",
				"sendHeaders": true,
				"headerParameters": map[string]any{
					"parameters": []any{
						map[string]any{"name": "Authorization", "value": "Bearer {{$env.N8N_API_KEY}}"},
					},
				},
			},
		},
		{
			ID:          "tg-notify",
			Name:        "Notify",
			Type:        "n8n-nodes-base.telegram",
			TypeVersion: 1.2,
			Position:    [2]int{1340, 360},
			Parameters: map[string]any{
				"chatId": params.ChatID,
				"text":   "🛑 FailureGuard: took action {{ $json.action || 'noop' }}",
			},
			Credentials: telegramCred,
		},
	}
	spec.Connections = n8n.Connections{
		"Manual Trigger":   n8n.MainEdge("Check Executions"),
		"Check Executions": n8n.MainEdge("List Executions"),
		"List Executions":  n8n.MainEdge("Eval Errors"),
		"Eval Errors": n8n.NodeOutput{Main: [][]n8n.Edge{
			{{Node: "Deactivate Workflow", Type: "main", Index: 0}},
			{{Node: "Notify", Type: "main", Index: 0}},
		}},
	}
	return spec
}

// Heartbeat builds the daily liveness report: cron at 08:55, ping the
// health endpoint, report the verdict to Telegram.
func Heartbeat(ctx context.Context, resolver *n8n.Resolver, params Params) *n8n.WorkflowSpec {
	params = params.withDefaults()

	telegramCred, _ := resolver.Resolve(ctx, "telegramApi", params.TelegramCredential)

	spec := baseSpec("flowgate-managed/heartbeat/prod")
	spec.Nodes = []n8n.Node{
		{
			ID:          "hb-schedule",
			Name:        "Schedule 08:55",
			Type:        "n8n-nodes-base.cron",
			TypeVersion: 2,
			Position:    [2]int{300, 300},
			Parameters: map[string]any{
				"triggerTimes": []any{map[string]any{"hour": 8, "minute": 55}},
			},
		},
		{
			ID:          "hb-http",
			Name:        "Check Core Health",
			Type:        "n8n-nodes-base.httpRequest",
			TypeVersion: 4.1,
			Position:    [2]int{560, 300},
			Parameters: map[string]any{
				"method": "GET",
				"url":    params.HealthURL,
			},
		},
		{
			ID:          "hb-tg",
			Name:        "Report",
			Type:        "n8n-nodes-base.telegram",
			TypeVersion: 1.2,
			Position:    [2]int{820, 300},
			Parameters: map[string]any{
				"chatId": params.ChatID,
				"text":   "🫀 Heartbeat: {{ $json.ok ? 'OK' : 'FAIL' }} @ {{ $json.timestamp || $now }}",
			},
			Credentials: telegramCred,
		},
	}
	spec.Connections = n8n.Connections{
		"Schedule 08:55":    n8n.MainEdge("Check Core Health"),
		"Check Core Health": n8n.MainEdge("Report"),
	}
	return spec
}
