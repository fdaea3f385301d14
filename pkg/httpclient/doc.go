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

// Package httpclient provides the HTTP client factory used for every
// outbound call flowgate makes (n8n management API, Railway control API,
// webhook invocations, health polls).
//
// The factory composes transport layers to provide:
//   - Bounded retries with exponential backoff on transient failures
//   - Request logging with sanitized URLs (sensitive params redacted)
//   - User-Agent header injection and correlation ID propagation
//   - TLS 1.2+ with secure defaults and connection pooling
//
// Permanent failures (any 4xx) are never retried; transport errors and
// 5xx responses are retried up to the configured attempt cap.
package httpclient
