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
	"context"
	"log/slog"
	"sort"
)

// CredentialLister is the subset of the management client the resolver needs.
type CredentialLister interface {
	CredentialByName(ctx context.Context, name string) (*Credential, error)
}

// Resolver resolves credential display names to the {typeKey: {id, name}}
// structure the workflow server expects on nodes. Lookups go against the
// live server on every call; nothing is cached, so a renamed or deleted
// credential is noticed on the next build.
//
// A name that cannot be resolved is recorded in the missing set and the
// build continues: callers must tolerate partial configuration rather than
// aborting a whole deploy.
type Resolver struct {
	client  CredentialLister
	logger  *slog.Logger
	missing map[string]struct{}
}

// NewResolver creates a resolver backed by the given client.
func NewResolver(client CredentialLister, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:  client,
		logger:  logger,
		missing: make(map[string]struct{}),
	}
}

// Resolve looks up name and returns the credentials block for a node.
// The second return is false when the credential is missing (or the lookup
// failed); the node should then be emitted without a credentials block.
func (r *Resolver) Resolve(ctx context.Context, typeKey, name string) (map[string]CredentialRef, bool) {
	if name == "" {
		r.record(typeKey)
		return nil, false
	}

	cred, err := r.client.CredentialByName(ctx, name)
	if err != nil {
		r.logger.Warn("credential not resolved",
			slog.String("type", typeKey),
			slog.String("name", name),
			slog.Any("error", err),
		)
		r.record(name)
		return nil, false
	}

	return map[string]CredentialRef{
		typeKey: {ID: cred.ID.String(), Name: cred.Name},
	}, true
}

// record marks a credential name as missing.
func (r *Resolver) record(name string) {
	r.missing[name] = struct{}{}
}

// Missing returns the sorted set of credential names that failed to resolve.
func (r *Resolver) Missing() []string {
	names := make([]string, 0, len(r.missing))
	for name := range r.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
