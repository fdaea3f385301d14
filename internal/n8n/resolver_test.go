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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowgate/pkg/errors"
)

type fakeCredentials struct {
	creds map[string]*Credential
}

func (f *fakeCredentials) CredentialByName(ctx context.Context, name string) (*Credential, error) {
	if cred, ok := f.creds[name]; ok {
		return cred, nil
	}
	return nil, &errors.NotFoundError{Resource: "credential", ID: name}
}

func TestResolverResolvesKnownCredential(t *testing.T) {
	resolver := NewResolver(&fakeCredentials{creds: map[string]*Credential{
		"Telegram account 2": {ID: "uuid-1", Name: "Telegram account 2", Type: "telegramApi"},
	}}, nil)

	block, ok := resolver.Resolve(context.Background(), "telegramApi", "Telegram account 2")
	require.True(t, ok)
	require.Contains(t, block, "telegramApi")
	assert.Equal(t, "uuid-1", block["telegramApi"].ID)
	assert.Equal(t, "Telegram account 2", block["telegramApi"].Name)
	assert.Empty(t, resolver.Missing())
}

func TestResolverAccumulatesMisses(t *testing.T) {
	resolver := NewResolver(&fakeCredentials{}, nil)

	block, ok := resolver.Resolve(context.Background(), "gmailOAuth2", "Gmail account")
	assert.False(t, ok)
	assert.Nil(t, block, "unresolved credentials must not produce a block")

	_, ok = resolver.Resolve(context.Background(), "telegramApi", "Telegram account 2")
	assert.False(t, ok)

	// A repeated miss is reported once.
	_, _ = resolver.Resolve(context.Background(), "gmailOAuth2", "Gmail account")

	assert.Equal(t, []string{"Gmail account", "Telegram account 2"}, resolver.Missing())
}

func TestResolverRecordsEmptyNameAsTypeKey(t *testing.T) {
	resolver := NewResolver(&fakeCredentials{}, nil)

	_, ok := resolver.Resolve(context.Background(), "openAiApi", "")
	assert.False(t, ok)
	assert.Equal(t, []string{"openAiApi"}, resolver.Missing())
}
