// Copyright 2018-2025 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package auth resolves caller credentials into an Identity: session
// tokens for the browser, API keys for programmatic clients and the
// WebDAV Basic flow. Verified identities travel in the request context.
package auth

import (
	"context"
	"strings"

	"github.com/alexedwards/argon2id"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

// Auth methods an Identity can originate from.
const (
	MethodSession = "session"
	MethodAPIKey  = "apikey"
)

// Identity is a verified caller. Session identities carry no scope
// restriction; API key identities are bounded by the key's scopes and,
// when set, its vault.
type Identity struct {
	UserID  string
	Email   string
	Role    string
	Method  string
	Scopes  []string
	VaultID string
}

// IsAdmin reports whether the caller holds the admin role. Only session
// identities can act as admin; keys never escalate.
func (i *Identity) IsAdmin() bool {
	return i.Method == MethodSession && i.Role == store.RoleAdmin
}

func (i *Identity) allows(scope, vaultID string) bool {
	if i.Method == MethodSession {
		return true
	}
	if i.VaultID != "" && i.VaultID != vaultID {
		return false
	}
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CanRead reports whether the caller may read the given vault.
func (i *Identity) CanRead(vaultID string) bool { return i.allows(store.ScopeRead, vaultID) }

// CanWrite reports whether the caller may mutate the given vault.
func (i *Identity) CanWrite(vaultID string) bool { return i.allows(store.ScopeWrite, vaultID) }

type identityKey struct{}

// ContextSetIdentity stores the identity in the context.
func ContextSetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// ContextGetIdentity retrieves the identity from the context.
func ContextGetIdentity(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}

// ContextMustGetIdentity panics when no identity is present. Only
// handlers behind the auth middleware may call it.
func ContextMustGetIdentity(ctx context.Context) *Identity {
	id, ok := ContextGetIdentity(ctx)
	if !ok {
		panic("auth: no identity in context")
	}
	return id
}

// HashPassword returns the argon2id hash for a password.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errtypes.BadRequest("password must be at least 8 characters")
	}
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}

// VerifyPassword compares a password against a stored hash.
func VerifyPassword(password, hash string) bool {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	return err == nil && match
}

// EmailsEqual compares two email addresses case-insensitively.
func EmailsEqual(a, b string) bool { return strings.EqualFold(a, b) }
