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

// Package store defines the persistent records of the system and the
// driver interface the rest of the code programs against. Two drivers
// exist: sql (Postgres, the production driver) and memory (tests and
// development).
package store

import (
	"context"
	"time"
)

// Roles a user can hold.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Source identifies the surface that produced a document change. It is
// recorded on version rows for audit and display; it drives no engine
// behavior.
type Source string

// The change sources.
const (
	SourceWeb    Source = "web"
	SourceAPI    Source = "api"
	SourceWebDAV Source = "webdav"
)

// API key scopes.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// User owns vaults.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Vault is a named, slug-addressed workspace owning a subtree of
// documents. The slug is derived from the name at creation and frozen
// afterwards: the on-disk directory never moves.
type Vault struct {
	ID          string
	UserID      string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is the canonical row for one (vault, path) identity.
type Document struct {
	ID              string
	VaultID         string
	Path            string
	Title           string
	ContentHash     string
	SizeBytes       int64
	Frontmatter     map[string]any
	Tags            []string
	StrippedContent string
	FileCreatedAt   time.Time
	FileModifiedAt  time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DocumentVersion is an append-only audit row. VersionNum is 1-based,
// contiguous and never reused for a given document.
type DocumentVersion struct {
	ID           string
	DocumentID   string
	VersionNum   int
	ContentHash  string
	SizeBytes    int64
	ChangeSource Source
	ChangedBy    string
	CreatedAt    time.Time
}

// Invitation gates registration. AcceptedAt == nil means unused.
type Invitation struct {
	ID         string
	Email      string
	Token      string
	InviterID  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

// APIKey is the stored form of an issued key. The full secret appears
// exactly once, at issuance; only prefix and argon2id hash persist.
// VaultID, when set, restricts the key to that one vault.
type APIKey struct {
	ID         string
	UserID     string
	Name       string
	KeyPrefix  string
	KeyHash    string
	Scopes     []string
	VaultID    string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	IsActive   bool
	CreatedAt  time.Time
}

// HasScope reports whether the key carries the given scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// VaultUsage is one vault's storage footprint.
type VaultUsage struct {
	VaultID   string
	VaultName string
	Documents int64
	Bytes     int64
}

// SearchQuery selects documents by full-text terms over all vaults of a
// user, optionally narrowed to one vault and a tag set.
type SearchQuery struct {
	UserID  string
	VaultID string
	Terms   string
	Tags    []string
	Limit   int
	Offset  int
}

// SearchResult is a matched document with its ranking score.
type SearchResult struct {
	Document *Document
	VaultID  string
	Rank     float64
}

// Users manages user rows.
type Users interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	CountUsers(ctx context.Context) (int64, error)
}

// Vaults manages vault rows. CreateVault fails AlreadyExists on a
// (userID, slug) collision.
type Vaults interface {
	CreateVault(ctx context.Context, v *Vault) error
	GetVault(ctx context.Context, id string) (*Vault, error)
	GetVaultBySlug(ctx context.Context, userID, slug string) (*Vault, error)
	ListVaults(ctx context.Context, userID string) ([]*Vault, error)
	UpdateVault(ctx context.Context, v *Vault) error
	DeleteVault(ctx context.Context, id string) error
	VaultUsage(ctx context.Context, userID string) ([]*VaultUsage, error)
}

// Documents manages document rows and the search index derived from them.
type Documents interface {
	GetDocument(ctx context.Context, vaultID, path string) (*Document, error)
	// UpsertDocument inserts or updates the row keyed by (VaultID, Path)
	// and refreshes the search vector. On insert it fills ID and CreatedAt.
	UpsertDocument(ctx context.Context, d *Document) error
	DeleteDocument(ctx context.Context, vaultID, path string) error
	// DeleteDocumentsByPrefix removes all documents whose path starts with
	// prefix + "/". The prefix is LIKE-escaped by the driver.
	DeleteDocumentsByPrefix(ctx context.Context, vaultID, prefix string) (int64, error)
	// ListDocuments returns documents ordered by path ascending. A
	// non-empty dir narrows to paths below dir + "/".
	ListDocuments(ctx context.Context, vaultID, dir string) ([]*Document, error)
	UpdateDocumentPath(ctx context.Context, vaultID, oldPath, newPath string) error
	// RewriteDocumentPathPrefix moves every document under src/ to dst/,
	// returning the number of rewritten rows.
	RewriteDocumentPathPrefix(ctx context.Context, vaultID, src, dst string) (int64, error)
	SearchDocuments(ctx context.Context, q *SearchQuery) ([]*SearchResult, error)
}

// Versions manages the append-only version chains.
type Versions interface {
	// AppendVersion assigns v.VersionNum = max(existing)+1 (1 when none)
	// and inserts the row. Concurrent appenders never produce gaps or
	// duplicates.
	AppendVersion(ctx context.Context, v *DocumentVersion) error
	// ListVersions returns versions ordered by VersionNum descending.
	ListVersions(ctx context.Context, documentID string) ([]*DocumentVersion, error)
}

// Invitations manages the registration invitations.
type Invitations interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error
	ListInvitations(ctx context.Context) ([]*Invitation, error)
	DeleteInvitation(ctx context.Context, id string) error
	// ConsumeInvitation marks the invitation for token as accepted when it
	// is unused, unexpired and issued for email. Any mismatch fails
	// NotFound.
	ConsumeInvitation(ctx context.Context, token, email string) (*Invitation, error)
}

// APIKeys manages API key rows.
type APIKeys interface {
	CreateAPIKey(ctx context.Context, k *APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error)
	GetAPIKey(ctx context.Context, userID, id string) (*APIKey, error)
	// GetAPIKeysByPrefix returns all active keys sharing the prefix.
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*APIKey, error)
	UpdateAPIKey(ctx context.Context, k *APIKey) error
	DeleteAPIKey(ctx context.Context, userID, id string) error
	// TouchAPIKey updates LastUsedAt. Called fire-and-forget.
	TouchAPIKey(ctx context.Context, id string, when time.Time) error
}

// RefreshTokens stores hashed refresh tokens for the browser session.
type RefreshTokens interface {
	StoreRefreshToken(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	// GetRefreshTokenUser returns the user for an unexpired token hash.
	GetRefreshTokenUser(ctx context.Context, tokenHash string) (string, error)
	DeleteRefreshToken(ctx context.Context, tokenHash string) error
}

// Store is the full driver interface.
type Store interface {
	Users
	Vaults
	Documents
	Versions
	Invitations
	APIKeys
	RefreshTokens

	Close() error
}
