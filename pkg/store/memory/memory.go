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

// Package memory is the in-memory store driver. It backs the test suites
// and local development; full-text search degrades to substring matching.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

type mem struct {
	mu sync.RWMutex

	users         map[string]*store.User
	vaults        map[string]*store.Vault
	docs          map[string]map[string]*store.Document // vaultID -> path -> doc
	versions      map[string][]*store.DocumentVersion   // documentID -> rows
	invitations   map[string]*store.Invitation
	apiKeys       map[string]*store.APIKey
	refreshTokens map[string]refreshToken
}

type refreshToken struct {
	userID    string
	expiresAt time.Time
}

// New returns an empty in-memory store.
func New() store.Store {
	return &mem{
		users:         map[string]*store.User{},
		vaults:        map[string]*store.Vault{},
		docs:          map[string]map[string]*store.Document{},
		versions:      map[string][]*store.DocumentVersion{},
		invitations:   map[string]*store.Invitation{},
		apiKeys:       map[string]*store.APIKey{},
		refreshTokens: map[string]refreshToken{},
	}
}

func (m *mem) Close() error { return nil }

func cloneUser(u *store.User) *store.User { c := *u; return &c }

func cloneVault(v *store.Vault) *store.Vault { c := *v; return &c }

func cloneDoc(d *store.Document) *store.Document {
	c := *d
	c.Tags = append([]string(nil), d.Tags...)
	if d.Frontmatter != nil {
		c.Frontmatter = make(map[string]any, len(d.Frontmatter))
		for k, v := range d.Frontmatter {
			c.Frontmatter[k] = v
		}
	}
	return &c
}

func cloneVersion(v *store.DocumentVersion) *store.DocumentVersion { c := *v; return &c }

func cloneInvitation(i *store.Invitation) *store.Invitation {
	c := *i
	if i.AcceptedAt != nil {
		t := *i.AcceptedAt
		c.AcceptedAt = &t
	}
	return &c
}

func cloneKey(k *store.APIKey) *store.APIKey {
	c := *k
	c.Scopes = append([]string(nil), k.Scopes...)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

// Users

func (m *mem) CreateUser(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return errtypes.AlreadyExists(u.Email)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *mem) GetUser(_ context.Context, id string) (*store.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errtypes.NotFound("user " + id)
	}
	return cloneUser(u), nil
}

func (m *mem) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, errtypes.NotFound("user " + email)
}

func (m *mem) UpdateUser(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return errtypes.NotFound("user " + u.ID)
	}
	u.UpdatedAt = time.Now()
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *mem) CountUsers(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

// Vaults

func (m *mem) CreateVault(_ context.Context, v *store.Vault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.vaults {
		if existing.UserID == v.UserID && existing.Slug == v.Slug {
			return errtypes.AlreadyExists(v.Slug)
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now()
	v.CreatedAt, v.UpdatedAt = now, now
	m.vaults[v.ID] = cloneVault(v)
	return nil
}

func (m *mem) GetVault(_ context.Context, id string) (*store.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vaults[id]
	if !ok {
		return nil, errtypes.NotFound("vault " + id)
	}
	return cloneVault(v), nil
}

func (m *mem) GetVaultBySlug(_ context.Context, userID, slug string) (*store.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vaults {
		if v.UserID == userID && v.Slug == slug {
			return cloneVault(v), nil
		}
	}
	return nil, errtypes.NotFound("vault " + slug)
}

func (m *mem) ListVaults(_ context.Context, userID string) ([]*store.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.Vault
	for _, v := range m.vaults {
		if v.UserID == userID {
			out = append(out, cloneVault(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mem) UpdateVault(_ context.Context, v *store.Vault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vaults[v.ID]; !ok {
		return errtypes.NotFound("vault " + v.ID)
	}
	v.UpdatedAt = time.Now()
	m.vaults[v.ID] = cloneVault(v)
	return nil
}

func (m *mem) DeleteVault(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vaults[id]; !ok {
		return errtypes.NotFound("vault " + id)
	}
	for _, d := range m.docs[id] {
		delete(m.versions, d.ID)
	}
	delete(m.docs, id)
	delete(m.vaults, id)
	return nil
}

func (m *mem) VaultUsage(_ context.Context, userID string) ([]*store.VaultUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.VaultUsage
	for _, v := range m.vaults {
		if v.UserID != userID {
			continue
		}
		u := &store.VaultUsage{VaultID: v.ID, VaultName: v.Name}
		for _, d := range m.docs[v.ID] {
			u.Documents++
			u.Bytes += d.SizeBytes
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VaultName < out[j].VaultName })
	return out, nil
}

// Documents

func (m *mem) GetDocument(_ context.Context, vaultID, path string) (*store.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[vaultID][path]
	if !ok {
		return nil, errtypes.NotFound(path)
	}
	return cloneDoc(d), nil
}

func (m *mem) UpsertDocument(_ context.Context, d *store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPath, ok := m.docs[d.VaultID]
	if !ok {
		byPath = map[string]*store.Document{}
		m.docs[d.VaultID] = byPath
	}
	now := time.Now()
	if existing, ok := byPath[d.Path]; ok {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
	} else {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	byPath[d.Path] = cloneDoc(d)
	return nil
}

func (m *mem) DeleteDocument(_ context.Context, vaultID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[vaultID][path]
	if !ok {
		return errtypes.NotFound(path)
	}
	delete(m.versions, d.ID)
	delete(m.docs[vaultID], path)
	return nil
}

func (m *mem) DeleteDocumentsByPrefix(_ context.Context, vaultID, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for path, d := range m.docs[vaultID] {
		if strings.HasPrefix(path, prefix+"/") {
			delete(m.versions, d.ID)
			delete(m.docs[vaultID], path)
			n++
		}
	}
	return n, nil
}

func (m *mem) ListDocuments(_ context.Context, vaultID, dir string) ([]*store.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.Document
	for path, d := range m.docs[vaultID] {
		if dir != "" && !strings.HasPrefix(path, dir+"/") {
			continue
		}
		out = append(out, cloneDoc(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *mem) UpdateDocumentPath(_ context.Context, vaultID, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[vaultID][oldPath]
	if !ok {
		return errtypes.NotFound(oldPath)
	}
	delete(m.docs[vaultID], oldPath)
	d.Path = newPath
	d.UpdatedAt = time.Now()
	m.docs[vaultID][newPath] = d
	return nil
}

func (m *mem) RewriteDocumentPathPrefix(_ context.Context, vaultID, src, dst string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	byPath := m.docs[vaultID]
	for path, d := range byPath {
		if !strings.HasPrefix(path, src+"/") {
			continue
		}
		delete(byPath, path)
		d.Path = dst + "/" + path[len(src)+1:]
		d.UpdatedAt = time.Now()
		byPath[d.Path] = d
		n++
	}
	return n, nil
}

// SearchDocuments matches by substring; ranking is a plain hit count.
// The production driver delegates to the database's full-text index.
func (m *mem) SearchDocuments(_ context.Context, q *store.SearchQuery) ([]*store.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := strings.Fields(strings.ToLower(q.Terms))
	var out []*store.SearchResult
	for _, v := range m.vaults {
		if v.UserID != q.UserID {
			continue
		}
		if q.VaultID != "" && v.ID != q.VaultID {
			continue
		}
		for _, d := range m.docs[v.ID] {
			if !hasAllTags(d.Tags, q.Tags) {
				continue
			}
			haystack := strings.ToLower(d.Title + " " + strings.Join(d.Tags, " ") + " " + d.StrippedContent)
			rank := 0
			for _, t := range terms {
				if strings.Contains(haystack, t) {
					rank++
				}
			}
			if len(terms) > 0 && rank < len(terms) {
				continue
			}
			out = append(out, &store.SearchResult{Document: cloneDoc(d), VaultID: v.ID, Rank: float64(rank)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Document.Path < out[j].Document.Path
	})
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Versions

func (m *mem) AppendVersion(_ context.Context, v *store.DocumentVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, existing := range m.versions[v.DocumentID] {
		if existing.VersionNum > max {
			max = existing.VersionNum
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.VersionNum = max + 1
	v.CreatedAt = time.Now()
	m.versions[v.DocumentID] = append(m.versions[v.DocumentID], cloneVersion(v))
	return nil
}

func (m *mem) ListVersions(_ context.Context, documentID string) ([]*store.DocumentVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*store.DocumentVersion, 0, len(m.versions[documentID]))
	for _, v := range m.versions[documentID] {
		out = append(out, cloneVersion(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNum > out[j].VersionNum })
	return out, nil
}

// Invitations

func (m *mem) CreateInvitation(_ context.Context, inv *store.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now()
	m.invitations[inv.ID] = cloneInvitation(inv)
	return nil
}

func (m *mem) ListInvitations(_ context.Context) ([]*store.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*store.Invitation, 0, len(m.invitations))
	for _, inv := range m.invitations {
		out = append(out, cloneInvitation(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mem) DeleteInvitation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invitations[id]; !ok {
		return errtypes.NotFound("invitation " + id)
	}
	delete(m.invitations, id)
	return nil
}

func (m *mem) ConsumeInvitation(_ context.Context, token, email string) (*store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.Token != token {
			continue
		}
		if inv.AcceptedAt != nil || time.Now().After(inv.ExpiresAt) || !strings.EqualFold(inv.Email, email) {
			return nil, errtypes.NotFound("invitation")
		}
		now := time.Now()
		inv.AcceptedAt = &now
		return cloneInvitation(inv), nil
	}
	return nil, errtypes.NotFound("invitation")
}

// APIKeys

func (m *mem) CreateAPIKey(_ context.Context, k *store.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	k.CreatedAt = time.Now()
	m.apiKeys[k.ID] = cloneKey(k)
	return nil
}

func (m *mem) ListAPIKeys(_ context.Context, userID string) ([]*store.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.APIKey
	for _, k := range m.apiKeys {
		if k.UserID == userID {
			out = append(out, cloneKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mem) GetAPIKey(_ context.Context, userID, id string) (*store.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[id]
	if !ok || k.UserID != userID {
		return nil, errtypes.NotFound("api key " + id)
	}
	return cloneKey(k), nil
}

func (m *mem) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*store.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.APIKey
	for _, k := range m.apiKeys {
		if k.IsActive && k.KeyPrefix == prefix {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

func (m *mem) UpdateAPIKey(_ context.Context, k *store.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.apiKeys[k.ID]
	if !ok || existing.UserID != k.UserID {
		return errtypes.NotFound("api key " + k.ID)
	}
	m.apiKeys[k.ID] = cloneKey(k)
	return nil
}

func (m *mem) DeleteAPIKey(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok || k.UserID != userID {
		return errtypes.NotFound("api key " + id)
	}
	delete(m.apiKeys, id)
	return nil
}

func (m *mem) TouchAPIKey(_ context.Context, id string, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return errtypes.NotFound("api key " + id)
	}
	k.LastUsedAt = &when
	return nil
}

// RefreshTokens

func (m *mem) StoreRefreshToken(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[tokenHash] = refreshToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mem) GetRefreshTokenUser(_ context.Context, tokenHash string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.refreshTokens[tokenHash]
	if !ok || time.Now().After(t.expiresAt) {
		return "", errtypes.InvalidCredentials("refresh token")
	}
	return t.userID, nil
}

func (m *mem) DeleteRefreshToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshTokens, tokenHash)
	return nil
}
