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

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mdvault/mdvault/pkg/apikey"
	"github.com/mdvault/mdvault/pkg/auth"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

// apiKeyBody is the redacted form a stored key is listed as. The secret
// never appears here; only keyPrefix identifies it.
type apiKeyBody struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	KeyPrefix  string   `json:"keyPrefix"`
	Scopes     []string `json:"scopes"`
	VaultID    string   `json:"vaultId,omitempty"`
	ExpiresAt  string   `json:"expiresAt,omitempty"`
	LastUsedAt string   `json:"lastUsedAt,omitempty"`
	IsActive   bool     `json:"isActive"`
	CreatedAt  string   `json:"createdAt"`
}

func toAPIKeyBody(k *store.APIKey) apiKeyBody {
	b := apiKeyBody{
		ID:        k.ID,
		Name:      k.Name,
		KeyPrefix: k.KeyPrefix,
		Scopes:    k.Scopes,
		VaultID:   k.VaultID,
		IsActive:  k.IsActive,
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
	}
	if k.ExpiresAt != nil {
		b.ExpiresAt = k.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if k.LastUsedAt != nil {
		b.LastUsedAt = k.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return b
}

// requireSession rejects API-key callers: keys cannot manage keys.
func (s *svc) requireSession(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, _ := identityAndSource(r)
	if id.Method != auth.MethodSession {
		s.writeError(w, r, errtypes.PermissionDenied("api key management requires a session"))
		return nil, false
	}
	return id, true
}

func (s *svc) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	keys, err := s.store.ListAPIKeys(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := []apiKeyBody{}
	for _, k := range keys {
		out = append(out, toAPIKeyBody(k))
	}
	writeJSON(w, http.StatusOK, out)
}

func validScopes(scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	for _, sc := range scopes {
		if sc != store.ScopeRead && sc != store.ScopeWrite {
			return false
		}
	}
	return true
}

func (s *svc) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Name      string   `json:"name"`
		Scopes    []string `json:"scopes"`
		VaultID   string   `json:"vaultId"`
		ExpiresAt string   `json:"expiresAt"`
	}
	if err := decodeJSON(w, r, &body, defaultJSONBodySize); err != nil {
		s.writeError(w, r, err)
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > MaxAPIKeyNameLen {
		s.writeError(w, r, errtypes.BadRequest("key name must be 1-100 characters"))
		return
	}
	if !validScopes(body.Scopes) {
		s.writeError(w, r, errtypes.BadRequest(`scopes must be a non-empty subset of ["read", "write"]`))
		return
	}
	if body.VaultID != "" {
		v, err := s.store.GetVault(r.Context(), body.VaultID)
		if err == nil && v.UserID != id.UserID {
			err = errtypes.NotFound(body.VaultID)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var expiresAt *time.Time
	if body.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			s.writeError(w, r, errtypes.BadRequest("expiresAt must be RFC 3339"))
			return
		}
		if !t.After(time.Now()) {
			s.writeError(w, r, errtypes.BadRequest("expiresAt is in the past"))
			return
		}
		expiresAt = &t
	}

	full, lookup, hash, err := apikey.Generate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	k := &store.APIKey{
		UserID:    id.UserID,
		Name:      body.Name,
		KeyPrefix: lookup,
		KeyHash:   hash,
		Scopes:    body.Scopes,
		VaultID:   body.VaultID,
		ExpiresAt: expiresAt,
		IsActive:  true,
	}
	if err := s.store.CreateAPIKey(r.Context(), k); err != nil {
		s.writeError(w, r, err)
		return
	}

	// the one and only time the secret leaves the server
	out := struct {
		apiKeyBody
		Key string `json:"key"`
	}{toAPIKeyBody(k), full}
	writeJSON(w, http.StatusCreated, out)
}

func (s *svc) handleUpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	k, err := s.store.GetAPIKey(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Name     *string   `json:"name"`
		Scopes   *[]string `json:"scopes"`
		IsActive *bool     `json:"isActive"`
	}
	if err := decodeJSON(w, r, &body, defaultJSONBodySize); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" || len(name) > MaxAPIKeyNameLen {
			s.writeError(w, r, errtypes.BadRequest("key name must be 1-100 characters"))
			return
		}
		k.Name = name
	}
	if body.Scopes != nil {
		if !validScopes(*body.Scopes) {
			s.writeError(w, r, errtypes.BadRequest(`scopes must be a non-empty subset of ["read", "write"]`))
			return
		}
		k.Scopes = *body.Scopes
	}
	if body.IsActive != nil {
		k.IsActive = *body.IsActive
	}
	if err := s.store.UpdateAPIKey(r.Context(), k); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIKeyBody(k))
}

func (s *svc) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAPIKey(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
