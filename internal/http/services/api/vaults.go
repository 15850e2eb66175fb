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

	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/auth"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/vaultpath"
)

type vaultBody struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func toVaultBody(v *store.Vault) vaultBody {
	return vaultBody{
		ID:          v.ID,
		Name:        v.Name,
		Slug:        v.Slug,
		Description: v.Description,
		CreatedAt:   v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   v.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// vaultForRead loads the vault from the route and enforces read access.
// Vault-scoped API keys see only their own vault; everything else of the
// owner's is NotFound to them, matching how foreign vaults present.
func (s *svc) vaultForRead(w http.ResponseWriter, r *http.Request) (*auth.Identity, *store.Vault, bool) {
	id, _ := identityAndSource(r)
	vaultID := chi.URLParam(r, "vaultID")
	v, err := s.store.GetVault(r.Context(), vaultID)
	if err == nil && v.UserID != id.UserID {
		err = errtypes.NotFound(vaultID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	if !id.CanRead(v.ID) {
		s.writeError(w, r, errtypes.PermissionDenied("key is not valid for this vault"))
		return nil, nil, false
	}
	return id, v, true
}

func (s *svc) vaultForWrite(w http.ResponseWriter, r *http.Request) (*auth.Identity, *store.Vault, bool) {
	id, v, ok := s.vaultForRead(w, r)
	if !ok {
		return nil, nil, false
	}
	if !id.CanWrite(v.ID) {
		s.writeError(w, r, errtypes.PermissionDenied("key lacks the write scope"))
		return nil, nil, false
	}
	return id, v, true
}

func (s *svc) handleListVaults(w http.ResponseWriter, r *http.Request) {
	id, _ := identityAndSource(r)
	vaults, err := s.store.ListVaults(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := []vaultBody{}
	for _, v := range vaults {
		if !id.CanRead(v.ID) {
			continue
		}
		out = append(out, toVaultBody(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *svc) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	id, _ := identityAndSource(r)
	if id.Method != auth.MethodSession {
		s.writeError(w, r, errtypes.PermissionDenied("vault management requires a session"))
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &body, defaultJSONBodySize); err != nil {
		s.writeError(w, r, err)
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > MaxVaultNameLen {
		s.writeError(w, r, errtypes.BadRequest("vault name must be 1-100 characters"))
		return
	}
	if len(body.Description) > MaxDescriptionLen {
		s.writeError(w, r, errtypes.BadRequest("description too long"))
		return
	}
	slug := vaultpath.Slugify(body.Name)
	if slug == "" {
		s.writeError(w, r, errtypes.BadRequest("vault name yields an empty slug"))
		return
	}

	v := &store.Vault{
		UserID:      id.UserID,
		Name:        body.Name,
		Slug:        slug,
		Description: body.Description,
	}
	if err := s.store.CreateVault(r.Context(), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.fs.EnsureVaultDir(id.UserID, v.Slug); err != nil {
		// roll the row back so a retry is possible
		if derr := s.store.DeleteVault(r.Context(), v.ID); derr != nil {
			appctx.GetLogger(r.Context()).Error().Err(derr).Str("vault", v.ID).Msg("orphaned vault row after mkdir failure")
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVaultBody(v))
}

func (s *svc) handleGetVault(w http.ResponseWriter, r *http.Request) {
	_, v, ok := s.vaultForRead(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toVaultBody(v))
}

// handleUpdateVault renames and re-describes a vault. The slug is frozen
// at creation: the on-disk directory never moves.
func (s *svc) handleUpdateVault(w http.ResponseWriter, r *http.Request) {
	id, v, ok := s.vaultForWrite(w, r)
	if !ok {
		return
	}
	if id.Method != auth.MethodSession {
		s.writeError(w, r, errtypes.PermissionDenied("vault management requires a session"))
		return
	}
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeJSON(w, r, &body, defaultJSONBodySize); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" || len(name) > MaxVaultNameLen {
			s.writeError(w, r, errtypes.BadRequest("vault name must be 1-100 characters"))
			return
		}
		v.Name = name
	}
	if body.Description != nil {
		if len(*body.Description) > MaxDescriptionLen {
			s.writeError(w, r, errtypes.BadRequest("description too long"))
			return
		}
		v.Description = *body.Description
	}
	if err := s.store.UpdateVault(r.Context(), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultBody(v))
}

func (s *svc) handleDeleteVault(w http.ResponseWriter, r *http.Request) {
	id, v, ok := s.vaultForWrite(w, r)
	if !ok {
		return
	}
	if id.Method != auth.MethodSession {
		s.writeError(w, r, errtypes.PermissionDenied("vault management requires a session"))
		return
	}
	if err := s.store.DeleteVault(r.Context(), v.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	// document rows cascade with the vault; the directory goes last
	if err := s.fs.DeleteVaultDir(v.UserID, v.Slug); err != nil {
		appctx.GetLogger(r.Context()).Error().Err(err).Str("vault", v.ID).Msg("vault directory left behind after delete")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *svc) handleTree(w http.ResponseWriter, r *http.Request) {
	id, v, ok := s.vaultForRead(w, r)
	if !ok {
		return
	}
	tree, err := s.engine.Tree(r.Context(), id.UserID, v.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

type documentBody struct {
	ID             string         `json:"id"`
	Path           string         `json:"path"`
	Title          string         `json:"title"`
	ContentHash    string         `json:"contentHash"`
	SizeBytes      int64          `json:"sizeBytes"`
	Frontmatter    map[string]any `json:"frontmatter,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	FileCreatedAt  string         `json:"fileCreatedAt"`
	FileModifiedAt string         `json:"fileModifiedAt"`
	UpdatedAt      string         `json:"updatedAt"`
}

func toDocumentBody(d *store.Document) documentBody {
	return documentBody{
		ID:             d.ID,
		Path:           d.Path,
		Title:          d.Title,
		ContentHash:    d.ContentHash,
		SizeBytes:      d.SizeBytes,
		Frontmatter:    d.Frontmatter,
		Tags:           d.Tags,
		FileCreatedAt:  d.FileCreatedAt.UTC().Format(time.RFC3339),
		FileModifiedAt: d.FileModifiedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *svc) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	id, v, ok := s.vaultForRead(w, r)
	if !ok {
		return
	}
	dir := r.URL.Query().Get("dir")
	docs, err := s.engine.List(r.Context(), id.UserID, v.ID, dir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := []documentBody{}
	for _, d := range docs {
		out = append(out, toDocumentBody(d))
	}
	writeJSON(w, http.StatusOK, out)
}
