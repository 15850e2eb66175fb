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
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

// docPath extracts the document path from the wildcard route segment.
func docPath(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	rel, err := url.PathUnescape(raw)
	if err != nil {
		return "", errtypes.BadRequest("malformed document path")
	}
	return strings.Trim(rel, "/"), nil
}

func (s *svc) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, v, ok := s.vaultForRead(w, r)
	if !ok {
		return
	}
	rel, err := docPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// GET .../documents/{path}/versions lists the version chain
	if base, found := strings.CutSuffix(rel, "/versions"); found && strings.HasSuffix(base, ".md") {
		s.listVersions(w, r, id.UserID, v.ID, base)
		return
	}

	doc, content, err := s.engine.Get(r.Context(), id.UserID, v.ID, rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := struct {
		documentBody
		Content string `json:"content"`
	}{toDocumentBody(doc), string(content)}
	writeJSON(w, http.StatusOK, out)
}

func (s *svc) listVersions(w http.ResponseWriter, r *http.Request, userID, vaultID, rel string) {
	versions, err := s.engine.Versions(r.Context(), userID, vaultID, rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	type entry struct {
		Version      int    `json:"version"`
		ContentHash  string `json:"contentHash"`
		SizeBytes    int64  `json:"sizeBytes"`
		ChangeSource string `json:"changeSource"`
		CreatedAt    string `json:"createdAt"`
	}
	out := []entry{}
	for _, ver := range versions {
		out = append(out, entry{
			Version:      ver.VersionNum,
			ContentHash:  ver.ContentHash,
			SizeBytes:    ver.SizeBytes,
			ChangeSource: string(ver.ChangeSource),
			CreatedAt:    ver.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *svc) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	id, v, ok := s.vaultForWrite(w, r)
	if !ok {
		return
	}
	rel, err := docPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &body, MaxDocumentBytes); err != nil {
		s.writeError(w, r, err)
		return
	}

	_, _, gerr := s.engine.Get(r.Context(), id.UserID, v.ID, rel)
	existed := gerr == nil
	doc, err := s.engine.Put(r.Context(), id.UserID, v.ID, rel, []byte(body.Content), source(id))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	writeJSON(w, status, toDocumentBody(doc))
}

func (s *svc) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, v, ok := s.vaultForWrite(w, r)
	if !ok {
		return
	}
	rel, err := docPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Remove(r.Context(), id.UserID, v.ID, rel); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *svc) handleSearch(w http.ResponseWriter, r *http.Request) {
	id, _ := identityAndSource(r)
	qs := r.URL.Query()

	q := &store.SearchQuery{
		Terms:   strings.TrimSpace(qs.Get("q")),
		VaultID: qs.Get("vault"),
	}
	if q.VaultID != "" && !id.CanRead(q.VaultID) {
		s.writeError(w, r, errtypes.PermissionDenied("key is not valid for this vault"))
		return
	}
	if tags := qs.Get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.Tags = append(q.Tags, t)
			}
		}
	}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, errtypes.BadRequest("limit must be a non-negative integer"))
			return
		}
		q.Limit = n
	}
	if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, errtypes.BadRequest("offset must be a non-negative integer"))
			return
		}
		q.Offset = n
	}

	results, err := s.engine.Search(r.Context(), id.UserID, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	type hit struct {
		documentBody
		VaultID string  `json:"vaultId"`
		Rank    float64 `json:"rank"`
	}
	out := []hit{}
	for _, res := range results {
		out = append(out, hit{toDocumentBody(res.Document), res.VaultID, res.Rank})
	}
	writeJSON(w, http.StatusOK, out)
}
