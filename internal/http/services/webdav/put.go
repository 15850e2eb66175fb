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

package webdav

import (
	"net/http"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
)

func (s *svc) handlePut(w http.ResponseWriter, r *http.Request, v *store.Vault, rel string) {
	if rel == "" {
		s.writeError(w, r, errtypes.BadRequest("cannot PUT the vault root"))
		return
	}
	root := s.fs.VaultRoot(v.UserID, v.Slug)

	kind, err := s.fs.Exists(root, rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if kind == localfs.KindDirectory {
		http.Error(w, "a collection exists at this path", http.StatusMethodNotAllowed)
		return
	}

	// the body streams into a sibling temp file; a client disconnect
	// unlinks it and the target is never touched
	abs, _, err := s.fs.WriteFrom(root, rel, r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.coord.MarkWritten(abs)
	s.notifySync(r.Context(), v, rel)

	if kind == localfs.KindFile {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
