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

func (s *svc) handleDelete(w http.ResponseWriter, r *http.Request, v *store.Vault, rel string) {
	if rel == "" {
		s.writeError(w, r, errtypes.BadRequest("cannot DELETE the vault root"))
		return
	}
	root := s.fs.VaultRoot(v.UserID, v.Slug)

	kind, err := s.fs.Exists(root, rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch kind {
	case localfs.KindNone:
		s.writeError(w, r, errtypes.NotFound(rel))
		return
	case localfs.KindFile:
		abs, err := s.fs.Delete(root, rel)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.coord.MarkWritten(abs)
		s.notifyDrop(r.Context(), v, rel, false)
	case localfs.KindDirectory:
		// mark every markdown file before it goes away so the watcher
		// ignores the unlink storm
		if files, err := s.fs.WalkMarkdown(root, rel); err == nil {
			for _, f := range files {
				if abs, err := s.fs.Abs(root, f); err == nil {
					s.coord.MarkWritten(abs)
				}
			}
		}
		if err := s.fs.DeleteTree(root, rel); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.notifyDrop(r.Context(), v, rel, true)
	}
	w.WriteHeader(http.StatusNoContent)
}
