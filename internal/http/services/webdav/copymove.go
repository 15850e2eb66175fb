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

	"github.com/mdvault/mdvault/internal/http/services/webdav/net"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
)

// handleCopyMove serves MOVE and COPY. Both go through the document
// engine, which mutates disk and database together and publishes the
// self-write markers, so no separate notification is needed.
func (s *svc) handleCopyMove(w http.ResponseWriter, r *http.Request, v *store.Vault, slug, src string, move bool) {
	if src == "" {
		s.writeError(w, r, errtypes.BadRequest("cannot move the vault root"))
		return
	}

	dst, err := net.ParseDestination(r.Header.Get(net.HeaderDestination), Prefix, slug)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	overwrite, err := net.ParseOverwrite(r.Header.Get(net.HeaderOverwrite))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	root := s.fs.VaultRoot(v.UserID, v.Slug)
	dstKind, err := s.fs.Exists(root, dst)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if move {
		err = s.engine.Move(r.Context(), v.UserID, v.ID, src, dst, overwrite)
	} else {
		err = s.engine.Copy(r.Context(), v.UserID, v.ID, src, dst, overwrite, store.SourceWebDAV)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if dstKind != localfs.KindNone {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
