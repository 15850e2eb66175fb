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
	"github.com/mdvault/mdvault/pkg/store"
)

func (s *svc) handleMkcol(w http.ResponseWriter, r *http.Request, v *store.Vault, rel string) {
	if rel == "" {
		// the vault root always exists
		http.Error(w, "collection exists", http.StatusMethodNotAllowed)
		return
	}
	root := s.fs.VaultRoot(v.UserID, v.Slug)

	err := s.fs.Mkdir(root, rel)
	switch err.(type) {
	case nil:
		w.WriteHeader(http.StatusCreated)
	case errtypes.IsAlreadyExists:
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
	case errtypes.IsNotFound:
		// RFC 4918: missing intermediate collections are a conflict
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.writeError(w, r, err)
	}
}
