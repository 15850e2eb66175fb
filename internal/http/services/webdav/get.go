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
	"strconv"

	"github.com/mdvault/mdvault/internal/http/services/webdav/net"
	"github.com/mdvault/mdvault/pkg/store"
)

func (s *svc) handleGet(w http.ResponseWriter, r *http.Request, v *store.Vault, rel string, withBody bool) {
	root := s.fs.VaultRoot(v.UserID, v.Slug)

	fi, err := s.fs.Stat(root, rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fi.IsDir() {
		w.Header().Set(net.HeaderAllow, "OPTIONS, PROPFIND, DELETE, MOVE, COPY")
		http.Error(w, "cannot GET a collection", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set(net.HeaderContentType, contentType(rel))
	w.Header().Set(net.HeaderContentLength, strconv.FormatInt(fi.Size(), 10))
	w.Header().Set(net.HeaderETag, net.ETag(fi))
	w.Header().Set(net.HeaderLastModified, net.HTTPDate(fi.ModTime()))
	if !withBody {
		w.WriteHeader(http.StatusOK)
		return
	}

	content, err := s.fs.Read(root, rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := w.Write(content); err != nil {
		sublog(r, rel).Debug().Err(err).Msg("writing response body failed")
	}
}
