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

// Package webdav exposes each vault as a WebDAV collection under
// /webdav/{vaultSlug}/. Editors and sync clients mutate the disk
// hierarchy directly through it; after every mutation the handlers
// notify the document engine asynchronously so rows and version chains
// follow the new on-disk state.
//
// Authentication is Basic with email:apiKey; the key needs the write
// scope. OPTIONS is open so clients can discover capabilities before
// sending credentials.
package webdav

import (
	"context"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mdvault/mdvault/internal/http/services/webdav/net"
	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/auth"
	"github.com/mdvault/mdvault/pkg/document"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/syncer"
	"github.com/mdvault/mdvault/pkg/vaultpath"
)

// Prefix is the URL prefix the service is mounted under.
const Prefix = "/webdav"

const allowedMethods = "OPTIONS, GET, HEAD, PUT, DELETE, MKCOL, MOVE, COPY, PROPFIND, LOCK, UNLOCK"

type svc struct {
	authn  *auth.Authenticator
	store  store.Store
	fs     *localfs.FS
	engine *document.Engine
	coord  *syncer.Coordinator
}

// New returns the WebDAV handler. Request paths must arrive with the
// mount prefix already stripped: /{vaultSlug}/{relPath...}.
func New(authn *auth.Authenticator, s store.Store, fs *localfs.FS, engine *document.Engine, coord *syncer.Coordinator) http.Handler {
	return &svc{authn: authn, store: s, fs: fs, engine: engine, coord: coord}
}

func (s *svc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.handleOptions(w, r)
		return
	}

	ctx := r.Context()
	id, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	slug, rel := splitVaultPath(r.URL.Path)
	if slug == "" {
		http.Error(w, "vault not specified", http.StatusNotFound)
		return
	}
	v, err := s.store.GetVaultBySlug(ctx, id.UserID, slug)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !id.CanWrite(v.ID) {
		http.Error(w, "api key not allowed for this vault", http.StatusForbidden)
		return
	}
	if err := vaultpath.ValidateRelPath(rel); err != nil {
		s.writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, v, rel, true)
	case http.MethodHead:
		s.handleGet(w, r, v, rel, false)
	case http.MethodPut:
		s.handlePut(w, r, v, rel)
	case http.MethodDelete:
		s.handleDelete(w, r, v, rel)
	case "MKCOL":
		s.handleMkcol(w, r, v, rel)
	case "MOVE":
		s.handleCopyMove(w, r, v, slug, rel, true)
	case "COPY":
		s.handleCopyMove(w, r, v, slug, rel, false)
	case "PROPFIND":
		s.handlePropfind(w, r, v, slug, rel)
	case "LOCK":
		s.handleLock(w, r)
	case "UNLOCK":
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set(net.HeaderAllow, allowedMethods)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *svc) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(net.HeaderAllow, allowedMethods)
	w.Header().Set(net.HeaderDav, "1, 2")
	w.WriteHeader(http.StatusOK)
}

func (s *svc) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	email, key, ok := r.BasicAuth()
	if ok {
		id, err := s.authn.VerifyBasic(r.Context(), email, key)
		if err == nil {
			return id, true
		}
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="mdvault", charset="UTF-8"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
	return nil, false
}

// splitVaultPath splits /{slug}/{rel...} into its two parts. rel is
// slash-normalized with no leading or trailing slash.
func splitVaultPath(p string) (slug, rel string) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", ""
	}
	parts := strings.SplitN(p, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// writeError maps engine errors onto WebDAV status codes. Traversal
// attempts are forbidden rather than bad requests on this surface.
func (s *svc) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch err.(type) {
	case errtypes.IsPathTraversal:
		http.Error(w, err.Error(), http.StatusForbidden)
	case errtypes.IsNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case errtypes.IsAlreadyExists:
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errtypes.IsBadRequest:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errtypes.IsPermissionDenied:
		http.Error(w, err.Error(), http.StatusForbidden)
	case errtypes.IsInvalidCredentials:
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		appctx.GetLogger(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("webdav request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// indexable reports whether a path participates in document indexing:
// a markdown file with no hidden segment on its way.
func indexable(rel string) bool {
	if !strings.HasSuffix(rel, ".md") {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if localfs.Ignored(seg) {
			return false
		}
	}
	return true
}

// notifySync refreshes the document row from disk in the background.
func (s *svc) notifySync(ctx context.Context, v *store.Vault, rel string) {
	if !indexable(rel) {
		return
	}
	log := appctx.GetLogger(ctx)
	go func() {
		bgctx := appctx.WithLogger(context.Background(), log)
		if _, err := s.engine.SyncFromDisk(bgctx, v, rel, store.SourceWebDAV); err != nil {
			log.Warn().Err(err).Str("path", rel).Msg("post-webdav sync failed")
		}
	}()
}

// notifyDrop removes rows for an unlinked path in the background.
func (s *svc) notifyDrop(ctx context.Context, v *store.Vault, rel string, wasDir bool) {
	log := appctx.GetLogger(ctx)
	go func() {
		bgctx := appctx.WithLogger(context.Background(), log)
		var err error
		if wasDir {
			err = s.engine.DropTree(bgctx, v.ID, rel)
		} else if indexable(rel) {
			err = s.engine.DropDocument(bgctx, v.ID, rel)
			if _, ok := err.(errtypes.IsNotFound); ok {
				err = nil
			}
		}
		if err != nil {
			log.Warn().Err(err).Str("path", rel).Msg("post-webdav row drop failed")
		}
	}()
}

func contentType(rel string) string {
	if strings.HasSuffix(rel, ".md") {
		return "text/markdown; charset=utf-8"
	}
	if ct := mime.TypeByExtension(path.Ext(rel)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func sublog(r *http.Request, rel string) *zerolog.Logger {
	l := appctx.GetLogger(r.Context()).With().Str("method", r.Method).Str("path", rel).Logger()
	return &l
}
