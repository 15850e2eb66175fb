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

// Package api is the JSON surface under /api/v1. It adapts verified
// callers onto the document engine and the store; all policy (scopes,
// vault binding, admin role) is decided here, all engine semantics stay
// in pkg/document.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/auth"
	"github.com/mdvault/mdvault/pkg/document"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
)

// Request body bounds.
const (
	MaxDocumentBytes    = 10 << 20
	MaxVaultNameLen     = 100
	MaxDescriptionLen   = 1000
	MaxDisplayNameLen   = 100
	MaxAPIKeyNameLen    = 100
	defaultJSONBodySize = 64 << 10
)

// RefreshCookie is the default refresh-token cookie name.
const RefreshCookie = "mdvault_refresh"

// Config tunes the API surface.
type Config struct {
	// OpenRegistration disables the invitation requirement.
	OpenRegistration bool
	// SecureCookies marks auth cookies Secure; disable for plain-HTTP
	// development only.
	SecureCookies bool
	// CookieName overrides the refresh-token cookie name.
	CookieName string
}

type svc struct {
	authn  *auth.Authenticator
	store  store.Store
	fs     *localfs.FS
	engine *document.Engine
	conf   Config
}

// New returns the /api/v1 router.
func New(authn *auth.Authenticator, s store.Store, fs *localfs.FS, engine *document.Engine, conf Config) http.Handler {
	if conf.CookieName == "" {
		conf.CookieName = RefreshCookie
	}
	sv := &svc{authn: authn, store: s, fs: fs, engine: engine, conf: conf}

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", sv.handleLogin)
		r.Post("/register", sv.handleRegister)
		r.Post("/refresh", sv.handleRefresh)
		r.Post("/logout", sv.handleLogout)
	})
	r.Group(func(r chi.Router) {
		r.Use(sv.requireAuth)
		r.Route("/users", func(r chi.Router) {
			r.Get("/me", sv.handleMe)
			r.Get("/me/storage", sv.handleStorage)
			r.Post("/invite", sv.handleInvite)
			r.Get("/invitations", sv.handleListInvitations)
			r.Delete("/invitations/{id}", sv.handleDeleteInvitation)
		})
		r.Route("/vaults", func(r chi.Router) {
			r.Get("/", sv.handleListVaults)
			r.Post("/", sv.handleCreateVault)
			r.Route("/{vaultID}", func(r chi.Router) {
				r.Get("/", sv.handleGetVault)
				r.Patch("/", sv.handleUpdateVault)
				r.Delete("/", sv.handleDeleteVault)
				r.Get("/tree", sv.handleTree)
				r.Get("/documents", sv.handleListDocuments)
				r.Get("/documents/*", sv.handleGetDocument)
				r.Put("/documents/*", sv.handlePutDocument)
				r.Delete("/documents/*", sv.handleDeleteDocument)
			})
		})
		r.Get("/search", sv.handleSearch)
		r.Route("/api-keys", func(r chi.Router) {
			r.Get("/", sv.handleListAPIKeys)
			r.Post("/", sv.handleCreateAPIKey)
			r.Patch("/{id}", sv.handleUpdateAPIKey)
			r.Delete("/{id}", sv.handleDeleteAPIKey)
		})
	})
	return r
}

// requireAuth resolves the bearer credential and stores the identity in
// the request context.
func (s *svc) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerToken(r)
		if bearer == "" {
			s.writeError(w, r, errtypes.InvalidCredentials("missing bearer credential"))
			return
		}
		id, err := s.authn.VerifyBearer(r.Context(), bearer)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextSetIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// source maps the caller onto the change source recorded on versions:
// browser sessions are "web", API keys are "api".
func source(id *auth.Identity) store.Source {
	if id.Method == auth.MethodSession {
		return store.SourceWeb
	}
	return store.SourceAPI
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto API status codes. Unlike the
// WebDAV surface, traversal is a client error here, not forbidden.
func (s *svc) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch err.(type) {
	case errtypes.IsPathTraversal:
		status, msg = http.StatusBadRequest, err.Error()
	case errtypes.IsBadRequest:
		status, msg = http.StatusBadRequest, err.Error()
	case errtypes.IsNotFound:
		status, msg = http.StatusNotFound, err.Error()
	case errtypes.IsAlreadyExists:
		status, msg = http.StatusConflict, err.Error()
	case errtypes.IsInvalidCredentials:
		status, msg = http.StatusUnauthorized, err.Error()
	case errtypes.IsPermissionDenied:
		status, msg = http.StatusForbidden, err.Error()
	default:
		appctx.GetLogger(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("api request failed")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errtypes.BadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// identityAndSource is the common prologue of authenticated handlers.
func identityAndSource(r *http.Request) (*auth.Identity, store.Source) {
	id := auth.ContextMustGetIdentity(r.Context())
	return id, source(id)
}
