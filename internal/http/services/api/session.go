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
	"github.com/thanhpk/randstr"

	"github.com/mdvault/mdvault/pkg/auth"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

// InvitationTTL is how long an invitation stays redeemable.
const InvitationTTL = 7 * 24 * time.Hour

type userBody struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	CreatedAt   string `json:"createdAt"`
}

func toUserBody(u *store.User) userBody {
	return userBody{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type sessionBody struct {
	AccessToken string   `json:"accessToken"`
	User        userBody `json:"user"`
}

func (s *svc) setRefreshCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.conf.CookieName,
		Value:    token,
		Path:     "/api/v1/auth/refresh",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.conf.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *svc) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &body, defaultJSONBodySize); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.authn.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	access, err := s.authn.MintSession(u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	refresh, err := s.authn.IssueRefreshToken(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setRefreshCookie(w, refresh, int(auth.RefreshTokenTTL.Seconds()))
	writeJSON(w, http.StatusOK, sessionBody{AccessToken: access, User: toUserBody(u)})
}

func (s *svc) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		InviteToken string `json:"inviteToken"`
	}
	if err := decodeJSON(w, r, &body, defaultJSONBodySize); err != nil {
		s.writeError(w, r, err)
		return
	}
	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || !strings.Contains(body.Email, "@") {
		s.writeError(w, r, errtypes.BadRequest("a valid email is required"))
		return
	}
	if len(body.DisplayName) > MaxDisplayNameLen {
		s.writeError(w, r, errtypes.BadRequest("display name too long"))
		return
	}
	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	count, err := s.store.CountUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// the very first account becomes admin and needs no invitation;
	// afterwards registration is invitation-gated unless opened up
	role := store.RoleUser
	switch {
	case count == 0:
		role = store.RoleAdmin
	case s.conf.OpenRegistration:
	default:
		if body.InviteToken == "" {
			s.writeError(w, r, errtypes.PermissionDenied("registration requires an invitation"))
			return
		}
		if _, err := s.store.ConsumeInvitation(r.Context(), body.InviteToken, body.Email); err != nil {
			if _, ok := err.(errtypes.IsNotFound); ok {
				s.writeError(w, r, errtypes.PermissionDenied("invitation is invalid or expired"))
				return
			}
			s.writeError(w, r, err)
			return
		}
	}

	u := &store.User{
		Email:        body.Email,
		DisplayName:  body.DisplayName,
		Role:         role,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		s.writeError(w, r, err)
		return
	}

	access, err := s.authn.MintSession(u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	refresh, err := s.authn.IssueRefreshToken(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setRefreshCookie(w, refresh, int(auth.RefreshTokenTTL.Seconds()))
	writeJSON(w, http.StatusCreated, sessionBody{AccessToken: access, User: toUserBody(u)})
}

func (s *svc) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// cookie-authenticated endpoint: the custom header defeats
	// cross-site form posts
	if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
		s.writeError(w, r, errtypes.PermissionDenied("missing X-Requested-With header"))
		return
	}
	c, err := r.Cookie(s.conf.CookieName)
	if err != nil || c.Value == "" {
		s.writeError(w, r, errtypes.InvalidCredentials("missing refresh cookie"))
		return
	}

	u, access, refresh, err := s.authn.RotateRefreshToken(r.Context(), c.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setRefreshCookie(w, refresh, int(auth.RefreshTokenTTL.Seconds()))
	writeJSON(w, http.StatusOK, sessionBody{AccessToken: access, User: toUserBody(u)})
}

func (s *svc) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.conf.CookieName); err == nil && c.Value != "" {
		_ = s.authn.RevokeRefreshToken(r.Context(), c.Value)
	}
	s.setRefreshCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *svc) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := identityAndSource(r)
	u, err := s.store.GetUser(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserBody(u))
}

func (s *svc) handleStorage(w http.ResponseWriter, r *http.Request) {
	id, _ := identityAndSource(r)
	usage, err := s.store.VaultUsage(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	type entry struct {
		VaultID   string `json:"vaultId"`
		VaultName string `json:"vaultName"`
		Documents int64  `json:"documents"`
		Bytes     int64  `json:"bytes"`
	}
	out := struct {
		Vaults     []entry `json:"vaults"`
		TotalBytes int64   `json:"totalBytes"`
	}{Vaults: []entry{}}
	for _, u := range usage {
		out.Vaults = append(out.Vaults, entry{VaultID: u.VaultID, VaultName: u.VaultName, Documents: u.Documents, Bytes: u.Bytes})
		out.TotalBytes += u.Bytes
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *svc) requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, _ := identityAndSource(r)
	if !id.IsAdmin() {
		s.writeError(w, r, errtypes.PermissionDenied("admin role required"))
		return nil, false
	}
	return id, true
}

func (s *svc) handleInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &body, defaultJSONBodySize); err != nil {
		s.writeError(w, r, err)
		return
	}
	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || !strings.Contains(body.Email, "@") {
		s.writeError(w, r, errtypes.BadRequest("a valid email is required"))
		return
	}

	inv := &store.Invitation{
		Email:     body.Email,
		Token:     randstr.Hex(32),
		InviterID: id.UserID,
		ExpiresAt: time.Now().Add(InvitationTTL),
	}
	if err := s.store.CreateInvitation(r.Context(), inv); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":        inv.ID,
		"email":     inv.Email,
		"token":     inv.Token,
		"expiresAt": inv.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *svc) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	invs, err := s.store.ListInvitations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	type entry struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		ExpiresAt string `json:"expiresAt"`
		Accepted  bool   `json:"accepted"`
	}
	out := []entry{}
	for _, inv := range invs {
		out = append(out, entry{
			ID:        inv.ID,
			Email:     inv.Email,
			ExpiresAt: inv.ExpiresAt.UTC().Format(time.RFC3339),
			Accepted:  inv.AcceptedAt != nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *svc) handleDeleteInvitation(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	if err := s.store.DeleteInvitation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
