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

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/thanhpk/randstr"

	"github.com/mdvault/mdvault/pkg/apikey"
	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/token"
)

// RefreshTokenTTL is the lifetime of a browser refresh token.
const RefreshTokenTTL = 30 * 24 * time.Hour

// Authenticator turns raw credentials into verified identities.
type Authenticator struct {
	store  store.Store
	tokens token.Manager
}

// NewAuthenticator returns an Authenticator over the given store and
// token manager.
func NewAuthenticator(s store.Store, tm token.Manager) *Authenticator {
	return &Authenticator{store: s, tokens: tm}
}

// Login verifies email and password and returns the user. Unknown
// email, wrong password and deactivated account are indistinguishable
// to the caller.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*store.User, error) {
	u, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); ok {
			// burn comparable time so absence is not observable
			_ = VerifyPassword(password, "$argon2id$v=19$m=65536,t=1,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
			return nil, errtypes.InvalidCredentials(email)
		}
		return nil, err
	}
	if !u.IsActive || !VerifyPassword(password, u.PasswordHash) {
		return nil, errtypes.InvalidCredentials(email)
	}
	return u, nil
}

// MintSession returns a signed access token for the user.
func (a *Authenticator) MintSession(u *store.User) (string, error) {
	return a.tokens.MintToken(&token.Claims{UserID: u.ID, Email: u.Email, Role: u.Role})
}

// VerifySession verifies an access token and loads the identity behind
// it. A token for a user deactivated since issuance is rejected.
func (a *Authenticator) VerifySession(ctx context.Context, tkn string) (*Identity, error) {
	c, err := a.tokens.DismantleToken(tkn)
	if err != nil {
		return nil, err
	}
	u, err := a.store.GetUser(ctx, c.UserID)
	if err != nil || !u.IsActive {
		return nil, errtypes.InvalidCredentials("invalid token")
	}
	return &Identity{UserID: u.ID, Email: u.Email, Role: u.Role, Method: MethodSession}, nil
}

// VerifyAPIKey resolves a presented key: prefix lookup over active
// keys, constant-time hash compare per candidate, expiry check, then a
// fire-and-forget last-used update.
func (a *Authenticator) VerifyAPIKey(ctx context.Context, full string) (*Identity, error) {
	lookup, err := apikey.LookupPrefix(full)
	if err != nil {
		return nil, err
	}
	candidates, err := a.store.GetAPIKeysByPrefix(ctx, lookup)
	if err != nil {
		return nil, err
	}
	for _, k := range candidates {
		if !apikey.Verify(full, k.KeyHash) {
			continue
		}
		if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
			return nil, errtypes.InvalidCredentials("api key expired")
		}
		u, err := a.store.GetUser(ctx, k.UserID)
		if err != nil || !u.IsActive {
			return nil, errtypes.InvalidCredentials("invalid api key")
		}
		a.touch(ctx, k.ID)
		return &Identity{
			UserID:  u.ID,
			Email:   u.Email,
			Role:    u.Role,
			Method:  MethodAPIKey,
			Scopes:  k.Scopes,
			VaultID: k.VaultID,
		}, nil
	}
	return nil, errtypes.InvalidCredentials("invalid api key")
}

// VerifyBearer resolves an Authorization: Bearer value, which is either
// an API key (by its literal marker) or a session token.
func (a *Authenticator) VerifyBearer(ctx context.Context, bearer string) (*Identity, error) {
	if strings.HasPrefix(bearer, apikey.Prefix) {
		return a.VerifyAPIKey(ctx, bearer)
	}
	return a.VerifySession(ctx, bearer)
}

// VerifyBasic resolves the WebDAV Basic credentials: the username is
// the account email, the password an API key. The key must belong to
// the named account.
func (a *Authenticator) VerifyBasic(ctx context.Context, email, password string) (*Identity, error) {
	id, err := a.VerifyAPIKey(ctx, password)
	if err != nil {
		return nil, err
	}
	if !EmailsEqual(id.Email, email) {
		return nil, errtypes.InvalidCredentials("api key does not belong to " + email)
	}
	return id, nil
}

// touch updates the key's last-used timestamp without holding up the
// request. Failures are logged and dropped.
func (a *Authenticator) touch(ctx context.Context, keyID string) {
	log := appctx.GetLogger(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.TouchAPIKey(ctx, keyID, time.Now()); err != nil {
			log.Warn().Err(err).Str("key_id", keyID).Msg("touching api key failed")
		}
	}()
}

// HashRefreshToken returns the hex SHA-256 the store keys refresh
// tokens by. The clear token never persists.
func HashRefreshToken(tkn string) string {
	sum := sha256.Sum256([]byte(tkn))
	return hex.EncodeToString(sum[:])
}

// IssueRefreshToken mints, stores and returns a fresh refresh token for
// the user.
func (a *Authenticator) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	tkn := randstr.Hex(32)
	expires := time.Now().Add(RefreshTokenTTL)
	if err := a.store.StoreRefreshToken(ctx, HashRefreshToken(tkn), userID, expires); err != nil {
		return "", err
	}
	return tkn, nil
}

// RotateRefreshToken redeems an outstanding refresh token for a new
// access token and a replacement refresh token. The presented token is
// invalidated either way.
func (a *Authenticator) RotateRefreshToken(ctx context.Context, tkn string) (*store.User, string, string, error) {
	hash := HashRefreshToken(tkn)
	userID, err := a.store.GetRefreshTokenUser(ctx, hash)
	if err != nil {
		return nil, "", "", errtypes.InvalidCredentials("invalid refresh token")
	}
	_ = a.store.DeleteRefreshToken(ctx, hash)

	u, err := a.store.GetUser(ctx, userID)
	if err != nil || !u.IsActive {
		return nil, "", "", errtypes.InvalidCredentials("invalid refresh token")
	}
	access, err := a.MintSession(u)
	if err != nil {
		return nil, "", "", err
	}
	refresh, err := a.IssueRefreshToken(ctx, u.ID)
	if err != nil {
		return nil, "", "", err
	}
	return u, access, refresh, nil
}

// RevokeRefreshToken deletes the stored token, ending the session.
func (a *Authenticator) RevokeRefreshToken(ctx context.Context, tkn string) error {
	return a.store.DeleteRefreshToken(ctx, HashRefreshToken(tkn))
}
