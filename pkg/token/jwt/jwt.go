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

// Package jwt implements the token manager with HS256-signed JWTs.
package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/token"
)

// DefaultTTL is the access-token lifetime when none is configured.
const DefaultTTL = 15 * time.Minute

const issuer = "mdvault"

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Manager signs and verifies access tokens with a shared HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// New returns a Manager. A ttl of zero selects DefaultTTL.
func New(secret string, ttl time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, errtypes.BadRequest("token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// MintToken returns a signed HS256 JWT for the claims.
func (m *Manager) MintToken(c *token.Claims) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Email: c.Email,
		Role:  c.Role,
	})
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// DismantleToken verifies tkn and returns its claims. Any defect, an
// expired token included, fails InvalidCredentials.
func (m *Manager) DismantleToken(tkn string) (*token.Claims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(tkn, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil || !parsed.Valid {
		return nil, errtypes.InvalidCredentials("invalid token")
	}
	return &token.Claims{UserID: c.Subject, Email: c.Email, Role: c.Role}, nil
}
