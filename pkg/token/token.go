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

// Package token defines the access-token manager used by the browser
// session flow.
package token

import "time"

// Claims is what an access token asserts about its bearer.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// Manager mints and verifies short-lived access tokens.
type Manager interface {
	// MintToken returns a signed token for the claims, valid for the
	// manager's configured lifetime.
	MintToken(c *Claims) (string, error)
	// DismantleToken verifies signature and expiry and returns the claims.
	DismantleToken(tkn string) (*Claims, error)
	// TTL returns the token lifetime.
	TTL() time.Duration
}
