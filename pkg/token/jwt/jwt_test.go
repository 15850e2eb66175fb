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

package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMintAndDismantle(t *testing.T) {
	m, err := New(testSecret, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, m.TTL())

	tkn, err := m.MintToken(&token.Claims{UserID: "u1", Email: "a@b.c", Role: "admin"})
	require.NoError(t, err)

	c, err := m.DismantleToken(tkn)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "a@b.c", c.Email)
	assert.Equal(t, "admin", c.Role)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := New("too-short", 0)
	var bad errtypes.IsBadRequest
	assert.ErrorAs(t, err, &bad)
}

func TestExpiredToken(t *testing.T) {
	m, err := New(testSecret, time.Nanosecond)
	require.NoError(t, err)

	tkn, err := m.MintToken(&token.Claims{UserID: "u1"})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = m.DismantleToken(tkn)
	var bad errtypes.IsInvalidCredentials
	assert.ErrorAs(t, err, &bad)
}

func TestForeignSignature(t *testing.T) {
	m1, err := New(testSecret, 0)
	require.NoError(t, err)
	m2, err := New("ffffffffffffffffffffffffffffffff", 0)
	require.NoError(t, err)

	tkn, err := m1.MintToken(&token.Claims{UserID: "u1"})
	require.NoError(t, err)

	_, err = m2.DismantleToken(tkn)
	var bad errtypes.IsInvalidCredentials
	assert.ErrorAs(t, err, &bad)

	_, err = m1.DismantleToken("garbage")
	assert.ErrorAs(t, err, &bad)
}
