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

// Package apikey generates and verifies API key secrets. A key is
// "ds_k_" plus a 40-character lowercase alphanumeric body. The body's
// first 8 characters are stored in clear as the lookup prefix; the full
// key is stored only as an argon2id hash.
package apikey

import (
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/thanhpk/randstr"

	"github.com/mdvault/mdvault/pkg/errtypes"
)

// Prefix is the literal marker every key starts with.
const Prefix = "ds_k_"

const (
	bodyLen      = 40
	lookupLen    = 8
	totalLen     = len(Prefix) + bodyLen
	bodyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Generate mints a fresh key, returning the full secret (shown to the
// caller exactly once), the lookup prefix and the argon2id hash to
// persist.
func Generate() (full, lookup, hash string, err error) {
	body := randstr.String(bodyLen, bodyAlphabet)
	full = Prefix + body
	lookup = body[:lookupLen]
	hash, err = argon2id.CreateHash(full, argon2id.DefaultParams)
	if err != nil {
		return "", "", "", err
	}
	return full, lookup, hash, nil
}

// LookupPrefix validates the shape of a presented key and returns its
// lookup prefix. Shape defects fail InvalidCredentials so callers leak
// nothing about why.
func LookupPrefix(full string) (string, error) {
	if len(full) != totalLen || !strings.HasPrefix(full, Prefix) {
		return "", errtypes.InvalidCredentials("malformed api key")
	}
	return full[len(Prefix) : len(Prefix)+lookupLen], nil
}

// Verify compares a presented key against a stored hash.
func Verify(full, hash string) bool {
	match, err := argon2id.ComparePasswordAndHash(full, hash)
	return err == nil && match
}
