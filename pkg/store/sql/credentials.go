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

package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

func (m *mgr) CreateInvitation(ctx context.Context, inv *store.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO invitations (id, email, token, inviter_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.Email, inv.Token, inv.InviterID, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return errtypes.AlreadyExists(inv.Email)
		}
		return errors.Wrap(err, "sql: error creating invitation")
	}
	return nil
}

func (m *mgr) ListInvitations(ctx context.Context) ([]*store.Invitation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, email, token, inviter_id, expires_at, accepted_at, created_at
		FROM invitations ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error listing invitations")
	}
	defer rows.Close()

	var out []*store.Invitation
	for rows.Next() {
		inv := &store.Invitation{}
		var accepted sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.Email, &inv.Token, &inv.InviterID, &inv.ExpiresAt, &accepted, &inv.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "sql: error scanning invitation")
		}
		if accepted.Valid {
			inv.AcceptedAt = &accepted.Time
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (m *mgr) DeleteInvitation(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM invitations WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "sql: error deleting invitation")
	}
	return requireAffected(res, "invitation")
}

func (m *mgr) ConsumeInvitation(ctx context.Context, token, email string) (*store.Invitation, error) {
	// the accepted_at guard makes the consume atomic: a second caller
	// matches zero rows
	row := m.db.QueryRowContext(ctx, `
		UPDATE invitations SET accepted_at = now()
		WHERE token = $1 AND lower(email) = lower($2) AND accepted_at IS NULL AND expires_at > now()
		RETURNING id, email, token, inviter_id, expires_at, accepted_at, created_at`, token, email)

	inv := &store.Invitation{}
	var accepted sql.NullTime
	err := row.Scan(&inv.ID, &inv.Email, &inv.Token, &inv.InviterID, &inv.ExpiresAt, &accepted, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errtypes.NotFound("invitation")
		}
		return nil, errors.Wrap(err, "sql: error consuming invitation")
	}
	if accepted.Valid {
		inv.AcceptedAt = &accepted.Time
	}
	return inv, nil
}

const keyCols = `id, user_id, name, key_prefix, key_hash, scopes, vault_id, expires_at, last_used_at, is_active, created_at`

type keyScanner interface {
	Scan(dest ...any) error
}

func scanKey(row keyScanner) (*store.APIKey, error) {
	k := &store.APIKey{}
	var scopes pq.StringArray
	var vaultID sql.NullString
	var expires, lastUsed sql.NullTime
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyPrefix, &k.KeyHash, &scopes, &vaultID, &expires, &lastUsed, &k.IsActive, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errtypes.NotFound("api key")
		}
		return nil, errors.Wrap(err, "sql: error scanning api key")
	}
	k.Scopes = scopes
	k.VaultID = vaultID.String
	if expires.Valid {
		k.ExpiresAt = &expires.Time
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return k, nil
}

func (m *mgr) CreateAPIKey(ctx context.Context, k *store.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	k.CreatedAt = time.Now()
	var expires any
	if k.ExpiresAt != nil {
		expires = *k.ExpiresAt
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, scopes, vault_id, expires_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.ID, k.UserID, k.Name, k.KeyPrefix, k.KeyHash, pq.Array(k.Scopes), nullStr(k.VaultID), expires, k.IsActive, k.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "sql: error creating api key")
	}
	return nil
}

func (m *mgr) ListAPIKeys(ctx context.Context, userID string) ([]*store.APIKey, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+keyCols+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error listing api keys")
	}
	defer rows.Close()

	var out []*store.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (m *mgr) GetAPIKey(ctx context.Context, userID, id string) (*store.APIKey, error) {
	return scanKey(m.db.QueryRowContext(ctx,
		`SELECT `+keyCols+` FROM api_keys WHERE user_id = $1 AND id = $2`, userID, id))
}

func (m *mgr) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*store.APIKey, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+keyCols+` FROM api_keys WHERE key_prefix = $1 AND is_active`, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error querying api keys by prefix")
	}
	defer rows.Close()

	var out []*store.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (m *mgr) UpdateAPIKey(ctx context.Context, k *store.APIKey) error {
	var expires any
	if k.ExpiresAt != nil {
		expires = *k.ExpiresAt
	}
	res, err := m.db.ExecContext(ctx, `
		UPDATE api_keys SET name = $2, scopes = $3, vault_id = $4, expires_at = $5, is_active = $6
		WHERE id = $1`,
		k.ID, k.Name, pq.Array(k.Scopes), nullStr(k.VaultID), expires, k.IsActive)
	if err != nil {
		return errors.Wrap(err, "sql: error updating api key")
	}
	return requireAffected(res, "api key")
}

func (m *mgr) DeleteAPIKey(ctx context.Context, userID, id string) error {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return errors.Wrap(err, "sql: error deleting api key")
	}
	return requireAffected(res, "api key")
}

func (m *mgr) TouchAPIKey(ctx context.Context, id string, when time.Time) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, when)
	if err != nil {
		return errors.Wrap(err, "sql: error touching api key")
	}
	return nil
}

func (m *mgr) StoreRefreshToken(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		tokenHash, userID, expiresAt)
	if err != nil {
		return errors.Wrap(err, "sql: error storing refresh token")
	}
	return nil
}

func (m *mgr) GetRefreshTokenUser(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := m.db.QueryRowContext(ctx,
		`SELECT user_id FROM refresh_tokens WHERE token_hash = $1 AND expires_at > now()`, tokenHash).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errtypes.NotFound("refresh token")
		}
		return "", errors.Wrap(err, "sql: error querying refresh token")
	}
	return userID, nil
}

func (m *mgr) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return errors.Wrap(err, "sql: error deleting refresh token")
	}
	return nil
}
