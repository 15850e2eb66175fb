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
	"github.com/pkg/errors"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

func (m *mgr) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.DisplayName, u.Role, u.PasswordHash, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return errtypes.AlreadyExists(u.Email)
		}
		return errors.Wrap(err, "sql: error creating user")
	}
	return nil
}

func scanUser(row *sql.Row) (*store.User, error) {
	u := &store.User{}
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errtypes.NotFound("user")
		}
		return nil, errors.Wrap(err, "sql: error scanning user")
	}
	return u, nil
}

const userCols = `id, email, display_name, role, password_hash, is_active, created_at, updated_at`

func (m *mgr) GetUser(ctx context.Context, id string) (*store.User, error) {
	return scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (m *mgr) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (m *mgr) UpdateUser(ctx context.Context, u *store.User) error {
	u.UpdatedAt = time.Now()
	res, err := m.db.ExecContext(ctx, `
		UPDATE users SET email = $2, display_name = $3, role = $4, password_hash = $5, is_active = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Email, u.DisplayName, u.Role, u.PasswordHash, u.IsActive, u.UpdatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return errtypes.AlreadyExists(u.Email)
		}
		return errors.Wrap(err, "sql: error updating user")
	}
	return requireAffected(res, "user")
}

func (m *mgr) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := m.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sql: error counting users")
	}
	return n, nil
}

func (m *mgr) CreateVault(ctx context.Context, v *store.Vault) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now()
	v.CreatedAt, v.UpdatedAt = now, now
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO vaults (id, user_id, name, slug, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.UserID, v.Name, v.Slug, v.Description, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return errtypes.AlreadyExists(v.Slug)
		}
		return errors.Wrap(err, "sql: error creating vault")
	}
	return nil
}

const vaultCols = `id, user_id, name, slug, description, created_at, updated_at`

func scanVault(row *sql.Row) (*store.Vault, error) {
	v := &store.Vault{}
	err := row.Scan(&v.ID, &v.UserID, &v.Name, &v.Slug, &v.Description, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errtypes.NotFound("vault")
		}
		return nil, errors.Wrap(err, "sql: error scanning vault")
	}
	return v, nil
}

func (m *mgr) GetVault(ctx context.Context, id string) (*store.Vault, error) {
	return scanVault(m.db.QueryRowContext(ctx,
		`SELECT `+vaultCols+` FROM vaults WHERE id = $1`, id))
}

func (m *mgr) GetVaultBySlug(ctx context.Context, userID, slug string) (*store.Vault, error) {
	return scanVault(m.db.QueryRowContext(ctx,
		`SELECT `+vaultCols+` FROM vaults WHERE user_id = $1 AND slug = $2`, userID, slug))
}

func (m *mgr) ListVaults(ctx context.Context, userID string) ([]*store.Vault, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+vaultCols+` FROM vaults WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error listing vaults")
	}
	defer rows.Close()

	var out []*store.Vault
	for rows.Next() {
		v := &store.Vault{}
		if err := rows.Scan(&v.ID, &v.UserID, &v.Name, &v.Slug, &v.Description, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "sql: error scanning vault")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (m *mgr) UpdateVault(ctx context.Context, v *store.Vault) error {
	v.UpdatedAt = time.Now()
	res, err := m.db.ExecContext(ctx, `
		UPDATE vaults SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
		v.ID, v.Name, v.Description, v.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "sql: error updating vault")
	}
	return requireAffected(res, "vault")
}

func (m *mgr) DeleteVault(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM vaults WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "sql: error deleting vault")
	}
	return requireAffected(res, "vault")
}

func (m *mgr) VaultUsage(ctx context.Context, userID string) ([]*store.VaultUsage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT v.id, v.name, count(d.id), coalesce(sum(d.size_bytes), 0)
		FROM vaults v
		LEFT JOIN documents d ON d.vault_id = v.id
		WHERE v.user_id = $1
		GROUP BY v.id, v.name
		ORDER BY v.name`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error querying vault usage")
	}
	defer rows.Close()

	var out []*store.VaultUsage
	for rows.Next() {
		u := &store.VaultUsage{}
		if err := rows.Scan(&u.VaultID, &u.VaultName, &u.Documents, &u.Bytes); err != nil {
			return nil, errors.Wrap(err, "sql: error scanning vault usage")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// requireAffected maps "zero rows touched" to NotFound.
func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sql: error reading affected rows")
	}
	if n == 0 {
		return errtypes.NotFound(what)
	}
	return nil
}
