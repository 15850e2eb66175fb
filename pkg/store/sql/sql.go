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

// Package sql implements the store on Postgres. The search vector is a
// plain tsvector column over title, tags and stripped content, written
// in the same statement as every document insert and update. A
// generated column would be nicer but array_to_string is only STABLE,
// and generated-column expressions must be IMMUTABLE.
package sql

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mdvault/mdvault/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'user',
	password_hash TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (lower(email));

CREATE TABLE IF NOT EXISTS vaults (
	id          UUID PRIMARY KEY,
	user_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, slug)
);

CREATE TABLE IF NOT EXISTS documents (
	id               UUID PRIMARY KEY,
	vault_id         UUID NOT NULL REFERENCES vaults(id) ON DELETE CASCADE,
	path             TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL,
	size_bytes       BIGINT NOT NULL DEFAULT 0,
	frontmatter      JSONB NOT NULL DEFAULT '{}',
	tags             TEXT[] NOT NULL DEFAULT '{}',
	stripped_content TEXT NOT NULL DEFAULT '',
	file_created_at  TIMESTAMPTZ NOT NULL,
	file_modified_at TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	search_vector    TSVECTOR NOT NULL DEFAULT '',
	UNIQUE (vault_id, path)
);
CREATE INDEX IF NOT EXISTS documents_search_idx ON documents USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS documents_vault_path_idx ON documents (vault_id, path text_pattern_ops);

CREATE TABLE IF NOT EXISTS document_versions (
	id            UUID PRIMARY KEY,
	document_id   UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	version_num   INTEGER NOT NULL,
	content_hash  TEXT NOT NULL,
	size_bytes    BIGINT NOT NULL DEFAULT 0,
	change_source TEXT NOT NULL,
	changed_by    UUID,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (document_id, version_num)
);

CREATE TABLE IF NOT EXISTS invitations (
	id          UUID PRIMARY KEY,
	email       TEXT NOT NULL,
	token       TEXT NOT NULL UNIQUE,
	inviter_id  UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at  TIMESTAMPTZ NOT NULL,
	accepted_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id           UUID PRIMARY KEY,
	user_id      UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	key_prefix   TEXT NOT NULL,
	key_hash     TEXT NOT NULL,
	scopes       TEXT[] NOT NULL DEFAULT '{}',
	vault_id     UUID REFERENCES vaults(id) ON DELETE CASCADE,
	expires_at   TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ,
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS api_keys_prefix_idx ON api_keys (key_prefix) WHERE is_active;

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token_hash TEXT PRIMARY KEY,
	user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type mgr struct {
	db *sql.DB
}

// New connects to Postgres, applies the schema and returns the store.
func New(dsn string) (store.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error opening connection")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "sql: error pinging database")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "sql: error applying schema")
	}
	return &mgr{db: db}, nil
}

func (m *mgr) Close() error { return m.db.Close() }

// uniqueViolation reports whether err is the Postgres unique-constraint
// error.
func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// escapeLike escapes the LIKE wildcards so a path prefix is matched
// literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func itoa(n int) string { return strconv.Itoa(n) }

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
