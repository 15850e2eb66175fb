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
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/store"
)

const docCols = `id, vault_id, path, title, content_hash, size_bytes, frontmatter, tags, stripped_content, file_created_at, file_modified_at, created_at, updated_at`

type docScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row docScanner) (*store.Document, error) {
	d := &store.Document{}
	var fm []byte
	var tags pq.StringArray
	err := row.Scan(&d.ID, &d.VaultID, &d.Path, &d.Title, &d.ContentHash, &d.SizeBytes,
		&fm, &tags, &d.StrippedContent, &d.FileCreatedAt, &d.FileModifiedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errtypes.NotFound("document")
		}
		return nil, errors.Wrap(err, "sql: error scanning document")
	}
	if len(fm) > 0 {
		if err := json.Unmarshal(fm, &d.Frontmatter); err != nil {
			return nil, errors.Wrap(err, "sql: error decoding frontmatter")
		}
	}
	d.Tags = tags
	return d, nil
}

func (m *mgr) GetDocument(ctx context.Context, vaultID, path string) (*store.Document, error) {
	return scanDoc(m.db.QueryRowContext(ctx,
		`SELECT `+docCols+` FROM documents WHERE vault_id = $1 AND path = $2`, vaultID, path))
}

func (m *mgr) UpsertDocument(ctx context.Context, d *store.Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	fm, err := json.Marshal(d.Frontmatter)
	if err != nil {
		return errors.Wrap(err, "sql: error encoding frontmatter")
	}
	if fm == nil || string(fm) == "null" {
		fm = []byte("{}")
	}
	now := time.Now()
	// conflict on the (vault, path) identity keeps the original id and
	// created_at, which the RETURNING clause feeds back; the search
	// vector is recomputed here on every write
	row := m.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, vault_id, path, title, content_hash, size_bytes, frontmatter, tags, stripped_content, file_created_at, file_modified_at, created_at, updated_at, search_vector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12,
			setweight(to_tsvector('english', $4), 'A') ||
			setweight(to_tsvector('english', array_to_string($8::text[], ' ')), 'B') ||
			to_tsvector('english', $9))
		ON CONFLICT (vault_id, path) DO UPDATE SET
			title = EXCLUDED.title,
			content_hash = EXCLUDED.content_hash,
			size_bytes = EXCLUDED.size_bytes,
			frontmatter = EXCLUDED.frontmatter,
			tags = EXCLUDED.tags,
			stripped_content = EXCLUDED.stripped_content,
			file_modified_at = EXCLUDED.file_modified_at,
			updated_at = EXCLUDED.updated_at,
			search_vector = EXCLUDED.search_vector
		RETURNING id, file_created_at, created_at`,
		d.ID, d.VaultID, d.Path, d.Title, d.ContentHash, d.SizeBytes, fm,
		pq.Array(d.Tags), d.StrippedContent, d.FileCreatedAt, d.FileModifiedAt, now)
	if err := row.Scan(&d.ID, &d.FileCreatedAt, &d.CreatedAt); err != nil {
		return errors.Wrap(err, "sql: error upserting document")
	}
	d.UpdatedAt = now
	return nil
}

func (m *mgr) DeleteDocument(ctx context.Context, vaultID, path string) error {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM documents WHERE vault_id = $1 AND path = $2`, vaultID, path)
	if err != nil {
		return errors.Wrap(err, "sql: error deleting document")
	}
	return requireAffected(res, "document")
}

func (m *mgr) DeleteDocumentsByPrefix(ctx context.Context, vaultID, prefix string) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM documents WHERE vault_id = $1 AND path LIKE $2`,
		vaultID, escapeLike(prefix)+"/%")
	if err != nil {
		return 0, errors.Wrap(err, "sql: error deleting documents by prefix")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sql: error reading affected rows")
	}
	return n, nil
}

func (m *mgr) ListDocuments(ctx context.Context, vaultID, dir string) ([]*store.Document, error) {
	q := `SELECT ` + docCols + ` FROM documents WHERE vault_id = $1`
	args := []any{vaultID}
	if dir != "" {
		q += ` AND path LIKE $2`
		args = append(args, escapeLike(dir)+"/%")
	}
	q += ` ORDER BY path`

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error listing documents")
	}
	defer rows.Close()

	var out []*store.Document
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (m *mgr) UpdateDocumentPath(ctx context.Context, vaultID, oldPath, newPath string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE documents SET path = $3, updated_at = now()
		WHERE vault_id = $1 AND path = $2`, vaultID, oldPath, newPath)
	if err != nil {
		if uniqueViolation(err) {
			return errtypes.AlreadyExists(newPath)
		}
		return errors.Wrap(err, "sql: error updating document path")
	}
	return requireAffected(res, "document")
}

func (m *mgr) RewriteDocumentPathPrefix(ctx context.Context, vaultID, src, dst string) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE documents
		SET path = $3 || '/' || substring(path FROM char_length($4) + 2), updated_at = now()
		WHERE vault_id = $1 AND path LIKE $2`,
		vaultID, escapeLike(src)+"/%", dst, src)
	if err != nil {
		return 0, errors.Wrap(err, "sql: error rewriting document paths")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sql: error reading affected rows")
	}
	return n, nil
}

func (m *mgr) SearchDocuments(ctx context.Context, q *store.SearchQuery) ([]*store.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT ` + prefixed("d", docCols) + `, ts_rank(d.search_vector, query) AS rank
		FROM documents d
		JOIN vaults v ON v.id = d.vault_id,
		plainto_tsquery('english', $2) query
		WHERE v.user_id = $1 AND d.search_vector @@ query`
	args := []any{q.UserID, q.Terms}
	if q.VaultID != "" {
		args = append(args, q.VaultID)
		query += ` AND d.vault_id = $` + itoa(len(args))
	}
	if len(q.Tags) > 0 {
		args = append(args, pq.Array(q.Tags))
		query += ` AND d.tags @> $` + itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY rank DESC, d.path LIMIT $` + itoa(len(args))
	args = append(args, q.Offset)
	query += ` OFFSET $` + itoa(len(args))

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error searching documents")
	}
	defer rows.Close()

	var out []*store.SearchResult
	for rows.Next() {
		d := &store.Document{}
		var fm []byte
		var tags pq.StringArray
		var rank float64
		if err := rows.Scan(&d.ID, &d.VaultID, &d.Path, &d.Title, &d.ContentHash, &d.SizeBytes,
			&fm, &tags, &d.StrippedContent, &d.FileCreatedAt, &d.FileModifiedAt, &d.CreatedAt, &d.UpdatedAt, &rank); err != nil {
			return nil, errors.Wrap(err, "sql: error scanning search result")
		}
		if len(fm) > 0 {
			if err := json.Unmarshal(fm, &d.Frontmatter); err != nil {
				return nil, errors.Wrap(err, "sql: error decoding frontmatter")
			}
		}
		d.Tags = tags
		out = append(out, &store.SearchResult{Document: d, VaultID: d.VaultID, Rank: rank})
	}
	return out, rows.Err()
}

// AppendVersion relies on the (document_id, version_num) unique
// constraint: the max+1 subselect races under concurrency, and the
// losing insert retries with a fresh read.
func (m *mgr) AppendVersion(ctx context.Context, v *store.DocumentVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = time.Now()
	for attempt := 0; attempt < 5; attempt++ {
		row := m.db.QueryRowContext(ctx, `
			INSERT INTO document_versions (id, document_id, version_num, content_hash, size_bytes, change_source, changed_by, created_at)
			VALUES ($1, $2,
				(SELECT coalesce(max(version_num), 0) + 1 FROM document_versions WHERE document_id = $2),
				$3, $4, $5, $6, $7)
			RETURNING version_num`,
			v.ID, v.DocumentID, v.ContentHash, v.SizeBytes, string(v.ChangeSource), nullStr(v.ChangedBy), v.CreatedAt)
		err := row.Scan(&v.VersionNum)
		if err == nil {
			return nil
		}
		if !uniqueViolation(err) {
			return errors.Wrap(err, "sql: error appending version")
		}
	}
	return errors.New("sql: error appending version: retries exhausted")
}

func (m *mgr) ListVersions(ctx context.Context, documentID string) ([]*store.DocumentVersion, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, document_id, version_num, content_hash, size_bytes, change_source, changed_by, created_at
		FROM document_versions WHERE document_id = $1 ORDER BY version_num DESC`, documentID)
	if err != nil {
		return nil, errors.Wrap(err, "sql: error listing versions")
	}
	defer rows.Close()

	var out []*store.DocumentVersion
	for rows.Next() {
		v := &store.DocumentVersion{}
		var src string
		var changedBy sql.NullString
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNum, &v.ContentHash, &v.SizeBytes, &src, &changedBy, &v.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "sql: error scanning version")
		}
		v.ChangeSource = store.Source(src)
		v.ChangedBy = changedBy.String
		out = append(out, v)
	}
	return out, rows.Err()
}
