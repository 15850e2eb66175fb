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

// Package document implements the engine at the center of the system: the
// upsert, delete, move, copy, list, tree and versions operations over one
// (vault, path) identity, keeping disk and database in step.
//
// Every upsert follows the same order: short-circuit on unchanged content
// hash, write the file atomically, publish the self-write marker to the
// sync coordinator, then mutate the database. A disk failure aborts the
// whole operation; a database failure after the disk write is repaired by
// the reconciler, which owns the "disk and DB eventually agree" invariant.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/markdown"
	"github.com/mdvault/mdvault/pkg/metrics"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/syncer"
	"github.com/mdvault/mdvault/pkg/vaultpath"
)

// Engine coordinates the database and the filesystem for all document
// operations. It serializes nothing across distinct paths; racing writers
// on one path converge through the hash guard and the reconciler.
type Engine struct {
	store store.Store
	fs    *localfs.FS
	coord *syncer.Coordinator
}

// New returns an Engine over the given collaborators.
func New(s store.Store, fs *localfs.FS, coord *syncer.Coordinator) *Engine {
	return &Engine{store: s, fs: fs, coord: coord}
}

// ContentHash returns the hex SHA-256 over the raw content bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Vault loads the vault and verifies ownership. A vault owned by someone
// else is reported as absent, not as forbidden.
func (e *Engine) Vault(ctx context.Context, userID, vaultID string) (*store.Vault, error) {
	v, err := e.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if v.UserID != userID {
		return nil, errtypes.NotFound("vault " + vaultID)
	}
	return v, nil
}

func (e *Engine) root(v *store.Vault) string {
	return e.fs.VaultRoot(v.UserID, v.Slug)
}

// Put upserts the document at rel. Unchanged content (by hash) returns
// the existing row without touching disk or appending a version, which
// makes the operation idempotent under event replay.
func (e *Engine) Put(ctx context.Context, userID, vaultID, rel string, content []byte, source store.Source) (*store.Document, error) {
	v, err := e.Vault(ctx, userID, vaultID)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, errtypes.BadRequest("document path must not be empty")
	}
	if err := vaultpath.ValidateRelPath(rel); err != nil {
		return nil, err
	}

	hash := ContentHash(content)

	existing, err := e.store.GetDocument(ctx, vaultID, rel)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); !ok {
			return nil, err
		}
		existing = nil
	}
	if existing != nil && existing.ContentHash == hash {
		metrics.UpsertsShortCircuited.Inc()
		return existing, nil
	}

	root := e.root(v)
	abs, err := e.fs.Write(root, rel, content)
	if err != nil {
		return nil, err
	}
	// The marker must be visible before anything else can block, or the
	// watcher may see the rename first and loop the write back at us.
	e.coord.MarkWritten(abs)

	meta := markdown.Extract(content)
	now := time.Now()
	doc := &store.Document{
		VaultID:         vaultID,
		Path:            rel,
		Title:           meta.Title,
		ContentHash:     hash,
		SizeBytes:       int64(len(content)),
		Frontmatter:     meta.Frontmatter,
		Tags:            meta.Tags,
		StrippedContent: meta.Stripped,
		FileCreatedAt:   now,
		FileModifiedAt:  now,
	}
	if existing != nil {
		doc.ID = existing.ID
		doc.FileCreatedAt = existing.FileCreatedAt
	}
	if err := e.store.UpsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := e.store.AppendVersion(ctx, &store.DocumentVersion{
		DocumentID:   doc.ID,
		ContentHash:  hash,
		SizeBytes:    doc.SizeBytes,
		ChangeSource: source,
		ChangedBy:    userID,
	}); err != nil {
		return nil, err
	}

	metrics.DocumentsUpserted.WithLabelValues(string(source)).Inc()
	return doc, nil
}

// Get returns the document row and its on-disk content.
func (e *Engine) Get(ctx context.Context, userID, vaultID, rel string) (*store.Document, []byte, error) {
	v, err := e.Vault(ctx, userID, vaultID)
	if err != nil {
		return nil, nil, err
	}
	if err := vaultpath.ValidateRelPath(rel); err != nil {
		return nil, nil, err
	}
	doc, err := e.store.GetDocument(ctx, vaultID, rel)
	if err != nil {
		return nil, nil, err
	}
	content, err := e.fs.Read(e.root(v), rel)
	if err != nil {
		return nil, nil, err
	}
	return doc, content, nil
}

// Remove deletes the document at rel, or, when rel names a directory, the
// whole subtree below it.
func (e *Engine) Remove(ctx context.Context, userID, vaultID, rel string) error {
	v, err := e.Vault(ctx, userID, vaultID)
	if err != nil {
		return err
	}
	if rel == "" {
		return errtypes.BadRequest("path must not be empty")
	}
	if err := vaultpath.ValidateRelPath(rel); err != nil {
		return err
	}
	root := e.root(v)

	doc, err := e.store.GetDocument(ctx, vaultID, rel)
	switch {
	case err == nil:
		abs, delErr := e.fs.Delete(root, rel)
		if delErr != nil {
			if _, ok := delErr.(errtypes.IsNotFound); !ok {
				return delErr
			}
			// row without file: the disk side is already gone
		} else {
			e.coord.MarkWritten(abs)
		}
		if err := e.store.DeleteDocument(ctx, vaultID, doc.Path); err != nil {
			return err
		}
		metrics.DocumentsDeleted.Inc()
		return nil
	default:
		if _, ok := err.(errtypes.IsNotFound); !ok {
			return err
		}
	}

	kind, err := e.fs.Exists(root, rel)
	if err != nil {
		return err
	}
	if kind != localfs.KindDirectory {
		return errtypes.NotFound(rel)
	}

	files, err := e.fs.WalkMarkdown(root, rel)
	if err != nil {
		return err
	}
	for _, f := range files {
		if abs, err := e.fs.Abs(root, f); err == nil {
			e.coord.MarkWritten(abs)
		}
	}
	if _, err := e.store.DeleteDocumentsByPrefix(ctx, vaultID, rel); err != nil {
		return err
	}
	return e.fs.DeleteTree(root, rel)
}

// DropDocument removes only the database row for rel; the disk is not
// touched. Used when the disk-side mutation already happened elsewhere:
// watcher unlink events and WebDAV deletes.
func (e *Engine) DropDocument(ctx context.Context, vaultID, rel string) error {
	if err := e.store.DeleteDocument(ctx, vaultID, rel); err != nil {
		return err
	}
	metrics.DocumentsDeleted.Inc()
	return nil
}

// DropTree removes the database rows below rel without touching disk.
func (e *Engine) DropTree(ctx context.Context, vaultID, rel string) error {
	if _, err := e.store.DeleteDocumentsByPrefix(ctx, vaultID, rel); err != nil {
		return err
	}
	// rel itself may name a document when a file was replaced by a
	// directory of the same name
	if err := e.store.DeleteDocument(ctx, vaultID, rel); err != nil {
		if _, ok := err.(errtypes.IsNotFound); !ok {
			return err
		}
	}
	return nil
}

// SyncFromDisk refreshes the row for rel from the current on-disk
// content, attributing the change to source. It reports whether the row
// actually changed; an up-to-date row (same content hash) is left
// alone. Used by the watcher, the reconciler and the WebDAV resync
// notifications.
func (e *Engine) SyncFromDisk(ctx context.Context, v *store.Vault, rel string, source store.Source) (bool, error) {
	content, err := e.fs.Read(e.root(v), rel)
	if err != nil {
		return false, err
	}
	if existing, err := e.store.GetDocument(ctx, v.ID, rel); err == nil && existing.ContentHash == ContentHash(content) {
		return false, nil
	}
	_, err = e.Put(ctx, v.UserID, v.ID, rel, content, source)
	if err != nil {
		appctx.GetLogger(ctx).Debug().Err(err).Str("path", rel).Msg("sync from disk failed")
		return false, err
	}
	return true, nil
}
