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

package document

import (
	"context"
	"strings"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/vaultpath"
)

// Move renames src to dst inside one vault. Files keep their document
// identity and version chain; directory moves rewrite every row below
// src in one statement. dst must not exist unless overwrite is set.
func (e *Engine) Move(ctx context.Context, userID, vaultID, src, dst string, overwrite bool) error {
	v, srcKind, dstKind, err := e.prepareTwoPaths(ctx, userID, vaultID, src, dst)
	if err != nil {
		return err
	}
	root := e.root(v)

	if dstKind != localfs.KindNone && !overwrite {
		return errtypes.AlreadyExists(dst)
	}
	if srcKind == localfs.KindFile && dstKind == localfs.KindDirectory {
		return errtypes.BadRequest("cannot overwrite a directory with a file")
	}
	if srcKind == localfs.KindDirectory && dstKind == localfs.KindFile {
		return errtypes.BadRequest("cannot overwrite a file with a directory")
	}

	if srcKind == localfs.KindFile {
		if dstKind == localfs.KindFile {
			if err := e.dropRowIfAny(ctx, vaultID, dst); err != nil {
				return err
			}
		}
		srcAbs, err := e.fs.Abs(root, src)
		if err != nil {
			return err
		}
		dstAbs, err := e.fs.Abs(root, dst)
		if err != nil {
			return err
		}
		if err := e.fs.Move(root, src, dst); err != nil {
			return err
		}
		e.coord.MarkWritten(srcAbs)
		e.coord.MarkWritten(dstAbs)

		err = e.store.UpdateDocumentPath(ctx, vaultID, src, dst)
		if err != nil {
			if _, ok := err.(errtypes.IsNotFound); ok {
				// no row: src was not an indexed document
				return nil
			}
		}
		return err
	}

	// directory move
	if dstKind == localfs.KindDirectory {
		if err := e.DropTree(ctx, vaultID, dst); err != nil {
			return err
		}
		if err := e.fs.DeleteTree(root, dst); err != nil {
			return err
		}
	}
	before, err := e.fs.WalkMarkdown(root, src)
	if err != nil {
		return err
	}
	e.markAll(root, before)
	if err := e.fs.Move(root, src, dst); err != nil {
		return err
	}
	after, err := e.fs.WalkMarkdown(root, dst)
	if err != nil {
		return err
	}
	e.markAll(root, after)

	_, err = e.store.RewriteDocumentPathPrefix(ctx, vaultID, src, dst)
	return err
}

// Copy duplicates src to dst inside one vault. Copies are new documents:
// each destination file gets a fresh identity and a version chain that
// starts at 1.
func (e *Engine) Copy(ctx context.Context, userID, vaultID, src, dst string, overwrite bool, source store.Source) error {
	v, srcKind, dstKind, err := e.prepareTwoPaths(ctx, userID, vaultID, src, dst)
	if err != nil {
		return err
	}
	root := e.root(v)

	if dstKind != localfs.KindNone && !overwrite {
		return errtypes.AlreadyExists(dst)
	}
	if srcKind == localfs.KindFile && dstKind == localfs.KindDirectory {
		return errtypes.BadRequest("cannot overwrite a directory with a file")
	}
	if srcKind == localfs.KindDirectory && dstKind == localfs.KindFile {
		return errtypes.BadRequest("cannot overwrite a file with a directory")
	}

	if srcKind == localfs.KindFile {
		if dstKind == localfs.KindFile {
			if err := e.dropRowIfAny(ctx, vaultID, dst); err != nil {
				return err
			}
		}
		content, err := e.fs.Read(root, src)
		if err != nil {
			return err
		}
		_, err = e.Put(ctx, userID, vaultID, dst, content, source)
		return err
	}

	// directory copy: duplicate the tree, then index each markdown file
	// through the normal upsert path so rows, versions and self-write
	// markers all land the usual way
	if dstKind == localfs.KindDirectory {
		if err := e.DropTree(ctx, vaultID, dst); err != nil {
			return err
		}
		if err := e.fs.DeleteTree(root, dst); err != nil {
			return err
		}
	}
	if err := e.fs.Copy(root, src, dst); err != nil {
		return err
	}
	files, err := e.fs.WalkMarkdown(root, dst)
	if err != nil {
		return err
	}
	for _, f := range files {
		content, err := e.fs.Read(root, f)
		if err != nil {
			return err
		}
		if _, err := e.Put(ctx, userID, vaultID, f, content, source); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) prepareTwoPaths(ctx context.Context, userID, vaultID, src, dst string) (*store.Vault, localfs.Kind, localfs.Kind, error) {
	v, err := e.Vault(ctx, userID, vaultID)
	if err != nil {
		return nil, localfs.KindNone, localfs.KindNone, err
	}
	if src == "" || dst == "" {
		return nil, localfs.KindNone, localfs.KindNone, errtypes.BadRequest("source and destination must not be empty")
	}
	if err := vaultpathValidateBoth(src, dst); err != nil {
		return nil, localfs.KindNone, localfs.KindNone, err
	}
	if src == dst {
		return nil, localfs.KindNone, localfs.KindNone, errtypes.BadRequest("source and destination are the same path")
	}
	if strings.HasPrefix(dst, src+"/") {
		return nil, localfs.KindNone, localfs.KindNone, errtypes.BadRequest("destination is inside the source")
	}
	root := e.root(v)
	srcKind, err := e.fs.Exists(root, src)
	if err != nil {
		return nil, localfs.KindNone, localfs.KindNone, err
	}
	if srcKind == localfs.KindNone {
		return nil, localfs.KindNone, localfs.KindNone, errtypes.NotFound(src)
	}
	dstKind, err := e.fs.Exists(root, dst)
	if err != nil {
		return nil, localfs.KindNone, localfs.KindNone, err
	}
	return v, srcKind, dstKind, nil
}

func vaultpathValidateBoth(src, dst string) error {
	if err := vaultpath.ValidateRelPath(src); err != nil {
		return err
	}
	return vaultpath.ValidateRelPath(dst)
}

func (e *Engine) dropRowIfAny(ctx context.Context, vaultID, rel string) error {
	err := e.store.DeleteDocument(ctx, vaultID, rel)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); ok {
			return nil
		}
	}
	return err
}

func (e *Engine) markAll(root string, rels []string) {
	for _, rel := range rels {
		if abs, err := e.fs.Abs(root, rel); err == nil {
			e.coord.MarkWritten(abs)
		}
	}
}
