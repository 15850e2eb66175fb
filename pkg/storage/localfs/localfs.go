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

// Package localfs is the scoped filesystem layer below the document engine
// and the WebDAV surface. Every operation takes a vault root plus a
// vault-relative path, validates it, and refuses to leave the root.
// File writes are atomic: content lands in a sibling temp file which is
// renamed into place.
package localfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/vaultpath"
)

// Kind describes what a path points at.
type Kind int

const (
	// KindNone means the path does not exist.
	KindNone Kind = iota
	// KindFile means the path is a regular file.
	KindFile
	// KindDirectory means the path is a directory.
	KindDirectory
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FS scopes all operations below a single data directory laid out as
// DATA_DIR/{userID}/{vaultSlug}/...
type FS struct {
	dataDir string
}

// New returns an FS rooted at dataDir, creating it if needed.
// dataDir must be absolute.
func New(dataDir string) (*FS, error) {
	if !filepath.IsAbs(dataDir) {
		return nil, errtypes.BadRequest("data dir must be absolute: " + dataDir)
	}
	dataDir = filepath.Clean(dataDir)
	if err := os.MkdirAll(dataDir, dirPerm); err != nil {
		return nil, errors.Wrap(err, "localfs: error creating data dir "+dataDir)
	}
	return &FS{dataDir: dataDir}, nil
}

// DataDir returns the absolute data directory.
func (fs *FS) DataDir() string { return fs.dataDir }

// VaultRoot returns the absolute directory owned by one vault.
func (fs *FS) VaultRoot(userID, slug string) string {
	return filepath.Join(fs.dataDir, userID, slug)
}

// EnsureVaultDir creates the vault directory.
func (fs *FS) EnsureVaultDir(userID, slug string) error {
	if err := os.MkdirAll(fs.VaultRoot(userID, slug), dirPerm); err != nil {
		return errors.Wrap(err, "localfs: error creating vault dir")
	}
	return nil
}

// DeleteVaultDir removes the vault directory recursively and prunes the
// user directory when it became empty.
func (fs *FS) DeleteVaultDir(userID, slug string) error {
	root := fs.VaultRoot(userID, slug)
	if err := os.RemoveAll(root); err != nil {
		return errors.Wrap(err, "localfs: error removing vault dir")
	}
	userDir := filepath.Join(fs.dataDir, userID)
	_ = removeIfEmpty(userDir)
	return nil
}

// Abs resolves rel below root. root must itself live below the data dir.
func (fs *FS) Abs(root, rel string) (string, error) {
	if root != fs.dataDir && !strings.HasPrefix(root, fs.dataDir+string(filepath.Separator)) {
		return "", errtypes.PathTraversal(root)
	}
	return vaultpath.JoinUnderRoot(root, rel)
}

// Exists reports what rel points at.
func (fs *FS) Exists(root, rel string) (Kind, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return KindNone, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return KindNone, nil
		}
		return KindNone, errors.Wrap(err, "localfs: error stating "+abs)
	}
	if fi.IsDir() {
		return KindDirectory, nil
	}
	return KindFile, nil
}

// Stat returns file info for rel, mapping absence to NotFound.
func (fs *FS) Stat(root, rel string) (os.FileInfo, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(rel)
		}
		return nil, errors.Wrap(err, "localfs: error stating "+abs)
	}
	return fi, nil
}

// Read returns the content of the file at rel.
func (fs *FS) Read(root, rel string) ([]byte, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(rel)
		}
		return nil, errors.Wrap(err, "localfs: error reading "+abs)
	}
	return data, nil
}

// Write atomically writes data to rel, creating parent directories as
// needed. It returns the absolute path that was written.
func (fs *FS) Write(root, rel string, data []byte) (string, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), dirPerm); err != nil {
		return "", errors.Wrap(err, "localfs: error creating parent dirs for "+abs)
	}
	if err := renameio.WriteFile(abs, data, filePerm); err != nil {
		return "", errors.Wrap(err, "localfs: error writing "+abs)
	}
	return abs, nil
}

// WriteFrom streams r atomically into rel. The temp file is unlinked when
// the copy fails, so an interrupted upload never becomes visible.
func (fs *FS) WriteFrom(root, rel string, r io.Reader) (string, int64, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), dirPerm); err != nil {
		return "", 0, errors.Wrap(err, "localfs: error creating parent dirs for "+abs)
	}
	pending, err := renameio.NewPendingFile(abs, renameio.WithPermissions(filePerm))
	if err != nil {
		return "", 0, errors.Wrap(err, "localfs: error creating temp file for "+abs)
	}
	n, err := io.Copy(pending, r)
	if err != nil {
		_ = pending.Cleanup()
		return "", 0, errors.Wrap(err, "localfs: error writing "+abs)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		_ = pending.Cleanup()
		return "", 0, errors.Wrap(err, "localfs: error replacing "+abs)
	}
	return abs, n, nil
}

// Delete removes the file at rel and prunes empty parent directories up
// to, but not including, root. It returns the absolute path it removed.
func (fs *FS) Delete(root, rel string) (string, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return "", err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return "", errtypes.NotFound(rel)
		}
		return "", errors.Wrap(err, "localfs: error removing "+abs)
	}
	fs.pruneEmptyParents(root, abs)
	return abs, nil
}

// DeleteTree removes the directory at rel recursively, then prunes empty
// parents.
func (fs *FS) DeleteTree(root, rel string) error {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return err
	}
	if abs == root {
		return errtypes.BadRequest("refusing to delete vault root")
	}
	if err := os.RemoveAll(abs); err != nil {
		return errors.Wrap(err, "localfs: error removing tree "+abs)
	}
	fs.pruneEmptyParents(root, abs)
	return nil
}

// Mkdir creates the directory at rel. The parent must exist.
func (fs *FS) Mkdir(root, rel string) error {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return errtypes.AlreadyExists(rel)
	}
	if err := os.Mkdir(abs, dirPerm); err != nil {
		if os.IsNotExist(err) {
			return errtypes.NotFound(filepath.Dir(rel))
		}
		return errors.Wrap(err, "localfs: error creating dir "+abs)
	}
	return nil
}

// Move renames src to dst (file or directory). Parent directories of dst
// are created. Falls back to copy+delete when rename crosses devices.
func (fs *FS) Move(root, srcRel, dstRel string) error {
	src, err := fs.Abs(root, srcRel)
	if err != nil {
		return err
	}
	dst, err := fs.Abs(root, dstRel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return errors.Wrap(err, "localfs: error creating parent dirs for "+dst)
	}
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return errtypes.NotFound(srcRel)
		}
		// cross-device rename: copy then delete
		if copyErr := fs.copyAny(src, dst); copyErr != nil {
			return errors.Wrap(copyErr, "localfs: error moving "+src+" to "+dst)
		}
		if rmErr := os.RemoveAll(src); rmErr != nil {
			return errors.Wrap(rmErr, "localfs: error removing source after copy "+src)
		}
	}
	fs.pruneEmptyParents(root, src)
	return nil
}

// Copy duplicates src to dst (file or directory, recursive).
func (fs *FS) Copy(root, srcRel, dstRel string) error {
	src, err := fs.Abs(root, srcRel)
	if err != nil {
		return err
	}
	dst, err := fs.Abs(root, dstRel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return errors.Wrap(err, "localfs: error creating parent dirs for "+dst)
	}
	return fs.copyAny(src, dst)
}

func (fs *FS) copyAny(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errtypes.NotFound(src)
		}
		return errors.Wrap(err, "localfs: error stating "+src)
	}
	if fi.IsDir() {
		return fs.copyTree(src, dst)
	}
	return copyFile(src, dst)
}

func (fs *FS) copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return errors.Wrap(err, "localfs: error creating dir "+dst)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrap(err, "localfs: error listing "+src)
	}
	for _, e := range entries {
		s := filepath.Join(src, e.Name())
		d := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := fs.copyTree(s, d); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(s, d); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "localfs: error opening "+src)
	}
	defer in.Close()
	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(filePerm))
	if err != nil {
		return errors.Wrap(err, "localfs: error creating temp file for "+dst)
	}
	if _, err := io.Copy(pending, in); err != nil {
		_ = pending.Cleanup()
		return errors.Wrap(err, "localfs: error copying to "+dst)
	}
	return pending.CloseAtomicallyReplace()
}

// ReadDir lists the entries of the directory at rel.
func (fs *FS) ReadDir(root, rel string) ([]os.DirEntry, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(rel)
		}
		return nil, errors.Wrap(err, "localfs: error listing "+abs)
	}
	return entries, nil
}

// WalkMarkdown returns the sorted vault-relative paths of all .md files
// below rel, skipping dot-entries (including .obsidian) and atomic-write
// temp files.
func (fs *FS) WalkMarkdown(root, rel string) ([]string, error) {
	abs, err := fs.Abs(root, rel)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if Ignored(d.Name()) && p != abs {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		relPath, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "localfs: error walking "+abs)
	}
	sort.Strings(out)
	return out, nil
}

// Ignored reports whether a file or directory name is invisible to the
// sync machinery: dot-entries and atomic-write temp files.
func Ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, ".tmp-")
}

// IsTempFile reports whether name is an in-flight atomic-write temp
// file. Unlike Ignored it does not cover dot-entries, which stay
// visible on the WebDAV surface.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, ".tmp-")
}

// pruneEmptyParents removes empty directories from abs's parent upwards,
// stopping at root.
func (fs *FS) pruneEmptyParents(root, abs string) {
	dir := filepath.Dir(abs)
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		if err := removeIfEmpty(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return errors.New("not empty")
	}
	return os.Remove(dir)
}
