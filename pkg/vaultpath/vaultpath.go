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

// Package vaultpath implements the path and identity model shared by every
// surface: vault-root-relative document paths and vault slugs.
//
// A document path is UTF-8, forward-slash separated, relative, with no
// leading slash and no way to escape the vault root. The same validator
// runs in front of the filesystem layer, the document engine and both
// protocol surfaces.
package vaultpath

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mdvault/mdvault/pkg/errtypes"
)

const (
	// MaxPathLen is the maximum byte length of a document path.
	MaxPathLen = 512
	// MaxSegmentLen is the maximum byte length of a single path segment.
	MaxSegmentLen = 255
)

// ValidateRelPath checks a vault-root-relative document path. The empty
// string addresses the vault root and is valid.
func ValidateRelPath(rel string) error {
	if rel == "" {
		return nil
	}
	if len(rel) > MaxPathLen {
		return errtypes.BadRequest("path too long")
	}
	if strings.ContainsRune(rel, '\x00') {
		return errtypes.PathTraversal(rel)
	}
	if strings.ContainsRune(rel, '\\') {
		return errtypes.PathTraversal(rel)
	}
	if strings.HasPrefix(rel, "/") || strings.HasSuffix(rel, "/") {
		return errtypes.BadRequest("path must be relative without leading or trailing slash")
	}
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "":
			return errtypes.BadRequest("empty path segment")
		case ".", "..":
			return errtypes.PathTraversal(rel)
		}
		if len(seg) > MaxSegmentLen {
			return errtypes.BadRequest("path segment too long")
		}
	}
	return nil
}

// JoinUnderRoot resolves rel against root and asserts the result stays at
// or below root. rel must already have passed ValidateRelPath; the prefix
// assertion is kept as a second line of defense.
func JoinUnderRoot(root, rel string) (string, error) {
	if err := ValidateRelPath(rel); err != nil {
		return "", err
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", errtypes.PathTraversal(rel)
	}
	return abs, nil
}

var (
	slugInvalid  = regexp.MustCompile(`[^a-z0-9-]+`)
	slugCollapse = regexp.MustCompile(`-{2,}`)
	slugValid    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// Slugify derives a vault slug from its name: lowercase, non [a-z0-9-]
// runs become a single hyphen, hyphen runs collapse, leading and trailing
// hyphens are trimmed. The derivation is pure; the slug is frozen at vault
// creation so the on-disk directory never moves.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidateSlug checks a slug as found in a WebDAV URL or on disk.
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > 100 || !slugValid.MatchString(slug) {
		return errtypes.BadRequest("invalid vault slug")
	}
	return nil
}

// SplitDataPath decomposes an absolute path under dataDir into
// (userID, vaultSlug, relPath). relPath is empty when abs addresses the
// vault root itself. Used by the watcher to map disk events back to vaults.
func SplitDataPath(dataDir, abs string) (userID, slug, rel string, err error) {
	if abs != dataDir && !strings.HasPrefix(abs, dataDir+string(filepath.Separator)) {
		return "", "", "", errtypes.PathTraversal(abs)
	}
	trimmed := strings.TrimPrefix(abs, dataDir)
	trimmed = strings.TrimPrefix(trimmed, string(filepath.Separator))
	parts := strings.SplitN(filepath.ToSlash(trimmed), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", errtypes.BadRequest("path not inside a vault: " + abs)
	}
	userID, slug = parts[0], parts[1]
	if len(parts) == 3 {
		rel = parts[2]
	}
	return userID, slug, rel, nil
}
