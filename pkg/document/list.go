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
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/vaultpath"
)

// TreeNode is one entry of the hierarchical vault listing.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"`
	Children []*TreeNode `json:"children,omitempty"`
}

// Node types.
const (
	NodeFile      = "file"
	NodeDirectory = "directory"
)

// List returns the documents of a vault ordered by path, optionally
// narrowed to those below dir.
func (e *Engine) List(ctx context.Context, userID, vaultID, dir string) ([]*store.Document, error) {
	if _, err := e.Vault(ctx, userID, vaultID); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := vaultpath.ValidateRelPath(dir); err != nil {
			return nil, err
		}
	}
	return e.store.ListDocuments(ctx, vaultID, dir)
}

// Tree folds the flat, path-ordered document listing into a hierarchy.
// Directories exist only as prefixes of document paths; an empty disk
// directory has no node.
func (e *Engine) Tree(ctx context.Context, userID, vaultID string) ([]*TreeNode, error) {
	docs, err := e.List(ctx, userID, vaultID, "")
	if err != nil {
		return nil, err
	}

	var roots []*TreeNode
	dirs := map[string]*TreeNode{}
	for _, d := range docs {
		segs := strings.Split(d.Path, "/")
		var parent *TreeNode
		for i := 0; i < len(segs)-1; i++ {
			dirPath := strings.Join(segs[:i+1], "/")
			node, ok := dirs[dirPath]
			if !ok {
				node = &TreeNode{Name: segs[i], Path: dirPath, Type: NodeDirectory}
				dirs[dirPath] = node
				if parent == nil {
					roots = append(roots, node)
				} else {
					parent.Children = append(parent.Children, node)
				}
			}
			parent = node
		}
		leaf := &TreeNode{Name: segs[len(segs)-1], Path: d.Path, Type: NodeFile}
		if parent == nil {
			roots = append(roots, leaf)
		} else {
			parent.Children = append(parent.Children, leaf)
		}
	}
	return roots, nil
}

// Versions returns the version chain of the document at rel, newest
// first.
func (e *Engine) Versions(ctx context.Context, userID, vaultID, rel string) ([]*store.DocumentVersion, error) {
	if _, err := e.Vault(ctx, userID, vaultID); err != nil {
		return nil, err
	}
	if err := vaultpath.ValidateRelPath(rel); err != nil {
		return nil, err
	}
	doc, err := e.store.GetDocument(ctx, vaultID, rel)
	if err != nil {
		return nil, err
	}
	return e.store.ListVersions(ctx, doc.ID)
}

// Search runs a full-text query over the user's vaults. A vault filter
// in the query is checked for ownership first.
func (e *Engine) Search(ctx context.Context, userID string, q *store.SearchQuery) ([]*store.SearchResult, error) {
	if q.Terms == "" {
		return nil, errtypes.BadRequest("search terms must not be empty")
	}
	q.UserID = userID
	if q.Limit <= 0 {
		q.Limit = 20
	} else if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.VaultID != "" {
		if _, err := e.Vault(ctx, userID, q.VaultID); err != nil {
			return nil, err
		}
	}
	return e.store.SearchDocuments(ctx, q)
}
