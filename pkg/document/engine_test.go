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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/store/memory"
	"github.com/mdvault/mdvault/pkg/syncer"
)

type fixture struct {
	engine *Engine
	store  store.Store
	fs     *localfs.FS
	coord  *syncer.Coordinator
	user   *store.User
	vault  *store.Vault
	root   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s := memory.New()
	fs, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	coord := syncer.New()
	t.Cleanup(coord.Close)

	u := &store.User{Email: "alice@example.org", DisplayName: "Alice", Role: store.RoleUser, IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	v := &store.Vault{UserID: u.ID, Name: "Notes", Slug: "notes"}
	require.NoError(t, s.CreateVault(ctx, v))
	require.NoError(t, fs.EnsureVaultDir(u.ID, v.Slug))

	return &fixture{
		engine: New(s, fs, coord),
		store:  s,
		fs:     fs,
		coord:  coord,
		user:   u,
		vault:  v,
		root:   fs.VaultRoot(u.ID, v.Slug),
	}
}

func TestPutCreatesRowFileAndVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := []byte("# Hi\n\nhello")
	doc, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", content, store.SourceWeb)
	require.NoError(t, err)

	assert.Equal(t, "Hi", doc.Title)
	assert.Equal(t, ContentHash(content), doc.ContentHash)
	assert.Equal(t, int64(len(content)), doc.SizeBytes)

	onDisk, err := os.ReadFile(filepath.Join(f.root, "a.md"))
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)

	versions, err := f.engine.Versions(ctx, f.user.ID, f.vault.ID, "a.md")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].VersionNum)
	assert.Equal(t, store.SourceWeb, versions[0].ChangeSource)
	assert.Equal(t, f.user.ID, versions[0].ChangedBy)

	// the self-write marker was published
	assert.True(t, f.coord.ConsumeWritten(filepath.Join(f.root, "a.md")))
}

func TestPutUnchangedContentShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := []byte("# Same\n")
	first, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", content, store.SourceWeb)
	require.NoError(t, err)
	second, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", content, store.SourceAPI)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	versions, err := f.engine.Versions(ctx, f.user.ID, f.vault.ID, "a.md")
	require.NoError(t, err)
	assert.Len(t, versions, 1, "no-op upsert must not append a version")
}

func TestPutVersionsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bodies := []string{"# v1\n", "# v2\n", "# v3\n"}
	for _, b := range bodies {
		_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte(b), store.SourceWeb)
		require.NoError(t, err)
	}
	versions, err := f.engine.Versions(ctx, f.user.ID, f.vault.ID, "a.md")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	// newest first, contiguous, 1-based
	for i, v := range versions {
		assert.Equal(t, 3-i, v.VersionNum)
	}
}

func TestPutKeepsIdentityAndCreationTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("one"), store.SourceWeb)
	require.NoError(t, err)
	second, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("two"), store.SourceWeb)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.FileCreatedAt, second.FileCreatedAt)
}

func TestPutExtractsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := []byte("---\ntitle: X\ntags: [go, rust]\n---\nbody")
	doc, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "n.md", content, store.SourceAPI)
	require.NoError(t, err)

	assert.Equal(t, "X", doc.Title)
	assert.Equal(t, []string{"go", "rust"}, doc.Tags)
	assert.Equal(t, "X", doc.Frontmatter["title"])
}

func TestPutRejectsTraversalAndBadPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "../escape.md", []byte("x"), store.SourceWeb)
	var trav errtypes.IsPathTraversal
	assert.ErrorAs(t, err, &trav)

	_, err = f.engine.Put(ctx, f.user.ID, f.vault.ID, "", []byte("x"), store.SourceWeb)
	var bad errtypes.IsBadRequest
	assert.ErrorAs(t, err, &bad)
}

func TestPutForeignVaultIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mallory := &store.User{Email: "mallory@example.org", Role: store.RoleUser, IsActive: true}
	require.NoError(t, f.store.CreateUser(ctx, mallory))

	_, err := f.engine.Put(ctx, mallory.ID, f.vault.ID, "a.md", []byte("x"), store.SourceWeb)
	var nf errtypes.IsNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestGetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := []byte("# Round\n\ntrip")
	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "dir/b.md", content, store.SourceWeb)
	require.NoError(t, err)

	doc, got, err := f.engine.Get(ctx, f.user.ID, f.vault.ID, "dir/b.md")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "dir/b.md", doc.Path)
}

func TestRemoveFileDeletesRowAndPrunes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "only/one.md", []byte("x"), store.SourceWeb)
	require.NoError(t, err)

	require.NoError(t, f.engine.Remove(ctx, f.user.ID, f.vault.ID, "only/one.md"))

	_, _, err = f.engine.Get(ctx, f.user.ID, f.vault.ID, "only/one.md")
	var nf errtypes.IsNotFound
	assert.ErrorAs(t, err, &nf)
	// the now-empty parent directory was pruned
	_, statErr := os.Stat(filepath.Join(f.root, "only"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemoveDirectoryDeletesSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []string{"proj/a.md", "proj/sub/b.md", "keep.md"} {
		_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, p, []byte("# "+p), store.SourceWeb)
		require.NoError(t, err)
	}

	require.NoError(t, f.engine.Remove(ctx, f.user.ID, f.vault.ID, "proj"))

	docs, err := f.engine.List(ctx, f.user.ID, f.vault.ID, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "keep.md", docs[0].Path)
	_, statErr := os.Stat(filepath.Join(f.root, "proj"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemoveUnknownPathIsNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Remove(context.Background(), f.user.ID, f.vault.ID, "nope.md")
	var nf errtypes.IsNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestMoveFileKeepsIdentityAndVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("one"), store.SourceWeb)
	require.NoError(t, err)
	_, err = f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("two"), store.SourceWeb)
	require.NoError(t, err)

	require.NoError(t, f.engine.Move(ctx, f.user.ID, f.vault.ID, "a.md", "b.md", false))

	moved, _, err := f.engine.Get(ctx, f.user.ID, f.vault.ID, "b.md")
	require.NoError(t, err)
	assert.Equal(t, orig.ID, moved.ID)

	versions, err := f.engine.Versions(ctx, f.user.ID, f.vault.ID, "b.md")
	require.NoError(t, err)
	assert.Len(t, versions, 2, "version chain travels with the document")

	_, statErr := os.Stat(filepath.Join(f.root, "a.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMoveWithoutOverwriteConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("a"), store.SourceWeb)
	require.NoError(t, err)
	_, err = f.engine.Put(ctx, f.user.ID, f.vault.ID, "b.md", []byte("b"), store.SourceWeb)
	require.NoError(t, err)

	err = f.engine.Move(ctx, f.user.ID, f.vault.ID, "a.md", "b.md", false)
	var exists errtypes.IsAlreadyExists
	assert.ErrorAs(t, err, &exists)

	require.NoError(t, f.engine.Move(ctx, f.user.ID, f.vault.ID, "a.md", "b.md", true))
	_, content, err := f.engine.Get(ctx, f.user.ID, f.vault.ID, "b.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), content)
}

func TestMoveDirectoryRewritesPrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []string{"old/a.md", "old/sub/b.md", "other.md"} {
		_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, p, []byte("# "+p), store.SourceWeb)
		require.NoError(t, err)
	}

	require.NoError(t, f.engine.Move(ctx, f.user.ID, f.vault.ID, "old", "new", false))

	docs, err := f.engine.List(ctx, f.user.ID, f.vault.ID, "")
	require.NoError(t, err)
	var paths []string
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"new/a.md", "new/sub/b.md", "other.md"}, paths)

	onDisk, err := os.ReadFile(filepath.Join(f.root, "new", "sub", "b.md"))
	require.NoError(t, err)
	assert.Equal(t, []byte("# old/sub/b.md"), onDisk)
}

func TestMoveIntoOwnSubtreeIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "d/a.md", []byte("x"), store.SourceWeb)
	require.NoError(t, err)

	err = f.engine.Move(ctx, f.user.ID, f.vault.ID, "d", "d/sub", false)
	var bad errtypes.IsBadRequest
	assert.ErrorAs(t, err, &bad)
}

func TestCopyFileStartsFreshVersionChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("one"), store.SourceWeb)
	require.NoError(t, err)
	_, err = f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("two"), store.SourceWeb)
	require.NoError(t, err)

	require.NoError(t, f.engine.Copy(ctx, f.user.ID, f.vault.ID, "a.md", "copy.md", false, store.SourceWeb))

	copied, content, err := f.engine.Get(ctx, f.user.ID, f.vault.ID, "copy.md")
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, copied.ID, "a copy is a new document")
	assert.Equal(t, []byte("two"), content)

	versions, err := f.engine.Versions(ctx, f.user.ID, f.vault.ID, "copy.md")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].VersionNum)

	// source untouched
	srcVersions, err := f.engine.Versions(ctx, f.user.ID, f.vault.ID, "a.md")
	require.NoError(t, err)
	assert.Len(t, srcVersions, 2)
}

func TestCopyDirectoryIndexesEveryFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []string{"src/a.md", "src/sub/b.md"} {
		_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, p, []byte("# "+p), store.SourceWeb)
		require.NoError(t, err)
	}

	require.NoError(t, f.engine.Copy(ctx, f.user.ID, f.vault.ID, "src", "dup", false, store.SourceAPI))

	docs, err := f.engine.List(ctx, f.user.ID, f.vault.ID, "dup")
	require.NoError(t, err)
	var paths []string
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"dup/a.md", "dup/sub/b.md"}, paths)
}

func TestListPrefixDoesNotMatchSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// "a" must not match "ab/..."
	for _, p := range []string{"a/one.md", "ab/two.md"} {
		_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, p, []byte("x "+p), store.SourceWeb)
		require.NoError(t, err)
	}

	docs, err := f.engine.List(ctx, f.user.ID, f.vault.ID, "a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a/one.md", docs[0].Path)
}

func TestTreeFoldsPathsIntoHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []string{"b.md", "dir/a.md", "dir/sub/c.md"} {
		_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, p, []byte("# "+p), store.SourceWeb)
		require.NoError(t, err)
	}

	roots, err := f.engine.Tree(ctx, f.user.ID, f.vault.ID)
	require.NoError(t, err)
	require.Len(t, roots, 2)

	assert.Equal(t, "b.md", roots[0].Name)
	assert.Equal(t, NodeFile, roots[0].Type)

	dir := roots[1]
	assert.Equal(t, "dir", dir.Name)
	assert.Equal(t, NodeDirectory, dir.Type)
	require.Len(t, dir.Children, 2)
	assert.Equal(t, "dir/a.md", dir.Children[0].Path)
	sub := dir.Children[1]
	assert.Equal(t, NodeDirectory, sub.Type)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "dir/sub/c.md", sub.Children[0].Path)
}

func TestDropDocumentLeavesDiskAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("x"), store.SourceWeb)
	require.NoError(t, err)

	require.NoError(t, f.engine.DropDocument(ctx, f.vault.ID, "a.md"))

	_, err = f.store.GetDocument(ctx, f.vault.ID, "a.md")
	var nf errtypes.IsNotFound
	assert.ErrorAs(t, err, &nf)
	_, statErr := os.Stat(filepath.Join(f.root, "a.md"))
	assert.NoError(t, statErr)
}

func TestSearchScopesToOwnVaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "a.md", []byte("# Kubernetes\n\nnotes on kubernetes"), store.SourceWeb)
	require.NoError(t, err)

	results, err := f.engine.Search(ctx, f.user.ID, &store.SearchQuery{Terms: "kubernetes"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.md", results[0].Document.Path)

	mallory := &store.User{Email: "mallory@example.org", Role: store.RoleUser, IsActive: true}
	require.NoError(t, f.store.CreateUser(ctx, mallory))
	results, err = f.engine.Search(ctx, mallory.ID, &store.SearchQuery{Terms: "kubernetes"})
	require.NoError(t, err)
	assert.Empty(t, results)
}
