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

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdvault/mdvault/pkg/document"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/store/memory"
	"github.com/mdvault/mdvault/pkg/syncer"
)

type fixture struct {
	store  store.Store
	fs     *localfs.FS
	engine *document.Engine
	coord  *syncer.Coordinator
	user   *store.User
	vault  *store.Vault
	root   string
	cancel context.CancelFunc
}

func startWatcher(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	s := memory.New()
	fs, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	coord := syncer.New(syncer.WithDebounceWindow(30 * time.Millisecond))
	engine := document.New(s, fs, coord)

	u := &store.User{Email: "alice@example.org", Role: store.RoleUser, IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	v := &store.Vault{UserID: u.ID, Name: "Notes", Slug: "notes"}
	require.NoError(t, s.CreateVault(ctx, v))
	require.NoError(t, fs.EnsureVaultDir(u.ID, v.Slug))

	w := New(fs, s, engine, coord, WithStability(20*time.Millisecond))
	go func() { _ = w.Run(ctx) }()
	// give the watcher time to register the tree
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		coord.Close()
	})
	return &fixture{
		store: s, fs: fs, engine: engine, coord: coord,
		user: u, vault: v, root: fs.VaultRoot(u.ID, v.Slug), cancel: cancel,
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, cond, 3*time.Second, 25*time.Millisecond, msg)
}

func (f *fixture) hasDoc(path string) bool {
	_, err := f.store.GetDocument(context.Background(), f.vault.ID, path)
	return err == nil
}

func TestExternalCreateIsIndexed(t *testing.T) {
	f := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "ext.md"), []byte("# External\n"), 0o644))

	eventually(t, func() bool { return f.hasDoc("ext.md") }, "external file should get a row")

	doc, err := f.store.GetDocument(context.Background(), f.vault.ID, "ext.md")
	require.NoError(t, err)
	assert.Equal(t, "External", doc.Title)

	versions, err := f.engine.Versions(context.Background(), f.user.ID, f.vault.ID, "ext.md")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, store.SourceWebDAV, versions[0].ChangeSource)
}

func TestExternalCreateInNewDirectory(t *testing.T) {
	f := startWatcher(t)

	dir := filepath.Join(f.root, "sub", "deep")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "n.md"), []byte("# Deep\n"), 0o644))

	eventually(t, func() bool { return f.hasDoc("sub/deep/n.md") }, "file in created directory should get a row")
}

func TestExternalUnlinkDropsRow(t *testing.T) {
	f := startWatcher(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "gone.md", []byte("x"), store.SourceWeb)
	require.NoError(t, err)
	// drain the self-write marker so the unlink is seen as external
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(f.root, "gone.md")))

	eventually(t, func() bool { return !f.hasDoc("gone.md") }, "row should be dropped after unlink")
}

func TestEngineWritesAreSuppressed(t *testing.T) {
	f := startWatcher(t)
	ctx := context.Background()

	_, err := f.engine.Put(ctx, f.user.ID, f.vault.ID, "own.md", []byte("# Own\n"), store.SourceWeb)
	require.NoError(t, err)

	// wait out debounce + stability; the loopback event must not add a
	// second version
	time.Sleep(400 * time.Millisecond)
	versions, err := f.engine.Versions(ctx, f.user.ID, f.vault.ID, "own.md")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestNonMarkdownAndDotfilesIgnored(t *testing.T) {
	f := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "skip.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, ".hidden.md"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, ".obsidian"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, ".obsidian", "conf.md"), []byte("x"), 0o644))

	time.Sleep(400 * time.Millisecond)
	docs, err := f.store.ListDocuments(context.Background(), f.vault.ID, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestEditorChunkedWriteIndexedOnce(t *testing.T) {
	f := startWatcher(t)

	path := filepath.Join(f.root, "chunked.md")
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString("# Chun")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = fh.WriteString("ked\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	eventually(t, func() bool { return f.hasDoc("chunked.md") }, "chunked write should be indexed")

	doc, err := f.store.GetDocument(context.Background(), f.vault.ID, "chunked.md")
	require.NoError(t, err)
	assert.Equal(t, "Chunked", doc.Title, "only the settled content may be indexed")
}
