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

package localfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdvault/mdvault/pkg/errtypes"
)

func newFS(t *testing.T) (*FS, string) {
	t.Helper()
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.EnsureVaultDir("u1", "v1"))
	return fs, fs.VaultRoot("u1", "v1")
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs, root := newFS(t)

	abs, err := fs.Write(root, "notes/a.md", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "notes", "a.md"), abs)

	data, err := fs.Read(root, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// no temp file leftovers
	entries, err := os.ReadDir(filepath.Join(root, "notes"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.md", entries[0].Name())
}

func TestWriteRejectsTraversal(t *testing.T) {
	fs, root := newFS(t)

	for _, rel := range []string{"../x.md", "a/../../x.md", "a\\b.md"} {
		_, err := fs.Write(root, rel, []byte("x"))
		require.Error(t, err, "rel %q", rel)
		_, ok := err.(errtypes.IsPathTraversal)
		assert.True(t, ok, "rel %q: %v", rel, err)
	}
	// nothing escaped the vault
	entries, err := os.ReadDir(filepath.Join(fs.DataDir(), "u1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeletePrunesEmptyParents(t *testing.T) {
	fs, root := newFS(t)

	_, err := fs.Write(root, "a/b/c.md", []byte("x"))
	require.NoError(t, err)
	_, err = fs.Write(root, "a/keep.md", []byte("y"))
	require.NoError(t, err)

	_, err = fs.Delete(root, "a/b/c.md")
	require.NoError(t, err)

	// a/b is gone, a stays because keep.md is in it
	_, err = os.Stat(filepath.Join(root, "a", "b"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "a"))
	assert.NoError(t, err)

	_, err = fs.Delete(root, "a/keep.md")
	require.NoError(t, err)
	// a gone, vault root stays
	_, err = os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(root)
	assert.NoError(t, err)
}

func TestDeleteMissing(t *testing.T) {
	fs, root := newFS(t)
	_, err := fs.Delete(root, "nope.md")
	require.Error(t, err)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestMoveFileAndDir(t *testing.T) {
	fs, root := newFS(t)

	_, err := fs.Write(root, "old/a.md", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, fs.Move(root, "old/a.md", "new/b.md"))
	data, err := fs.Read(root, "new/b.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
	// old dir pruned
	_, err = os.Stat(filepath.Join(root, "old"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, fs.Move(root, "new", "moved"))
	data, err = fs.Read(root, "moved/b.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
}

func TestCopyTree(t *testing.T) {
	fs, root := newFS(t)

	_, err := fs.Write(root, "src/a.md", []byte("a"))
	require.NoError(t, err)
	_, err = fs.Write(root, "src/sub/b.md", []byte("b"))
	require.NoError(t, err)

	require.NoError(t, fs.Copy(root, "src", "dst"))

	for rel, want := range map[string]string{"dst/a.md": "a", "dst/sub/b.md": "b", "src/a.md": "a"} {
		data, err := fs.Read(root, rel)
		require.NoError(t, err, rel)
		assert.Equal(t, want, string(data), rel)
	}
}

func TestExistsKinds(t *testing.T) {
	fs, root := newFS(t)

	k, err := fs.Exists(root, "none.md")
	require.NoError(t, err)
	assert.Equal(t, KindNone, k)

	_, err = fs.Write(root, "dir/f.md", []byte("x"))
	require.NoError(t, err)

	k, err = fs.Exists(root, "dir/f.md")
	require.NoError(t, err)
	assert.Equal(t, KindFile, k)

	k, err = fs.Exists(root, "dir")
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, k)
}

func TestMkdir(t *testing.T) {
	fs, root := newFS(t)

	require.NoError(t, fs.Mkdir(root, "d"))

	err := fs.Mkdir(root, "d")
	_, ok := err.(errtypes.IsAlreadyExists)
	assert.True(t, ok)

	err = fs.Mkdir(root, "missing/child")
	_, ok = err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestWalkMarkdown(t *testing.T) {
	fs, root := newFS(t)

	for _, rel := range []string{"b.md", "a/one.md", "a/two.md"} {
		_, err := fs.Write(root, rel, []byte("x"))
		require.NoError(t, err)
	}
	_, err := fs.Write(root, ".obsidian/app.json", []byte("{}"))
	require.NoError(t, err)
	_, err = fs.Write(root, "a/image.png", []byte{1})
	require.NoError(t, err)

	got, err := fs.WalkMarkdown(root, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one.md", "a/two.md", "b.md"}, got)
}

func TestDeleteVaultDirPrunesUser(t *testing.T) {
	fs, root := newFS(t)
	_, err := fs.Write(root, "a.md", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, fs.DeleteVaultDir("u1", "v1"))
	_, err = os.Stat(filepath.Join(fs.DataDir(), "u1"))
	assert.True(t, os.IsNotExist(err))
}
