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

package vaultpath

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdvault/mdvault/pkg/errtypes"
)

func TestValidateRelPath(t *testing.T) {
	valid := []string{
		"",
		"a.md",
		"notes/a.md",
		"deeply/nested/path/to/note.md",
		"with spaces/and ünicode.md",
		".obsidian/app.json",
	}
	for _, p := range valid {
		assert.NoError(t, ValidateRelPath(p), "path %q", p)
	}

	traversal := []string{
		"../a.md",
		"a/../../b.md",
		"..",
		"a/..",
		"notes\\a.md",
		"a\x00b.md",
	}
	for _, p := range traversal {
		err := ValidateRelPath(p)
		require.Error(t, err, "path %q", p)
		_, ok := err.(errtypes.IsPathTraversal)
		assert.True(t, ok, "path %q should be a traversal error, got %v", p, err)
	}

	invalid := []string{
		"/a.md",
		"a.md/",
		"a//b.md",
		strings.Repeat("x", MaxPathLen+1),
		strings.Repeat("y", MaxSegmentLen+1) + ".md",
	}
	for _, p := range invalid {
		err := ValidateRelPath(p)
		require.Error(t, err, "path %q", p)
		_, ok := err.(errtypes.IsBadRequest)
		assert.True(t, ok, "path %q should be a validation error, got %v", p, err)
	}
}

func TestJoinUnderRoot(t *testing.T) {
	abs, err := JoinUnderRoot("/data/u1/v1", "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "/data/u1/v1/notes/a.md", abs)

	abs, err = JoinUnderRoot("/data/u1/v1", "")
	require.NoError(t, err)
	assert.Equal(t, "/data/u1/v1", abs)

	_, err = JoinUnderRoot("/data/u1/v1", "../v2/a.md")
	require.Error(t, err)
	_, ok := err.(errtypes.IsPathTraversal)
	assert.True(t, ok)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"My Vault":          "my-vault",
		"  Notes 2024  ":    "notes-2024",
		"Ideas!!!":          "ideas",
		"a--b---c":          "a-b-c",
		"--Weird--Name--":   "weird-name",
		"Ünicode Ötherness": "nicode-therness",
	}
	for name, want := range tests {
		assert.Equal(t, want, Slugify(name), "name %q", name)
	}
	// derivation is deterministic
	assert.Equal(t, Slugify("Same Name"), Slugify("Same Name"))
}

func TestValidateSlug(t *testing.T) {
	assert.NoError(t, ValidateSlug("my-vault"))
	assert.NoError(t, ValidateSlug("v1"))
	assert.Error(t, ValidateSlug(""))
	assert.Error(t, ValidateSlug("-leading"))
	assert.Error(t, ValidateSlug("Upper"))
	assert.Error(t, ValidateSlug("sp ace"))
}

func TestSplitDataPath(t *testing.T) {
	userID, slug, rel, err := SplitDataPath("/data", "/data/u1/my-vault/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "my-vault", slug)
	assert.Equal(t, "notes/a.md", rel)

	userID, slug, rel, err = SplitDataPath("/data", "/data/u1/my-vault")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "my-vault", slug)
	assert.Equal(t, "", rel)

	_, _, _, err = SplitDataPath("/data", "/data/u1")
	assert.Error(t, err)

	_, _, _, err = SplitDataPath("/data", "/elsewhere/u1/v/a.md")
	assert.Error(t, err)
}
