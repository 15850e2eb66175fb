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

package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDepth(t *testing.T) {
	for in, want := range map[string]Depth{
		"":         DepthInfinity,
		"0":        DepthZero,
		"1":        DepthOne,
		"infinity": DepthInfinity,
		"Infinity": DepthInfinity,
	} {
		got, err := ParseDepth(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDepth("2")
	assert.Error(t, err)
}

func TestParseOverwrite(t *testing.T) {
	for in, want := range map[string]bool{"": true, "T": true, "t": true, "F": false, "f": false} {
		got, err := ParseOverwrite(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOverwrite("x")
	assert.Error(t, err)
}

func TestParseDestination(t *testing.T) {
	rel, err := ParseDestination("/webdav/notes/dir/new.md", "/webdav", "notes")
	require.NoError(t, err)
	assert.Equal(t, "dir/new.md", rel)

	// absolute URL form
	rel, err = ParseDestination("https://host:8484/webdav/notes/a.md", "/webdav", "notes")
	require.NoError(t, err)
	assert.Equal(t, "a.md", rel)

	// percent-encoding decoded once
	rel, err = ParseDestination("/webdav/notes/with%20space.md", "/webdav", "notes")
	require.NoError(t, err)
	assert.Equal(t, "with space.md", rel)

	// a doubly-encoded name decodes to its singly-encoded form, not
	// all the way down
	rel, err = ParseDestination("/webdav/notes/a%2520b.md", "/webdav", "notes")
	require.NoError(t, err)
	assert.Equal(t, "a%20b.md", rel)

	// a literal percent in the target name survives
	rel, err = ParseDestination("/webdav/notes/50%25.md", "/webdav", "notes")
	require.NoError(t, err)
	assert.Equal(t, "50%.md", rel)

	// other vault
	_, err = ParseDestination("/webdav/other/a.md", "/webdav", "notes")
	assert.Error(t, err)
	// vault root
	_, err = ParseDestination("/webdav/notes/", "/webdav", "notes")
	assert.Error(t, err)
	// missing
	_, err = ParseDestination("", "/webdav", "notes")
	assert.Error(t, err)
}

func TestEncodePath(t *testing.T) {
	assert.Equal(t, "dir/with%20space.md", EncodePath("dir/with space.md"))
	assert.Equal(t, "plain-path_ok/a.md", EncodePath("plain-path_ok/a.md"))
	assert.Equal(t, "%c3%bcber.md", EncodePath("über.md"))
}
