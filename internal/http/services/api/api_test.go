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

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdvault/mdvault/pkg/auth"
	"github.com/mdvault/mdvault/pkg/document"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store/memory"
	"github.com/mdvault/mdvault/pkg/syncer"
	"github.com/mdvault/mdvault/pkg/token/jwt"
)

type fixture struct {
	t  *testing.T
	ts *httptest.Server
}

func newFixture(t *testing.T, conf Config) *fixture {
	t.Helper()
	st := memory.New()
	fs, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	tm, err := jwt.New(strings.Repeat("s", 32), jwt.DefaultTTL)
	require.NoError(t, err)
	authn := auth.NewAuthenticator(st, tm)
	engine := document.New(st, fs, syncer.New())

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", New(authn, st, fs, engine, conf)))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &fixture{t: t, ts: ts}
}

// do sends a JSON request and decodes the JSON response into out, which
// may be nil when only the status matters.
func (f *fixture) do(method, path, token string, body, out any) *http.Response {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(f.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(f.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

type sessionResp struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

func (f *fixture) register(email, password, invite string) sessionResp {
	f.t.Helper()
	var out sessionResp
	res := f.do("POST", "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": password, "displayName": "Someone", "inviteToken": invite,
	}, &out)
	require.Equal(f.t, http.StatusCreated, res.StatusCode)
	return out
}

func (f *fixture) createVault(token, name string) map[string]any {
	f.t.Helper()
	var out map[string]any
	res := f.do("POST", "/api/v1/vaults/", token, map[string]string{"name": name}, &out)
	require.Equal(f.t, http.StatusCreated, res.StatusCode)
	return out
}

func refreshCookie(res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == RefreshCookie {
			return c
		}
	}
	return nil
}

func TestRegisterFirstUserIsAdmin(t *testing.T) {
	f := newFixture(t, Config{})

	var out sessionResp
	res := f.do("POST", "/api/v1/auth/register", "", map[string]string{
		"email": "root@example.com", "password": "correct horse", "displayName": "Root", "inviteToken": "",
	}, &out)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "admin", out.User.Role)
	assert.NotEmpty(t, out.AccessToken)

	c := refreshCookie(res)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.NotEmpty(t, c.Value)
}

func TestRegistrationIsInvitationGated(t *testing.T) {
	f := newFixture(t, Config{})
	admin := f.register("root@example.com", "correct horse", "")

	res := f.do("POST", "/api/v1/auth/register", "", map[string]string{
		"email": "second@example.com", "password": "correct horse", "displayName": "", "inviteToken": "",
	}, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	var inv struct {
		Token string `json:"token"`
	}
	res = f.do("POST", "/api/v1/users/invite", admin.AccessToken, map[string]string{"email": "second@example.com"}, &inv)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.NotEmpty(t, inv.Token)

	second := f.register("second@example.com", "correct horse", inv.Token)
	assert.Equal(t, "user", second.User.Role)

	// an invitation is single-use
	res = f.do("POST", "/api/v1/auth/register", "", map[string]string{
		"email": "second@example.com", "password": "correct horse", "displayName": "", "inviteToken": inv.Token,
	}, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestOpenRegistrationSkipsInvitations(t *testing.T) {
	f := newFixture(t, Config{OpenRegistration: true})
	f.register("root@example.com", "correct horse", "")
	out := f.register("second@example.com", "correct horse", "")
	assert.Equal(t, "user", out.User.Role)
}

func TestInviteRequiresAdmin(t *testing.T) {
	f := newFixture(t, Config{OpenRegistration: true})
	f.register("root@example.com", "correct horse", "")
	user := f.register("second@example.com", "correct horse", "")

	res := f.do("POST", "/api/v1/users/invite", user.AccessToken, map[string]string{"email": "x@example.com"}, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestRefreshRotatesAndBurnsTheOldToken(t *testing.T) {
	f := newFixture(t, Config{})

	var login sessionResp
	res := f.do("POST", "/api/v1/auth/register", "", map[string]string{
		"email": "root@example.com", "password": "correct horse", "displayName": "", "inviteToken": "",
	}, &login)
	first := refreshCookie(res)
	require.NotNil(t, first)

	refresh := func(c *http.Cookie, withHeader bool) *http.Response {
		req, err := http.NewRequest("POST", f.ts.URL+"/api/v1/auth/refresh", nil)
		require.NoError(t, err)
		req.AddCookie(c)
		if withHeader {
			req.Header.Set("X-Requested-With", "XMLHttpRequest")
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res
	}

	// the CSRF header is mandatory
	assert.Equal(t, http.StatusForbidden, refresh(first, false).StatusCode)

	res = refresh(first, true)
	require.Equal(t, http.StatusOK, res.StatusCode)
	second := refreshCookie(res)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)

	// the redeemed token is dead, the replacement works
	assert.Equal(t, http.StatusUnauthorized, refresh(first, true).StatusCode)
	assert.Equal(t, http.StatusOK, refresh(second, true).StatusCode)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newFixture(t, Config{})
	f.register("root@example.com", "correct horse", "")

	res := f.do("POST", "/api/v1/auth/login", "", map[string]string{
		"email": "root@example.com", "password": "wrong horse",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestVaultLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")

	v := f.createVault(u.AccessToken, "My Notes!")
	assert.Equal(t, "my-notes", v["slug"])

	// a second vault with the same slug collides
	res := f.do("POST", "/api/v1/vaults/", u.AccessToken, map[string]string{"name": "My Notes!"}, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	// rename keeps the slug frozen
	var patched map[string]any
	res = f.do("PATCH", "/api/v1/vaults/"+v["id"].(string)+"/", u.AccessToken, map[string]string{"name": "Renamed"}, &patched)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Renamed", patched["name"])
	assert.Equal(t, "my-notes", patched["slug"])

	res = f.do("DELETE", "/api/v1/vaults/"+v["id"].(string)+"/", u.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = f.do("GET", "/api/v1/vaults/"+v["id"].(string)+"/", u.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDocumentRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")
	base := "/api/v1/vaults/" + v["id"].(string)

	var doc map[string]any
	res := f.do("PUT", base+"/documents/daily/today.md", u.AccessToken,
		map[string]string{"content": "# Today\n\nhello"}, &doc)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "daily/today.md", doc["path"])
	assert.Equal(t, "Today", doc["title"])

	// overwriting is 200, not 201
	res = f.do("PUT", base+"/documents/daily/today.md", u.AccessToken,
		map[string]string{"content": "# Today\n\nrevised"}, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var got struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	res = f.do("GET", base+"/documents/daily/today.md", u.AccessToken, nil, &got)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "# Today\n\nrevised", got.Content)

	var versions []struct {
		Version      int    `json:"version"`
		ChangeSource string `json:"changeSource"`
	}
	res = f.do("GET", base+"/documents/daily/today.md/versions", u.AccessToken, nil, &versions)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, "web", versions[0].ChangeSource)

	res = f.do("DELETE", base+"/documents/daily/today.md", u.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res = f.do("GET", base+"/documents/daily/today.md", u.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDocumentPathTraversalIsBadRequest(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")

	res := f.do("PUT", "/api/v1/vaults/"+v["id"].(string)+"/documents/..%2Fescape.md", u.AccessToken,
		map[string]string{"content": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestTreeAndListDocuments(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")
	base := "/api/v1/vaults/" + v["id"].(string)

	for _, p := range []string{"a.md", "dir/b.md", "dir/sub/c.md"} {
		res := f.do("PUT", base+"/documents/"+p, u.AccessToken, map[string]string{"content": "x"}, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode)
	}

	var tree []map[string]any
	res := f.do("GET", base+"/tree", u.AccessToken, nil, &tree)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, tree, 2)

	var docs []map[string]any
	res = f.do("GET", base+"/documents?dir=dir", u.AccessToken, nil, &docs)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, docs, 2)
	assert.Equal(t, "dir/b.md", docs[0]["path"])
}

func TestSearchFindsOwnDocuments(t *testing.T) {
	f := newFixture(t, Config{OpenRegistration: true})
	u := f.register("root@example.com", "correct horse", "")
	other := f.register("other@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")
	ov := f.createVault(other.AccessToken, "notes")

	res := f.do("PUT", "/api/v1/vaults/"+v["id"].(string)+"/documents/recipe.md", u.AccessToken,
		map[string]string{"content": "# Pancakes\n\nflour and eggs"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res = f.do("PUT", "/api/v1/vaults/"+ov["id"].(string)+"/documents/recipe.md", other.AccessToken,
		map[string]string{"content": "# Pancakes\n\nflour and eggs"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var hits []map[string]any
	res = f.do("GET", "/api/v1/search?q=pancakes", u.AccessToken, nil, &hits)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, hits, 1)
	assert.Equal(t, v["id"], hits[0]["vaultId"])
}

func TestForeignVaultIsNotFound(t *testing.T) {
	f := newFixture(t, Config{OpenRegistration: true})
	u := f.register("root@example.com", "correct horse", "")
	other := f.register("other@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")

	res := f.do("GET", "/api/v1/vaults/"+v["id"].(string)+"/", other.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAPIKeyIssuanceAndUse(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")
	base := "/api/v1/vaults/" + v["id"].(string)

	var created struct {
		ID        string `json:"id"`
		Key       string `json:"key"`
		KeyPrefix string `json:"keyPrefix"`
	}
	res := f.do("POST", "/api/v1/api-keys/", u.AccessToken, map[string]any{
		"name": "automation", "scopes": []string{"read", "write"},
	}, &created)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.True(t, strings.HasPrefix(created.Key, "ds_k_"))
	assert.Equal(t, created.Key[5:13], created.KeyPrefix)

	// listing never repeats the secret
	var listed []map[string]any
	res = f.do("GET", "/api/v1/api-keys/", u.AccessToken, nil, &listed)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, listed, 1)
	_, leaked := listed[0]["key"]
	assert.False(t, leaked)

	// the key writes documents and the change source records "api"
	res = f.do("PUT", base+"/documents/bot.md", created.Key, map[string]string{"content": "beep"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var versions []struct {
		ChangeSource string `json:"changeSource"`
	}
	res = f.do("GET", base+"/documents/bot.md/versions", u.AccessToken, nil, &versions)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, versions, 1)
	assert.Equal(t, "api", versions[0].ChangeSource)

	// keys cannot manage keys or vaults
	res = f.do("GET", "/api/v1/api-keys/", created.Key, nil, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res = f.do("POST", "/api/v1/vaults/", created.Key, map[string]string{"name": "x"}, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestReadOnlyKeyCannotWrite(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")

	var created struct {
		Key string `json:"key"`
	}
	res := f.do("POST", "/api/v1/api-keys/", u.AccessToken, map[string]any{
		"name": "reader", "scopes": []string{"read"},
	}, &created)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	base := "/api/v1/vaults/" + v["id"].(string)
	res = f.do("PUT", base+"/documents/a.md", created.Key, map[string]string{"content": "x"}, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res = f.do("GET", base+"/tree", created.Key, nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestVaultScopedKeySeesOnlyItsVault(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	a := f.createVault(u.AccessToken, "alpha")
	b := f.createVault(u.AccessToken, "beta")

	var created struct {
		Key string `json:"key"`
	}
	res := f.do("POST", "/api/v1/api-keys/", u.AccessToken, map[string]any{
		"name": "scoped", "scopes": []string{"read", "write"}, "vaultId": a["id"],
	}, &created)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = f.do("GET", "/api/v1/vaults/"+a["id"].(string)+"/tree", created.Key, nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res = f.do("GET", "/api/v1/vaults/"+b["id"].(string)+"/tree", created.Key, nil, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	// the vault listing hides what the key cannot read
	var vaults []map[string]any
	res = f.do("GET", "/api/v1/vaults/", created.Key, nil, &vaults)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, vaults, 1)
	assert.Equal(t, a["id"], vaults[0]["id"])
}

func TestDeactivatedKeyIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	f.createVault(u.AccessToken, "notes")

	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	res := f.do("POST", "/api/v1/api-keys/", u.AccessToken, map[string]any{
		"name": "doomed", "scopes": []string{"read"},
	}, &created)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = f.do("PATCH", "/api/v1/api-keys/"+created.ID, u.AccessToken, map[string]any{"isActive": false}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do("GET", "/api/v1/vaults/", created.Key, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestStorageUsageAggregates(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register("root@example.com", "correct horse", "")
	v := f.createVault(u.AccessToken, "notes")
	base := "/api/v1/vaults/" + v["id"].(string)

	res := f.do("PUT", base+"/documents/a.md", u.AccessToken, map[string]string{"content": "0123456789"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res = f.do("PUT", base+"/documents/b.md", u.AccessToken, map[string]string{"content": "0123456789"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var usage struct {
		Vaults []struct {
			VaultID   string `json:"vaultId"`
			Documents int64  `json:"documents"`
			Bytes     int64  `json:"bytes"`
		} `json:"vaults"`
		TotalBytes int64 `json:"totalBytes"`
	}
	res = f.do("GET", "/api/v1/users/me/storage", u.AccessToken, nil, &usage)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, usage.Vaults, 1)
	assert.Equal(t, int64(2), usage.Vaults[0].Documents)
	assert.Equal(t, int64(20), usage.TotalBytes)
}

func TestExpiredInvitationIsUnusable(t *testing.T) {
	f := newFixture(t, Config{})
	admin := f.register("root@example.com", "correct horse", "")

	var inv struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expiresAt"`
	}
	res := f.do("POST", "/api/v1/users/invite", admin.AccessToken, map[string]string{"email": "late@example.com"}, &inv)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	exp, err := time.Parse(time.RFC3339, inv.ExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(InvitationTTL), exp, time.Minute)

	// an invitation issued for one address cannot register another
	res = f.do("POST", "/api/v1/auth/register", "", map[string]string{
		"email": "impostor@example.com", "password": "correct horse", "displayName": "", "inviteToken": inv.Token,
	}, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.do("GET", "/api/v1/vaults/", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res = f.do("GET", "/api/v1/users/me", "garbage-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
