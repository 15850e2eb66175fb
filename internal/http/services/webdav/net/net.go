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

// Package net holds the WebDAV wire-level helpers: header names, Depth
// parsing, the ETag format, HTTP dates and Destination resolution.
package net

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mdvault/mdvault/pkg/errtypes"
)

// WebDAV request/response headers.
const (
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderETag          = "ETag"
	HeaderLastModified  = "Last-Modified"
	HeaderAllow         = "Allow"
	HeaderDav           = "DAV"
	HeaderDepth         = "Depth"
	HeaderDestination   = "Destination"
	HeaderOverwrite     = "Overwrite"
	HeaderLockToken     = "Lock-Token"
	HeaderTimeout       = "Timeout"
)

// RFC1123 is the HTTP date layout; time.RFC1123 would print "UTC"
// instead of "GMT".
const RFC1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

// Depth is the PROPFIND/COPY depth.
type Depth string

// The allowed depths.
const (
	DepthZero     Depth = "0"
	DepthOne      Depth = "1"
	DepthInfinity Depth = "infinity"
)

// ParseDepth parses a Depth header. Absence means infinity, per
// RFC 4918.
func ParseDepth(s string) (Depth, error) {
	switch strings.ToLower(s) {
	case "":
		return DepthInfinity, nil
	case "0":
		return DepthZero, nil
	case "1":
		return DepthOne, nil
	case "infinity":
		return DepthInfinity, nil
	default:
		return "", errtypes.BadRequest("invalid depth: " + s)
	}
}

// ParseOverwrite parses an Overwrite header. Absence means overwrite,
// per RFC 4918.
func ParseOverwrite(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "", "T":
		return true, nil
	case "F":
		return false, nil
	default:
		return false, errtypes.BadRequest("invalid overwrite: " + s)
	}
}

// ETag derives the entity tag from file metadata: size and modification
// time in base 36, quoted.
func ETag(fi os.FileInfo) string {
	return fmt.Sprintf("\"%d-%s\"", fi.Size(), strconv.FormatInt(fi.ModTime().Unix(), 36))
}

// HTTPDate formats t as an RFC 1123 date in GMT.
func HTTPDate(t time.Time) string {
	return t.UTC().Format(RFC1123)
}

// ParseDestination resolves a Destination header against the calling
// vault. It accepts an absolute URL or an absolute path, decodes
// percent-encoding once, and requires the /webdav/{slug} prefix of the
// request's own vault; crossing into another vault is rejected.
func ParseDestination(dst, prefix, slug string) (string, error) {
	if dst == "" {
		return "", errtypes.BadRequest("missing destination header")
	}
	p := dst
	// EscapedPath keeps the path percent-encoded; the single
	// PathUnescape below is the one decode step.
	if u, err := url.Parse(dst); err == nil && u.EscapedPath() != "" {
		p = u.EscapedPath()
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", errtypes.BadRequest("invalid destination encoding")
	}
	want := prefix + "/" + slug
	if decoded != want && !strings.HasPrefix(decoded, want+"/") {
		return "", errtypes.BadRequest("destination outside this vault")
	}
	rel := strings.TrimPrefix(decoded, want)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "", errtypes.BadRequest("destination names the vault root")
	}
	return rel, nil
}

var hrefre = regexp.MustCompile(`([^A-Za-z0-9_\-.~()/:@!$])`)

// EncodePath percent-encodes a path for a multistatus href, treating
// slashes as separators.
func EncodePath(path string) string {
	return hrefre.ReplaceAllStringFunc(path, func(match string) string {
		var sb strings.Builder
		for i := 0; i < len(match); i++ {
			fmt.Fprintf(&sb, "%%%02x", match[i])
		}
		return sb.String()
	})
}
