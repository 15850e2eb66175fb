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

package markdown

import (
	"regexp"
	"strings"
)

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]*`")

	inlineCodeKeepRe = regexp.MustCompile("`([^`\n]*)`")
	imageRe          = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe           = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	refLinkRe        = regexp.MustCompile(`\[([^\]]*)\]\[[^\]]*\]`)
	headingMarkRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasis3Re      = regexp.MustCompile(`(\*{3}|_{3})([^*_]+)(\*{3}|_{3})`)
	emphasis2Re      = regexp.MustCompile(`(\*{2}|_{2})([^*_]+)(\*{2}|_{2})`)
	emphasis1Re      = regexp.MustCompile(`([*_])([^*_]+)([*_])`)
	strikeRe         = regexp.MustCompile(`~~([^~]+)~~`)
	hrRe             = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	blockquoteRe     = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
	bulletRe         = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	numberedRe       = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	htmlTagRe        = regexp.MustCompile(`<[^>\n]+>`)
	newlineRunRe     = regexp.MustCompile(`\n{3,}`)
)

// Strip reduces a Markdown body to the plain text used for search
// indexing. Rules run in a fixed order; labels and alt texts survive,
// markup does not.
func Strip(body string) string {
	s := body
	s = fencedCodeRe.ReplaceAllString(s, "")
	s = inlineCodeKeepRe.ReplaceAllString(s, "$1")
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = refLinkRe.ReplaceAllString(s, "$1")
	s = hrRe.ReplaceAllString(s, "")
	s = headingMarkRe.ReplaceAllString(s, "")
	s = emphasis3Re.ReplaceAllString(s, "$2")
	s = emphasis2Re.ReplaceAllString(s, "$2")
	s = emphasis1Re.ReplaceAllString(s, "$2")
	s = strikeRe.ReplaceAllString(s, "$1")
	s = blockquoteRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = numberedRe.ReplaceAllString(s, "")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = newlineRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
