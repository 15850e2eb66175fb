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

// Package markdown derives document metadata from a raw Markdown body:
// YAML frontmatter, title, tag set and the plain text that feeds the
// full-text index.
package markdown

import (
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Meta is the extracted metadata of one document body.
type Meta struct {
	Frontmatter map[string]any
	Title       string
	Tags        []string
	Stripped    string
}

var (
	headingRe   = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	inlineTagRe = regexp.MustCompile(`(^|\s)#([A-Za-z][A-Za-z0-9_-]*)`)
)

// Extract parses the body. Frontmatter parse errors are not fatal: the
// whole body is then treated as content with empty frontmatter.
func Extract(content []byte) *Meta {
	fm, body := splitFrontmatter(string(content))

	m := &Meta{
		Frontmatter: fm,
		Tags:        extractTags(fm, body),
		Stripped:    Strip(body),
	}
	m.Title = extractTitle(fm, body)
	return m
}

// splitFrontmatter returns the parsed frontmatter map and the remaining
// body. When the body does not open with a --- fence, or the fenced block
// is not valid YAML, the input is returned unchanged with a nil map.
func splitFrontmatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return nil, content
	}
	rest := content[strings.IndexByte(content, '\n')+1:]
	end := findClosingFence(rest)
	if end < 0 {
		return nil, content
	}
	block := rest[:end]
	body := rest[end:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, content
	}
	return fm, body
}

// findClosingFence returns the byte offset of the line holding the closing
// --- fence, or -1.
func findClosingFence(s string) int {
	off := 0
	for _, line := range strings.SplitAfter(s, "\n") {
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "---" {
			return off
		}
		off += len(line)
	}
	return -1
}

func extractTitle(fm map[string]any, body string) string {
	if t, ok := fm["title"].(string); ok {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	if m := headingRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// extractTags unions frontmatter tags with inline #tag occurrences.
// Inline matching runs on the body with code fences and inline code spans
// removed so that #include and friends do not become tags.
func extractTags(fm map[string]any, body string) []string {
	seen := map[string]struct{}{}

	if raw, ok := fm["tags"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				addTag(seen, s)
			}
		}
	}

	scannable := inlineCodeRe.ReplaceAllString(fencedCodeRe.ReplaceAllString(body, ""), "")
	for _, m := range inlineTagRe.FindAllStringSubmatch(scannable, -1) {
		addTag(seen, m[2])
	}

	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func addTag(seen map[string]struct{}, tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag != "" {
		seen[tag] = struct{}{}
	}
}
