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

package webdav

import (
	"encoding/xml"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/mdvault/mdvault/internal/http/services/webdav/net"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
)

type multistatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	XMLNS     string     `xml:"xmlns:D,attr"`
	Responses []response `xml:"D:response"`
}

type response struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	ResourceType  resourceType `xml:"D:resourcetype"`
	ContentLength string       `xml:"D:getcontentlength,omitempty"`
	LastModified  string       `xml:"D:getlastmodified,omitempty"`
	ContentType   string       `xml:"D:getcontenttype,omitempty"`
	ETag          string       `xml:"D:getetag,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

func (s *svc) handlePropfind(w http.ResponseWriter, r *http.Request, v *store.Vault, slug, rel string) {
	depth, err := net.ParseDepth(r.Header.Get(net.HeaderDepth))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	root := s.fs.VaultRoot(v.UserID, v.Slug)

	fi, err := s.fs.Stat(root, rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ms := &multistatus{XMLNS: "DAV:"}
	ms.Responses = append(ms.Responses, s.entry(slug, rel, fi))

	if fi.IsDir() && depth != net.DepthZero {
		if err := s.appendChildren(ms, root, slug, rel, depth); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	body, err := xml.Marshal(ms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set(net.HeaderContentType, "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (s *svc) appendChildren(ms *multistatus, root, slug, rel string, depth net.Depth) error {
	entries, err := s.fs.ReadDir(root, rel)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); ok {
			return nil
		}
		return err
	}
	for _, e := range entries {
		// dot-entries like .obsidian/ stay listed so clients can manage
		// their own config trees; the sync machinery still skips them
		if localfs.IsTempFile(e.Name()) {
			continue
		}
		childRel := path.Join(rel, e.Name())
		fi, err := e.Info()
		if err != nil {
			continue
		}
		ms.Responses = append(ms.Responses, s.entry(slug, childRel, fi))
		if fi.IsDir() && depth == net.DepthInfinity {
			if err := s.appendChildren(ms, root, slug, childRel, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *svc) entry(slug, rel string, fi os.FileInfo) response {
	href := Prefix + "/" + slug
	if rel != "" {
		href += "/" + net.EncodePath(rel)
	}
	p := prop{LastModified: net.HTTPDate(fi.ModTime())}
	if fi.IsDir() {
		href += "/"
		p.ResourceType = resourceType{Collection: &struct{}{}}
	} else {
		p.ContentLength = strconv.FormatInt(fi.Size(), 10)
		p.ContentType = contentType(rel)
		p.ETag = net.ETag(fi)
	}
	return response{
		Href:     href,
		Propstat: propstat{Prop: p, Status: "HTTP/1.1 200 OK"},
	}
}
