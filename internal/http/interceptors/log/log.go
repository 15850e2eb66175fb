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

// Package log logs HTTP requests and responses.
package log

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdvault/mdvault/pkg/appctx"
)

// New returns a middleware that logs one line per processed request.
func New() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return loggingHandler{handler: next}
	}
}

type loggingHandler struct {
	handler http.Handler
}

func (h loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := time.Now()
	logger := &responseLogger{w: w, status: http.StatusOK}
	h.handler.ServeHTTP(logger, r)
	writeLog(appctx.GetLogger(r.Context()), r, t, logger.status, logger.size)
}

func writeLog(log *zerolog.Logger, req *http.Request, ts time.Time, status, size int) {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}

	var event *zerolog.Event
	switch {
	case status < 400:
		event = log.Info()
	case status < 500:
		event = log.Warn()
	default:
		event = log.Error()
	}
	event.Str("host", host).Str("method", req.Method).Str("uri", req.URL.RequestURI()).
		Int("status", status).Int("size", size).
		Dur("duration", time.Since(ts)).
		Msg("processed http request")
}

// responseLogger is a wrapper of http.ResponseWriter that keeps track of
// its HTTP status code and body size.
type responseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
}

func (l *responseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *responseLogger) Write(b []byte) (int, error) {
	size, err := l.w.Write(b)
	l.size += size
	return size, err
}

func (l *responseLogger) WriteHeader(s int) {
	l.w.WriteHeader(s)
	l.status = s
}

func (l *responseLogger) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}
