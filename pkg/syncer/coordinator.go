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

// Package syncer holds the coordination state between the document engine
// and the filesystem watcher. It is the single mechanism that keeps the
// engine's own disk writes from being re-processed as external filesystem
// events, and it debounces bursts of events per path.
//
// One Coordinator exists per process; it is injected into both sides
// rather than reached through package state.
package syncer

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v2"
)

const (
	// DefaultRecentlyWrittenTTL is how long a self-write marker stays
	// visible to the watcher.
	DefaultRecentlyWrittenTTL = 5 * time.Second
	// DefaultDebounceWindow is the quiescence window before a filesystem
	// event is delivered.
	DefaultDebounceWindow = 500 * time.Millisecond
)

// Coordinator tracks recently-written paths and pending debounced
// callbacks, keyed by absolute path.
type Coordinator struct {
	recently *ttlcache.Cache

	mu      sync.Mutex
	pending map[string]*time.Timer
	window  time.Duration
	closed  bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecentlyWrittenTTL overrides the self-write marker TTL.
func WithRecentlyWrittenTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		_ = c.recently.SetTTL(ttl)
	}
}

// WithDebounceWindow overrides the debounce quiescence window.
func WithDebounceWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		c.window = d
	}
}

// New returns a ready Coordinator.
func New(opts ...Option) *Coordinator {
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(DefaultRecentlyWrittenTTL)
	cache.SkipTTLExtensionOnHit(true)

	c := &Coordinator{
		recently: cache,
		pending:  map[string]*time.Timer{},
		window:   DefaultDebounceWindow,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MarkWritten records that the engine itself just mutated abs on disk.
// Callers must invoke this synchronously after the disk mutation, before
// any further blocking work, so a watcher event can never overtake it.
func (c *Coordinator) MarkWritten(abs string) {
	_ = c.recently.Set(abs, time.Now())
}

// ConsumeWritten reports whether abs carries an unexpired self-write
// marker. The marker is consumed: a second call returns false.
func (c *Coordinator) ConsumeWritten(abs string) bool {
	if _, err := c.recently.Get(abs); err != nil {
		return false
	}
	_ = c.recently.Remove(abs)
	return true
}

// Debounce schedules fn to run after the debounce window of quiescence
// for abs. A newer event for the same path replaces the pending callback.
func (c *Coordinator) Debounce(abs string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if t, ok := c.pending[abs]; ok {
		t.Stop()
	}
	c.pending[abs] = time.AfterFunc(c.window, func() {
		c.mu.Lock()
		delete(c.pending, abs)
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

// Close cancels all pending callbacks and releases the marker cache.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for abs, t := range c.pending {
		t.Stop()
		delete(c.pending, abs)
	}
	c.mu.Unlock()
	_ = c.recently.Close()
}
