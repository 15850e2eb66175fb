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

package syncer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkConsumeOnce(t *testing.T) {
	c := New()
	defer c.Close()

	c.MarkWritten("/data/u/v/a.md")
	assert.True(t, c.ConsumeWritten("/data/u/v/a.md"))
	// consumed on first read
	assert.False(t, c.ConsumeWritten("/data/u/v/a.md"))
	// unknown path
	assert.False(t, c.ConsumeWritten("/data/u/v/b.md"))
}

func TestMarkExpires(t *testing.T) {
	c := New(WithRecentlyWrittenTTL(20 * time.Millisecond))
	defer c.Close()

	c.MarkWritten("/data/u/v/a.md")
	time.Sleep(60 * time.Millisecond)
	assert.False(t, c.ConsumeWritten("/data/u/v/a.md"))
}

func TestDebounceCollapsesBurst(t *testing.T) {
	c := New(WithDebounceWindow(30 * time.Millisecond))
	defer c.Close()

	var fired int32
	for i := 0; i < 10; i++ {
		c.Debounce("/p", func() { atomic.AddInt32(&fired, 1) })
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestDebouncePerPath(t *testing.T) {
	c := New(WithDebounceWindow(10 * time.Millisecond))
	defer c.Close()

	var fired int32
	c.Debounce("/a", func() { atomic.AddInt32(&fired, 1) })
	c.Debounce("/b", func() { atomic.AddInt32(&fired, 1) })
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fired))
}

func TestCloseCancelsPending(t *testing.T) {
	c := New(WithDebounceWindow(20 * time.Millisecond))

	var fired int32
	c.Debounce("/a", func() { atomic.AddInt32(&fired, 1) })
	c.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
