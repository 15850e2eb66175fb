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

// Package watcher feeds external filesystem changes under the data dir
// back into the document engine. Events are debounced per path, checked
// against the sync coordinator's self-write markers, and only applied
// once the file has been quiescent for the stability threshold, so
// editors writing in multiple chunks are picked up exactly once.
//
// inotify does not watch recursively; every directory in the tree is
// registered individually, at startup and again whenever a directory
// appears.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/document"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/metrics"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/syncer"
	"github.com/mdvault/mdvault/pkg/vaultpath"
)

// DefaultStability is how long a file must be quiescent before its
// content is taken as final.
const DefaultStability = 300 * time.Millisecond

// Watcher mirrors external disk changes into the database.
type Watcher struct {
	fs        *localfs.FS
	store     store.Store
	engine    *document.Engine
	coord     *syncer.Coordinator
	stability time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithStability overrides the quiescence threshold.
func WithStability(d time.Duration) Option {
	return func(w *Watcher) { w.stability = d }
}

// New returns a Watcher over the data dir served by fs.
func New(fs *localfs.FS, s store.Store, engine *document.Engine, coord *syncer.Coordinator, opts ...Option) *Watcher {
	w := &Watcher{fs: fs, store: s, engine: engine, coord: coord, stability: DefaultStability}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	log := appctx.GetLogger(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.fs.DataDir()); err != nil {
		return err
	}
	log.Info().Str("dir", w.fs.DataDir()).Msg("watching data dir")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.dispatch(ctx, fsw, ev)
		}
	}
}

// addRecursive registers dir and every subdirectory, skipping ignored
// names.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if localfs.Ignored(d.Name()) && p != dir {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}

func (w *Watcher) dispatch(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	abs := filepath.Clean(ev.Name)
	if localfs.Ignored(filepath.Base(abs)) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(abs); err == nil && fi.IsDir() {
			// a directory appeared, possibly moved in with content
			_ = w.addRecursive(fsw, abs)
			w.scheduleTree(ctx, abs)
			return
		}
	}

	if !strings.HasSuffix(abs, ".md") {
		// a vanished path has no stat to consult; a directory unlink
		// surfaces here too and is handled by the row cleanup
		if !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
			return
		}
	}

	metrics.WatcherEvents.WithLabelValues(opKind(ev.Op)).Inc()
	w.schedule(ctx, abs)
}

// scheduleTree schedules every markdown file below dir.
func (w *Watcher) scheduleTree(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if localfs.Ignored(d.Name()) && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !localfs.Ignored(d.Name()) && strings.HasSuffix(p, ".md") {
			w.schedule(ctx, p)
		}
		return nil
	})
}

func (w *Watcher) schedule(ctx context.Context, abs string) {
	w.coord.Debounce(abs, func() { w.handle(ctx, abs) })
}

// handle runs after the debounce window. It re-stats the path and acts
// on what is actually there now, which absorbs create/rename chains.
func (w *Watcher) handle(ctx context.Context, abs string) {
	log := appctx.GetLogger(ctx)

	if w.coord.ConsumeWritten(abs) {
		metrics.WatcherSuppressed.Inc()
		return
	}

	userID, slug, rel, err := vaultpath.SplitDataPath(w.fs.DataDir(), abs)
	if err != nil || rel == "" {
		return
	}
	v, err := w.store.GetVaultBySlug(ctx, userID, slug)
	if err != nil {
		// vault may be mid-delete
		return
	}

	fi, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		w.drop(ctx, v.ID, rel)
	case err != nil:
		log.Error().Err(err).Str("path", abs).Msg("stating changed file failed")
	case fi.IsDir():
		// directories carry no rows of their own
	default:
		if time.Since(fi.ModTime()) < w.stability {
			// still being written, come back when it settles
			w.schedule(ctx, abs)
			return
		}
		if _, err := w.engine.SyncFromDisk(ctx, v, rel, store.SourceWebDAV); err != nil {
			log.Error().Err(err).Str("path", rel).Msg("syncing changed file failed")
		}
	}
}

// drop removes the rows behind a vanished path. rel may have named a
// file or a whole directory; both are covered.
func (w *Watcher) drop(ctx context.Context, vaultID, rel string) {
	if strings.HasSuffix(rel, ".md") {
		if err := w.engine.DropDocument(ctx, vaultID, rel); err != nil {
			if _, ok := err.(errtypes.IsNotFound); !ok {
				appctx.GetLogger(ctx).Error().Err(err).Str("path", rel).Msg("dropping document row failed")
			}
		}
		return
	}
	if err := w.engine.DropTree(ctx, vaultID, rel); err != nil {
		appctx.GetLogger(ctx).Error().Err(err).Str("path", rel).Msg("dropping document rows failed")
	}
}

func opKind(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "other"
	}
}
