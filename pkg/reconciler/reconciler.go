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

// Package reconciler converges database rows with the on-disk truth.
// It walks the data dir, re-upserts every markdown file it finds (the
// engine's hash short-circuit makes unchanged files free) and drops
// rows whose file is gone. It runs once at startup and then on an
// interval, and it is the repair path for database failures that happen
// after a disk write succeeded.
package reconciler

import (
	"context"
	"os"
	"time"

	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/document"
	"github.com/mdvault/mdvault/pkg/errtypes"
	"github.com/mdvault/mdvault/pkg/metrics"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
)

// DefaultInterval between reconciliation passes.
const DefaultInterval = 6 * time.Hour

// Reconciler drives the periodic disk/database convergence.
type Reconciler struct {
	store    store.Store
	fs       *localfs.FS
	engine   *document.Engine
	interval time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInterval overrides the pass interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// New returns a Reconciler.
func New(s store.Store, fs *localfs.FS, engine *document.Engine, opts ...Option) *Reconciler {
	r := &Reconciler{store: s, fs: fs, engine: engine, interval: DefaultInterval}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run reconciles once immediately and then on every interval tick until
// ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.Reconcile(ctx); err != nil {
		appctx.GetLogger(ctx).Error().Err(err).Msg("startup reconciliation failed")
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				appctx.GetLogger(ctx).Error().Err(err).Msg("reconciliation failed")
			}
		}
	}
}

// Reconcile runs one full pass over every user directory that matches a
// user row and every child directory that matches one of their vaults.
// Unknown directories are left alone.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	log := appctx.GetLogger(ctx)
	start := time.Now()
	var synced, removed int64

	userDirs, err := os.ReadDir(r.fs.DataDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, ud := range userDirs {
		if !ud.IsDir() || localfs.Ignored(ud.Name()) {
			continue
		}
		if _, err := r.store.GetUser(ctx, ud.Name()); err != nil {
			continue
		}
		vaultDirs, err := r.fs.ReadDir(r.fs.DataDir(), ud.Name())
		if err != nil {
			continue
		}
		for _, vd := range vaultDirs {
			if !vd.IsDir() || localfs.Ignored(vd.Name()) {
				continue
			}
			v, err := r.store.GetVaultBySlug(ctx, ud.Name(), vd.Name())
			if err != nil {
				continue
			}
			s, rm, err := r.reconcileVault(ctx, v)
			if err != nil {
				log.Error().Err(err).Str("vault", v.ID).Msg("reconciling vault failed")
				continue
			}
			synced += s
			removed += rm
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	metrics.ReconcilerRuns.Inc()
	log.Info().
		Int64("synced", synced).
		Int64("removed", removed).
		Dur("took", time.Since(start)).
		Msg("reconciliation pass done")
	return nil
}

func (r *Reconciler) reconcileVault(ctx context.Context, v *store.Vault) (synced, removed int64, err error) {
	root := r.fs.VaultRoot(v.UserID, v.Slug)

	diskSet, err := r.fs.WalkMarkdown(root, "")
	if err != nil {
		return 0, 0, err
	}
	onDisk := make(map[string]struct{}, len(diskSet))
	for _, rel := range diskSet {
		onDisk[rel] = struct{}{}
	}

	docs, err := r.store.ListDocuments(ctx, v.ID, "")
	if err != nil {
		return 0, 0, err
	}

	for _, rel := range diskSet {
		changed, err := r.engine.SyncFromDisk(ctx, v, rel, store.SourceWebDAV)
		if err != nil {
			// the vault may have disappeared mid-scan; stop quietly
			if _, ok := err.(errtypes.IsNotFound); ok {
				return synced, removed, nil
			}
			continue
		}
		// files the hash guard skipped are already converged and do
		// not count as syncs
		if changed {
			synced++
			metrics.ReconcilerSynced.Inc()
		}
	}
	for _, d := range docs {
		if _, ok := onDisk[d.Path]; ok {
			continue
		}
		if err := r.engine.DropDocument(ctx, v.ID, d.Path); err != nil {
			continue
		}
		removed++
		metrics.ReconcilerRemoved.Inc()
	}
	return synced, removed, nil
}
