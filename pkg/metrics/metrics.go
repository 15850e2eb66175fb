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

// Package metrics exposes the process's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsUpserted counts successful document upserts by change source.
	DocumentsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "documents_upserted_total",
		Help:      "Document rows created or updated, by change source.",
	}, []string{"source"})

	// DocumentsDeleted counts deleted document rows.
	DocumentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "documents_deleted_total",
		Help:      "Document rows deleted.",
	})

	// UpsertsShortCircuited counts upserts skipped by the content-hash guard.
	UpsertsShortCircuited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "upserts_short_circuited_total",
		Help:      "Upserts that were no-ops because the content hash was unchanged.",
	})

	// WatcherEvents counts filesystem events delivered to the handler.
	WatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "watcher_events_total",
		Help:      "Filesystem events delivered to the sync handler, by kind.",
	}, []string{"kind"})

	// WatcherSuppressed counts events dropped by the recently-written filter.
	WatcherSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "watcher_events_suppressed_total",
		Help:      "Filesystem events dropped because the engine caused them itself.",
	})

	// ReconcilerRuns counts reconciler passes.
	ReconcilerRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "reconciler_runs_total",
		Help:      "Completed reconciler passes.",
	})

	// ReconcilerSynced counts documents (re)synced from disk.
	ReconcilerSynced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "reconciler_synced_total",
		Help:      "Documents upserted from disk during reconciliation.",
	})

	// ReconcilerRemoved counts orphaned rows removed.
	ReconcilerRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdvault",
		Name:      "reconciler_removed_total",
		Help:      "Document rows removed because no disk counterpart exists.",
	})
)
