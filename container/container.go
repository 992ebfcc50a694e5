// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package container implements the PartitionManager (spec 4.J): a cached,
// mutex-guarded mapping from (tenantID, collection, recordType) to a typed
// *store.Store, rooted in a per-tenant directory subspace.
package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/singleflight"

	"github.com/erigontech/recordlayer/internal/rllog"
	"github.com/erigontech/recordlayer/internal/rlmetrics"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/store"
	"github.com/erigontech/recordlayer/tuple"
)

// RecordType registers one entity's schema and codec with the manager, so
// GetStore can build a *store.Store for it on a cache miss.
type RecordType struct {
	Entity *metadata.Entity
	Schema *metadata.Schema
	Codec  store.Codec
}

// Config configures a Manager.
type Config struct {
	DB kv.RwDB

	// Table is the KV table every store/index/rangeset key lives in.
	// Defaults to kv.DefaultTable.
	Table string

	// Root is the directory-layer path prefix all tenants are rooted
	// under, e.g. "recordlayer/tenants" (spec 4.C: Subspace.fromPath).
	Root string

	// RecordTypes maps a recordType name to its registered schema/codec.
	RecordTypes map[string]RecordType

	// Metrics, if set, is installed on every store.Store this Manager
	// builds (spec §6's optional statistics recorder). Defaults to
	// rlmetrics.Noop.
	Metrics rlmetrics.Recorder
}

type cacheKey struct {
	tenantID, collection, recordType string
}

func (k cacheKey) String() string {
	return k.tenantID + "." + k.collection + "." + k.recordType
}

// Manager is the PartitionManager: given (tenantID, collection,
// recordType), returns a reusable typed *store.Store (spec 4.J).
type Manager struct {
	db          kv.RwDB
	table       string
	root        string
	recordTypes map[string]RecordType

	mu    sync.Mutex
	cache map[cacheKey]*store.Store

	group   singleflight.Group
	metrics rlmetrics.Recorder
}

// New constructs a Manager. db must be non-nil.
func New(cfg Config) *Manager {
	table := cfg.Table
	if table == "" {
		table = kv.DefaultTable
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = rlmetrics.Noop
	}
	return &Manager{
		db:          cfg.DB,
		table:       table,
		root:        cfg.Root,
		recordTypes: cfg.RecordTypes,
		cache:       make(map[cacheKey]*store.Store),
		metrics:     metrics,
	}
}

// layerSuffix returns a short collision-resistant tag derived from layer,
// appended to a directory path so the same logical path under a different
// layer tag cannot collide inside the directory subspace (spec 4.C). The
// "partition" layer is the bare collection root and gets no suffix.
func layerSuffix(layer string) string {
	if layer == "" || layer == "partition" {
		return ""
	}
	h := murmur3.Sum32([]byte(layer))
	return fmt.Sprintf("~%08x", h)
}

// GetStore returns the cached store for (tenantID, collection,
// recordType), building and caching it on a miss. Concurrent misses for
// the same key collapse into a single resolution (spec §5: "read cache
// under lock → release → if miss, do I/O → reacquire lock → insert").
func (m *Manager) GetStore(ctx context.Context, tenantID, collection, recordType string) (*store.Store, error) {
	key := cacheKey{tenantID: tenantID, collection: collection, recordType: recordType}

	m.mu.Lock()
	if s, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(key.String(), func() (any, error) {
		// A call that finished between the check above and this one has
		// already cached the store; reuse it instead of building another.
		m.mu.Lock()
		if s, ok := m.cache[key]; ok {
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		rt, ok := m.recordTypes[recordType]
		if !ok {
			return nil, fmt.Errorf("container: unknown record type %q", recordType)
		}

		path := fmt.Sprintf("%s/%s/%s%s", m.root, tenantID, collection, layerSuffix("partition"))
		sub := tuple.FromPath(path)

		s, err := store.New(rt.Entity, rt.Schema, sub, m.table, rt.Codec)
		if err != nil {
			return nil, err
		}
		s.SetMetrics(m.metrics)

		m.mu.Lock()
		// Last writer wins for equal values: a racing builder computed the
		// same sub/schema and is harmless to overwrite.
		m.cache[key] = s
		m.mu.Unlock()
		rllog.L().Infow("partition store opened", "tenant", tenantID, "collection", collection, "recordType", recordType)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Store), nil
}

// ClearCache drops every cached store, forcing the next GetStore call per
// key to rebuild (spec 4.J: "cache eviction is explicit").
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[cacheKey]*store.Store)
}

// DeleteTenant clears every cache entry for tenantID, then clears the
// tenant's entire subspace range in a single transaction (spec 4.J).
func (m *Manager) DeleteTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	for key := range m.cache {
		if key.tenantID == tenantID {
			delete(m.cache, key)
		}
	}
	m.mu.Unlock()

	tenantSub := tuple.FromPath(fmt.Sprintf("%s/%s", m.root, tenantID))
	begin, end := tenantSub.Range()
	return m.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.ClearRange(m.table, begin, end)
	})
}
