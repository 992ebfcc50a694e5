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

// Package migration implements the schema migration engine (spec 4.H): an
// ordered migration chain, a single-holder running flag, applied markers,
// and a resumable batch-processing loop backed by rangeset.
package migration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/erigontech/recordlayer/internal/rllog"
	"github.com/erigontech/recordlayer/internal/rlmetrics"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/tuple"
)

// Migration is one registered schema step: FromVersion -> ToVersion,
// applied by calling Execute with a fresh MigrationContext.
type Migration struct {
	FromVersion metadata.SchemaVersion
	ToVersion   metadata.SchemaVersion
	Execute     func(ctx context.Context, mc *MigrationContext) error
}

// ID is the applied-marker identifier, "<from>-<to>" (spec 4.H).
func (m Migration) ID() string { return fmt.Sprintf("%s-%s", m.FromVersion, m.ToVersion) }

// Manager holds the ordered migration chain and drives Migrate (spec 4.H:
// "schema, ordered migrations sorted by toVersion, migration subspace, a
// single-holder running flag").
type Manager struct {
	db         kv.RwDB
	sub        tuple.Subspace
	table      string
	migrations []Migration
	metrics    rlmetrics.Recorder
}

// New constructs a Manager, sorting migrations by ToVersion ascending.
func New(db kv.RwDB, sub tuple.Subspace, table string, migrations []Migration) *Manager {
	if table == "" {
		table = kv.DefaultTable
	}
	sorted := append([]Migration{}, migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ToVersion.Compare(sorted[j].ToVersion) < 0 })
	return &Manager{db: db, sub: sub, table: table, migrations: sorted, metrics: rlmetrics.Noop}
}

// SetMetrics installs r as the recorder every subsequent Migrate call's
// batches report to, labeled per migration step (spec §6).
func (m *Manager) SetMetrics(r rlmetrics.Recorder) { m.metrics = r }

func (m *Manager) runningKey() []byte        { return m.sub.Pack(tuple.Tuple{"running"}) }
func (m *Manager) currentVersionKey() []byte { return m.sub.Pack(tuple.Tuple{"current_version"}) }
func (m *Manager) appliedKey(id string) []byte {
	return m.sub.Sub("applied").Pack(tuple.Tuple{id})
}

// currentVersion reads migrations/current_version, defaulting to the zero
// version if absent.
func (m *Manager) currentVersion(tx kv.Tx) (metadata.SchemaVersion, error) {
	v, ok, err := tx.GetValue(m.table, m.currentVersionKey())
	if err != nil {
		return metadata.SchemaVersion{}, err
	}
	if !ok {
		return metadata.ZeroVersion, nil
	}
	t, err := tuple.Unpack(v)
	if err != nil {
		return metadata.SchemaVersion{}, err
	}
	return versionFromTuple(t)
}

func versionFromTuple(t tuple.Tuple) (metadata.SchemaVersion, error) {
	if len(t) != 3 {
		return metadata.SchemaVersion{}, rlerrors.New(rlerrors.InvalidSerializedData, "current_version")
	}
	major, ok1 := t[0].(int64)
	minor, ok2 := t[1].(int64)
	patch, ok3 := t[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return metadata.SchemaVersion{}, rlerrors.New(rlerrors.InvalidSerializedData, "current_version")
	}
	return metadata.SchemaVersion{Major: major, Minor: minor, Patch: patch}, nil
}

func versionTuple(v metadata.SchemaVersion) tuple.Tuple {
	return tuple.Tuple{v.Major, v.Minor, v.Patch}
}

// buildChain walks the deterministic migration chain from current to
// target: at each step, the first registered migration whose FromVersion
// equals the running current version and whose ToVersion is <= target
// (spec 4.H step 3).
func (m *Manager) buildChain(current, target metadata.SchemaVersion) ([]Migration, error) {
	var chain []Migration
	for current.Compare(target) != 0 {
		var next *Migration
		for i := range m.migrations {
			mg := m.migrations[i]
			if mg.FromVersion.Compare(current) == 0 && mg.ToVersion.Compare(target) <= 0 {
				next = &m.migrations[i]
				break
			}
		}
		if next == nil {
			return nil, rlerrors.New(rlerrors.NoMigrationPath, fmt.Sprintf("%s->%s", current, target))
		}
		chain = append(chain, *next)
		current = next.ToVersion
	}
	return chain, nil
}

// Migrate claims the running flag, walks the chain from the current
// persisted version to target, executes each unapplied migration, and
// persists the new current_version (spec 4.H).
func (m *Manager) Migrate(ctx context.Context, target metadata.SchemaVersion) error {
	if err := m.claimRunning(ctx); err != nil {
		return err
	}
	defer m.releaseRunning(ctx)

	roTx, err := m.db.BeginRo(ctx)
	if err != nil {
		return err
	}
	current, err := m.currentVersion(roTx)
	if err != nil {
		return err
	}

	chain, err := m.buildChain(current, target)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	rllog.L().Infow("migration chain starting", "runID", runID, "from", current.String(), "to", target.String(), "steps", len(chain))

	for _, mg := range chain {
		applied, err := m.isApplied(ctx, mg.ID())
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		mc := NewContext(m.db, m.sub, m.table).WithMetrics(mg.ID(), m.metrics)
		if err := mg.Execute(ctx, mc); err != nil {
			return rlerrors.Wrap(rlerrors.InternalError, mg.ID(), err)
		}
		if err := m.markApplied(ctx, mg.ID()); err != nil {
			return err
		}
		rllog.L().Infow("migration step applied", "runID", runID, "id", mg.ID())
	}

	return m.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.SetValue(m.table, m.currentVersionKey(), tuple.Pack(versionTuple(target)))
	})
}

func (m *Manager) claimRunning(ctx context.Context) error {
	return m.db.Update(ctx, func(tx kv.RwTx) error {
		_, held, err := tx.GetValue(m.table, m.runningKey())
		if err != nil {
			return err
		}
		if held {
			return rlerrors.New(rlerrors.MigrationInProgress, "")
		}
		return tx.SetValue(m.table, m.runningKey(), []byte{1})
	})
}

func (m *Manager) releaseRunning(ctx context.Context) {
	_ = m.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Clear(m.table, m.runningKey())
	})
}

func (m *Manager) isApplied(ctx context.Context, id string) (bool, error) {
	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return false, err
	}
	_, ok, err := tx.GetValue(m.table, m.appliedKey(id))
	return ok, err
}

func (m *Manager) markApplied(ctx context.Context, id string) error {
	return m.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.SetValue(m.table, m.appliedKey(id), tuple.Pack(tuple.Tuple{time.Now().UnixNano()}))
	})
}
