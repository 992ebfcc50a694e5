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

package migration_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/memkv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/migration"
	"github.com/erigontech/recordlayer/rangeset"
	"github.com/erigontech/recordlayer/store"
	"github.com/erigontech/recordlayer/tuple"
)

// counter is a minimal keyexpr.Record fixture: id (pk), value.
type counter struct {
	id    int64
	value int64
}

func (c *counter) RecordName() string { return "Counter" }

func (c *counter) ExtractField(name string) ([]any, bool, error) {
	switch name {
	case "id":
		return []any{c.id}, true, nil
	case "value":
		return []any{c.value}, true, nil
	}
	return nil, false, nil
}

func (c *counter) ExtractPrimaryKey() (tuple.Tuple, error) { return tuple.Tuple{c.id}, nil }

func (c *counter) SubRecord(string) (keyexpr.Record, bool, error) { return nil, false, nil }

type counterCodec struct{}

func (counterCodec) Marshal(rec keyexpr.Record) ([]byte, error) {
	c := rec.(*counter)
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[:8], uint64(c.id))
	binary.LittleEndian.PutUint64(out[8:], uint64(c.value))
	return out, nil
}

func (counterCodec) Unmarshal(recordName string, data []byte) (keyexpr.Record, error) {
	if len(data) < 16 {
		return nil, errors.New("short record")
	}
	return &counter{
		id:    int64(binary.LittleEndian.Uint64(data[:8])),
		value: int64(binary.LittleEndian.Uint64(data[8:])),
	}, nil
}

func newCounterStore(t *testing.T, sub tuple.Subspace) *store.Store {
	entity, err := metadata.NewEntity("Counter", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "value"},
	}, []string{"id"})
	require.NoError(t, err)
	schema, err := metadata.NewSchema(metadata.SchemaVersion{Major: 1}, []*metadata.Entity{entity}, nil, nil)
	require.NoError(t, err)
	e, ok := schema.Entity("Counter")
	require.True(t, ok)
	s, err := store.New(e, schema, sub, "", counterCodec{})
	require.NoError(t, err)
	return s
}

func seedCounters(t *testing.T, db kv.RwDB, s *store.Store, n int) {
	require.NoError(t, db.Update(context.Background(), func(tx kv.RwTx) error {
		for i := 0; i < n; i++ {
			if err := s.Save(tx, &counter{id: int64(i), value: 0}); err != nil {
				return err
			}
		}
		return nil
	}))
}

// TestTransformRecordsAppliesExactlyOnce covers testable property 8: a
// resumable batch transform visits every record in [begin, end) exactly
// once, regardless of batch boundary placement.
func TestTransformRecordsAppliesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	sub := tuple.FromBytes([]byte("m"))
	s := newCounterStore(t, sub)
	seedCounters(t, db, s, 47)

	applyCount := map[int64]int{}
	mc := migration.NewContext(db, sub, "")
	cfg := migration.BatchConfig{MaxRecordsPerBatch: 5, MaxBytesPerBatch: 1 << 20, MaxTimePerBatch: 0}

	err := mc.TransformRecords(ctx, "Counter", s, cfg, func(rec keyexpr.Record) (keyexpr.Record, error) {
		c := rec.(*counter)
		applyCount[c.id]++
		c.value++
		return c, nil
	})
	require.NoError(t, err)

	require.Len(t, applyCount, 47)
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		for i := 0; i < 47; i++ {
			rec, ok, err := s.Fetch(tx, "Counter", tuple.Tuple{int64(i)})
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, int64(1), rec.(*counter).value)
			require.Equal(t, 1, applyCount[int64(i)])
		}
		return nil
	}))
}

// TestTransformRecordsResumesAfterInterruption covers literal scenario E5:
// a transform that fails partway through (simulating a crash after some
// batches committed) must, on retry, resume from where it left off rather
// than redoing or skipping records.
func TestTransformRecordsResumesAfterInterruption(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	sub := tuple.FromBytes([]byte("m"))
	s := newCounterStore(t, sub)
	seedCounters(t, db, s, 40)

	mc := migration.NewContext(db, sub, "")
	cfg := migration.BatchConfig{MaxRecordsPerBatch: 4, MaxBytesPerBatch: 1 << 20, MaxTimePerBatch: 0}

	var batches int
	applyCount := map[int64]int{}
	failAfter := 3 // "kill" after the 3rd batch commits
	err := mc.TransformRecords(ctx, "Counter", s, cfg, func(rec keyexpr.Record) (keyexpr.Record, error) {
		c := rec.(*counter)
		if c.id%4 == 0 { // first record of a fresh batch: count batches
			batches++
		}
		if batches > failAfter {
			return nil, errors.New("simulated crash")
		}
		applyCount[c.id]++
		c.value++
		return c, nil
	})
	require.Error(t, err)
	require.Less(t, len(applyCount), 40)

	// Resume: a fresh MigrationContext (simulating process restart), no
	// induced failure this time.
	mc2 := migration.NewContext(db, sub, "")
	err = mc2.TransformRecords(ctx, "Counter", s, cfg, func(rec keyexpr.Record) (keyexpr.Record, error) {
		c := rec.(*counter)
		applyCount[c.id]++
		c.value++
		return c, nil
	})
	require.NoError(t, err)

	require.Len(t, applyCount, 40)
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		for i := 0; i < 40; i++ {
			rec, ok, err := s.Fetch(tx, "Counter", tuple.Tuple{int64(i)})
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, int64(1), rec.(*counter).value, "record %d must be transformed exactly once", i)
			require.Equal(t, 1, applyCount[int64(i)], "record %d applied exactly once", i)
		}
		return nil
	}))

	begin, end := s.RecordsRange()
	rs := rangeset.New(sub.Sub("migrations").Sub("transform").Sub("Counter"), "")
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		missing, err := rs.MissingRanges(tx, begin, end)
		require.NoError(t, err)
		require.Empty(t, missing, "full record range must be covered after resumption")
		return nil
	}))
}

// TestDeleteRecordsResumable covers DeleteRecords' use of the same
// resumable walk: every matching record is deleted exactly once.
func TestDeleteRecordsResumable(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	sub := tuple.FromBytes([]byte("m"))
	s := newCounterStore(t, sub)
	seedCounters(t, db, s, 20)

	mc := migration.NewContext(db, sub, "")
	cfg := migration.BatchConfig{MaxRecordsPerBatch: 3, MaxBytesPerBatch: 1 << 20, MaxTimePerBatch: 0}

	err := mc.DeleteRecords(ctx, "Counter", s, func(rec keyexpr.Record) bool {
		return rec.(*counter).id%2 == 0
	}, cfg)
	require.NoError(t, err)

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		for i := 0; i < 20; i++ {
			_, ok, err := s.Fetch(tx, "Counter", tuple.Tuple{int64(i)})
			require.NoError(t, err)
			if i%2 == 0 {
				require.False(t, ok, "even id %d must be deleted", i)
			} else {
				require.True(t, ok, "odd id %d must survive", i)
			}
		}
		return nil
	}))
}
