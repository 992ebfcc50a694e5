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

// Package store implements the record store routing surface (spec 4.D):
// per-(type, subspace) save/delete/fetch/scan, driving every applicable
// index maintainer inside the caller's own transaction.
package store

import (
	"github.com/erigontech/recordlayer/index"
	"github.com/erigontech/recordlayer/internal/rlmetrics"
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/tuple"
)

// Codec is the record serialization boundary (spec §6: "treated as an
// opaque codec"; deterministic Record.toBytes/fromBytes).
type Codec interface {
	Marshal(rec keyexpr.Record) ([]byte, error)
	Unmarshal(recordName string, data []byte) (keyexpr.Record, error)
}

// Store is a cached, typed record store for one entity rooted at sub
// (spec 4.D, 4.J: the PartitionManager's cache payload).
type Store struct {
	entity      *metadata.Entity
	sub         tuple.Subspace
	recordsSub  tuple.Subspace
	table       string
	codec       Codec
	maintainers []namedMaintainer
	metrics     rlmetrics.Recorder
}

type namedMaintainer struct {
	name string
	m    index.Maintainer
}

// New builds a Store for entity, deriving one Maintainer per index
// schema.IndexesFor(entity.Name) returns (spec 4.B: "the only source of
// truth consulted by the Store during writes").
func New(entity *metadata.Entity, schema *metadata.Schema, sub tuple.Subspace, table string, codec Codec) (*Store, error) {
	s := &Store{
		entity:     entity,
		sub:        sub,
		recordsSub: tuple.FromBytes(sub.Sub("records").Sub(entity.Name).Bytes()),
		table:      table,
		codec:      codec,
		metrics:    rlmetrics.Noop,
	}
	for _, idx := range schema.IndexesFor(entity.Name) {
		indexSub := tuple.FromBytes(sub.Sub("indexes").Sub(idx.Name).Bytes())
		m, err := index.New(idx, indexSub, table)
		if err != nil {
			return nil, rlerrors.Wrap(rlerrors.InternalError, idx.Name, err)
		}
		s.maintainers = append(s.maintainers, namedMaintainer{name: idx.Name, m: m})
	}
	return s, nil
}

func (s *Store) recordKey(pk tuple.Tuple) []byte { return s.recordsSub.Pack(pk) }

// SetMetrics swaps in r as this store's recorder (spec §6's optional
// statistics recorder; container.Config.Metrics wires this on a cache miss).
func (s *Store) SetMetrics(r rlmetrics.Recorder) { s.metrics = r }

// Save computes rec's primary key, writes the serialized payload, and
// drives every applicable maintainer's Update(old, new) in the same
// transaction (spec 4.D).
func (s *Store) Save(tx kv.RwTx, rec keyexpr.Record) error {
	s.metrics.IncStoreOp(s.entity.Name, "save")
	pk, err := rec.ExtractPrimaryKey()
	if err != nil {
		return err
	}
	payload, err := s.codec.Marshal(rec)
	if err != nil {
		return rlerrors.Wrap(rlerrors.SerializationFailed, rec.RecordName(), err)
	}

	var old keyexpr.Record
	existing, ok, err := tx.GetValue(s.table, s.recordKey(pk))
	if err != nil {
		return err
	}
	if ok {
		old, err = s.codec.Unmarshal(rec.RecordName(), existing)
		if err != nil {
			return rlerrors.Wrap(rlerrors.SerializationFailed, rec.RecordName(), err)
		}
	}

	for _, nm := range s.maintainers {
		if err := nm.m.Update(tx, old, rec); err != nil {
			return err
		}
	}
	return tx.SetValue(s.table, s.recordKey(pk), payload)
}

// Delete removes the record row and drives update(old, nil) on each
// applicable maintainer. Deleting a missing key is a no-op (spec 4.D).
func (s *Store) Delete(tx kv.RwTx, recordName string, pk tuple.Tuple) error {
	s.metrics.IncStoreOp(s.entity.Name, "delete")
	existing, ok, err := tx.GetValue(s.table, s.recordKey(pk))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	old, err := s.codec.Unmarshal(recordName, existing)
	if err != nil {
		return rlerrors.Wrap(rlerrors.SerializationFailed, recordName, err)
	}
	for _, nm := range s.maintainers {
		if err := nm.m.Update(tx, old, nil); err != nil {
			return err
		}
	}
	return tx.Clear(s.table, s.recordKey(pk))
}

// Fetch is a snapshot read of one record by primary key.
func (s *Store) Fetch(tx kv.Tx, recordName string, pk tuple.Tuple) (keyexpr.Record, bool, error) {
	s.metrics.IncStoreOp(s.entity.Name, "fetch")
	v, ok, err := tx.GetValue(s.table, s.recordKey(pk))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := s.codec.Unmarshal(recordName, v)
	if err != nil {
		return nil, false, rlerrors.Wrap(rlerrors.SerializationFailed, recordName, err)
	}
	return rec, true, nil
}

// Payload returns rec's raw serialized bytes under this store's codec. Used
// by the migration engine's batch loop to bound MaxBytesPerBatch against
// either raw or zstd-compressed size (spec 4.H).
func (s *Store) Payload(rec keyexpr.Record) ([]byte, error) {
	payload, err := s.codec.Marshal(rec)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.SerializationFailed, rec.RecordName(), err)
	}
	return payload, nil
}

// Cursor is a restartable position into a Scan; restart by passing
// Cursor.Next as the next call's begin (spec 4.D, 4.I: successor-based
// restart).
type Cursor struct {
	Next []byte
	Done bool
}

// Scan returns up to limit records with primary keys in [begin, end),
// plus a Cursor for resuming after the last returned key (spec 4.D:
// "lazy, finite, restartable sequence").
func (s *Store) Scan(tx kv.Tx, recordName string, begin, end []byte, limit int) ([]keyexpr.Record, Cursor, error) {
	s.metrics.IncStoreOp(s.entity.Name, "scan")
	rBegin, rEnd := s.recordsSub.Range()
	if begin != nil {
		rBegin = begin
	}
	if end != nil {
		rEnd = end
	}
	it, err := tx.GetRange(s.table, rBegin, rEnd, limit)
	if err != nil {
		return nil, Cursor{}, err
	}
	defer it.Close()

	var out []keyexpr.Record
	var lastKey []byte
	for {
		pair, ok, err := it.Next()
		if err != nil {
			return nil, Cursor{}, err
		}
		if !ok {
			break
		}
		rec, err := s.codec.Unmarshal(recordName, pair.Value)
		if err != nil {
			return nil, Cursor{}, rlerrors.Wrap(rlerrors.SerializationFailed, recordName, err)
		}
		out = append(out, rec)
		lastKey = pair.Key
	}
	if lastKey == nil {
		return out, Cursor{Done: true}, nil
	}
	if limit > 0 && len(out) < limit {
		return out, Cursor{Done: true}, nil
	}
	return out, Cursor{Next: tuple.Successor(lastKey)}, nil
}

// RecordsRange returns the full primary-key byte range this store's
// records occupy, used by the migration engine to seed a RangeSet scan
// (spec 4.H step 1).
func (s *Store) RecordsRange() (begin, end []byte) { return s.recordsSub.Range() }
