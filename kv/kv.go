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

// Package kv is the external KV driver contract (spec §6): the boundary
// collaborator this repo never re-implements, only depends on. It mirrors
// erigon-lib's own kv.Tx/kv.RwTx surface, down to threading a transaction
// handle as a plain function parameter (see tests/state_test_util.go's
// `func (t *StateTest) Run(tx kv.RwTx, ...)` in the teacher repo).
//
// Every caller in this module addresses one logical table, kv.DefaultTable,
// and partitions the flat keyspace itself using tuple.Subspace prefixes, in
// keeping with spec §1's "flat sorted byte-keyspace" premise; the table
// parameter survives in the interface because every concrete backend
// (MDBX, bbolt) is itself a multi-table store and a second table name is
// useful for tests that want physical isolation.
package kv

import "context"

// DefaultTable is the single logical table every package in this module
// reads and writes through, subspaced by tuple.Subspace prefixes.
const DefaultTable = "recordlayer"

// AtomicKind selects the associative operation for Tx.AtomicOp (spec §6:
// "atomicOp(key, param, kind in {add, min, max, ...})").
type AtomicKind int

const (
	AtomicAdd AtomicKind = iota
	AtomicMin
	AtomicMax
)

// KVPair is one (key, value) observed during a range scan.
type KVPair struct {
	Key   []byte
	Value []byte
}

// Iter is a lazy, forward-only cursor over a range scan's results.
type Iter interface {
	// Next advances the iterator. It returns ok=false once the range is
	// exhausted (and err==nil), or on error.
	Next() (pair KVPair, ok bool, err error)
	// Close releases cursor resources. Safe to call multiple times.
	Close()
}

// Tx is a read-only (or read side of a read-write) transaction, offering a
// single consistent snapshot view.
type Tx interface {
	// GetValue returns the value stored at key, or ok=false if absent.
	GetValue(table string, key []byte) (value []byte, ok bool, err error)
	// GetRange returns a lazy iterator over [begin, end). end==nil means
	// unbounded. limit<=0 means unbounded count.
	GetRange(table string, begin, end []byte, limit int) (Iter, error)
}

// RwTx additionally allows mutation; mutations are only durable once
// Commit succeeds, and are applied atomically at commit time (spec §5).
type RwTx interface {
	Tx
	SetValue(table string, key, value []byte) error
	Clear(table string, key []byte) error
	ClearRange(table string, begin, end []byte) error
	// AtomicOp applies an associative operation to the 8-byte
	// little-endian integer stored at key (creating it as 0 first if
	// absent) and returns the resulting value.
	AtomicOp(table string, key []byte, kind AtomicKind, param int64) (result int64, err error)
	// Commit finalizes the transaction. The transaction must not be used
	// afterward.
	Commit() error
	// Rollback discards the transaction. Safe to call after Commit (no-op).
	Rollback()
}

// RoDB is a handle to a store capable of read-only transactions.
type RoDB interface {
	View(ctx context.Context, f func(tx Tx) error) error
	Close() error
}

// RwDB additionally supports read-write transactions. Every concrete
// backend (kv/mdbx, kv/bolt, kv/memkv) implements RwDB.
type RwDB interface {
	RoDB
	Update(ctx context.Context, f func(tx RwTx) error) error
	// BeginRw starts an explicit read-write transaction the caller must
	// Commit or Rollback themselves; used by the migration engine's
	// batch loop, which needs a snapshot read transaction and a separate
	// write transaction in the same step (spec 4.H).
	BeginRw(ctx context.Context) (RwTx, error)
	BeginRo(ctx context.Context) (Tx, error)
}
