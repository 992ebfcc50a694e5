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

// Package bolt is a kv.RwDB backed by go.etcd.io/bbolt: a pure-Go, no-cgo
// alternative to kv/mdbx; a caller opens it and passes it as
// container.Config.DB. It exercises the exact same kv.Tx/kv.RwTx contract against a different
// engine, the way erigon-lib's own go.mod carries both mdbx-go and bbolt.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/erigontech/recordlayer/kv"
)

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

// DB wraps a *bolt.DB as a kv.RwDB.
type DB struct {
	bdb *bolt.DB
}

// Open opens (creating if absent) a bbolt file at path.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv/bolt: open %s: %w", path, err)
	}
	return &DB{bdb: bdb}, nil
}

func (db *DB) Close() error { return db.bdb.Close() }

func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	return db.bdb.View(func(btx *bolt.Tx) error {
		return f(&roTx{btx: btx})
	})
}

func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	return db.bdb.Update(func(btx *bolt.Tx) error {
		return f(&rwTx{roTx: roTx{btx: btx}})
	})
}

// BeginRo starts a standalone read-only transaction the caller must close
// with Rollback (bbolt read transactions are released by Rollback).
func (db *DB) BeginRo(ctx context.Context) (kv.Tx, error) {
	btx, err := db.bdb.Begin(false)
	if err != nil {
		return nil, err
	}
	return &roTx{btx: btx, standalone: true}, nil
}

// BeginRw starts a standalone read-write transaction.
func (db *DB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	btx, err := db.bdb.Begin(true)
	if err != nil {
		return nil, err
	}
	return &rwTx{roTx: roTx{btx: btx, standalone: true}}, nil
}

type roTx struct {
	btx        *bolt.Tx
	standalone bool
}

func bucketName(table string) []byte { return []byte(table) }

func (tx *roTx) bucket(table string) *bolt.Bucket {
	return tx.btx.Bucket(bucketName(table))
}

func (tx *roTx) GetValue(table string, key []byte) ([]byte, bool, error) {
	b := tx.bucket(table)
	if b == nil {
		return nil, false, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (tx *roTx) GetRange(table string, begin, end []byte, limit int) (kv.Iter, error) {
	b := tx.bucket(table)
	if b == nil {
		return &emptyIter{}, nil
	}
	c := b.Cursor()
	return &boltIter{cursor: c, end: end, limit: limit, started: false, begin: begin}, nil
}

// Rollback releases a standalone read-only transaction. Calling it on a
// transaction owned by View (non-standalone) is a harmless no-op, mirroring
// kv.RwTx.Rollback's "safe to call after Commit" contract.
func (tx *roTx) Rollback() {
	if tx.standalone {
		_ = tx.btx.Rollback()
	}
}

type rwTx struct {
	roTx
}

func (tx *rwTx) SetValue(table string, key, value []byte) error {
	b, err := tx.btx.CreateBucketIfNotExists(bucketName(table))
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (tx *rwTx) Clear(table string, key []byte) error {
	b := tx.bucket(table)
	if b == nil {
		return nil
	}
	return b.Delete(key)
}

func (tx *rwTx) ClearRange(table string, begin, end []byte) error {
	b := tx.bucket(table)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(begin); k != nil; k, _ = c.Next() {
		if end != nil && gte(k, end) {
			break
		}
		toDelete = append(toDelete, append([]byte{}, k...))
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (tx *rwTx) AtomicOp(table string, key []byte, kind kv.AtomicKind, param int64) (int64, error) {
	b, err := tx.btx.CreateBucketIfNotExists(bucketName(table))
	if err != nil {
		return 0, err
	}
	cur := int64(0)
	if v := b.Get(key); v != nil {
		if len(v) != 8 {
			return 0, fmt.Errorf("kv/bolt: atomic op on non-8-byte value at key %x", key)
		}
		cur = decodeInt64(v)
	}
	var next int64
	switch kind {
	case kv.AtomicAdd:
		next = cur + param
	case kv.AtomicMin:
		next = min64(cur, param)
	case kv.AtomicMax:
		next = max64(cur, param)
	default:
		return 0, fmt.Errorf("kv/bolt: unknown atomic kind %d", kind)
	}
	if err := b.Put(key, encodeInt64(next)); err != nil {
		return 0, err
	}
	return next, nil
}

func (tx *rwTx) Commit() error {
	if tx.standalone {
		return tx.btx.Commit()
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

type emptyIter struct{}

func (e *emptyIter) Next() (kv.KVPair, bool, error) { return kv.KVPair{}, false, nil }
func (e *emptyIter) Close()                         {}

type boltIter struct {
	cursor  *bolt.Cursor
	begin   []byte
	end     []byte
	limit   int
	count   int
	started bool
}

func (it *boltIter) Next() (kv.KVPair, bool, error) {
	if it.limit > 0 && it.count >= it.limit {
		return kv.KVPair{}, false, nil
	}
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.cursor.Seek(it.begin)
	} else {
		k, v = it.cursor.Next()
	}
	if k == nil {
		return kv.KVPair{}, false, nil
	}
	if it.end != nil && gte(k, it.end) {
		return kv.KVPair{}, false, nil
	}
	it.count++
	return kv.KVPair{Key: append([]byte{}, k...), Value: append([]byte{}, v...)}, true, nil
}

func (it *boltIter) Close() {}

func gte(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) >= len(b)
}

var _ kv.RwDB = (*DB)(nil)
