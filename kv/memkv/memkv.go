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

// Package memkv is an in-memory kv.RwDB used by every _test.go file in this
// module, the way most teacher tests avoid touching real MDBX and reach for
// a lightweight fake instead. It is single-writer (one RwTx at a time,
// serialized by a mutex) and gives read transactions a deep-copied
// snapshot, so it honors the same snapshot-isolation contract spec §5
// requires of the real KV driver.
package memkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/erigontech/recordlayer/kv"
)

type memTable struct {
	keys [][]byte // sorted
	vals map[string][]byte
}

func newMemTable() *memTable {
	return &memTable{vals: map[string][]byte{}}
}

func (t *memTable) clone() *memTable {
	out := &memTable{
		keys: append([][]byte{}, t.keys...),
		vals: make(map[string][]byte, len(t.vals)),
	}
	for k, v := range t.vals {
		out.vals[k] = append([]byte{}, v...)
	}
	return out
}

func (t *memTable) find(key []byte) (int, bool) {
	i := sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], key) >= 0 })
	if i < len(t.keys) && bytes.Equal(t.keys[i], key) {
		return i, true
	}
	return i, false
}

func (t *memTable) get(key []byte) ([]byte, bool) {
	v, ok := t.vals[string(key)]
	return v, ok
}

func (t *memTable) set(key, value []byte) {
	i, exists := t.find(key)
	if !exists {
		cp := append([]byte{}, key...)
		t.keys = append(t.keys, nil)
		copy(t.keys[i+1:], t.keys[i:])
		t.keys[i] = cp
	}
	t.vals[string(key)] = append([]byte{}, value...)
}

func (t *memTable) del(key []byte) {
	i, exists := t.find(key)
	if !exists {
		return
	}
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	delete(t.vals, string(key))
}

func (t *memTable) delRange(begin, end []byte) {
	lo := sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], begin) >= 0 })
	hi := len(t.keys)
	if end != nil {
		hi = sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], end) >= 0 })
	}
	for _, k := range t.keys[lo:hi] {
		delete(t.vals, string(k))
	}
	t.keys = append(t.keys[:lo], t.keys[hi:]...)
}

func (t *memTable) scan(begin, end []byte, limit int) []kv.KVPair {
	lo := sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], begin) >= 0 })
	hi := len(t.keys)
	if end != nil {
		hi = sort.Search(len(t.keys), func(i int) bool { return bytes.Compare(t.keys[i], end) >= 0 })
	}
	var out []kv.KVPair
	for _, k := range t.keys[lo:hi] {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, kv.KVPair{Key: append([]byte{}, k...), Value: append([]byte{}, t.vals[string(k)]...)})
	}
	return out
}

// DB is an in-memory, single-writer kv.RwDB.
type DB struct {
	writerSem chan struct{}
	snapMu    chan struct{} // guards `tables` map pointer swaps

	tables map[string]*memTable
}

// New constructs an empty in-memory database.
func New() *DB {
	return &DB{
		writerSem: make(chan struct{}, 1),
		snapMu:    make(chan struct{}, 1),
		tables:    map[string]*memTable{},
	}
}

func (db *DB) snapshot() map[string]*memTable {
	db.snapMu <- struct{}{}
	defer func() { <-db.snapMu }()
	out := make(map[string]*memTable, len(db.tables))
	for name, t := range db.tables {
		out[name] = t.clone()
	}
	return out
}

func (db *DB) install(tables map[string]*memTable) {
	db.snapMu <- struct{}{}
	db.tables = tables
	<-db.snapMu
}

type sliceIter struct {
	pairs []kv.KVPair
	i     int
}

func (it *sliceIter) Next() (kv.KVPair, bool, error) {
	if it.i >= len(it.pairs) {
		return kv.KVPair{}, false, nil
	}
	p := it.pairs[it.i]
	it.i++
	return p, true, nil
}
func (it *sliceIter) Close() {}

type roTx struct {
	tables map[string]*memTable
}

func (tx *roTx) table(name string) *memTable {
	t, ok := tx.tables[name]
	if !ok {
		return newMemTable()
	}
	return t
}

func (tx *roTx) GetValue(table string, key []byte) ([]byte, bool, error) {
	v, ok := tx.table(table).get(key)
	return v, ok, nil
}

func (tx *roTx) GetRange(table string, begin, end []byte, limit int) (kv.Iter, error) {
	return &sliceIter{pairs: tx.table(table).scan(begin, end, limit)}, nil
}

type rwTx struct {
	db     *DB
	tables map[string]*memTable
	done   bool
}

func (tx *rwTx) table(name string) *memTable {
	t, ok := tx.tables[name]
	if !ok {
		t = newMemTable()
		tx.tables[name] = t
	}
	return t
}

func (tx *rwTx) GetValue(table string, key []byte) ([]byte, bool, error) {
	v, ok := tx.table(table).get(key)
	return v, ok, nil
}

func (tx *rwTx) GetRange(table string, begin, end []byte, limit int) (kv.Iter, error) {
	return &sliceIter{pairs: tx.table(table).scan(begin, end, limit)}, nil
}

func (tx *rwTx) SetValue(table string, key, value []byte) error {
	tx.table(table).set(key, value)
	return nil
}

func (tx *rwTx) Clear(table string, key []byte) error {
	tx.table(table).del(key)
	return nil
}

func (tx *rwTx) ClearRange(table string, begin, end []byte) error {
	tx.table(table).delRange(begin, end)
	return nil
}

func (tx *rwTx) AtomicOp(table string, key []byte, kind kv.AtomicKind, param int64) (int64, error) {
	t := tx.table(table)
	cur := int64(0)
	if v, ok := t.get(key); ok {
		if len(v) != 8 {
			return 0, fmt.Errorf("memkv: atomic op on non-8-byte value at key %x", key)
		}
		cur = int64(binary.LittleEndian.Uint64(v))
	}
	var next int64
	switch kind {
	case kv.AtomicAdd:
		next = cur + param
	case kv.AtomicMin:
		next = cur
		if param < cur {
			next = param
		}
	case kv.AtomicMax:
		next = cur
		if param > cur {
			next = param
		}
	default:
		return 0, fmt.Errorf("memkv: unknown atomic kind %d", kind)
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(next))
	t.set(key, buf)
	return next, nil
}

func (tx *rwTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.install(tx.tables)
	<-tx.db.writerSem
	return nil
}

func (tx *rwTx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	<-tx.db.writerSem
}

func (db *DB) BeginRo(ctx context.Context) (kv.Tx, error) {
	return &roTx{tables: db.snapshot()}, nil
}

func (db *DB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	db.writerSem <- struct{}{}
	return &rwTx{db: db, tables: db.snapshot()}, nil
}

func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	tx, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	return f(tx)
}

func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	tx, err := db.BeginRw(ctx)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *DB) Close() error { return nil }

var _ kv.RwDB = (*DB)(nil)
