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

// Package mdbx is the primary kv.RwDB implementation, backed by
// github.com/erigontech/mdbx-go — the same driver erigon-lib itself uses
// for its kv.RwDB. This is the concrete stand-in for spec §6's "KV driver"
// collaborator in integration tests that want a real, durable, ACID
// transactional engine rather than kv/memkv's in-memory fake.
package mdbx

import (
	"context"
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/erigontech/recordlayer/kv"
)

// DB wraps an *mdbx.Env as a kv.RwDB. Every table this module touches is
// opened eagerly at construction time (spec's flat keyspace lives entirely
// under kv.DefaultTable, opened once here).
type DB struct {
	env     *mdbx.Env
	dbiName string
}

// Open creates or opens an MDBX environment rooted at path.
func Open(path string, tables ...string) (*DB, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("kv/mdbx: new env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(tables)+1)); err != nil {
		return nil, fmt.Errorf("kv/mdbx: set max dbs: %w", err)
	}
	if err := env.Open(path, mdbx.Create, 0o600); err != nil {
		return nil, fmt.Errorf("kv/mdbx: open %s: %w", path, err)
	}
	db := &DB{env: env, dbiName: kv.DefaultTable}
	if err := env.Update(func(txn *mdbx.Txn) error {
		_, err := txn.OpenDBISimple(db.dbiName, mdbx.Create)
		return err
	}); err != nil {
		return nil, fmt.Errorf("kv/mdbx: create table %s: %w", db.dbiName, err)
	}
	return db, nil
}

func (db *DB) Close() error {
	db.env.Close()
	return nil
}

func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	return db.env.View(func(txn *mdbx.Txn) error {
		txn.RawRead = true
		return f(&mdbxTx{txn: txn})
	})
}

func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	return db.env.Update(func(txn *mdbx.Txn) error {
		return f(&mdbxTx{txn: txn})
	})
}

func (db *DB) BeginRo(ctx context.Context) (kv.Tx, error) {
	txn, err := db.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, err
	}
	return &mdbxTx{txn: txn, standalone: true}, nil
}

func (db *DB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	txn, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		return nil, err
	}
	return &mdbxTx{txn: txn, standalone: true}, nil
}

type mdbxTx struct {
	txn        *mdbx.Txn
	standalone bool
}

func (tx *mdbxTx) dbi(table string) (mdbx.DBI, error) {
	return tx.txn.OpenDBISimple(table, mdbx.Create)
}

func (tx *mdbxTx) GetValue(table string, key []byte) ([]byte, bool, error) {
	dbi, err := tx.dbi(table)
	if err != nil {
		return nil, false, err
	}
	v, err := tx.txn.Get(dbi, key)
	if mdbx.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return append([]byte{}, v...), true, nil
}

func (tx *mdbxTx) GetRange(table string, begin, end []byte, limit int) (kv.Iter, error) {
	dbi, err := tx.dbi(table)
	if err != nil {
		return nil, err
	}
	cur, err := tx.txn.OpenCursor(dbi)
	if err != nil {
		return nil, err
	}
	return &mdbxIter{cursor: cur, begin: begin, end: end, limit: limit}, nil
}

func (tx *mdbxTx) SetValue(table string, key, value []byte) error {
	dbi, err := tx.dbi(table)
	if err != nil {
		return err
	}
	return tx.txn.Put(dbi, key, value, 0)
}

func (tx *mdbxTx) Clear(table string, key []byte) error {
	dbi, err := tx.dbi(table)
	if err != nil {
		return err
	}
	err = tx.txn.Del(dbi, key, nil)
	if mdbx.IsNotFound(err) {
		return nil
	}
	return err
}

func (tx *mdbxTx) ClearRange(table string, begin, end []byte) error {
	it, err := tx.GetRange(table, begin, end, 0)
	if err != nil {
		return err
	}
	defer it.Close()
	dbi, err := tx.dbi(table)
	if err != nil {
		return err
	}
	var keys [][]byte
	for {
		pair, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		keys = append(keys, pair.Key)
	}
	for _, k := range keys {
		if err := tx.txn.Del(dbi, k, nil); err != nil && !mdbx.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (tx *mdbxTx) AtomicOp(table string, key []byte, kind kv.AtomicKind, param int64) (int64, error) {
	dbi, err := tx.dbi(table)
	if err != nil {
		return 0, err
	}
	cur := int64(0)
	v, err := tx.txn.Get(dbi, key)
	if err != nil && !mdbx.IsNotFound(err) {
		return 0, err
	}
	if err == nil {
		if len(v) != 8 {
			return 0, fmt.Errorf("kv/mdbx: atomic op on non-8-byte value at key %x", key)
		}
		cur = decodeInt64(v)
	}
	var next int64
	switch kind {
	case kv.AtomicAdd:
		next = cur + param
	case kv.AtomicMin:
		if param < cur {
			next = param
		} else {
			next = cur
		}
	case kv.AtomicMax:
		if param > cur {
			next = param
		} else {
			next = cur
		}
	default:
		return 0, fmt.Errorf("kv/mdbx: unknown atomic kind %d", kind)
	}
	if err := tx.txn.Put(dbi, key, encodeInt64(next), 0); err != nil {
		return 0, err
	}
	return next, nil
}

func (tx *mdbxTx) Commit() error {
	if !tx.standalone {
		return nil
	}
	_, err := tx.txn.Commit()
	return err
}

func (tx *mdbxTx) Rollback() {
	if tx.standalone {
		tx.txn.Abort()
	}
}

type mdbxIter struct {
	cursor  *mdbx.Cursor
	begin   []byte
	end     []byte
	limit   int
	count   int
	started bool
}

func (it *mdbxIter) Next() (kv.KVPair, bool, error) {
	if it.limit > 0 && it.count >= it.limit {
		return kv.KVPair{}, false, nil
	}
	var k, v []byte
	var err error
	if !it.started {
		it.started = true
		k, v, err = it.cursor.Get(it.begin, nil, mdbx.SetRange)
	} else {
		k, v, err = it.cursor.Get(nil, nil, mdbx.Next)
	}
	if mdbx.IsNotFound(err) {
		return kv.KVPair{}, false, nil
	}
	if err != nil {
		return kv.KVPair{}, false, err
	}
	if it.end != nil && gte(k, it.end) {
		return kv.KVPair{}, false, nil
	}
	it.count++
	return kv.KVPair{Key: append([]byte{}, k...), Value: append([]byte{}, v...)}, true, nil
}

func (it *mdbxIter) Close() { it.cursor.Close() }

func gte(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) >= len(b)
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func decodeInt64(b []byte) int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v |= int64(b[i]) << (8 * i)
	}
	return v
}

var _ kv.RwDB = (*DB)(nil)
