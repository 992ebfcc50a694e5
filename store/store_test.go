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

package store_test

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
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/store"
	"github.com/erigontech/recordlayer/tuple"
)

// user is a minimal keyexpr.Record fixture: id (pk), email.
type user struct {
	id    int64
	email string
}

func (u *user) RecordName() string { return "User" }

func (u *user) ExtractField(name string) ([]any, bool, error) {
	switch name {
	case "id":
		return []any{u.id}, true, nil
	case "email":
		return []any{u.email}, true, nil
	}
	return nil, false, nil
}

func (u *user) ExtractPrimaryKey() (tuple.Tuple, error) { return tuple.Tuple{u.id}, nil }

func (u *user) SubRecord(string) (keyexpr.Record, bool, error) { return nil, false, nil }

// userCodec encodes a user as 8-byte id + raw email bytes.
type userCodec struct{}

func (userCodec) Marshal(rec keyexpr.Record) ([]byte, error) {
	u := rec.(*user)
	out := make([]byte, 8+len(u.email))
	binary.LittleEndian.PutUint64(out, uint64(u.id))
	copy(out[8:], u.email)
	return out, nil
}

func (userCodec) Unmarshal(recordName string, data []byte) (keyexpr.Record, error) {
	if len(data) < 8 {
		return nil, errors.New("short record")
	}
	return &user{id: int64(binary.LittleEndian.Uint64(data)), email: string(data[8:])}, nil
}

func newUserSchema(t *testing.T, unique bool) *metadata.Schema {
	entity, err := metadata.NewEntity("User", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "email"},
	}, []string{"id"})
	require.NoError(t, err)

	idx := metadata.Index{
		Name: "by_email",
		Kind: metadata.IndexValue,
		Root: keyexpr.Field{Name: "email"},
	}
	if unique {
		idx.Kind = metadata.IndexUnique
	}

	schema, err := metadata.NewSchema(metadata.SchemaVersion{Major: 1}, []*metadata.Entity{entity}, []metadata.Index{idx}, nil)
	require.NoError(t, err)
	return schema
}

// TestSaveFetchDeleteMaintainsIndex covers testable property 1: after
// save(r) commits, the applicable index contains exactly i.eval(r)'s key,
// and no stale key from the prior state remains.
func TestSaveFetchDeleteMaintainsIndex(t *testing.T) {
	ctx := context.Background()
	schema := newUserSchema(t, false)
	db := memkv.New()
	sub := tuple.FromBytes([]byte("s"))

	entity, ok := schema.Entity("User")
	require.True(t, ok)
	s, err := store.New(entity, schema, sub, "", userCodec{})
	require.NoError(t, err)

	u1 := &user{id: 1, email: "a@x.com"}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Save(tx, u1) }))

	indexSub := tuple.FromBytes(sub.Sub("indexes").Sub("by_email").Bytes())
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		key := indexSub.Pack(tuple.Tuple{"a@x.com", int64(1)})
		_, ok, err := tx.GetValue(kv.DefaultTable, key)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}))

	u1Updated := &user{id: 1, email: "b@x.com"}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Save(tx, u1Updated) }))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		staleKey := indexSub.Pack(tuple.Tuple{"a@x.com", int64(1)})
		_, ok, err := tx.GetValue(kv.DefaultTable, staleKey)
		require.NoError(t, err)
		require.False(t, ok, "stale index key must be gone after update")

		freshKey := indexSub.Pack(tuple.Tuple{"b@x.com", int64(1)})
		_, ok, err = tx.GetValue(kv.DefaultTable, freshKey)
		require.NoError(t, err)
		require.True(t, ok)

		rec, ok, err := s.Fetch(tx, "User", tuple.Tuple{int64(1)})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "b@x.com", rec.(*user).email)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return s.Delete(tx, "User", tuple.Tuple{int64(1)})
	}))
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		_, ok, err := tx.GetValue(kv.DefaultTable, indexSub.Pack(tuple.Tuple{"b@x.com", int64(1)}))
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))

	// Deleting an already-missing key is a no-op.
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return s.Delete(tx, "User", tuple.Tuple{int64(1)})
	}))
}

// TestUniqueIndexRejectsDuplicate covers testable property 2: no two
// distinct primary keys may share a unique index's indexed-columns value.
func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	schema := newUserSchema(t, true)
	db := memkv.New()
	sub := tuple.FromBytes([]byte("s"))

	entity, ok := schema.Entity("User")
	require.True(t, ok)
	s, err := store.New(entity, schema, sub, "", userCodec{})
	require.NoError(t, err)

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return s.Save(tx, &user{id: 1, email: "dup@x.com"})
	}))

	err = db.Update(ctx, func(tx kv.RwTx) error {
		return s.Save(tx, &user{id: 2, email: "dup@x.com"})
	})
	require.Error(t, err)
	var rlErr *rlerrors.Error
	require.True(t, errors.As(err, &rlErr))
	require.Equal(t, rlerrors.UniquenessViolation, rlErr.Kind)
}
