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

package migration

import (
	"bytes"
	"context"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/erigontech/recordlayer/index"
	"github.com/erigontech/recordlayer/internal/rlmetrics"
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rangeset"
	"github.com/erigontech/recordlayer/store"
	"github.com/erigontech/recordlayer/tuple"
)

// RecordSource is the subset of *store.Store the migration engine drives
// against: a typed record range plus read/write access, satisfied directly
// by *store.Store.
type RecordSource interface {
	RecordsRange() (begin, end []byte)
	Scan(tx kv.Tx, recordName string, begin, end []byte, limit int) ([]keyexpr.Record, store.Cursor, error)
	Save(tx kv.RwTx, rec keyexpr.Record) error
	Delete(tx kv.RwTx, recordName string, pk tuple.Tuple) error
	Payload(rec keyexpr.Record) ([]byte, error)
}

// BatchConfig bounds one committed batch (spec 4.H): each bound is well
// inside the underlying store's own transaction ceiling.
type BatchConfig struct {
	MaxRecordsPerBatch int
	MaxBytesPerBatch   datasize.ByteSize
	MaxTimePerBatch    time.Duration
	// RateLimiter, if set, is waited on before each batch to stay polite to
	// the KV cluster (SPEC_FULL.md domain stack: golang.org/x/time/rate).
	RateLimiter *rate.Limiter
	// Compress measures MaxBytesPerBatch against the zstd-compressed size of
	// each record's payload rather than its raw marshaled size, so the
	// budget reflects what actually crosses the wire to a compressed
	// underlying store (SPEC_FULL.md domain stack: klauspost/compress).
	Compress bool
}

// batchSizer accumulates the byte cost of a batch, optionally compressing
// each payload with zstd before counting it.
type batchSizer struct {
	compress bool
	enc      *zstd.Encoder
	total    datasize.ByteSize
}

func newBatchSizer(compress bool) (*batchSizer, error) {
	bs := &batchSizer{compress: compress}
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, err
		}
		bs.enc = enc
	}
	return bs, nil
}

func (bs *batchSizer) add(payload []byte) {
	if bs.compress {
		bs.total += datasize.ByteSize(len(bs.enc.EncodeAll(payload, nil)))
		return
	}
	bs.total += datasize.ByteSize(len(payload))
}

func (bs *batchSizer) close() {
	if bs.enc != nil {
		bs.enc.Close()
	}
}

// DefaultBatchConfig returns spec 4.H's default bounds.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxRecordsPerBatch: 100,
		MaxBytesPerBatch:   5 * datasize.MB,
		MaxTimePerBatch:    3 * time.Second,
	}
}

// MigrationContext is passed to each Migration's Execute closure (spec
// 4.H): addIndex/removeIndex/rebuildIndex/transformRecords/deleteRecords/
// executeOperation.
type MigrationContext struct {
	db          kv.RwDB
	sub         tuple.Subspace
	table       string
	migrationID string
	metrics     rlmetrics.Recorder
}

// NewContext builds a MigrationContext directly, for callers driving a
// Migration's Execute closure outside of Manager.Migrate (e.g. tests).
func NewContext(db kv.RwDB, sub tuple.Subspace, table string) *MigrationContext {
	if table == "" {
		table = kv.DefaultTable
	}
	return &MigrationContext{db: db, sub: sub, table: table, metrics: rlmetrics.Noop}
}

// WithMetrics returns a shallow copy of mc that reports batch duration/size
// observations to r, labeled by migrationID (Migration.ID()).
func (mc *MigrationContext) WithMetrics(migrationID string, r rlmetrics.Recorder) *MigrationContext {
	out := *mc
	out.migrationID = migrationID
	out.metrics = r
	return &out
}

func (mc *MigrationContext) rangeSet(kind, name string) *rangeset.RangeSet {
	return rangeset.New(mc.sub.Sub("migrations").Sub(kind).Sub(name), mc.table)
}

func (mc *MigrationContext) formerIndexKey(name string) []byte {
	return mc.sub.Sub("formerIndexes").Pack(tuple.Tuple{name})
}

// AddIndex enables idx by building it online: every existing record of
// recordName is fed through the new maintainer's ScanForBuild, resumably
// (spec 4.H: "build it online via the containing store's OnlineIndexer,
// mark readable").
func (mc *MigrationContext) AddIndex(ctx context.Context, idx metadata.Index, indexSub tuple.Subspace, recordName string, src RecordSource) error {
	maintainer, err := index.New(idx, indexSub, mc.table)
	if err != nil {
		return err
	}
	return mc.resumableWalk(ctx, "addIndex", idx.Name, recordName, src, func(tx kv.RwTx, rec keyexpr.Record) error {
		return maintainer.ScanForBuild(tx, rec)
	})
}

// RemoveIndex writes a former-index marker (the index's added version plus
// the removal time in Unix seconds) under formerIndexes/<name>, then clears
// the index's stored data range (spec 4.H).
func (mc *MigrationContext) RemoveIndex(ctx context.Context, name string, addedVersion metadata.SchemaVersion, indexSub tuple.Subspace) error {
	now := time.Now().Unix()
	return mc.db.Update(ctx, func(tx kv.RwTx) error {
		marker := tuple.Pack(tuple.Tuple{addedVersion.Major, addedVersion.Minor, addedVersion.Patch, now})
		if err := tx.SetValue(mc.table, mc.formerIndexKey(name), marker); err != nil {
			return err
		}
		begin, end := indexSub.Range()
		return tx.ClearRange(mc.table, begin, end)
	})
}

// RebuildIndex clears idx's stored data and rebuilds it online from
// scratch (spec 4.H: "disable, clear, build, mark readable").
func (mc *MigrationContext) RebuildIndex(ctx context.Context, idx metadata.Index, indexSub tuple.Subspace, recordName string, src RecordSource) error {
	if err := mc.db.Update(ctx, func(tx kv.RwTx) error {
		begin, end := indexSub.Range()
		return tx.ClearRange(mc.table, begin, end)
	}); err != nil {
		return err
	}
	// A rebuild starts from an empty progress range; clear this index's
	// own addIndex bookkeeping so resumableWalk treats the whole record
	// range as missing again.
	if err := mc.db.Update(ctx, func(tx kv.RwTx) error {
		begin, end := mc.sub.Sub("migrations").Sub("addIndex").Sub(idx.Name).Range()
		return tx.ClearRange(mc.table, begin, end)
	}); err != nil {
		return err
	}
	return mc.AddIndex(ctx, idx, indexSub, recordName, src)
}

// TransformRecords applies f to every record of recordName, resumably
// (spec 4.H's hardest invariant).
func (mc *MigrationContext) TransformRecords(ctx context.Context, recordName string, src RecordSource, cfg BatchConfig, f func(keyexpr.Record) (keyexpr.Record, error)) error {
	return mc.resumableWalk(ctx, "transform", recordName, recordName, src, func(tx kv.RwTx, rec keyexpr.Record) error {
		transformed, err := f(rec)
		if err != nil {
			return err
		}
		return src.Save(tx, transformed)
	}, cfg)
}

// DeleteRecords deletes every record of recordName matching pred, resumably.
func (mc *MigrationContext) DeleteRecords(ctx context.Context, recordName string, src RecordSource, pred func(keyexpr.Record) bool, cfg BatchConfig) error {
	return mc.resumableWalk(ctx, "delete", recordName, recordName, src, func(tx kv.RwTx, rec keyexpr.Record) error {
		if !pred(rec) {
			return nil
		}
		pk, err := rec.ExtractPrimaryKey()
		if err != nil {
			return err
		}
		return src.Delete(tx, recordName, pk)
	}, cfg)
}

// ExecuteOperation runs f in a fresh read-write transaction (spec 4.H).
func (mc *MigrationContext) ExecuteOperation(ctx context.Context, f func(tx kv.RwTx) error) error {
	return mc.db.Update(ctx, f)
}

// resumableWalk implements spec 4.H's per-typeName resumable batch
// algorithm: a RangeSet under migrations/<kind>/<name> tracks which parts
// of the record range have already been processed, so a crash and restart
// resumes exactly where it left off rather than reprocessing or skipping
// records. recordName is the record type scanned from src.
func (mc *MigrationContext) resumableWalk(ctx context.Context, kind, name, recordName string, src RecordSource, apply func(tx kv.RwTx, rec keyexpr.Record) error, cfg ...BatchConfig) error {
	conf := DefaultBatchConfig()
	if len(cfg) > 0 {
		conf = cfg[0]
	}
	rs := mc.rangeSet(kind, name)
	fullBegin, fullEnd := src.RecordsRange()

	roTx, err := mc.db.BeginRo(ctx)
	if err != nil {
		return err
	}
	missing, err := rs.MissingRanges(roTx, fullBegin, fullEnd)
	if err != nil {
		return err
	}

	for _, gap := range missing {
		current := append([]byte{}, gap.Begin...)
		for bytes.Compare(current, gap.End) < 0 {
			if conf.RateLimiter != nil {
				if err := conf.RateLimiter.Wait(ctx); err != nil {
					return err
				}
			}
			next, done, err := mc.runOneBatch(ctx, rs, recordName, src, current, gap.End, conf, apply)
			if err != nil {
				return err
			}
			if done {
				break
			}
			current = next
		}
	}
	return nil
}

// runOneBatch performs steps (a)-(d) of spec 4.H's algorithm: a snapshot
// scan accumulating up to MaxRecordsPerBatch/MaxBytesPerBatch/
// MaxTimePerBatch, then a single read-write transaction applying every
// scanned record and recording progress in rs. Returns the cursor to
// resume from and done=true once nothing more was scanned in [current, end);
// that empty tail is then recorded in rs as well, so a finished walk leaves
// the whole record range covered.
func (mc *MigrationContext) runOneBatch(ctx context.Context, rs *rangeset.RangeSet, recordName string, src RecordSource, current, end []byte, conf BatchConfig, apply func(tx kv.RwTx, rec keyexpr.Record) error) ([]byte, bool, error) {
	roTx, err := mc.db.BeginRo(ctx)
	if err != nil {
		return nil, false, err
	}

	sizer, err := newBatchSizer(conf.Compress)
	if err != nil {
		return nil, false, err
	}
	defer sizer.close()

	deadline := time.Now().Add(conf.MaxTimePerBatch)
	var scanned []keyexpr.Record
	cursorBegin := current
	for {
		if conf.MaxTimePerBatch > 0 && time.Now().After(deadline) {
			break
		}
		remaining := conf.MaxRecordsPerBatch - len(scanned)
		if remaining <= 0 {
			break
		}
		recs, cur, err := src.Scan(roTx, recordName, cursorBegin, end, remaining)
		if err != nil {
			return nil, false, err
		}
		for _, r := range recs {
			payload, err := src.Payload(r)
			if err != nil {
				return nil, false, err
			}
			sizer.add(payload)
			scanned = append(scanned, r)
			if conf.MaxBytesPerBatch > 0 && sizer.total >= conf.MaxBytesPerBatch {
				break
			}
		}
		if cur.Done || (conf.MaxBytesPerBatch > 0 && sizer.total >= conf.MaxBytesPerBatch) || len(scanned) >= conf.MaxRecordsPerBatch {
			break
		}
		cursorBegin = cur.Next
	}

	if len(scanned) == 0 {
		err := mc.db.Update(ctx, func(tx kv.RwTx) error {
			return rs.Insert(tx, current, end)
		})
		return nil, true, err
	}

	prefix, _ := src.RecordsRange()
	lastKey, err := lastRecordKey(prefix, scanned)
	if err != nil {
		return nil, false, err
	}
	nextCursor := tuple.Successor(lastKey)

	batchStart := time.Now()
	err = mc.db.Update(ctx, func(tx kv.RwTx) error {
		for _, r := range scanned {
			if err := apply(tx, r); err != nil {
				return err
			}
		}
		return rs.Insert(tx, current, nextCursor)
	})
	if err != nil {
		return nil, false, err
	}
	mc.metrics.ObserveBatchDuration(mc.migrationID, time.Since(batchStart))
	mc.metrics.ObserveBatchSize(mc.migrationID, len(scanned), int64(sizer.total))
	return nextCursor, false, nil
}

// lastRecordKey returns the full storage key of the last scanned record:
// the records-range prefix followed by its packed primary key.
func lastRecordKey(prefix []byte, recs []keyexpr.Record) ([]byte, error) {
	last := recs[len(recs)-1]
	pk, err := last.ExtractPrimaryKey()
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefix...), tuple.Pack(pk)...), nil
}
