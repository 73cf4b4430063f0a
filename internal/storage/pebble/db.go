package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch.
	FsyncModeAlways
	// FsyncModeInterval requests a WAL sync on every commit but lets Pebble
	// delay it by up to the configured interval so concurrent commits share
	// one fsync (group commit).
	FsyncModeInterval
	// FsyncModeNever never forces a WAL sync from the application. A commit
	// can be lost on power failure after it has returned.
	FsyncModeNever
)

// ParseFsyncMode maps always|interval|never to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, fmt.Errorf("pebble: invalid fsync mode %q; use always|interval|never", s)
	}
}

// Options configures the store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// CacheSize bounds the block cache in bytes. Zero keeps Pebble's default.
	CacheSize int64
	// Cipher seals values at rest. Nil stores plaintext.
	Cipher ValueCipher
	// Logger receives Pebble's own event logging. Optional.
	Logger Logger
	// PebbleOptions allows advanced tuning of Pebble. If nil, sensible defaults are used.
	PebbleOptions *pebble.Options
	// Metrics observes commit latencies and sizes. Optional.
	Metrics MetricsHook
}

// Logger is the printf-style surface Pebble logs through.
type Logger interface {
	Debugf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatalf(msg string, args ...interface{})
}

// pebbleLogger demotes Pebble's chatty info events to debug.
type pebbleLogger struct{ l Logger }

func (p pebbleLogger) Infof(format string, args ...interface{})  { p.l.Debugf(format, args...) }
func (p pebbleLogger) Errorf(format string, args ...interface{}) { p.l.Errorf(format, args...) }
func (p pebbleLogger) Fatalf(format string, args ...interface{}) { p.l.Fatalf(format, args...) }

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveWrite(op string, elapsed time.Duration, bytes int, err error)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(string, time.Duration, int, error) {}
func (NoopMetrics) ObserveRead(time.Duration, int)                 {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int)     {}

// Record is one persisted key/value pair.
type Record struct {
	Key   string
	Value string
}

// DB is the durable log store: a Pebble database with an fsync policy,
// optional value encryption and a handful of counters.
type DB struct {
	inner     *pebble.DB
	dir       string
	writeSync bool
	cipher    ValueCipher
	metrics   MetricsHook

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	puts         atomic.Int64
	deletes      atomic.Int64
	commitErrors atomic.Int64
	scans        atomic.Int64
	checkpoints  atomic.Int64
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	switch opts.Fsync {
	case FsyncModeAlways:
		// WriteOptions{Sync:true} on every commit.
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	var cache *pebble.Cache
	if opts.CacheSize > 0 && po.Cache == nil {
		cache = pebble.NewCache(opts.CacheSize)
		po.Cache = cache
	}
	if opts.Logger != nil && po.Logger == nil {
		po.Logger = pebbleLogger{l: opts.Logger}
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if cache != nil {
		// the DB holds its own reference
		cache.Unref()
	}
	if err != nil {
		return nil, &StorageFault{Op: "open", Err: err}
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	cipher := opts.Cipher
	if cipher == nil {
		cipher = PlainCipher{}
	}

	return &DB{
		inner:     inner,
		dir:       opts.DataDir,
		writeSync: opts.Fsync != FsyncModeNever,
		cipher:    cipher,
		metrics:   metrics,
	}, nil
}

// Dir returns the database directory.
func (db *DB) Dir() string { return db.dir }

// Close flushes and closes the database. Calls after the first are no-ops
// returning the first result.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		db.closeErr = db.inner.Close()
	})
	return db.closeErr
}

func (db *DB) checkOpen(op string) error {
	if db.closed.Load() {
		return &StorageFault{Op: op, Err: ErrClosed}
	}
	return nil
}

func (db *DB) syncOpt() *pebble.WriteOptions {
	if db.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// CommitPut upserts key within a single atomic batch. On failure nothing is
// applied and a *StorageFault is returned.
func (db *DB) CommitPut(ctx context.Context, key, value string) error {
	if err := db.checkOpen("put"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &StorageFault{Op: "put", Key: key, Err: err}
	}
	start := time.Now()
	sealed, err := db.cipher.Seal([]byte(key), []byte(value))
	if err != nil {
		return db.fail("put", key, start, err)
	}
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(key), sealed, nil); err != nil {
		return db.fail("put", key, start, err)
	}
	if err := db.commit(b, 1); err != nil {
		return db.fail("put", key, start, err)
	}
	db.puts.Add(1)
	db.metrics.ObserveWrite("put", time.Since(start), len(key)+len(sealed), nil)
	return nil
}

// CommitDelete removes key atomically. Deleting an absent key is not an error.
func (db *DB) CommitDelete(ctx context.Context, key string) error {
	if err := db.checkOpen("delete"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &StorageFault{Op: "delete", Key: key, Err: err}
	}
	start := time.Now()
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(key), nil); err != nil {
		return db.fail("delete", key, start, err)
	}
	if err := db.commit(b, 1); err != nil {
		return db.fail("delete", key, start, err)
	}
	db.deletes.Add(1)
	db.metrics.ObserveWrite("delete", time.Since(start), len(key), nil)
	return nil
}

func (db *DB) commit(b *pebble.Batch, numOps int) error {
	start := time.Now()
	size := b.Len()
	err := b.Commit(db.syncOpt())
	db.metrics.ObserveBatchCommit(time.Since(start), numOps, size)
	return err
}

func (db *DB) fail(op, key string, start time.Time, err error) error {
	db.commitErrors.Add(1)
	db.metrics.ObserveWrite(op, time.Since(start), 0, err)
	return &StorageFault{Op: op, Key: key, Err: err}
}

// Get reads a single record straight from disk. The serving path never
// calls it; it exists for consistency checks and tests.
func (db *DB) Get(key string) (string, bool, error) {
	if err := db.checkOpen("get"); err != nil {
		return "", false, err
	}
	start := time.Now()
	val, closer, err := db.inner.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageFault{Op: "get", Key: key, Err: err}
	}
	defer closer.Close()
	plain, err := db.cipher.Open([]byte(key), val)
	if err != nil {
		return "", false, &StorageFault{Op: "get", Key: key, Err: err}
	}
	db.metrics.ObserveRead(time.Since(start), len(val))
	return string(plain), true, nil
}

// ScanAll walks every persisted record in ascending key order over a
// point-in-time snapshot, calling fn for each. Returning an error from fn
// stops the scan and is returned as is. Calling ScanAll again restarts the
// traversal from the first key.
func (db *DB) ScanAll(ctx context.Context, fn func(Record) error) error {
	if err := db.checkOpen("scan"); err != nil {
		return err
	}
	db.scans.Add(1)
	snap := db.inner.NewSnapshot()
	defer snap.Close()
	it, err := snap.NewIter(nil)
	if err != nil {
		return &StorageFault{Op: "scan", Err: err}
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := string(it.Key())
		plain, err := db.cipher.Open(it.Key(), it.Value())
		if err != nil {
			return &StorageFault{Op: "scan", Key: key, Err: err}
		}
		if err := fn(Record{Key: key, Value: string(plain)}); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return &StorageFault{Op: "scan", Err: err}
	}
	return nil
}

// Snapshot writes a consistent on-disk copy of the database into destDir,
// which must not exist yet, and returns the directory. Concurrent commits keep
// flowing while the copy is made; Pebble only pauses them long enough to pin
// the current version.
func (db *DB) Snapshot(ctx context.Context, destDir string) (string, error) {
	if err := db.checkOpen("snapshot"); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &StorageFault{Op: "snapshot", Err: err}
	}
	if err := db.inner.Checkpoint(destDir, pebble.WithFlushedWAL()); err != nil {
		return "", &StorageFault{Op: "snapshot", Err: err}
	}
	db.checkpoints.Add(1)
	return destDir, nil
}

// Stats reports engine counters for observability. Values are not used for
// correctness and their set may change between Pebble versions.
func (db *DB) Stats() map[string]any {
	stats := map[string]any{
		"puts":          db.puts.Load(),
		"deletes":       db.deletes.Load(),
		"commit_errors": db.commitErrors.Load(),
		"scans":         db.scans.Load(),
		"checkpoints":   db.checkpoints.Load(),
		"cipher":        db.cipher.Name(),
		"wal_sync":      db.writeSync,
	}
	if db.closed.Load() {
		stats["closed"] = true
		return stats
	}
	m := db.inner.Metrics()
	stats["block_cache_size"] = m.BlockCache.Size
	stats["block_cache_count"] = m.BlockCache.Count
	stats["block_cache_hits"] = m.BlockCache.Hits
	stats["block_cache_misses"] = m.BlockCache.Misses
	stats["compactions"] = m.Compact.Count
	stats["flushes"] = m.Flush.Count
	stats["memtable_size"] = m.MemTable.Size
	stats["memtable_count"] = m.MemTable.Count
	stats["wal_files"] = m.WAL.Files
	stats["wal_size"] = m.WAL.Size
	stats["wal_bytes_written"] = m.WAL.BytesWritten
	stats["read_amp"] = m.ReadAmp()
	stats["disk_space_usage"] = m.DiskSpaceUsage()
	return stats
}

// CompactRange requests compaction of the key range [start, end).
func (db *DB) CompactRange(start, end []byte) error {
	if err := db.checkOpen("compact"); err != nil {
		return err
	}
	return db.inner.Compact(start, end, true)
}

// Healthy opens and closes an iterator to confirm the engine responds.
func (db *DB) Healthy() error {
	if err := db.checkOpen("health"); err != nil {
		return err
	}
	it, err := db.inner.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}
