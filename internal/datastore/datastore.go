package datastore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/kvdb/internal/backup"
	"github.com/rzbill/kvdb/internal/index"
	"github.com/rzbill/kvdb/internal/notify"
	pebblestore "github.com/rzbill/kvdb/internal/storage/pebble"
	"github.com/rzbill/kvdb/pkg/id"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

// InitKey is set in the index at startup to the boot time in unix
// milliseconds. It is never written to the durable store unless a client
// writes it explicitly.
const InitKey = "init.ts"

// Store is the durable side of the pipeline.
type Store interface {
	CommitPut(ctx context.Context, key, value string) error
	CommitDelete(ctx context.Context, key string) error
	ScanAll(ctx context.Context, fn func(pebblestore.Record) error) error
	Stats() map[string]any
	Close() error
}

// BackupRunner takes one backup on demand.
type BackupRunner interface {
	RunOnce(ctx context.Context) (backup.Artifact, error)
}

// Observer receives pipeline timings. Optional.
type Observer interface {
	ObserveMutation(op string, elapsed time.Duration, err error)
	ObserveQuery(op string, elapsed time.Duration, n int)
}

// Options wires a Datastore.
type Options struct {
	Store    Store
	Index    *index.Index
	Registry *notify.Registry
	Backups  BackupRunner
	Observer Observer
	Logger   logpkg.Logger
	// Stripes is the number of per-key mutation locks, rounded up to a
	// power of two.
	Stripes int
	// Now is the clock used for event timestamps and InitKey.
	Now func() time.Time
}

// Datastore is the mutation pipeline and read facade. Writes are committed to
// the store first, then applied to the index, then broadcast. Reads are
// served from the index only.
type Datastore struct {
	store    Store
	index    *index.Index
	registry *notify.Registry
	backups  BackupRunner
	observer Observer
	logger   logpkg.Logger
	stripes  *stripes
	ids      *id.Generator
	now      func() time.Time

	// inflight is read-held by every mutation and backup and write-held by
	// Close, so the store is never closed under a running commit.
	inflight  sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	inserts      atomic.Int64
	deletes      atomic.Int64
	faults       atomic.Int64
	encodeErrors atomic.Int64
	bootMs       int64
}

// Open builds a Datastore and populates the index from a full scan of the
// store. It must complete before any server starts accepting requests.
func Open(ctx context.Context, opts Options) (*Datastore, error) {
	if opts.Store == nil {
		return nil, errors.New("datastore: Options.Store is required")
	}
	if opts.Index == nil {
		opts.Index = index.New(nil)
	}
	if opts.Registry == nil {
		opts.Registry = notify.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Datastore{
		store:    opts.Store,
		index:    opts.Index,
		registry: opts.Registry,
		backups:  opts.Backups,
		observer: opts.Observer,
		logger:   opts.Logger.WithComponent("datastore"),
		stripes:  newStripes(opts.Stripes),
		ids:      id.NewGenerator(),
		now:      opts.Now,
	}
	if err := d.populate(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Datastore) populate(ctx context.Context) error {
	start := d.now()
	d.bootMs = start.UnixMilli()
	if err := d.index.Put(InitKey, strconv.FormatInt(d.bootMs, 10)); err != nil {
		return err
	}
	err := d.index.Load(func(yield func(key, value string) error) error {
		return d.store.ScanAll(ctx, func(r pebblestore.Record) error {
			return yield(r.Key, r.Value)
		})
	})
	if err != nil {
		return err
	}
	d.logger.Info("index populated",
		logpkg.Int("keys", d.index.Len()),
		logpkg.Str("value_encoding", d.index.Codec().Name()),
		logpkg.Dur("elapsed_ms", time.Since(start)))
	return nil
}

// Get returns the value for key. A missing key is not an error.
func (d *Datastore) Get(key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := d.index.Get(key)
	d.observeRead("get", start, 1)
	return v, ok, err
}

// GetBatch returns values for the keys that exist.
func (d *Datastore) GetBatch(keys []string) (map[string]string, error) {
	start := time.Now()
	out, err := d.index.GetBatch(keys)
	d.observeRead("batch", start, len(out))
	return out, err
}

// GetRange returns entries with from <= key < to in ascending order. Empty
// bounds are open.
func (d *Datastore) GetRange(from, to string) ([]index.Entry, error) {
	start := time.Now()
	out, err := d.index.Range(from, to)
	d.observeRead("range", start, len(out))
	return out, err
}

// Insert durably writes key=value, then applies it to the index and notifies
// subscribers. If the commit fails a *StorageFault is returned and nothing
// else happens.
func (d *Datastore) Insert(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if d.closed.Load() {
		return ErrClosed
	}
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	// Close may have started while we waited.
	if d.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	// Encode up front so a codec failure aborts before anything is durable.
	enc, err := d.index.Encode(value)
	if err != nil {
		d.encodeErrors.Add(1)
		d.observeMutation("put", start, err)
		d.logger.WithContext(ctx).Error("encode value", logpkg.Str("key", key), logpkg.Err(err))
		return err
	}
	mu := d.stripes.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	if err := d.store.CommitPut(ctx, key, value); err != nil {
		d.faults.Add(1)
		d.observeMutation("put", start, err)
		d.logger.WithContext(ctx).Error("commit put", logpkg.Str("key", key), logpkg.Err(err))
		return err
	}
	// The commit is durable; a caller that goes away now must not leave the
	// index or subscribers behind the store.
	ctx = context.WithoutCancel(ctx)
	d.index.PutEncoded(key, enc)
	d.inserts.Add(1)
	d.registry.Broadcast(notify.Event{
		ID:    d.ids.Next(),
		Key:   key,
		Value: &value,
		Op:    notify.OpPut,
		TsMs:  d.now().UnixMilli(),
	})
	d.observeMutation("put", start, nil)
	return nil
}

// Delete durably removes key, then removes it from the index and notifies
// subscribers with the value it held. Deleting an absent key succeeds and
// still emits an event with no value.
func (d *Datastore) Delete(ctx context.Context, key string) error {
	_, _, err := d.Remove(ctx, key)
	return err
}

// Remove is Delete that also returns the value the key held before it was
// removed, read under the same per-key lock as the commit.
func (d *Datastore) Remove(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	if d.closed.Load() {
		return "", false, ErrClosed
	}
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	if d.closed.Load() {
		return "", false, ErrClosed
	}
	start := time.Now()
	mu := d.stripes.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	old, had, err := d.index.Get(key)
	if err != nil {
		d.logger.WithContext(ctx).Warn("read pre-delete value", logpkg.Str("key", key), logpkg.Err(err))
		had = false
	}
	if err := d.store.CommitDelete(ctx, key); err != nil {
		d.faults.Add(1)
		d.observeMutation("delete", start, err)
		d.logger.WithContext(ctx).Error("commit delete", logpkg.Str("key", key), logpkg.Err(err))
		return "", false, err
	}
	ctx = context.WithoutCancel(ctx)
	if _, _, err := d.index.Remove(key); err != nil {
		d.logger.WithContext(ctx).Warn("decode removed value", logpkg.Str("key", key), logpkg.Err(err))
	}
	d.deletes.Add(1)
	ev := notify.Event{
		ID:   d.ids.Next(),
		Key:  key,
		Op:   notify.OpDelete,
		TsMs: d.now().UnixMilli(),
	}
	if had {
		ev.Value = &old
	}
	d.registry.Broadcast(ev)
	d.observeMutation("delete", start, nil)
	return old, had, nil
}

// Subscribe registers a change sink under id, replacing any existing one.
func (d *Datastore) Subscribe(subscriberID string, sink notify.Sink, opts notify.Options) (*notify.Subscription, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return d.registry.Register(subscriberID, sink, opts)
}

// Unsubscribe removes id. Unknown ids are ignored.
func (d *Datastore) Unsubscribe(subscriberID string) { d.registry.Unregister(subscriberID) }

// TakeBackup runs one backup now.
func (d *Datastore) TakeBackup(ctx context.Context) (backup.Artifact, error) {
	if d.closed.Load() {
		return backup.Artifact{}, ErrClosed
	}
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	if d.closed.Load() {
		return backup.Artifact{}, ErrClosed
	}
	if d.backups == nil {
		return backup.Artifact{}, ErrBackupUnavailable
	}
	return d.backups.RunOnce(ctx)
}

// Stats merges store engine counters with pipeline and fan-out counters.
// key_count includes InitKey.
func (d *Datastore) Stats() map[string]any {
	stats := d.store.Stats()
	if stats == nil {
		stats = map[string]any{}
	}
	stats["key_count"] = d.index.Len()
	stats["listeners_count"] = d.registry.Count()
	stats["inserts"] = d.inserts.Load()
	stats["deletes_applied"] = d.deletes.Load()
	stats["storage_faults"] = d.faults.Load()
	stats["value_encode_errors"] = d.encodeErrors.Load()
	stats["index_cas_retries"] = d.index.Retries()
	stats["value_encoding"] = d.index.Codec().Name()
	stats["boot_ms"] = d.bootMs
	for k, v := range d.registry.Stats() {
		stats["notify_"+k] = v
	}
	return stats
}

// KeyCount returns the number of keys in the index.
func (d *Datastore) KeyCount() int { return d.index.Len() }

// ListenerCount returns the number of live subscribers.
func (d *Datastore) ListenerCount() int { return d.registry.Count() }

// Close rejects new mutations, waits for in-flight ones to finish, stops
// subscribers and closes the store. It is safe to call more than once.
func (d *Datastore) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.inflight.Lock()
		defer d.inflight.Unlock()
		d.registry.Close()
		d.closeErr = d.store.Close()
		d.logger.Info("datastore closed")
	})
	return d.closeErr
}

func (d *Datastore) observeMutation(op string, start time.Time, err error) {
	if d.observer != nil {
		d.observer.ObserveMutation(op, time.Since(start), err)
	}
}

func (d *Datastore) observeRead(op string, start time.Time, n int) {
	if d.observer != nil {
		d.observer.ObserveQuery(op, time.Since(start), n)
	}
}
