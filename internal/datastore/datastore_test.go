package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kvdb/internal/backup"
	"github.com/rzbill/kvdb/internal/index"
	"github.com/rzbill/kvdb/internal/notify"
	pebblestore "github.com/rzbill/kvdb/internal/storage/pebble"
)

// faultyStore fails commits on demand.
type faultyStore struct {
	*pebblestore.DB
	failPut    atomic.Bool
	failDelete atomic.Bool
}

func (f *faultyStore) CommitPut(ctx context.Context, key, value string) error {
	if f.failPut.Load() {
		return &StorageFault{Op: "put", Key: key, Err: errors.New("injected")}
	}
	return f.DB.CommitPut(ctx, key, value)
}

func (f *faultyStore) CommitDelete(ctx context.Context, key string) error {
	if f.failDelete.Load() {
		return &StorageFault{Op: "delete", Key: key, Err: errors.New("injected")}
	}
	return f.DB.CommitDelete(ctx, key)
}

type eventSink struct {
	ctx context.Context
	ch  chan map[string]any
	err error
}

func newEventSink() *eventSink {
	return &eventSink{ctx: context.Background(), ch: make(chan map[string]any, 256)}
}

func (s *eventSink) Send(p []byte) error {
	if s.err != nil {
		return s.err
	}
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return err
	}
	s.ch <- m
	return nil
}
func (s *eventSink) Flush() error             { return nil }
func (s *eventSink) Context() context.Context { return s.ctx }

func (s *eventSink) take(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (s *eventSink) quiet(t *testing.T) {
	t.Helper()
	select {
	case m := <-s.ch:
		t.Fatalf("unexpected event %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func openStore(t *testing.T, dir string) *faultyStore {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	return &faultyStore{DB: db}
}

func openDatastore(t *testing.T, dir string, encoding string) (*Datastore, *faultyStore) {
	t.Helper()
	store := openStore(t, dir)
	codec, err := index.NewCodec(encoding)
	require.NoError(t, err)
	ds, err := Open(context.Background(), Options{Store: store, Index: index.New(codec), Registry: notify.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds, store
}

func TestExampleScenario(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "gzip")
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "foo", "bar"))
	v, ok, err := ds.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", v)

	require.NoError(t, ds.Delete(ctx, "foo"))
	v, ok, err = ds.Get("foo")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", v)

	for i, k := range []string{"a", "b", "c"} {
		require.NoError(t, ds.Insert(ctx, k, strconv.Itoa(i+1)))
	}
	got, err := ds.GetRange("a", "c")
	require.NoError(t, err)
	assert.Equal(t, []index.Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, got)
}

func TestRoundTripTombstoneIdempotentDelete(t *testing.T) {
	for _, enc := range []string{"identity", "gzip", "zstd"} {
		t.Run(enc, func(t *testing.T) {
			ds, store := openDatastore(t, t.TempDir(), enc)
			ctx := context.Background()

			require.NoError(t, ds.Insert(ctx, "k", "v1"))
			require.NoError(t, ds.Insert(ctx, "k", "v2"))
			v, _, _ := ds.Get("k")
			assert.Equal(t, "v2", v)
			sv, ok, err := store.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v2", sv)

			require.NoError(t, ds.Delete(ctx, "k"))
			require.NoError(t, ds.Delete(ctx, "k"))
			_, ok, _ = ds.Get("k")
			assert.False(t, ok)
			_, ok, _ = store.Get("k")
			assert.False(t, ok)
		})
	}
}

func TestRangeOrdering(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "identity")
	ctx := context.Background()
	keys := []string{"m", "b", "zz", "a", "k", "c"}
	for _, k := range keys {
		require.NoError(t, ds.Insert(ctx, k, k))
	}
	got, err := ds.GetRange("", "")
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Key, got[i].Key)
	}
	// six keys plus the boot key
	assert.Len(t, got, len(keys)+1)

	empty, err := ds.GetRange("z", "a")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInitKeyOnlyInIndex(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := openStore(t, t.TempDir())
	ds, err := Open(context.Background(), Options{Store: store, Now: func() time.Time { return now }})
	require.NoError(t, err)
	defer ds.Close()

	v, ok, err := ds.Get(InitKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1700000000000", v)
	_, ok, _ = store.Get(InitKey)
	assert.False(t, ok)
	assert.Equal(t, 1, ds.Stats()["key_count"])
}

func TestRestartConsistency(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store := openStore(t, dir)
	ds, err := Open(ctx, Options{Store: store})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, ds.Insert(ctx, fmt.Sprintf("key-%03d", i), strconv.Itoa(i)))
	}
	for i := 0; i < 100; i += 3 {
		require.NoError(t, ds.Delete(ctx, fmt.Sprintf("key-%03d", i)))
	}
	before, err := ds.GetRange("", "")
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close())

	ds2, _ := openDatastore(t, dir, "identity")
	after, err := ds2.GetRange("", "")
	require.NoError(t, err)

	strip := func(es []index.Entry) []index.Entry {
		var out []index.Entry
		for _, e := range es {
			if e.Key != InitKey {
				out = append(out, e)
			}
		}
		return out
	}
	assert.Equal(t, strip(before), strip(after))
	assert.Len(t, strip(after), 66)
}

func TestOneEventPerMutationNoneOnFailure(t *testing.T) {
	ds, store := openDatastore(t, t.TempDir(), "identity")
	ctx := context.Background()
	sink := newEventSink()
	_, err := ds.Subscribe("s1", sink, notify.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Stats()["listeners_count"])

	require.NoError(t, ds.Insert(ctx, "a", "1"))
	ev := sink.take(t)
	assert.Equal(t, "1", ev["a"])
	assert.Equal(t, "put", ev["op"])

	require.NoError(t, ds.Delete(ctx, "a"))
	ev = sink.take(t)
	assert.Equal(t, "1", ev["a"])
	assert.Equal(t, "delete", ev["op"])

	// delete of an absent key still reports, with no value
	require.NoError(t, ds.Delete(ctx, "a"))
	ev = sink.take(t)
	v, present := ev["a"]
	assert.True(t, present)
	assert.Nil(t, v)

	store.failPut.Store(true)
	err = ds.Insert(ctx, "b", "2")
	assert.True(t, IsStorageFault(err))
	var sf *StorageFault
	assert.ErrorAs(t, err, &sf)
	_, ok, _ := ds.Get("b")
	assert.False(t, ok)

	store.failPut.Store(false)
	require.NoError(t, ds.Insert(ctx, "c", "3"))
	store.failDelete.Store(true)
	assert.True(t, IsStorageFault(ds.Delete(ctx, "c")))
	v2, ok, _ := ds.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "3", v2)

	ev = sink.take(t)
	assert.Equal(t, "3", ev["c"])
	sink.quiet(t)
}

func TestNotificationFailureIsIsolated(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "identity")
	ctx := context.Background()
	broken := newEventSink()
	broken.err = errors.New("connection reset")
	healthy := newEventSink()
	brokenSub, err := ds.Subscribe("broken", broken, notify.Options{})
	require.NoError(t, err)
	_, err = ds.Subscribe("healthy", healthy, notify.Options{})
	require.NoError(t, err)

	require.NoError(t, ds.Insert(ctx, "k", "v"))
	assert.Equal(t, "v", healthy.take(t)["k"])
	<-brokenSub.Done()
	assert.Equal(t, 1, ds.ListenerCount())

	v, ok, err := ds.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestPerKeyEventOrder(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "identity")
	ctx := context.Background()
	sink := newEventSink()
	_, err := ds.Subscribe("order", sink, notify.Options{Buffer: 4096, Filter: `key == "hot"`})
	require.NoError(t, err)

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = ds.Insert(ctx, "hot", fmt.Sprintf("%d-%d", w, i))
				_ = ds.Insert(ctx, fmt.Sprintf("cold-%d-%d", w, i), "x")
			}
		}(w)
	}
	wg.Wait()

	var last string
	for i := 0; i < writers*perWriter; i++ {
		last = sink.take(t)["hot"].(string)
	}
	// the final event carries the value the index ended with
	v, _, _ := ds.Get("hot")
	assert.Equal(t, v, last)
}

func TestInvalidKeyAndClosed(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "identity")
	ctx := context.Background()
	assert.ErrorIs(t, ds.Insert(ctx, "", "v"), ErrInvalidKey)
	assert.ErrorIs(t, ds.Delete(ctx, ""), ErrInvalidKey)
	assert.False(t, IsStorageFault(ds.Insert(ctx, "", "v")))

	_, err := ds.TakeBackup(ctx)
	assert.ErrorIs(t, err, ErrBackupUnavailable)

	require.NoError(t, ds.Close())
	assert.ErrorIs(t, ds.Insert(ctx, "k", "v"), ErrClosed)
	_, err = ds.Subscribe("late", newEventSink(), notify.Options{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCanceledContextBeforeCommit(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "identity")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ds.Insert(ctx, "k", "v"))
	cancel()
	// a cancelled context before commit is a storage fault with nothing applied
	assert.True(t, IsStorageFault(ds.Insert(ctx, "k", "w")))
	v, _, _ := ds.Get("k")
	assert.Equal(t, "v", v)
}

func TestTakeBackup(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)
	coord, err := backup.New(backup.Options{Store: store.DB, Dir: t.TempDir()})
	require.NoError(t, err)
	ds, err := Open(context.Background(), Options{Store: store, Backups: coord})
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.Insert(context.Background(), "a", "1"))

	art, err := ds.TakeBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backup.ArtifactName(art.CreatedAt), art.Name)
	assert.True(t, art.Kept)
}

func TestGetBatchAndStats(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "zstd")
	ctx := context.Background()
	require.NoError(t, ds.Insert(ctx, "x", "1"))
	require.NoError(t, ds.Insert(ctx, "y", "2"))
	got, err := ds.GetBatch([]string{"x", "y", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x": "1", "y": "2"}, got)

	s := ds.Stats()
	assert.Equal(t, 3, s["key_count"])
	assert.Equal(t, "zstd", s["value_encoding"])
	assert.EqualValues(t, 2, s["inserts"])
	assert.Contains(t, s, "wal_bytes_written")
}

func TestRemoveReturnsPreviousValue(t *testing.T) {
	ds, _ := openDatastore(t, t.TempDir(), "gzip")
	ctx := context.Background()
	require.NoError(t, ds.Insert(ctx, "k", "old"))
	old, had, err := ds.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, had)
	assert.Equal(t, "old", old)

	old, had, err = ds.Remove(ctx, "k")
	require.NoError(t, err)
	assert.False(t, had)
	assert.Equal(t, "", old)
}

// poisonCodec refuses to encode one value.
type poisonCodec struct{}

func (poisonCodec) Name() string { return "poison" }
func (poisonCodec) Encode(v string) ([]byte, error) {
	if v == "poison" {
		return nil, errors.New("cannot encode")
	}
	return []byte(v), nil
}
func (poisonCodec) Decode(b []byte) (string, error) { return string(b), nil }

func TestEncodeFailureCommitsNothing(t *testing.T) {
	store := openStore(t, t.TempDir())
	ds, err := Open(context.Background(), Options{Store: store, Index: index.New(poisonCodec{})})
	require.NoError(t, err)
	defer ds.Close()
	sink := newEventSink()
	_, err = ds.Subscribe("s", sink, notify.Options{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "k", "v"))
	sink.take(t)

	err = ds.Insert(ctx, "k", "poison")
	require.Error(t, err)
	assert.False(t, IsStorageFault(err))
	sink.quiet(t)

	durable, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", durable)
	v, _, err := ds.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.EqualValues(t, 1, ds.Stats()["value_encode_errors"])
}

// blockingStore holds CommitPut until released and records whether Close ran
// while a commit was still inside the store.
type blockingStore struct {
	*pebblestore.DB
	entered  chan struct{}
	release  chan struct{}
	active   atomic.Bool
	overlaps atomic.Int32
}

func (b *blockingStore) CommitPut(ctx context.Context, key, value string) error {
	b.active.Store(true)
	defer b.active.Store(false)
	close(b.entered)
	<-b.release
	return b.DB.CommitPut(ctx, key, value)
}

func (b *blockingStore) Close() error {
	if b.active.Load() {
		b.overlaps.Add(1)
	}
	return b.DB.Close()
}

func TestCloseWaitsForInFlightCommit(t *testing.T) {
	store := &blockingStore{
		DB:      openStore(t, t.TempDir()).DB,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ds, err := Open(context.Background(), Options{Store: store})
	require.NoError(t, err)

	inserted := make(chan error, 1)
	go func() { inserted <- ds.Insert(context.Background(), "k", "v") }()
	<-store.entered

	closed := make(chan error, 1)
	go func() { closed <- ds.Close() }()
	select {
	case err := <-closed:
		t.Fatalf("Close returned during a commit: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.ErrorIs(t, ds.Insert(context.Background(), "other", "v"), ErrClosed)

	close(store.release)
	require.NoError(t, <-inserted)
	require.NoError(t, <-closed)
	assert.Zero(t, store.overlaps.Load())
}
