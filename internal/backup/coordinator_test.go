package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pebblestore "github.com/rzbill/kvdb/internal/storage/pebble"
)

// fakeStore writes a couple of files into the checkpoint dir.
type fakeStore struct {
	gate  chan struct{}
	calls int
	mu    sync.Mutex
	err   error
}

func (f *fakeStore) Snapshot(ctx context.Context, dir string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", f.err
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "MANIFEST"), []byte("manifest"), 0o644); err != nil {
		return "", err
	}
	return dir, os.WriteFile(filepath.Join(dir, "sub", "000001.sst"), []byte("table"), 0o644)
}

type recordingUploader struct {
	err   error
	names []string
}

func (u *recordingUploader) Upload(ctx context.Context, localPath, name string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	u.names = append(u.names, name)
	return u.err
}

var fixedNow = func() time.Time { return time.Date(2024, 3, 9, 7, 5, 4, 123_000_000, time.UTC) }

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "kvdb-backup-20240309-070504.123.tar.gz", ArtifactName(fixedNow()))
	loc := time.FixedZone("x", 3600)
	assert.Equal(t, "kvdb-backup-20240309-070504.123.tar.gz", ArtifactName(fixedNow().In(loc)))
}

func TestRunOnceLocal(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Options{Store: &fakeStore{}, Dir: dir, Now: fixedNow})
	require.NoError(t, err)

	art, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, art.Kept)
	assert.False(t, art.Uploaded)
	assert.Equal(t, filepath.Join(dir, ArtifactName(fixedNow())), art.Path)
	assert.Positive(t, art.Size)

	// staging is cleaned up
	entries, err := os.ReadDir(filepath.Join(dir, stagingDir))
	require.NoError(t, err)
	assert.Empty(t, entries)

	out := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Extract(art.Path, out))
	b, err := os.ReadFile(filepath.Join(out, "sub", "000001.sst"))
	require.NoError(t, err)
	assert.Equal(t, "table", string(b))
	_, err = os.Stat(filepath.Join(out, "MANIFEST"))
	assert.NoError(t, err)

	last, ok := c.Last()
	assert.True(t, ok)
	assert.Equal(t, art.Name, last.Name)
}

func TestUploadSuccessRemovesLocal(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{}
	c, err := New(Options{Store: &fakeStore{}, Dir: dir, Uploader: up, Now: fixedNow})
	require.NoError(t, err)
	art, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, art.Uploaded)
	assert.False(t, art.Kept)
	assert.Equal(t, []string{ArtifactName(fixedNow())}, up.names)
	_, err = os.Stat(filepath.Join(dir, art.Name))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadFailureKeepsLocal(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{err: errors.New("bucket unavailable")}
	c, err := New(Options{Store: &fakeStore{}, Dir: dir, Uploader: up, Now: fixedNow})
	require.NoError(t, err)
	art, err := c.RunOnce(context.Background())
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.True(t, art.Kept)
	_, err = os.Stat(art.Path)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, c.Stats()["backup_failures"])
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	c, err := New(Options{Store: store, Dir: t.TempDir()})
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := c.RunOnce(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls == 1
	}, time.Second, time.Millisecond)

	_, err = c.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrBackupInProgress)

	close(store.gate)
	require.NoError(t, <-first)
	assert.EqualValues(t, 1, c.Stats()["backup_skipped"])
	assert.EqualValues(t, 1, c.Stats()["backup_runs"])
}

func TestSnapshotFailure(t *testing.T) {
	c, err := New(Options{Store: &fakeStore{err: errors.New("disk full")}, Dir: t.TempDir()})
	require.NoError(t, err)
	_, err = c.RunOnce(context.Background())
	assert.ErrorContains(t, err, "disk full")
	_, ok := c.Last()
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	c, err := New(Options{Store: store, Dir: t.TempDir(), Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return c.Stats()["backup_runs"].(int64) >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestBackupOfPebbleStoreRestores(t *testing.T) {
	ctx := context.Background()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.CommitPut(ctx, "a", "1"))
	require.NoError(t, db.CommitPut(ctx, "b", "2"))

	c, err := New(Options{Store: db, Dir: t.TempDir()})
	require.NoError(t, err)
	art, err := c.RunOnce(ctx)
	require.NoError(t, err)

	restored := filepath.Join(t.TempDir(), "db")
	require.NoError(t, Extract(art.Path, restored))
	rdb, err := pebblestore.Open(pebblestore.Options{DataDir: restored, Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	defer rdb.Close()
	got := map[string]string{}
	require.NoError(t, rdb.ScanAll(ctx, func(r pebblestore.Record) error {
		got[r.Key] = r.Value
		return nil
	}))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
}

func TestDirUploaderAndNewUploader(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	dest := t.TempDir()
	up, err := NewUploader(context.Background(), "file://"+dest, "")
	require.NoError(t, err)
	require.NoError(t, up.Upload(context.Background(), src, "a.tar.gz"))
	b, err := os.ReadFile(filepath.Join(dest, "a.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))

	none, err := NewUploader(context.Background(), "", "")
	require.NoError(t, err)
	assert.Nil(t, none)
	_, err = NewUploader(context.Background(), "s3://bucket", "")
	assert.Error(t, err)
}
