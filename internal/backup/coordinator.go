package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	logpkg "github.com/rzbill/kvdb/pkg/log"
)

const (
	namePrefix = "kvdb-backup-"
	nameSuffix = ".tar.gz"
	// nameLayout is yyyyMMdd-HHmmss.SSS in UTC.
	nameLayout = "20060102-150405.000"
	stagingDir = ".staging"
)

// ErrBackupInProgress is returned when a run is requested while another is
// still working. The request is skipped, not queued.
var ErrBackupInProgress = errors.New("backup: another backup is in progress")

// Snapshotter produces a consistent copy of the store in a new directory.
type Snapshotter interface {
	Snapshot(ctx context.Context, destDir string) (string, error)
}

// Artifact describes one finished backup.
type Artifact struct {
	Name      string    `json:"name"`
	Path      string    `json:"path,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	Uploaded  bool      `json:"uploaded"`
	// Kept is true when the local archive is still on disk.
	Kept      bool      `json:"kept"`
}

// UploadError wraps a failed upload. The artifact it accompanies is kept
// locally.
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string { return fmt.Sprintf("backup: upload %s: %v", e.Name, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// Options configures a Coordinator.
type Options struct {
	Store    Snapshotter
	Dir      string
	Interval time.Duration
	// Uploader is optional. Without one archives stay in Dir.
	Uploader Uploader
	Logger   logpkg.Logger
	Now      func() time.Time
}

// Coordinator takes periodic and on-demand backups. At most one backup runs
// at a time.
type Coordinator struct {
	store    Snapshotter
	dir      string
	interval time.Duration
	uploader Uploader
	logger   logpkg.Logger
	now      func() time.Time
	sem      *semaphore.Weighted

	runs     atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64

	mu   sync.Mutex
	last Artifact
}

// New validates opts and returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("backup: Options.Store is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("backup: Options.Dir is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:    opts.Store,
		dir:      opts.Dir,
		interval: opts.Interval,
		uploader: opts.Uploader,
		logger:   opts.Logger.WithComponent("backup"),
		now:      opts.Now,
		sem:      semaphore.NewWeighted(1),
	}, nil
}

// ArtifactName returns the archive file name for a backup taken at t.
func ArtifactName(t time.Time) string {
	return namePrefix + t.UTC().Format(nameLayout) + nameSuffix
}

// Run takes a backup every interval until ctx is done. The first backup is
// taken one interval after Run starts. Failures are logged and do not stop
// the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("backup schedule started", logpkg.Dur("interval_ms", c.interval), logpkg.Str("dir", c.dir))
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil && !errors.Is(err, ErrBackupInProgress) {
				c.logger.Error("scheduled backup", logpkg.Err(err))
			}
		}
	}
}

// RunOnce checkpoints the store, packs the checkpoint into an archive and
// uploads it when an uploader is configured. A successful upload removes the
// local archive; a failed one keeps it and returns an *UploadError together
// with the artifact.
func (c *Coordinator) RunOnce(ctx context.Context) (Artifact, error) {
	if !c.sem.TryAcquire(1) {
		c.skipped.Add(1)
		c.logger.Warn("backup skipped", logpkg.Err(ErrBackupInProgress))
		return Artifact{}, ErrBackupInProgress
	}
	defer c.sem.Release(1)
	c.runs.Add(1)

	art, err := c.run(ctx)
	if err != nil {
		c.failures.Add(1)
	}
	if art.Name != "" {
		c.mu.Lock()
		c.last = art
		c.mu.Unlock()
	}
	return art, err
}

func (c *Coordinator) run(ctx context.Context) (Artifact, error) {
	start := c.now()
	name := ArtifactName(start)
	base := strings.TrimSuffix(name, nameSuffix)

	staging := filepath.Join(c.dir, stagingDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("backup: staging dir: %w", err)
	}
	ckpt := filepath.Join(staging, base)
	// a leftover from a crashed run would make the checkpoint fail
	_ = os.RemoveAll(ckpt)
	defer os.RemoveAll(ckpt)

	if _, err := c.store.Snapshot(ctx, ckpt); err != nil {
		return Artifact{}, err
	}
	dest := filepath.Join(c.dir, name)
	size, err := writeArchive(ckpt, dest, base)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{Name: name, Path: dest, Size: size, CreatedAt: start.UTC(), Kept: true}
	c.logger.Info("backup archived",
		logpkg.Str("name", name),
		logpkg.Str("size", humanize.Bytes(uint64(size))),
		logpkg.Dur("elapsed_ms", c.now().Sub(start)))

	if c.uploader == nil {
		return art, nil
	}
	if err := c.uploader.Upload(ctx, dest, name); err != nil {
		uerr := &UploadError{Name: name, Err: err}
		c.logger.Error("backup upload failed; archive kept", logpkg.Str("path", dest), logpkg.Err(uerr))
		return art, uerr
	}
	art.Uploaded = true
	if err := os.Remove(dest); err != nil {
		c.logger.Warn("remove uploaded archive", logpkg.Str("path", dest), logpkg.Err(err))
	} else {
		art.Kept = false
		art.Path = ""
	}
	c.logger.Info("backup uploaded", logpkg.Str("name", name))
	return art, nil
}

// Last returns the most recent artifact produced, if any.
func (c *Coordinator) Last() (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last.Name != ""
}

// Stats reports run counters.
func (c *Coordinator) Stats() map[string]any {
	s := map[string]any{
		"backup_runs":     c.runs.Load(),
		"backup_failures": c.failures.Load(),
		"backup_skipped":  c.skipped.Load(),
	}
	if last, ok := c.Last(); ok {
		s["backup_last"] = last.Name
		s["backup_last_size"] = humanize.Bytes(uint64(last.Size))
	}
	return s
}
