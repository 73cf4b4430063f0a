package runtime

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rzbill/kvdb/internal/backup"
	cfgpkg "github.com/rzbill/kvdb/internal/config"
	"github.com/rzbill/kvdb/internal/datastore"
	"github.com/rzbill/kvdb/internal/index"
	"github.com/rzbill/kvdb/internal/metrics"
	"github.com/rzbill/kvdb/internal/notify"
	pebblestore "github.com/rzbill/kvdb/internal/storage/pebble"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Metrics is optional; a fresh registry is created when nil.
	Metrics *metrics.Metrics
	// Uploader overrides the uploader derived from Config.Backup.Dest.
	Uploader backup.Uploader
}

// Runtime owns every long-lived service of a single-node instance: the
// store, the index, the subscriber registry, the datastore facade built on
// them and the backup coordinator.
type Runtime struct {
	config   cfgpkg.Config
	logger   logpkg.Logger
	db       *pebblestore.DB
	ds       *datastore.Datastore
	backups  *backup.Coordinator
	uploader backup.Uploader
	metrics  *metrics.Metrics
}

// Open validates configuration, opens storage and populates the index. It
// returns a *config.ConfigurationFault for bad configuration.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	fsync, err := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
	if err != nil {
		return nil, &cfgpkg.ConfigurationFault{Field: "storage.fsync", Reason: err.Error()}
	}
	cipher, err := buildCipher(cfg.Storage)
	if err != nil {
		return nil, err
	}
	codec, err := index.NewCodec(cfg.Index.ValueEncoding)
	if err != nil {
		return nil, &cfgpkg.ConfigurationFault{Field: "index.valueEncoding", Reason: err.Error()}
	}

	uploader := opts.Uploader
	if uploader == nil {
		uploader, err = backup.NewUploader(ctx, cfg.Backup.Dest, cfg.Backup.Endpoint)
		if err != nil {
			return nil, &cfgpkg.ConfigurationFault{Field: "backup.dest", Reason: err.Error()}
		}
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.DataDir,
		Fsync:         fsync,
		FsyncInterval: time.Duration(cfg.Storage.FsyncIntervalMs) * time.Millisecond,
		CacheSize:     cfg.Storage.CacheSizeBytes,
		Cipher:        cipher,
		Logger:        logger.WithComponent("pebble"),
		Metrics:       m,
	})
	if err != nil {
		closeUploader(uploader)
		return nil, err
	}

	coord, err := backup.New(backup.Options{
		Store:    db,
		Dir:      cfg.BackupDir(),
		Interval: cfg.BackupInterval(),
		Uploader: uploader,
		Logger:   logger,
	})
	if err != nil {
		_ = db.Close()
		closeUploader(uploader)
		return nil, err
	}

	registry := notify.NewRegistry(
		notify.WithLogger(logger),
		notify.WithDefaults(cfg.Subscriptions.Buffer, time.Duration(cfg.Subscriptions.FlushMs)*time.Millisecond),
	)
	ds, err := datastore.Open(ctx, datastore.Options{
		Store:    db,
		Index:    index.New(codec),
		Registry: registry,
		Backups:  coord,
		Observer: m,
		Logger:   logger,
	})
	if err != nil {
		_ = db.Close()
		closeUploader(uploader)
		return nil, err
	}
	m.WatchSource(ds)

	logger.Info("runtime opened",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.Storage.Fsync),
		logpkg.Str("cipher", cipher.Name()),
		logpkg.Bool("remote_backups", uploader != nil))

	return &Runtime{
		config:   cfg,
		logger:   logger,
		db:       db,
		ds:       ds,
		backups:  coord,
		uploader: uploader,
		metrics:  m,
	}, nil
}

func buildCipher(sc cfgpkg.StorageConfig) (pebblestore.ValueCipher, error) {
	switch sc.Cipher {
	case cfgpkg.CipherNone, "":
		return pebblestore.PlainCipher{}, nil
	case cfgpkg.CipherXChaCha20Poly1305:
		key, err := cfgpkg.CipherKeyBytes(sc.CipherKey)
		if err != nil {
			return nil, &cfgpkg.ConfigurationFault{Field: "storage.cipherKey", Reason: err.Error()}
		}
		c, err := pebblestore.NewXChaChaCipher(key, sc.CipherIV)
		if err != nil {
			return nil, &cfgpkg.ConfigurationFault{Field: "storage.cipherKey", Reason: err.Error()}
		}
		return c, nil
	default:
		return nil, &cfgpkg.ConfigurationFault{Field: "storage.cipher", Reason: "unknown cipher " + sc.Cipher}
	}
}

func closeUploader(u backup.Uploader) {
	if c, ok := u.(io.Closer); ok {
		_ = c.Close()
	}
}

// RunBackups runs the periodic backup schedule until ctx is done.
func (r *Runtime) RunBackups(ctx context.Context) error { return r.backups.Run(ctx) }

// Close closes the datastore, which stops subscribers and closes the store.
// Servers must be stopped first.
func (r *Runtime) Close() error {
	if r == nil || r.ds == nil {
		return nil
	}
	err := r.ds.Close()
	closeUploader(r.uploader)
	return err
}

// CheckHealth confirms the store still answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Healthy()
}

// Datastore returns the read/write facade.
func (r *Runtime) Datastore() *datastore.Datastore { return r.ds }

// Backups returns the backup coordinator.
func (r *Runtime) Backups() *backup.Coordinator { return r.backups }

// Metrics returns the metrics registry.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Logger returns the runtime logger.
func (r *Runtime) Logger() logpkg.Logger { return r.logger }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
