package serverrun

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/kvdb/internal/backup"
	cfgpkg "github.com/rzbill/kvdb/internal/config"
	"github.com/rzbill/kvdb/internal/runtime"
	grpcserver "github.com/rzbill/kvdb/internal/server/grpc"
	httpserver "github.com/rzbill/kvdb/internal/server/http"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

type Options struct {
	Config cfgpkg.Config
	// Logger overrides the process logger built from Config.Log.
	Logger logpkg.Logger
	// Ready, when set, is called with the bound HTTP address once the
	// listener is open.
	Ready  func(httpAddr string)
}

// NewLogger builds the process logger from cfg and routes the standard
// library logger (which Pebble writes to) into it.
func NewLogger(cfg cfgpkg.LogConfig) logpkg.Logger {
	lc := &logpkg.Config{Level: cfg.Level, Format: cfg.Format}
	l, err := logpkg.ApplyConfig(lc)
	if err != nil {
		lvl := logpkg.InfoLevel
		if parsed, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = parsed
		}
		l = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	logpkg.RedirectStdLog(l)
	return l
}

// Run opens the runtime, starts the HTTP and gRPC servers and the backup
// schedule, and blocks until ctx is cancelled or a server fails. Servers
// are stopped before the runtime closes, so in-flight writes finish against
// an open store.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(cfg.Log)
	}

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("runtime close", logpkg.Err(err))
		}
	}()

	logger.Info("starting kvdb server",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("grpc", cfg.GRPCAddr),
		logpkg.Str("fsync", cfg.Storage.Fsync),
		logpkg.Str("cipher", cfg.Storage.Cipher),
		logpkg.Str("value_encoding", cfg.Index.ValueEncoding),
		logpkg.Bool("auth", cfg.EnableAuth),
		logpkg.Int("key_count", rt.Datastore().KeyCount()),
	)

	hl, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	hsrv := httpserver.New(rt, logger)
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		if err := hsrv.Serve(gctx, hl); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if cfg.GRPCAddr != "" {
		gsrv := grpcserver.New(rt, logger)
		g.Go(func() error {
			if err := gsrv.ListenAndServe(gctx, cfg.GRPCAddr); err != nil {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return rt.RunBackups(gctx) })
	if opts.Ready != nil {
		opts.Ready(hl.Addr().String())
	}

	err = g.Wait()
	logger.Info("kvdb server stopped")
	return err
}

// Restore unpacks a backup archive into dataDir, which must not exist yet.
func Restore(archive, dataDir string) error {
	if err := backup.Extract(archive, dataDir); err != nil {
		return fmt.Errorf("restore %s: %w", archive, err)
	}
	return nil
}
