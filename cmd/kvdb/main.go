package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/kvdb/internal/cmd/client"
	serverrun "github.com/rzbill/kvdb/internal/cmd/server"
	cfgpkg "github.com/rzbill/kvdb/internal/config"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kvdb",
		Short:         "kvdb key-value store",
		Long:          "kvdb is a single-node key-value store with a change feed. This CLI runs the server and talks to it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	clientcmd.AddPersistentFlags(rootCmd)

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverCmd.AddCommand(newServerStartCommand(), newServerRestoreCommand())
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientcmd.NewKVCommand())
	rootCmd.AddCommand(clientcmd.NewAdminCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServerStartCommand() *cobra.Command {
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the kvdb server (HTTP and gRPC)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := serverrun.NewLogger(cfg.Log)
			if err := serverrun.Run(cmd.Context(), serverrun.Options{Config: cfg, Logger: logger}); err != nil {
				logger.Error("server error", logpkg.Err(err))
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	f := startCmd.Flags()
	f.String("config", os.Getenv("KVDB_CONFIG"), "Config file (.json, .yaml)")
	f.String("data-dir", "", "Data directory")
	f.String("http", "", "HTTP listen address")
	f.String("grpc-addr", "", "gRPC listen address (empty string disables gRPC)")
	f.Bool("enable-auth", false, "Require the API key on /kv, /admin and gRPC calls")
	f.String("fsync", "", "Fsync mode: always|interval|never")
	f.Int64("fsync-interval-ms", 0, "When --fsync=interval, group-commit window in ms")
	f.String("cipher", "", "Value cipher: none|xchacha20-poly1305")
	f.String("value-encoding", "", "In-memory value encoding: identity|gzip|zstd")
	f.Int("sub-buf", 0, "Per-subscriber queue length")
	f.Int64("sub-flush-ms", 0, "Subscriber write coalescing window in ms")
	f.Int64("backup-interval-ms", 0, "Backup period in ms")
	f.String("backup-dest", "", "Remote backup destination: gs://bucket/prefix or file:///path")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	return startCmd
}

// loadConfig layers defaults, the config file, the environment and finally
// explicitly set flags.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)

	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	i64 := func(name string, dst *int64) {
		if f.Changed(name) {
			*dst, _ = f.GetInt64(name)
		}
	}
	str("data-dir", &cfg.DataDir)
	str("http", &cfg.HTTPAddr)
	str("grpc-addr", &cfg.GRPCAddr)
	if f.Changed("enable-auth") {
		cfg.EnableAuth, _ = f.GetBool("enable-auth")
	}
	if f.Changed("api-key") {
		cfg.APIKey, _ = f.GetString("api-key")
	}
	str("fsync", &cfg.Storage.Fsync)
	i64("fsync-interval-ms", &cfg.Storage.FsyncIntervalMs)
	str("cipher", &cfg.Storage.Cipher)
	str("value-encoding", &cfg.Index.ValueEncoding)
	if f.Changed("sub-buf") {
		cfg.Subscriptions.Buffer, _ = f.GetInt("sub-buf")
	}
	i64("sub-flush-ms", &cfg.Subscriptions.FlushMs)
	i64("backup-interval-ms", &cfg.Backup.IntervalMs)
	str("backup-dest", &cfg.Backup.Dest)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	return cfg, nil
}

func newServerRestoreCommand() *cobra.Command {
	restoreCmd := &cobra.Command{
		Use:   "restore <archive.tar.gz>",
		Short: "Unpack a backup archive into a fresh data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			if dataDir == "" {
				return fmt.Errorf("--data-dir is required")
			}
			if err := serverrun.Restore(args[0], dataDir); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "restored into", dataDir)
			return nil
		},
	}
	restoreCmd.Flags().String("data-dir", "", "Target data directory; must not exist")
	return restoreCmd
}
