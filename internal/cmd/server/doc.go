// Package serverrun exposes the Run entrypoint used by the CLI to start the
// kvdb runtime with its HTTP and gRPC servers and backup schedule, handling
// lifecycle and shutdown.
//
// Example:
//
//	cfg, _ := config.Load("kvdb.yaml")
//	config.FromEnv(&cfg)
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
