// Package runtime wires configuration, storage, the index, the subscriber
// registry, the datastore facade and the backup coordinator into a
// single-node kvdb instance.
//
// Example:
//
//	cfg := config.Default()
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	if err != nil { /* ConfigurationFault or StorageFault */ }
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	_ = rt.Datastore().Insert(ctx, "k", "v")
package runtime
