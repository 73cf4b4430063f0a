// Package pebblestore is kvdb's durable log store: a thin wrapper around
// Pebble adding an fsync policy, at-rest value encryption, single-record
// atomic commits, ordered full scans, online checkpoints and counters.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./db",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.CommitPut(ctx, "k", "v")
//	_ = db.ScanAll(ctx, func(r pebblestore.Record) error { return nil })
//	_, _ = db.Snapshot(ctx, "./db/backups/.staging/ck-1")
package pebblestore
