// Package backup takes online backups of the kvdb store.
//
// A run checkpoints Pebble into <dir>/.staging/, packs the checkpoint into
// <dir>/kvdb-backup-<UTC yyyyMMdd-HHmmss.SSS>.tar.gz and, when a remote
// destination is configured, uploads the archive and removes the local copy.
// Writers keep flowing while a backup runs.
package backup
