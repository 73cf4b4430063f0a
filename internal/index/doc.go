// Package index holds kvdb's ordered in-memory view of every key. All reads
// are served from here; the durable store is only consulted at startup.
package index
