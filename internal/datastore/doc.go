// Package datastore is kvdb's mutation pipeline and read facade.
//
// Every write follows the same path under a per-key lock: durable commit,
// index apply, subscriber broadcast. Per key, the commit order, the order in
// which the index changes and the order of events are therefore identical.
// Mutations on different keys do not wait for each other unless their keys
// share a lock stripe.
//
// Reads never touch the durable store. The index is filled once by Open from
// a full scan and then kept in step by the pipeline.
package datastore
