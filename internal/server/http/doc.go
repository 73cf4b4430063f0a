// Package httpserver is the REST and streaming front end of kvdb.
//
// Routes:
//
//	GET    /v1/healthz              liveness
//	GET    /kv/v1/{key}             {"key": "value"}, "" when absent
//	GET    /kv/v1/batch?keys=a,b    {"a": "..", "b": ".."}
//	GET    /kv/v1/range?from=&to=   ordered entries in [from, to)
//	PUT    /kv/v1/{key}/{value}     insert
//	POST   /kv/v1/{key}             insert, body {"value": ".."}
//	DELETE /kv/v1/{key}             delete, returns the previous value
//	GET    /kv/v1/watch?filter=     Server-Sent Events change feed
//	GET    /ws/v1/{apiKey}          WebSocket change feed
//	GET    /admin/db/stats          engine statistics
//	GET    /admin/metrics           Prometheus exposition
//	POST   /admin/backup            run a backup now
//
// Range bounds are optional and an omitted one is open, so GET /kv/v1/range
// with neither returns every key, including init.ts.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
