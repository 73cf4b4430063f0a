// Package client provides the `kvdb` command-line client.
//
// The CLI talks to the kvdb HTTP or gRPC endpoint to read and write keys,
// follow the change feed and run administrative tasks.
//
// # Address configuration
//
// The transport is chosen with --transport http|grpc (default http). The
// HTTP base URL comes from --url or KVDB_HTTP_URL (default
// http://127.0.0.1:9090); the gRPC address from --grpc or KVDB_GRPC
// (default 127.0.0.1:50051). When the server has auth enabled, pass
// --api-key or set KVDB_API_KEY.
//
// Usage
//
//	kvdb kv put user/1 alice
//	kvdb kv get user/1
//	kvdb kv batch user/1 user/2
//	kvdb kv range --from user/ --to user0
//	kvdb kv delete user/1
//	kvdb kv watch --filter 'key.startsWith("user/")' --limit 10
//
//	kvdb admin stats --human
//	kvdb admin backup
//	kvdb --transport grpc admin health
package client
