// Package grpcserver serves the kvdb.v1.KV service and the standard gRPC
// health service. Messages are JSON encoded; see package kvv1.
package grpcserver
