// Package kvv1 defines the kvdb.v1.KV gRPC service: request and response
// messages, the service descriptor, and a client stub.
//
// Messages travel as JSON through a codec registered under the "json"
// content subtype. Clients select it with CallOptions():
//
//	conn, _ := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()),
//		grpc.WithDefaultCallOptions(kvv1.CallOptions()...))
//	c := kvv1.NewKVClient(conn)
package kvv1
