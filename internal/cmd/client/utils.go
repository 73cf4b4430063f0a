package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	kvv1 "github.com/rzbill/kvdb/api/kv/v1"
	transports "github.com/rzbill/kvdb/internal/cmd/client/transports"
)

const (
	defaultHTTPURL  = "http://127.0.0.1:9090"
	defaultGRPCAddr = "127.0.0.1:50051"
)

// httpURLFromEnv returns the REST base URL from KVDB_HTTP_URL or a default.
func httpURLFromEnv() string {
	if u := os.Getenv("KVDB_HTTP_URL"); u != "" {
		return u
	}
	return defaultHTTPURL
}

// grpcAddrFromEnv returns the gRPC server address from KVDB_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("KVDB_GRPC"); addr != "" {
		return addr
	}
	return defaultGRPCAddr
}

// grpcDialer dials addr with insecure transport for local/dev.
func grpcDialer(addr string) func(ctx context.Context) (*grpc.ClientConn, error) {
	return func(ctx context.Context) (*grpc.ClientConn, error) {
		return grpc.NewClient(addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(kvv1.CallOptions()...))
	}
}

// getTransport picks the transport from the persistent flags.
func getTransport(cmd *cobra.Command) (transports.KVTransport, error) {
	kind, _ := cmd.Flags().GetString("transport")
	apiKey, _ := cmd.Flags().GetString("api-key")
	switch kind {
	case "", "http":
		base, _ := cmd.Flags().GetString("url")
		if base == "" {
			base = httpURLFromEnv()
		}
		return transports.NewHTTPTransport(base, apiKey, nil), nil
	case "grpc":
		addr, _ := cmd.Flags().GetString("grpc")
		if addr == "" {
			addr = grpcAddrFromEnv()
		}
		return transports.NewGrpcTransport(grpcDialer(addr), apiKey), nil
	default:
		return nil, fmt.Errorf("invalid --transport %q; use http|grpc", kind)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
