// Package transports provides pluggable transport implementations for the CLI.
package transports

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	kvv1 "github.com/rzbill/kvdb/api/kv/v1"
)

// GrpcTransport implements KVTransport over gRPC.
type GrpcTransport struct {
	dial   func(ctx context.Context) (*grpc.ClientConn, error)
	apiKey string
}

// NewGrpcTransport constructs a new GrpcTransport using the provided dialer.
// A non-empty apiKey is sent as a bearer token on every call.
func NewGrpcTransport(dial func(ctx context.Context) (*grpc.ClientConn, error), apiKey string) *GrpcTransport {
	return &GrpcTransport{dial: dial, apiKey: apiKey}
}

func (t *GrpcTransport) withClient(ctx context.Context, fn func(ctx context.Context, cli kvv1.KVClient) error) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	if t.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+t.apiKey)
	}
	return fn(ctx, kvv1.NewKVClient(conn))
}

// Get reads one key via gRPC.
func (t *GrpcTransport) Get(ctx context.Context, key string) (value string, found bool, err error) {
	err = t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		res, err := cli.Get(ctx, &kvv1.GetRequest{Key: key})
		if err != nil {
			return err
		}
		value, found = res.Value, res.Found
		return nil
	})
	return value, found, err
}

func (t *GrpcTransport) GetBatch(ctx context.Context, keys []string) (out map[string]string, err error) {
	err = t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		res, err := cli.GetBatch(ctx, &kvv1.GetBatchRequest{Keys: keys})
		if err != nil {
			return err
		}
		out = res.Values
		return nil
	})
	return out, err
}

func (t *GrpcTransport) Range(ctx context.Context, from, to string) (out []Entry, err error) {
	err = t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		res, err := cli.Range(ctx, &kvv1.RangeRequest{From: from, To: to})
		if err != nil {
			return err
		}
		out = make([]Entry, 0, len(res.Entries))
		for _, e := range res.Entries {
			out = append(out, Entry{Key: e.Key, Value: e.Value})
		}
		return nil
	})
	return out, err
}

func (t *GrpcTransport) Put(ctx context.Context, key, value string) error {
	return t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		_, err := cli.Put(ctx, &kvv1.PutRequest{Key: key, Value: value})
		return err
	})
}

func (t *GrpcTransport) Delete(ctx context.Context, key string) (prev string, err error) {
	err = t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		res, err := cli.Delete(ctx, &kvv1.DeleteRequest{Key: key})
		if err != nil {
			return err
		}
		prev = res.Previous
		return nil
	})
	return prev, err
}

func (t *GrpcTransport) Stats(ctx context.Context) (out map[string]any, err error) {
	err = t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		res, err := cli.Stats(ctx, &kvv1.StatsRequest{})
		if err != nil {
			return err
		}
		out = res.Stats
		return nil
	})
	return out, err
}

func (t *GrpcTransport) Backup(ctx context.Context) (out BackupResult, err error) {
	err = t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		res, err := cli.Backup(ctx, &kvv1.BackupRequest{})
		if err != nil {
			return err
		}
		out = BackupResult{Name: res.Name, Path: res.Path, Size: res.Size, Uploaded: res.Uploaded, Kept: res.Kept, UploadError: res.UploadError}
		return nil
	})
	return out, err
}

// Health queries the standard gRPC health service.
func (t *GrpcTransport) Health(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", res.GetStatus())
	}
	return nil
}

// Watch streams change events and invokes onEvent for each.
func (t *GrpcTransport) Watch(ctx context.Context, filter string, onEvent func(event []byte) error) error {
	return t.withClient(ctx, func(ctx context.Context, cli kvv1.KVClient) error {
		stream, err := cli.Watch(ctx, &kvv1.WatchRequest{Filter: filter})
		if err != nil {
			return err
		}
		for {
			m, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
					return nil
				}
				return err
			}
			if cbErr := onEvent(m.Event); cbErr != nil {
				return cbErr
			}
		}
	})
}
