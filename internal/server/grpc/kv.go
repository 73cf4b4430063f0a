package grpcserver

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	kvv1 "github.com/rzbill/kvdb/api/kv/v1"
	"github.com/rzbill/kvdb/internal/backup"
	"github.com/rzbill/kvdb/internal/datastore"
	"github.com/rzbill/kvdb/internal/notify"
	"github.com/rzbill/kvdb/internal/runtime"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

type kvSvc struct {
	kvv1.UnimplementedKVServer
	rt     *runtime.Runtime
	logger logpkg.Logger
}

func (s *kvSvc) Get(ctx context.Context, req *kvv1.GetRequest) (*kvv1.GetResponse, error) {
	v, ok, err := s.rt.Datastore().Get(req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &kvv1.GetResponse{Key: req.Key, Value: v, Found: ok}, nil
}

func (s *kvSvc) GetBatch(ctx context.Context, req *kvv1.GetBatchRequest) (*kvv1.GetBatchResponse, error) {
	found, err := s.rt.Datastore().GetBatch(req.Keys)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make(map[string]string, len(req.Keys))
	for _, k := range req.Keys {
		out[k] = found[k]
	}
	return &kvv1.GetBatchResponse{Values: out}, nil
}

func (s *kvSvc) Range(ctx context.Context, req *kvv1.RangeRequest) (*kvv1.RangeResponse, error) {
	entries, err := s.rt.Datastore().GetRange(req.From, req.To)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &kvv1.RangeResponse{Entries: make([]kvv1.Entry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, kvv1.Entry{Key: e.Key, Value: e.Value})
	}
	return out, nil
}

func (s *kvSvc) Put(ctx context.Context, req *kvv1.PutRequest) (*kvv1.PutResponse, error) {
	if err := s.rt.Datastore().Insert(ctx, req.Key, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &kvv1.PutResponse{}, nil
}

func (s *kvSvc) Delete(ctx context.Context, req *kvv1.DeleteRequest) (*kvv1.DeleteResponse, error) {
	old, had, err := s.rt.Datastore().Remove(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &kvv1.DeleteResponse{Previous: old, Existed: had}, nil
}

func (s *kvSvc) Stats(ctx context.Context, _ *kvv1.StatsRequest) (*kvv1.StatsResponse, error) {
	stats := s.rt.Datastore().Stats()
	for k, v := range s.rt.Backups().Stats() {
		stats[k] = v
	}
	return &kvv1.StatsResponse{Stats: stats}, nil
}

func (s *kvSvc) Backup(ctx context.Context, _ *kvv1.BackupRequest) (*kvv1.BackupResponse, error) {
	art, err := s.rt.Datastore().TakeBackup(ctx)
	var uerr *backup.UploadError
	if err != nil && !errors.As(err, &uerr) {
		return nil, toStatus(err)
	}
	out := &kvv1.BackupResponse{Name: art.Name, Path: art.Path, Size: art.Size, Uploaded: art.Uploaded, Kept: art.Kept}
	if uerr != nil {
		out.UploadError = uerr.Error()
	}
	return out, nil
}

type grpcSink struct {
	stream kvv1.KV_WatchServer
}

func (g grpcSink) Send(p []byte) error {
	return g.stream.Send(&kvv1.WatchEvent{Event: append([]byte(nil), p...)})
}
func (g grpcSink) Context() context.Context { return g.stream.Context() }
func (g grpcSink) Flush() error             { return nil }

func (s *kvSvc) Watch(req *kvv1.WatchRequest, stream kvv1.KV_WatchServer) error {
	subID := uuid.NewString()
	sub, err := s.rt.Datastore().Subscribe(subID, grpcSink{stream: stream}, notify.Options{Filter: req.Filter})
	if err != nil {
		return toStatus(err)
	}
	s.logger.Debug("grpc subscriber connected", logpkg.Str(logpkg.SubscriberIDKey, subID))
	select {
	case <-stream.Context().Done():
	case <-sub.Done():
	}
	s.rt.Datastore().Unsubscribe(subID)
	// The stream is invalid once Watch returns, so wait out any in-flight Send.
	<-sub.Done()
	if stream.Context().Err() != nil {
		return nil
	}
	return toStatus(sub.Err())
}

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	var fe *notify.FilterError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datastore.ErrInvalidKey), errors.As(err, &fe):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, datastore.ErrClosed), errors.Is(err, notify.ErrRegistryClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, backup.ErrBackupInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, datastore.ErrBackupUnavailable):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, notify.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
