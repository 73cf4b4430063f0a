package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader ships a finished archive somewhere off the host.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) error
}

// NewUploader builds an uploader for dest: gs://bucket[/prefix] or
// file:///path. An empty dest returns nil, meaning archives stay local.
// endpoint, when set, points the object store client at a custom API host.
func NewUploader(ctx context.Context, dest, endpoint string) (Uploader, error) {
	if dest == "" {
		return nil, nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("backup: dest %q: %w", dest, err)
	}
	switch u.Scheme {
	case "gs":
		var opts []option.ClientOption
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
		}
		g, err := NewGCSUploader(ctx, u.Host, strings.Trim(u.Path, "/"), opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "file":
		return &DirUploader{Dir: u.Path}, nil
	default:
		return nil, fmt.Errorf("backup: unsupported dest scheme %q", u.Scheme)
	}
}

// GCSUploader writes archives to a Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader opens a storage client for bucket. Objects are written
// under prefix.
func NewGCSUploader(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("backup: gs dest needs a bucket")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backup: new storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSUploader) objectName(name string) string {
	if g.prefix == "" {
		return name
	}
	return path.Join(g.prefix, name)
}

// Upload streams localPath to gs://bucket/prefix/name.
func (g *GCSUploader) Upload(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	// Cancelling the context is the only way to abort a storage.Writer
	// without committing a partial object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.client.Bucket(g.bucket).Object(g.objectName(name)).NewWriter(ctx)
	w.ContentType = "application/gzip"
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("backup: upload gs://%s/%s: %w", g.bucket, g.objectName(name), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("backup: upload gs://%s/%s: %w", g.bucket, g.objectName(name), err)
	}
	return nil
}

// Close releases the storage client.
func (g *GCSUploader) Close() error { return g.client.Close() }

// DirUploader copies archives into a directory, typically a mounted
// network volume.
type DirUploader struct {
	Dir string
}

// Upload copies localPath to Dir/name.
func (d *DirUploader) Upload(ctx context.Context, localPath, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	dest := filepath.Join(d.Dir, name)
	tmp := dest + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
