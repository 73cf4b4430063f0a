package index

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec transforms values held in memory. The choice is fixed for the
// lifetime of an Index; every entry uses the same codec.
type Codec interface {
	Name() string
	Encode(value string) ([]byte, error)
	Decode(data []byte) (string, error)
}

// NewCodec returns the codec for identity, gzip or zstd.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "identity", "":
		return identityCodec{}, nil
	case "gzip":
		return &gzipCodec{}, nil
	case "zstd":
		return newZstdCodec()
	default:
		return nil, fmt.Errorf("index: unknown value encoding %q", name)
	}
}

type identityCodec struct{}

func (identityCodec) Name() string                       { return "identity" }
func (identityCodec) Encode(v string) ([]byte, error)    { return []byte(v), nil }
func (identityCodec) Decode(data []byte) (string, error) { return string(data), nil }

type gzipCodec struct {
	writers sync.Pool
}

func (c *gzipCodec) Name() string { return "gzip" }

func (c *gzipCodec) Encode(v string) ([]byte, error) {
	var buf bytes.Buffer
	w, _ := c.writers.Get().(*gzip.Writer)
	if w == nil {
		w = gzip.NewWriter(&buf)
	} else {
		w.Reset(&buf)
	}
	defer c.writers.Put(w)
	if _, err := io.WriteString(w, v); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decode(data []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("index: gzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("index: gzip: %w", err)
	}
	return string(out), nil
}

// zstdCodec uses the stateless EncodeAll/DecodeAll entry points, which are
// safe for concurrent use on a shared encoder and decoder.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Encode(v string) ([]byte, error) {
	return c.enc.EncodeAll([]byte(v), nil), nil
}

func (c *zstdCodec) Decode(data []byte) (string, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("index: zstd: %w", err)
	}
	return string(out), nil
}
