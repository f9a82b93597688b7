package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the frame format of a CompressedStore.
type Compression uint8

const (
	// CompressionNone stores blobs as written.
	CompressionNone Compression = iota
	// CompressionLZ4 uses LZ4 frames (fast).
	CompressionLZ4
	// CompressionZstd uses zstd frames (better ratio).
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", c)
	}
}

// ParseCompression parses "none", "lz4" or "zstd". The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

var zstdDecoderPool sync.Pool

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// CompressedStore compresses blobs on write and decompresses them whole on
// Open. Names are unchanged; the compression must be known to the reader.
type CompressedStore struct {
	inner       BlobStore
	compression Compression
}

// NewCompressedStore wraps inner.
func NewCompressedStore(inner BlobStore, c Compression) *CompressedStore {
	return &CompressedStore{inner: inner, compression: c}
}

// Compression returns the store's compression.
func (s *CompressedStore) Compression() Compression { return s.compression }

// Open reads and decompresses the whole blob.
func (s *CompressedStore) Open(ctx context.Context, name string) (Blob, error) {
	if s.compression == CompressionNone {
		return s.inner.Open(ctx, name)
	}
	raw, err := ReadFile(ctx, s.inner, name)
	if err != nil {
		return nil, err
	}
	data, err := s.decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %w", ErrCorrupt, name, s.compression, err)
	}
	return &bytesBlob{data: data}, nil
}

func (s *CompressedStore) decompress(raw []byte) ([]byte, error) {
	switch s.compression {
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
	case CompressionZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer putZstdDecoder(dec)
		return dec.DecodeAll(raw, nil)
	default:
		return raw, nil
	}
}

// Create returns a writer that streams a compressed frame into inner.
func (s *CompressedStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}

	var enc io.WriteCloser
	switch s.compression {
	case CompressionNone:
		return w, nil
	case CompressionLZ4:
		enc = lz4.NewWriter(w)
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = w.Abort()
			return nil, err
		}
		enc = zw
	default:
		_ = w.Abort()
		return nil, fmt.Errorf("unknown compression %d", s.compression)
	}
	return &compressedWritableBlob{enc: enc, w: w}, nil
}

// Put compresses and writes a whole blob.
func (s *CompressedStore) Put(ctx context.Context, name string, data []byte) error {
	return WriteFile(ctx, s, name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Delete removes a blob from inner.
func (s *CompressedStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List lists inner.
func (s *CompressedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type compressedWritableBlob struct {
	enc  io.WriteCloser
	w    WritableBlob
	done bool
}

func (b *compressedWritableBlob) Write(p []byte) (int, error) {
	return b.enc.Write(p)
}

// Sync is a no-op; frames are flushed by Close.
func (b *compressedWritableBlob) Sync() error { return nil }

func (b *compressedWritableBlob) Close() error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.enc.Close(); err != nil {
		_ = b.w.Abort()
		return err
	}
	return b.w.Close()
}

func (b *compressedWritableBlob) Abort() error {
	b.done = true
	return b.w.Abort()
}
