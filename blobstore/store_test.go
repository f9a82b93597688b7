package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vash/resource"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "b", []byte("bee")))
	w, err := store.Create(ctx, "a")
	require.NoError(t, err)
	_, err = w.Write([]byte("ay"))
	require.NoError(t, err)

	_, err = store.Open(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, w.Close())

	got, err := ReadFile(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, "ay", string(got))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Open(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Create(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestCompressedStore(t *testing.T) {
	payload := bytes.Repeat([]byte("visual words "), 1000)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			inner := NewMemoryStore()
			store := NewCompressedStore(inner, c)
			assert.Equal(t, c, store.Compression())

			require.NoError(t, WriteFile(ctx, store, "runs/1/database.bin", func(w io.Writer) error {
				_, err := w.Write(payload)
				return err
			}))

			raw, err := ReadFile(ctx, inner, "runs/1/database.bin")
			require.NoError(t, err)
			if c == CompressionNone {
				assert.Equal(t, payload, raw)
			} else {
				assert.Less(t, len(raw), len(payload))
			}

			got, err := ReadFile(ctx, store, "runs/1/database.bin")
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			names, err := store.List(ctx, "runs/")
			require.NoError(t, err)
			assert.Equal(t, []string{"runs/1/database.bin"}, names)
		})
	}
}

func TestCompressedStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "x", []byte("definitely not a frame")))

	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		_, err := NewCompressedStore(inner, c).Open(ctx, "x")
		assert.ErrorIs(t, err, ErrCorrupt, c.String())
	}
}

func TestCompressedStore_Abort(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCompressedStore(inner, CompressionZstd)

	w, err := store.Create(ctx, "x")
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())
	assert.Zero(t, inner.Len())
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want Compression
	}{
		{"", CompressionNone},
		{"none", CompressionNone},
		{"LZ4", CompressionLZ4},
		{"zstd", CompressionZstd},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseCompression("brotli")
	assert.Error(t, err)
	assert.Equal(t, "compression(9)", Compression(9).String())
}

func TestThrottledStore(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	store := NewThrottledStore(NewMemoryStore(), rc)

	require.NoError(t, store.Put(ctx, "a", []byte("abc")))
	require.NoError(t, WriteFile(ctx, store, "b", func(w io.Writer) error {
		_, err := w.Write([]byte("defg"))
		return err
	}))

	b, err := store.Open(ctx, "b")
	require.NoError(t, err)
	defer b.Close()
	_, mappable := b.(Mappable)
	assert.False(t, mappable)

	got, err := ReadAll(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "defg", string(got))

	rr, err := b.ReadRange(ctx, 1, 2)
	require.NoError(t, err)
	part, err := io.ReadAll(rr)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(part))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	require.NoError(t, store.Delete(ctx, "a"))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.Put(canceled, "c", []byte("x")), context.Canceled)
}
