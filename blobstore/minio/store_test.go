package minio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vash/blobstore"
)

var _ Client = (*minio.Client)(nil)

// fakeClient keeps objects in memory. Reads go through GetObject, which a
// fake cannot construct, so read paths are covered by the integration test.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	listErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (c *fakeClient) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return minio.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (c *fakeClient) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = data
	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

func (c *fakeClient) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not supported by fake")
}

func (c *fakeClient) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[key]; !ok {
		return minio.ErrorResponse{Code: "NoSuchKey"}
	}
	delete(c.objects, key)
	return nil
}

func (c *fakeClient) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan minio.ObjectInfo, len(c.objects)+1)
	if c.listErr != nil {
		ch <- minio.ObjectInfo{Err: c.listErr}
	}
	for key := range c.objects {
		if len(key) >= len(opts.Prefix) && key[:len(opts.Prefix)] == opts.Prefix {
			ch <- minio.ObjectInfo{Key: key}
		}
	}
	close(ch)
	return ch
}

func TestStore_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := NewStore(client, "bucket", "/vash/")

	require.NoError(t, store.Put(ctx, "runs/1/vocabulary.bin", []byte("centroids")))
	assert.Contains(t, client.objects, "vash/runs/1/vocabulary.bin")

	blob, err := store.Open(ctx, "runs/1/vocabulary.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(9), blob.Size())
	require.NoError(t, blob.Close())

	_, err = store.Open(ctx, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "runs/1/vocabulary.bin"))
	require.NoError(t, store.Delete(ctx, "runs/1/vocabulary.bin"))
	assert.Empty(t, client.objects)

	assert.ErrorIs(t, store.Put(ctx, "", nil), blobstore.ErrInvalidName)
}

func TestStore_CreateStreams(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := NewStore(client, "bucket", "")

	w, err := store.Create(ctx, "runs/1/database.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("rec"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ords"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, "records", string(client.objects["runs/1/database.bin"]))
}

func TestStore_CreateAbort(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := NewStore(client, "bucket", "p")

	w, err := store.Create(ctx, "x")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())

	assert.Empty(t, client.objects)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := NewStore(client, "bucket", "vash")

	for _, name := range []string{"runs/2/a", "runs/1/a", "CURRENT"} {
		require.NoError(t, store.Put(ctx, name, []byte("x")))
	}
	client.objects["other/zzz"] = nil

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CURRENT", "runs/1/a", "runs/2/a"}, names)

	names, err = store.List(ctx, "runs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/1/a", "runs/2/a"}, names)

	client.listErr = errors.New("denied")
	_, err = store.List(ctx, "")
	assert.ErrorIs(t, err, client.listErr)
}
