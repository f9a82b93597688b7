// Package blobstore stores the immutable blobs and manifests of committed runs.
//
// BlobStore is the interface for reading and writing named blobs. Names use
// forward slashes ("runs/000001/vocabulary.bin"). Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, mmap reads, atomic temp-file writes
//   - MemoryStore: in-memory, for tests
//   - CompressedStore: lz4 or zstd frames around another store
//   - ThrottledStore: IO rate limiting around another store
//   - s3.Store and minio.Store in the sub-packages
//
// A WritableBlob becomes visible only when Close succeeds. Abort discards it.
package blobstore
