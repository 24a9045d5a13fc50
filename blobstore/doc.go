// Package blobstore stores the immutable blobs of the hierarchy cache.
//
// A BlobStore opens blobs for random-access reads and writes whole blobs
// atomically with Put. Implementations must be safe for concurrent use.
//
// # Implementations
//
//   - MemoryStore: in-process maps, for tests and ephemeral runs
//   - LocalStore: a directory on the local filesystem, read through mmap
//   - s3.Store and s3.DDBCommitStore: Amazon S3, optionally with DynamoDB
//     versioned commit pointers
//   - minio.Store: MinIO and other S3-compatible services
//
// CachingStore keeps whole blobs of a slower store in memory.
package blobstore
