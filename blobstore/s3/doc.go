// Package s3 stores hierarchy cache blobs in Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket", "hsne-cache/",
//	    config.WithRegion("eu-central-1"),
//	)
//
// Small blobs are written with a single PutObject carrying a CRC32C
// checksum; larger ones go through the multipart uploader. DDBCommitStore
// adds DynamoDB-versioned commit pointers on top of a Store, so concurrent
// writers never observe a half-written cache entry.
package s3
