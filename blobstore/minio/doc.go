// Package minio stores hierarchy cache blobs in MinIO or any other
// S3-compatible service reachable through the MinIO client.
//
//	store, err := minio.Dial(ctx, minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "hsne",
//	    Prefix:    "cache/",
//	})
package minio
