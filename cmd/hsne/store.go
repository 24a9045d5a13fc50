package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/hsne/blobstore"
	"github.com/hupe1980/hsne/blobstore/minio"
	"github.com/hupe1980/hsne/blobstore/s3"
	"github.com/hupe1980/hsne/cache"
	"github.com/hupe1980/hsne/persistence"
	"github.com/hupe1980/hsne/resource"
)

// location is a parsed -cache value.
type location struct {
	scheme string // "file", "s3" or "minio"
	host   string // bucket for s3, endpoint for minio
	bucket string
	prefix string
	path   string
}

func parseLocation(raw string) (location, error) {
	if !strings.Contains(raw, "://") {
		return location{scheme: "file", path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return location{}, fmt.Errorf("invalid cache location %q: %w", raw, err)
	}
	rest := strings.Trim(u.Path, "/")

	switch u.Scheme {
	case "file":
		return location{scheme: "file", path: u.Host + u.Path}, nil
	case "s3":
		if u.Host == "" {
			return location{}, fmt.Errorf("cache location %q names no bucket", raw)
		}
		return location{scheme: "s3", bucket: u.Host, prefix: prefixOf(rest)}, nil
	case "minio":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if u.Host == "" || bucket == "" {
			return location{}, fmt.Errorf("cache location %q needs minio://host/bucket", raw)
		}
		return location{scheme: "minio", host: u.Host, bucket: bucket, prefix: prefixOf(prefix)}, nil
	default:
		return location{}, fmt.Errorf("unsupported cache scheme %q", u.Scheme)
	}
}

func prefixOf(p string) string {
	if p == "" {
		return ""
	}
	return strings.TrimSuffix(p, "/") + "/"
}

// openStore opens the blob store named by raw. Remote stores are fronted by
// an in-memory blob cache of cacheBytes.
func openStore(ctx context.Context, raw, ddbTable string, cacheBytes int64, rc *resource.Controller) (blobstore.BlobStore, error) {
	loc, err := parseLocation(raw)
	if err != nil {
		return nil, err
	}

	var store blobstore.BlobStore
	switch loc.scheme {
	case "file":
		if err := os.MkdirAll(loc.path, 0o755); err != nil {
			return nil, err
		}
		return blobstore.NewLocalStore(loc.path), nil

	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		s3Store := s3.NewStore(awss3.NewFromConfig(awsCfg), loc.bucket, loc.prefix)
		store = s3Store
		if ddbTable != "" {
			baseURI := "s3://" + loc.bucket + "/" + loc.prefix
			store = s3.NewDDBCommitStore(s3Store, dynamodb.NewFromConfig(awsCfg), ddbTable, baseURI, cache.IsParametersBlob)
		}

	case "minio":
		store, err = minio.Dial(ctx, minio.Config{
			Endpoint:     loc.host,
			AccessKey:    os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:    os.Getenv("MINIO_SECRET_KEY"),
			Secure:       os.Getenv("MINIO_SECURE") == "true",
			Region:       os.Getenv("MINIO_REGION"),
			Bucket:       loc.bucket,
			Prefix:       loc.prefix,
			CreateBucket: true,
		})
		if err != nil {
			return nil, err
		}
	}

	if cacheBytes > 0 {
		store = blobstore.NewCachingStore(store, cacheBytes, rc)
	}
	return store, nil
}

func cacheOptions(c persistence.Compression) []cache.Option {
	return []cache.Option{cache.WithCompression(c)}
}
