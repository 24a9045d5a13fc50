package s3

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/hsne/blobstore"
)

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrConcurrentModification is returned when another writer committed the
// same version first.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// DDBCommitStore versions pointer blobs through DynamoDB. A pointer blob is
// written to S3 under a versioned key and becomes visible only once its
// version is committed with a conditional write; readers always see the
// latest committed version. Other blobs pass through to the S3 store.
//
// Table schema: partition key base_uri (S), sort key version (N).
//
//	aws dynamodb create-table \
//	  --table-name hsne-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	store     *Store
	ddb       DDBClient
	table     string
	baseURI   string
	isPointer func(name string) bool
}

// NewDDBCommitStore creates a commit store. baseURI ("s3://bucket/prefix")
// scopes the partition keys; isPointer selects the versioned blobs.
func NewDDBCommitStore(store *Store, ddb DDBClient, table, baseURI string, isPointer func(name string) bool) *DDBCommitStore {
	return &DDBCommitStore{
		store:     store,
		ddb:       ddb,
		table:     table,
		baseURI:   baseURI,
		isPointer: isPointer,
	}
}

const versionSep = ".v"

func versioned(name string, v uint64) string {
	return fmt.Sprintf("%s%s%020d", name, versionSep, v)
}

func (s *DDBCommitStore) partition(name string) string {
	return s.baseURI + "#" + name
}

func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if !s.isPointer(name) {
		return s.store.Open(ctx, name)
	}
	versions, err := s.versions(ctx, name, 1)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, blobstore.ErrNotFound
	}
	return s.store.Open(ctx, versioned(name, versions[0]))
}

// Put commits pointer blobs as the next version.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if !s.isPointer(name) {
		return s.store.Put(ctx, name, data)
	}

	versions, err := s.versions(ctx, name, 1)
	if err != nil {
		return err
	}
	next := uint64(1)
	if len(versions) > 0 {
		next = versions[0] + 1
	}

	key := versioned(name, next)
	if err := s.store.Put(ctx, key, data); err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.partition(name)},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"blob_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("s3: commit %s version %d: %w", name, next, err)
	}
	return nil
}

// Delete removes every committed version of a pointer blob.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if !s.isPointer(name) {
		return s.store.Delete(ctx, name)
	}

	versions, err := s.versions(ctx, name, 0)
	if err != nil {
		return err
	}
	for _, v := range versions {
		_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key: map[string]types.AttributeValue{
				"base_uri": &types.AttributeValueMemberS{Value: s.partition(name)},
				"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(v, 10)},
			},
		})
		if err != nil {
			return fmt.Errorf("s3: delete %s version %d: %w", name, v, err)
		}
		if err := s.store.Delete(ctx, versioned(name, v)); err != nil {
			return err
		}
	}
	return nil
}

// List reports each pointer blob once, under its unversioned name.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := names[:0]
	for _, name := range names {
		if i := strings.LastIndex(name, versionSep); i > 0 {
			if base := name[:i]; s.isPointer(base) {
				if _, err := strconv.ParseUint(name[i+len(versionSep):], 10, 64); err == nil {
					name = base
				}
			}
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// versions returns committed versions, newest first. limit 0 means all.
func (s *DDBCommitStore) versions(ctx context.Context, name string, limit int32) ([]uint64, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.partition(name)},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	var out []uint64
	for {
		resp, err := s.ddb.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("s3: query commits of %s: %w", name, err)
		}
		for _, item := range resp.Items {
			attr, ok := item["version"].(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("s3: commit of %s has no numeric version", name)
			}
			v, err := strconv.ParseUint(attr.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("s3: parse version of %s: %w", name, err)
			}
			out = append(out, v)
		}
		if limit > 0 || len(resp.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}
