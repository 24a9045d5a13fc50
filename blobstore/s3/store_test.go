package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hsne/blobstore"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewStore(fake, "bucket", "cache/")

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	for i := range 5 {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("iris_%d.hsne", i), []byte(strings.Repeat("x", i+1))))
	}
	require.NoError(t, store.Put(ctx, "mnist.hsne", []byte("m")))
	fake.objects["cache2/other"] = []byte("outside")
	assert.Contains(t, fake.objects, "cache/iris_0.hsne")

	names, err := store.List(ctx, "iris_")
	require.NoError(t, err)
	assert.Equal(t, []string{"iris_0.hsne", "iris_1.hsne", "iris_2.hsne", "iris_3.hsne", "iris_4.hsne"}, names)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)

	data, err := blobstore.Get(ctx, store, "iris_3.hsne")
	require.NoError(t, err)
	assert.Equal(t, "xxxx", string(data))

	b, err := store.Open(ctx, "iris_4.hsne")
	require.NoError(t, err)
	buf := make([]byte, 10)
	n, err := b.ReadAt(buf, 3)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, store.Delete(ctx, "iris_4.hsne"))
	_, err = store.Open(ctx, "iris_4.hsne")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStoreMultipart(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewStore(fake, "bucket", "", WithUploadConfig(UploadConfig{PartSize: 5 * 1024 * 1024, Concurrency: 2}))

	data := bytes.Repeat([]byte("hsne"), 6*1024*1024/4)
	require.NoError(t, store.Put(ctx, "big.hsne", data))
	assert.Equal(t, 0, fake.puts)
	assert.Equal(t, 2, fake.parts)

	got, err := blobstore.Get(ctx, store, "big.hsne")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

type mockClient struct {
	Client
	mock.Mock
}

func (m *mockClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func TestStoreOpenErrors(t *testing.T) {
	boom := errors.New("access denied")

	m := &mockClient{}
	m.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Bucket) == "bucket" && aws.ToString(in.Key) == "p/denied"
	})).Return(nil, boom).Once()

	store := NewStore(m, "bucket", "p")
	_, err := store.Open(context.Background(), "denied")
	assert.ErrorIs(t, err, boom)
	m.AssertExpectations(t)
}

func pointer(name string) bool { return strings.HasSuffix(name, "_parameters.hsne") }

func TestDDBCommitStore(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	ddb := newFakeDDB()
	store := NewDDBCommitStore(NewStore(fake, "bucket", "cache"), ddb, "hsne-commits", "s3://bucket/cache", pointer)

	_, err := store.Open(ctx, "iris_parameters.hsne")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Put(ctx, "iris_parameters.hsne", []byte(fmt.Sprintf(`{"seed":%d}`, i))))
	}
	require.NoError(t, store.Put(ctx, "iris_hierarchy.hsne", []byte("scales")))

	data, err := blobstore.Get(ctx, store, "iris_parameters.hsne")
	require.NoError(t, err)
	assert.Equal(t, `{"seed":3}`, string(data))
	assert.Len(t, ddb.items["s3://bucket/cache#iris_parameters.hsne"], 3)

	names, err := store.List(ctx, "iris")
	require.NoError(t, err)
	assert.Equal(t, []string{"iris_hierarchy.hsne", "iris_parameters.hsne"}, names)

	require.NoError(t, store.Delete(ctx, "iris_parameters.hsne"))
	_, err = store.Open(ctx, "iris_parameters.hsne")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"iris_hierarchy.hsne"}, names)
}

func TestDDBCommitStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	store := NewDDBCommitStore(NewStore(newFakeS3(), "bucket", ""), ddb, "hsne-commits", "s3://bucket", pointer)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Put(ctx, "x_parameters.hsne", []byte(fmt.Sprint(i)))
			if err != nil && !errors.Is(err, ErrConcurrentModification) {
				t.Errorf("unexpected error: %v", err)
			}
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Positive(t, successes)
	assert.Len(t, ddb.items["s3://bucket#x_parameters.hsne"], successes)
}

func TestIntegrationStore(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}

	ctx := context.Background()
	store, err := New(ctx, bucket, fmt.Sprintf("hsne-test-%d/", time.Now().UnixNano()))
	require.NoError(t, err)

	data := bytes.Repeat([]byte{7}, 1<<20)
	require.NoError(t, store.Put(ctx, "blob.hsne", data))
	defer func() { _ = store.Delete(ctx, "blob.hsne") }()

	got, err := blobstore.Get(ctx, store, "blob.hsne")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
