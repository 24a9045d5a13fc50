package compute

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferOwnership(t *testing.T) {
	c, caller := NewContext("caller", WithWorkers(2))
	assert.Equal(t, "caller", c.Holder())
	assert.True(t, caller.Valid())

	worker, err := caller.TransferOwnership("worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", c.Holder())
	assert.Equal(t, "worker", worker.Holder())

	assert.False(t, caller.Valid())
	assert.True(t, worker.Valid())

	err = caller.Run(context.Background(), 10, func(_, _, _ int) error { return nil })
	assert.ErrorIs(t, err, ErrRevoked)

	_, err = caller.TransferOwnership("thief")
	assert.ErrorIs(t, err, ErrRevoked)

	back, err := worker.TransferOwnership("caller")
	require.NoError(t, err)
	assert.True(t, back.Valid())
	assert.False(t, worker.Valid())
}

func TestDestroy(t *testing.T) {
	c, lease := NewContext("caller")
	c.Destroy()
	c.Destroy()

	assert.True(t, c.Destroyed())
	assert.Equal(t, "", c.Holder())
	assert.False(t, lease.Valid())

	_, err := lease.TransferOwnership("worker")
	assert.ErrorIs(t, err, ErrDestroyed)

	_, err = lease.Sum(context.Background(), 4, func(_, _ int) float64 { return 1 })
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestRunCoversRange(t *testing.T) {
	_, lease := NewContext("caller", WithWorkers(4), WithChunkSize(7))
	assert.Equal(t, 15, lease.Chunks(100))

	seen := make([]atomic.Int32, 100)
	err := lease.Run(context.Background(), 100, func(_, lo, hi int) error {
		for i := lo; i < hi; i++ {
			seen[i].Add(1)
		}
		return nil
	})
	require.NoError(t, err)

	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load(), "index %d", i)
	}
}

func TestSumDeterministic(t *testing.T) {
	values := make([]float64, 10000)
	for i := range values {
		values[i] = 1.0 / float64(i+1)
	}

	sum := func(workers int) float64 {
		_, lease := NewContext("caller", WithWorkers(workers), WithChunkSize(64))
		s, err := lease.Sum(context.Background(), len(values), func(lo, hi int) float64 {
			var p float64
			for _, v := range values[lo:hi] {
				p += v
			}
			return p
		})
		require.NoError(t, err)
		return s
	}

	assert.Equal(t, sum(1), sum(8))
}

func TestRunCancelled(t *testing.T) {
	_, lease := NewContext("caller")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := lease.Run(ctx, 1000, func(_, _, _ int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
