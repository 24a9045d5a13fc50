package hnsw

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(num, dim int, seed uint64) [][]float32 {
	r := rand.New(rand.NewPCG(seed, seed))
	out := make([][]float32, num)
	for i := range out {
		out[i] = make([]float32, dim)
		for j := range out[i] {
			out[i][j] = r.Float32()
		}
	}
	return out
}

func TestInsertAndSearch(t *testing.T) {
	vectors := randomVectors(500, 8, 7)

	h := New(8, func(o *Options) {
		o.M = 12
		o.EF = 100
	})

	for i, v := range vectors {
		id, err := h.Insert(v)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), id)
	}
	assert.Equal(t, 500, h.Len())

	hits, total := 0, 0
	for qi := 0; qi < 50; qi++ {
		q := vectors[qi*7]

		approx, err := h.KNNSearch(q, 10, 100)
		require.NoError(t, err)
		require.Len(t, approx, 10)

		for i := 1; i < len(approx); i++ {
			assert.LessOrEqual(t, approx[i-1].Distance, approx[i].Distance)
		}

		exact, err := h.BruteSearch(q, 10)
		require.NoError(t, err)

		want := make(map[uint32]bool, len(exact))
		for _, it := range exact {
			want[it.Node] = true
		}
		for _, it := range approx {
			if want[it.Node] {
				hits++
			}
		}
		total += len(exact)
	}

	recall := float64(hits) / float64(total)
	assert.Greater(t, recall, 0.9)
}

func TestDimensionMismatch(t *testing.T) {
	h := New(3)

	_, err := h.Insert([]float32{1, 2})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, err = h.KNNSearch([]float32{1}, 1, 0)
	assert.Error(t, err)
}

func TestEmptyAndSelf(t *testing.T) {
	h := New(2)

	res, err := h.KNNSearch([]float32{0, 0}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = h.Insert([]float32{0, 0})
	require.NoError(t, err)
	_, err = h.Insert([]float32{1, 1})
	require.NoError(t, err)

	res, err = h.KNNSearch([]float32{1, 1}, 1, 0)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, uint32(1), res[0].Node)
	assert.Equal(t, float32(0), res[0].Distance)
}

func TestStats(t *testing.T) {
	h := New(4, func(o *Options) { o.Seed = 3 })
	for _, v := range randomVectors(200, 4, 3) {
		_, err := h.Insert(v)
		require.NoError(t, err)
	}

	s := h.Stats()
	assert.Equal(t, 200, s.Nodes)
	assert.Equal(t, 200, s.NodesPerLevel[0])
	assert.Greater(t, s.AvgConnections[0], 1.0)
}
