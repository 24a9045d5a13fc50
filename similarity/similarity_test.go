package similarity

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaussianPoints(n, dim int, seed uint64) []float32 {
	r := rand.New(rand.NewPCG(seed, 17))
	out := make([]float32, n*dim)
	for i := range out {
		out[i] = float32(r.NormFloat64())
	}
	return out
}

func exactOptions() knn.Options {
	o := knn.DefaultOptions()
	o.Algorithm = knn.AlgorithmExact
	return o
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"Perplexity", func(o *Options) { o.Perplexity = 0 }},
		{"Multiplier", func(o *Options) { o.NeighborMultiplier = -1 }},
		{"Bounds", func(o *Options) { o.MinMultiplier, o.MaxMultiplier = 4, 2 }},
		{"RowSum", func(o *Options) { o.RowSum = 0 }},
		{"Tolerance", func(o *Options) { o.Tolerance = 0 }},
		{"Steps", func(o *Options) { o.MaxSearchSteps = 0 }},
	}

	require.NoError(t, DefaultOptions().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			assert.ErrorIs(t, o.Validate(), ErrInvalidParameter)
		})
	}
}

func TestConditionalEntropy(t *testing.T) {
	points := gaussianPoints(200, 5, 3)

	opts := DefaultOptions()
	opts.Perplexity = 10

	g, err := knn.Compute(context.Background(), points, 5, opts.NumNeighbors(), exactOptions())
	require.NoError(t, err)

	p, cal, err := Conditional(context.Background(), g, opts)
	require.NoError(t, err)
	assert.Zero(t, cal.Degenerate)

	require.NoError(t, p.CheckRowSums(1, 1e-5))

	for i := 0; i < p.N(); i++ {
		h := 0.0
		for _, e := range p.Row(i) {
			if e.Weight > 0 {
				h -= float64(e.Weight) * math.Log(float64(e.Weight))
			}
		}
		assert.InDelta(t, math.Log(opts.Perplexity), h, 1e-3, "row %d", i)
	}
}

func TestConditionalDegenerate(t *testing.T) {
	// Identical points give identical neighbour distances.
	points := make([]float32, 40*3)

	opts := DefaultOptions()
	opts.Perplexity = 3

	g, err := knn.Compute(context.Background(), points, 3, 9, exactOptions())
	require.NoError(t, err)

	p, cal, err := Conditional(context.Background(), g, opts)
	require.NoError(t, err)
	assert.Equal(t, 40, cal.Degenerate)

	for i := 0; i < p.N(); i++ {
		for _, e := range p.Row(i) {
			assert.InDelta(t, 1.0/9, e.Weight, 1e-6)
		}
	}
}

func TestConditionalShortRows(t *testing.T) {
	g := &knn.Graph{
		N:         3,
		K:         2,
		Indices:   []uint32{1, 2, 0, 0, 0, 0},
		Distances: []float32{1, 2, 1, 0, 0, 0},
		Counts:    []int{2, 1, 0},
	}

	opts := DefaultOptions()
	opts.Perplexity = 2

	p, cal, err := Conditional(context.Background(), g, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, cal.Degenerate)

	require.Len(t, p.Row(0), 2)
	assert.InDelta(t, 1, p.Row(0)[0].Weight+p.Row(0)[1].Weight, 1e-6)
	assert.Equal(t, []sparse.Entry{{Col: 0, Weight: 1}}, p.Row(1))
	assert.Empty(t, p.Row(2))
}

func TestCalibrateRowCap(t *testing.T) {
	// Perplexity above the neighbour count can never be reached.
	dist := []float64{1, 2, 3}
	w := make([]float64, 3)

	status := calibrateRow(dist, w, math.Log(50), 1e-5, 200)
	assert.Equal(t, rowUnconverged, status)

	sum := w[0] + w[1] + w[2]
	assert.InDelta(t, 1, sum, 1e-9)
	for _, v := range w {
		assert.False(t, math.IsNaN(v))
	}
}

func TestSymmetrizeSmall(t *testing.T) {
	p, err := sparse.FromRows([][]sparse.Entry{
		{{Col: 1, Weight: 0.6}, {Col: 2, Weight: 0.4}},
		{{Col: 0, Weight: 0.5}, {Col: 2, Weight: 0.5}},
		{{Col: 0, Weight: 0.9}, {Col: 1, Weight: 0.1}},
	})
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Perplexity = 1

	a, bal, err := Symmetrize(p, opts)
	require.NoError(t, err)
	assert.Zero(t, bal.Pruned)

	assert.True(t, a.IsSymmetric(1e-6))
	require.NoError(t, a.CheckRowSums(2, 1e-4))
}

// 500 points with perplexity 30: every row keeps between 60 and 180 entries
// and sums to 2.
func TestEstimateAffinityBounds(t *testing.T) {
	points := gaussianPoints(500, 10, 42)

	opts := DefaultOptions()
	opts.Perplexity = 30

	a, err := Estimate(context.Background(), points, 10, opts, exactOptions())
	require.NoError(t, err)
	require.Equal(t, 500, a.N())

	for i := 0; i < a.N(); i++ {
		n := len(a.Row(i))
		assert.GreaterOrEqual(t, n, 60, "row %d", i)
		assert.LessOrEqual(t, n, 180, "row %d", i)
		assert.InDelta(t, 2, a.RowSum(i), 1e-4, "row %d", i)
	}

	assert.True(t, a.IsSymmetric(1e-6))
	assert.InDelta(t, 1000, a.Total(), 1e-2)
}

func TestEstimateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Estimate(ctx, gaussianPoints(100, 4, 1), 4, DefaultOptions(), exactOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
