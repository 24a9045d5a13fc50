package hierarchy

import (
	"context"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/persistence"
	"github.com/hupe1980/hsne/resource"
	"github.com/hupe1980/hsne/sparse"
	"github.com/hupe1980/hsne/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(seed int64) Params {
	p := DefaultParams()
	p.Seed = seed
	p.NumNeighbors = 30
	p.Knn.Algorithm = knn.AlgorithmExact
	return p
}

func buildBlobs(t *testing.T, params Params, opts ...Option) (*Hierarchy, []float32) {
	t.Helper()
	points, _ := testutil.NewRNG(3).Blobs(600, 5, 3, 1, 15)
	h, err := Build(context.Background(), points, 5, params, opts...)
	require.NoError(t, err)
	return h, points
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"Scales", func(p *Params) { p.NumScales = 0 }},
		{"Walks", func(p *Params) { p.NumWalksForLandmarkSelection = 0 }},
		{"Threshold", func(p *Params) { p.LandmarkThreshold = 0 }},
		{"Length", func(p *Params) { p.RandomWalkLength = 0 }},
		{"AoI", func(p *Params) { p.NumWalksForAreaOfInfluence = 0 }},
		{"MinWalks", func(p *Params) { p.MinWalksRequired = -1 }},
		{"Neighbors", func(p *Params) { p.NumNeighbors = 2 }},
	}

	require.NoError(t, DefaultParams().Validate())
	assert.Equal(t, 30.0, DefaultParams().Perplexity())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParameter)
		})
	}
}

// 1,000 random 10-D points, three scales, seed 42.
func TestScenarioThreeScales(t *testing.T) {
	points := testutil.NewRNG(42).GaussianPoints(1000, 10)

	params := DefaultParams()
	params.Seed = 42
	params.NumScales = 3
	params.Knn.Algorithm = knn.AlgorithmExact

	h, err := Build(context.Background(), points, 10, params)
	require.NoError(t, err)

	require.Equal(t, 3, h.NumScales())
	assert.Equal(t, 1000, h.Scales[0].Size())
	assert.Less(t, h.Scales[1].Size(), h.Scales[0].Size())
	assert.Less(t, h.Scales[2].Size(), h.Scales[1].Size())
	assert.Positive(t, h.Scales[2].Size())

	require.NoError(t, h.Validate(1e-5))
}

func TestHierarchyInvariants(t *testing.T) {
	for _, mc := range []bool{true, false} {
		params := testParams(7)
		params.NumScales = 4
		params.MonteCarloSampling = mc

		h, _ := buildBlobs(t, params)
		require.GreaterOrEqual(t, h.NumScales(), 2)
		require.NoError(t, h.Validate(1e-5))

		for id, s := range h.Scales {
			for i := 0; i < s.Size(); i++ {
				assert.NotEmpty(t, s.Transition.Row(i), "scale %d landmark %d", id, i)
				assert.InDelta(t, 1, s.Transition.RowSum(i), 1e-5)
			}
			if id == 0 {
				continue
			}
			prev := h.Scales[id-1]
			for l, p := range s.LandmarkToPrevious {
				assert.Equal(t, prev.LandmarkToOriginal[p], s.LandmarkToOriginal[l])
				// A landmark is its own area of influence.
				assert.Equal(t, float32(1), s.Influence(int(p), uint32(l)))
			}
		}
	}
}

func TestWeightsConserveMass(t *testing.T) {
	params := testParams(11)
	h, _ := buildBlobs(t, params)
	require.GreaterOrEqual(t, h.NumScales(), 2)

	s := h.Scales[1]
	var total float64
	for _, w := range s.Weights {
		assert.Positive(t, w)
		total += float64(w)
	}
	// Every point of scale 0 distributes at most unit mass.
	assert.LessOrEqual(t, total, 600.0+1e-3)
	assert.Greater(t, total, 300.0)

	w, err := h.LandmarkWeights(1)
	require.NoError(t, err)
	assert.Equal(t, s.Weights, w)
}

func TestBuildIsDeterministic(t *testing.T) {
	params := testParams(5)
	params.Concurrency = 1
	a, _ := buildBlobs(t, params)

	params.Concurrency = 8
	b, _ := buildBlobs(t, params)

	require.Equal(t, a.NumScales(), b.NumScales())
	for id := range a.Scales {
		assert.Equal(t, a.Scales[id].LandmarkToOriginal, b.Scales[id].LandmarkToOriginal)
		assert.Equal(t, a.Scales[id].Weights, b.Scales[id].Weights)
	}
}

func TestInfluenceIndex(t *testing.T) {
	h, _ := buildBlobs(t, testParams(9))
	require.GreaterOrEqual(t, h.NumScales(), 2)

	for id := 1; id < h.NumScales(); id++ {
		s := h.Scales[id]
		lm := h.Influence[id]
		require.Len(t, lm, s.Size())

		seen := make(map[uint32]bool)
		for l, members := range lm {
			for _, d := range members {
				assert.False(t, seen[d], "point %d assigned twice", d)
				seen[d] = true

				// d is dominated by l.
				for _, e := range s.AreaOfInfluence[d] {
					assert.LessOrEqual(t, e.Weight, s.Influence(int(d), uint32(l)))
				}
			}
			set, err := h.DataPoints(id, uint32(l))
			require.NoError(t, err)
			assert.Contains(t, set.ToArray(), s.LandmarkToOriginal[l])
		}
	}

	// Landmark point sets partition the represented points.
	top := h.NumScales() - 1
	all := make([]uint32, h.Top().Size())
	for l := range all {
		all[l] = uint32(l)
	}
	union, err := h.SelectionToOriginal(top, all)
	require.NoError(t, err)

	var sum uint64
	for l := range all {
		set, _ := h.DataPoints(top, uint32(l))
		sum += set.GetCardinality()
	}
	assert.Equal(t, union.GetCardinality(), sum)
	assert.Greater(t, union.GetCardinality(), uint64(500))

	_, err = h.DataPoints(top, uint32(h.Top().Size()))
	assert.ErrorIs(t, err, ErrInvalidLandmark)
	_, err = h.DataPoints(99, 0)
	assert.ErrorIs(t, err, ErrInvalidScale)

	l, err := h.LandmarkOf(top, h.Top().LandmarkToOriginal[0])
	require.NoError(t, err)
	assert.Equal(t, 0, l)
}

func TestInfluencedLandmarksInPreviousScale(t *testing.T) {
	h, _ := buildBlobs(t, testParams(13))
	require.GreaterOrEqual(t, h.NumScales(), 2)

	s := h.Scales[1]
	all := make([]uint32, s.Size())
	for l := range all {
		all[l] = uint32(l)
	}

	mass, err := h.InfluencedLandmarksInPreviousScale(1, all)
	require.NoError(t, err)
	for _, e := range mass {
		assert.LessOrEqual(t, e.Weight, float32(1+1e-5))
		assert.InDelta(t, s.AreaOfInfluence[e.Col][0].Weight, s.Influence(int(e.Col), s.AreaOfInfluence[e.Col][0].Col), 1e-9)
	}

	one, err := h.InfluencedLandmarksInPreviousScale(1, []uint32{0})
	require.NoError(t, err)
	for _, e := range one {
		assert.Equal(t, s.Influence(int(e.Col), 0), e.Weight)
	}

	_, err = h.InfluencedLandmarksInPreviousScale(0, nil)
	assert.ErrorIs(t, err, ErrInvalidScale)
	_, err = h.InfluencedLandmarksInPreviousScale(1, []uint32{uint32(s.Size())})
	assert.ErrorIs(t, err, ErrInvalidLandmark)
}

func TestInfluenceOnDataPoint(t *testing.T) {
	h, _ := buildBlobs(t, testParams(17))
	require.GreaterOrEqual(t, h.NumScales(), 2)

	inf, err := h.InfluenceOnDataPoint(3, 0)
	require.NoError(t, err)
	require.Len(t, inf, h.NumScales())
	assert.Equal(t, []sparse.Entry{{Col: 3, Weight: 1}}, inf[0])

	for id := 1; id < len(inf); id++ {
		var total float64
		for _, e := range inf[id] {
			assert.Less(t, int(e.Col), h.Scales[id].Size())
			total += float64(e.Weight)
		}
		assert.LessOrEqual(t, total, 1+1e-4)
	}

	pruned, err := h.InfluenceOnDataPoint(3, 0.5)
	require.NoError(t, err)
	for _, row := range pruned[1:] {
		assert.LessOrEqual(t, len(row), 2)
	}

	_, err = h.InfluenceOnDataPoint(-1, 0)
	assert.ErrorIs(t, err, ErrInvalidLandmark)
}

func TestTransitionMatrixForSelection(t *testing.T) {
	h, _ := buildBlobs(t, testParams(19))

	sel := []uint32{0, 1, 2, 3, 4, 5, 6, 7}
	m, err := h.TransitionMatrixForSelection(0, sel)
	require.NoError(t, err)
	assert.Equal(t, len(sel), m.N())
	require.NoError(t, m.CheckRowSums(1, 1e-5))
}

func TestSubsetAndMask(t *testing.T) {
	points, _ := testutil.NewRNG(3).Blobs(600, 5, 3, 1, 15)

	subset := make([]uint32, 0, 300)
	for i := 0; i < 600; i += 2 {
		subset = append(subset, uint32(i))
	}
	mask := bitset.New(5).Set(0).Set(2)

	params := testParams(23)
	var built []int
	h, err := Build(context.Background(), points, 5, params,
		WithSubset(subset),
		WithDimensionMask(mask),
		WithProgress(func(id int, s *Scale) { built = append(built, id) }),
	)
	require.NoError(t, err)

	assert.Equal(t, 300, h.Scales[0].Size())
	assert.Equal(t, subset, h.Scales[0].LandmarkToOriginal)
	assert.Equal(t, 600, h.NumPoints)
	assert.Len(t, built, h.NumScales())

	for id := 1; id < h.NumScales(); id++ {
		for _, orig := range h.Scales[id].LandmarkToOriginal {
			assert.Zero(t, orig%2)
		}
	}

	_, err = Build(context.Background(), points, 5, params, WithSubset([]uint32{9999}))
	assert.ErrorIs(t, err, knn.ErrInvalidInput)
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()
	points := testutil.NewRNG(1).GaussianPoints(100, 4)

	_, err := Build(ctx, points[:7], 4, testParams(1))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1024})
	_, err = Build(ctx, points, 4, testParams(1), WithResources(rc))
	assert.ErrorIs(t, err, resource.ErrOutOfMemory)
	assert.Zero(t, rc.MemoryUsage())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Build(canceled, points, 4, testParams(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStopsWhenLandmarksStopShrinking(t *testing.T) {
	params := testParams(29)
	params.NumScales = 50

	h, _ := buildBlobs(t, params)
	assert.Less(t, h.NumScales(), 50)
	for id := 1; id < h.NumScales(); id++ {
		assert.Less(t, h.Scales[id].Size(), h.Scales[id-1].Size())
		assert.Positive(t, h.Scales[id].Size())
	}
}

func TestPruneDeadLandmarks(t *testing.T) {
	// 0 -> 1, 1 -> 2, 2 -> 3, 3 has no out-edges, 4 <-> 0.
	m, err := sparse.FromRows([][]sparse.Entry{
		{{Col: 1, Weight: 1}, {Col: 4, Weight: 1}},
		{{Col: 2, Weight: 1}},
		{{Col: 3, Weight: 1}},
		{},
		{{Col: 0, Weight: 1}},
	})
	require.NoError(t, err)

	out, keep := pruneDeadLandmarks(m)
	assert.Equal(t, []uint32{0, 4}, keep)
	assert.Equal(t, []sparse.Entry{{Col: 1, Weight: 1}}, out.Row(0))
	assert.Equal(t, []sparse.Entry{{Col: 0, Weight: 1}}, out.Row(1))
}

func TestStationaryLandmarks(t *testing.T) {
	// Star graph: every leaf points to the hub, the hub spreads evenly.
	rows := make([][]sparse.Entry, 6)
	for i := 1; i < 6; i++ {
		rows[0] = append(rows[0], sparse.Entry{Col: uint32(i), Weight: 0.2})
		rows[i] = []sparse.Entry{{Col: 0, Weight: 1}}
	}
	m, err := sparse.FromRows(rows)
	require.NoError(t, err)

	p := DefaultParams()
	got, err := stationaryLandmarks(context.Background(), newWalker(m), 6, p)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, got)
}

func TestCodecRoundTrip(t *testing.T) {
	params := testParams(31)
	h, _ := buildBlobs(t, params)

	scales, err := EncodeScales(h, persistence.CompressionZSTD)
	require.NoError(t, err)
	influence, err := EncodeInfluence(h, persistence.CompressionLZ4)
	require.NoError(t, err)

	got, err := Decode(scales, influence, params)
	require.NoError(t, err)

	require.Equal(t, h.NumScales(), got.NumScales())
	assert.Equal(t, h.NumPoints, got.NumPoints)
	assert.Equal(t, h.Dim, got.Dim)
	for id := range h.Scales {
		a, b := h.Scales[id], got.Scales[id]
		assert.Equal(t, a.LandmarkToOriginal, b.LandmarkToOriginal)
		assert.Equal(t, a.PreviousToLandmark, b.PreviousToLandmark)
		assert.Equal(t, a.Weights, b.Weights)
		assert.Equal(t, a.Transition.NNZ(), b.Transition.NNZ())
		assert.Equal(t, len(a.AreaOfInfluence), len(b.AreaOfInfluence))

		for l := 0; l < a.Size(); l++ {
			x, _ := h.DataPoints(id, uint32(l))
			y, _ := got.DataPoints(id, uint32(l))
			assert.True(t, x.Equals(y))
		}
	}

	_, err = Decode(influence, scales, params)
	assert.ErrorIs(t, err, persistence.ErrInvalidKind)
}
