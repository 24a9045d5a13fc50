package refine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/testutil"
	"github.com/hupe1980/hsne/tsne"
)

func buildHierarchy(t *testing.T) (*hierarchy.Hierarchy, []float32) {
	t.Helper()

	points, _ := testutil.NewRNG(3).Blobs(600, 5, 3, 1, 15)

	params := hierarchy.DefaultParams()
	params.Seed = 7
	params.NumNeighbors = 30
	params.Knn.Algorithm = knn.AlgorithmExact

	h, err := hierarchy.Build(context.Background(), points, 5, params)
	require.NoError(t, err)
	require.GreaterOrEqual(t, h.NumScales(), 2)
	return h, points
}

// expected recomputes the landmarks whose influence share from selected
// exceeds threshold.
func expected(h *hierarchy.Hierarchy, scale int, selected []uint32, threshold float64) []uint32 {
	sel := make(map[uint32]bool, len(selected))
	for _, l := range selected {
		sel[l] = true
	}
	var out []uint32
	for d, row := range h.Scales[scale].AreaOfInfluence {
		var mass float64
		for _, e := range row {
			if sel[e.Col] {
				mass += float64(e.Weight)
			}
		}
		if float64(float32(mass)) > threshold {
			out = append(out, uint32(d))
		}
	}
	return out
}

func allLandmarks(s *hierarchy.Scale) []uint32 {
	out := make([]uint32, s.Size())
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

func TestRefineThreshold(t *testing.T) {
	h, _ := buildHierarchy(t)
	top := h.NumScales() - 1
	n := h.Top().Size()

	selections := map[string][]uint32{
		"All":       allLandmarks(h.Top()),
		"FirstHalf": allLandmarks(h.Top())[:n/2],
		"Even":      nil,
	}
	for l := 0; l < n; l += 2 {
		selections["Even"] = append(selections["Even"], uint32(l))
	}

	for name, selected := range selections {
		for _, threshold := range []float64{0, 0.5, 0.9} {
			t.Run(fmt.Sprintf("%s/%g", name, threshold), func(t *testing.T) {
				want := expected(h, top, selected, threshold)

				res, err := Refine(h, top, selected, WithThreshold(threshold))
				if len(want) == 0 {
					assert.ErrorIs(t, err, ErrNothingInfluenced)
					return
				}
				require.NoError(t, err)

				assert.Equal(t, top-1, res.Scale)
				assert.Equal(t, want, res.Landmarks)
				assert.Empty(t, res.Neighbors)
				assert.Equal(t, res.Landmarks, res.Members)

				lower := h.Scales[top-1]
				for k, m := range res.Members {
					assert.Greater(t, float64(res.Mass[k]), threshold)
					assert.Equal(t, lower.LandmarkToOriginal[m], res.Original[k])
					assert.True(t, res.Points.Contains(res.Original[k]))
				}
				assert.GreaterOrEqual(t, int(res.Points.GetCardinality()), len(res.Members))
				require.NoError(t, res.Transition.CheckRowSums(1, 1e-5))
				assert.Equal(t, len(res.Members), res.Transition.N())
			})
		}
	}
}

func TestRefineAllSelected(t *testing.T) {
	h, _ := buildHierarchy(t)
	top := h.NumScales() - 1

	res, err := Refine(h, top, allLandmarks(h.Top()))
	require.NoError(t, err)

	// Selecting everything hands each member its whole influence row.
	aoi := h.Top().AreaOfInfluence
	for k, m := range res.Members {
		var sum float64
		for _, e := range aoi[m] {
			sum += float64(e.Weight)
		}
		assert.InDelta(t, sum, res.Mass[k], 1e-5)
	}
	for l := range h.Top().LandmarkToPrevious {
		assert.Contains(t, res.Members, uint32(h.Top().LandmarkToPrevious[l]))
	}
}

func TestRefineNeighbors(t *testing.T) {
	h, _ := buildHierarchy(t)
	top := h.NumScales() - 1
	selected := allLandmarks(h.Top())[:1]

	base, err := Refine(h, top, selected)
	require.NoError(t, err)

	wide, err := Refine(h, top, selected, WithNeighborThreshold(0))
	require.NoError(t, err)

	assert.Equal(t, base.Landmarks, wide.Landmarks)
	assert.Len(t, wide.Members, len(wide.Landmarks)+len(wide.Neighbors))
	for _, nb := range wide.Neighbors {
		assert.NotContains(t, wide.Landmarks, nb)
		assert.Contains(t, wide.Members, nb)
	}
	require.NoError(t, wide.Transition.CheckRowSums(1, 1e-5))
}

func TestRefineErrors(t *testing.T) {
	h, _ := buildHierarchy(t)
	top := h.NumScales() - 1

	_, err := Refine(h, top, nil)
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = Refine(h, top, []uint32{0}, WithThreshold(1))
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = Refine(h, top, []uint32{0}, WithThreshold(-0.1))
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = Refine(h, 0, []uint32{0})
	assert.ErrorIs(t, err, hierarchy.ErrInvalidScale)

	_, err = Refine(h, top, []uint32{uint32(h.Top().Size())})
	assert.ErrorIs(t, err, hierarchy.ErrInvalidLandmark)
}

func TestDrill(t *testing.T) {
	h, _ := buildHierarchy(t)
	top := h.NumScales() - 1
	n := h.Top().Size()

	ds := host.NewMemory()
	source, err := ds.AddDataset("top", make([]float32, n*2), n, 2)
	require.NoError(t, err)
	require.NoError(t, ds.SetSelection(source, allLandmarks(h.Top())))

	params := tsne.DefaultParams()
	params.Seed = 1

	c := coordinator.New()
	res, err := Drill(context.Background(), c, Request{
		Hierarchy:  h,
		Scale:      top,
		Params:     params,
		Iterations: 30,
		Host:       ds,
		Source:     source,
		Name:       "drill",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	child := c.Progress().Dataset
	assert.Equal(t, []host.DatasetID{child}, ds.Children(source))

	got, ok := ds.Dataset(child)
	require.True(t, ok)
	assert.Equal(t, "drill", got.Name)
	assert.Equal(t, len(res.Members), got.Count)
	assert.Equal(t, 2, got.Dims)

	y, err := c.Embedding()
	require.NoError(t, err)
	assert.Len(t, y, len(res.Members)*2)
}

func TestDrillSelectionWithoutInnerEdges(t *testing.T) {
	h, _ := buildHierarchy(t)
	top := h.NumScales() - 1
	selected := []uint32{0, 1, 2}

	res, err := Refine(h, top, selected)
	require.NoError(t, err)
	require.Zero(t, res.Transition.NNZ())

	params := tsne.DefaultParams()
	params.Seed = 1

	c := coordinator.New()
	_, err = Drill(context.Background(), c, Request{
		Hierarchy:  h,
		Scale:      top,
		Selected:   selected,
		Params:     params,
		Iterations: 20,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	y, err := c.Embedding()
	require.NoError(t, err)
	assert.Len(t, y, len(res.Members)*2)
}
