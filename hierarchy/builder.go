package hierarchy

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/resource"
	"github.com/hupe1980/hsne/similarity"
	"github.com/hupe1980/hsne/sparse"
)

const outOfCoreBatch = 4096

// Build constructs the hierarchy of points (N×dim, row-major). It returns
// early with fewer scales than requested when the landmark count stops
// shrinking. Cancellation is observed between scales.
func Build(ctx context.Context, points []float32, dim int, params Params, optFns ...Option) (*Hierarchy, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	b := &builder{
		params:   params,
		seed:     resolveSeed(params.Seed),
		workers:  params.Concurrency,
		logger:   o.logger,
		resource: o.resource,
		progress: o.progress,
	}
	if b.workers <= 0 {
		b.workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()

	h, err := b.scaleZero(ctx, points, dim, o.subset, o.mask)
	if err != nil {
		return nil, err
	}

	for id := 1; id < params.NumScales; id++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prev := h.Scales[id-1]
		s, err := b.nextScale(ctx, prev, id)
		if err != nil {
			return nil, fmt.Errorf("hierarchy: scale %d: %w", id, err)
		}

		if s.Size() == 0 || s.Size() >= prev.Size() {
			b.logger.Warn("landmark count stopped shrinking, stopping early",
				"scale", id, "landmarks", s.Size(), "previous", prev.Size(), "requested_scales", params.NumScales)
			break
		}

		h.addScale(s)
		b.report(id, s)
	}

	b.logger.Info("hierarchy built",
		"scales", h.NumScales(),
		"top_landmarks", h.Top().Size(),
		"duration", time.Since(start))

	return h, nil
}

type builder struct {
	params   Params
	seed     uint64
	workers  int
	logger   *slog.Logger
	resource *resource.Controller
	progress func(int, *Scale)
}

func (b *builder) report(id int, s *Scale) {
	b.logger.Debug("scale built", "scale", id, "landmarks", s.Size(), "nnz", s.Transition.NNZ())
	if b.progress != nil {
		b.progress(id, s)
	}
}

func (b *builder) reserve(bytes int64) (*resource.Reservation, error) {
	r, err := b.resource.Reserve(bytes)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: %w", err)
	}
	return r, nil
}

// scaleZero builds the input scale: calibrated kNN transitions over the
// (optionally subset and masked) points.
func (b *builder) scaleZero(ctx context.Context, points []float32, dim int, subset []uint32, mask *bitset.BitSet) (*Hierarchy, error) {
	if dim <= 0 || len(points)%dim != 0 {
		return nil, fmt.Errorf("%w: buffer of %d values does not hold rows of %d", ErrInvalidParameter, len(points), dim)
	}
	total := len(points) / dim

	data := points
	var orig []uint32
	if subset != nil {
		var err error
		if data, err = knn.Gather(points, dim, subset); err != nil {
			return nil, err
		}
		orig = slices.Clone(subset)
	} else {
		orig = make([]uint32, total)
		for i := range orig {
			orig[i] = uint32(i)
		}
	}

	data, d, err := knn.ProjectDimensions(data, dim, mask)
	if err != nil {
		return nil, err
	}

	n := len(orig)
	res, err := b.reserve(int64(n) * int64(b.params.NumNeighbors) * 24)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	kopts := b.params.Knn
	if kopts.Concurrency == 0 {
		kopts.Concurrency = b.workers
	}
	if kopts.Logger == nil {
		kopts.Logger = b.logger
	}

	g, err := knn.Compute(ctx, data, d, b.params.NumNeighbors, kopts)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: neighbour search: %w", err)
	}

	sopts := similarity.DefaultOptions()
	sopts.Perplexity = b.params.Perplexity()
	sopts.Concurrency = b.workers
	sopts.Logger = b.logger

	t, cal, err := similarity.Conditional(ctx, g, sopts)
	if err != nil {
		return nil, err
	}

	s := &Scale{
		Transition:         t,
		LandmarkToOriginal: orig,
		LandmarkToPrevious: make([]uint32, n),
		PreviousToLandmark: make([]int32, n),
		Weights:            make([]float32, n),
	}
	for i := 0; i < n; i++ {
		s.LandmarkToPrevious[i] = uint32(i)
		s.PreviousToLandmark[i] = int32(i)
		s.Weights[i] = 1
	}

	b.logger.Debug("input scale calibrated",
		"points", n, "neighbors", g.K, "degenerate", cal.Degenerate, "unconverged", cal.Unconverged)

	h := &Hierarchy{Params: b.params, NumPoints: total, Dim: dim}
	h.addScale(s)
	b.report(0, s)

	return h, nil
}

// nextScale selects the landmarks of scale id among the points of prev and
// derives their transition matrix from the areas of influence.
func (b *builder) nextScale(ctx context.Context, prev *Scale, id int) (*Scale, error) {
	p := b.params
	n := prev.Size()
	w := newWalker(prev.Transition)

	var (
		landmarks []uint32
		err       error
	)
	if p.MonteCarloSampling {
		landmarks, err = monteCarloLandmarks(ctx, w, n, p, b.seed, id, b.workers)
	} else {
		landmarks, err = stationaryLandmarks(ctx, w, n, p)
	}
	if err != nil {
		return nil, err
	}
	if len(landmarks) == 0 {
		return &Scale{Transition: sparse.New(0)}, nil
	}

	perPoint := int64(min(p.NumWalksForAreaOfInfluence, len(landmarks)))
	res, err := b.reserve(int64(n)*perPoint*16 + int64(len(landmarks))*perPoint*perPoint*16)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	landmarkOf := make([]int32, n)
	for i := range landmarkOf {
		landmarkOf[i] = -1
	}
	for k, l := range landmarks {
		landmarkOf[l] = int32(k)
	}

	aoi := make([][]sparse.Entry, n)
	tb := sparse.NewBuilder(len(landmarks))

	batch := n
	if p.OutOfCore {
		batch = outOfCoreBatch
	}
	hits := make([][]hit, min(batch, n))

	for lo := 0; lo < n; lo += batch {
		hi := min(lo+batch, n)

		err := parallelFor(ctx, hi-lo, b.workers, func(a, z int) error {
			for k := a; k < z; k++ {
				hits[k] = b.areaOfInfluence(w, uint32(lo+k), landmarkOf, id)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		// Fold in point order so the accumulated weights are reproducible.
		for k := 0; k < hi-lo; k++ {
			d := lo + k
			aoi[d] = b.fold(tb, hits[k], prev.Weights[d])
		}
	}

	t, keep := pruneDeadLandmarks(tb.Build())
	if dropped := len(landmarks) - len(keep); dropped > 0 {
		b.logger.Debug("dropped landmarks without transitions", "scale", id, "dropped", dropped)
	}
	t.NormalizeRows()

	s := &Scale{
		Transition:         t,
		LandmarkToOriginal: make([]uint32, len(keep)),
		LandmarkToPrevious: make([]uint32, len(keep)),
		PreviousToLandmark: make([]int32, n),
		AreaOfInfluence:    aoi,
		Weights:            make([]float32, len(keep)),
	}

	remap := make([]int32, len(landmarks))
	for i := range remap {
		remap[i] = -1
	}
	for i := range s.PreviousToLandmark {
		s.PreviousToLandmark[i] = -1
	}
	for k, old := range keep {
		remap[old] = int32(k)
		pi := landmarks[old]
		s.LandmarkToPrevious[k] = pi
		s.LandmarkToOriginal[k] = prev.LandmarkToOriginal[pi]
		s.PreviousToLandmark[pi] = int32(k)
	}

	weights := make([]float64, len(keep))
	for d, row := range aoi {
		out := row[:0]
		for _, e := range row {
			if l := remap[e.Col]; l >= 0 {
				out = append(out, sparse.Entry{Col: uint32(l), Weight: e.Weight})
				weights[l] += float64(e.Weight) * float64(prev.Weights[d])
			}
		}
		aoi[d] = slices.Clip(out)
	}
	for l, v := range weights {
		s.Weights[l] = float32(v)
	}

	return s, nil
}

type hit struct {
	landmark uint32
	count    uint32
}

// areaOfInfluence walks from point d until each walk first reaches a
// landmark. A landmark is its own area of influence.
func (b *builder) areaOfInfluence(w *walker, d uint32, landmarkOf []int32, id int) []hit {
	if l := landmarkOf[d]; l >= 0 {
		return []hit{{landmark: uint32(l), count: uint32(b.params.NumWalksForAreaOfInfluence)}}
	}

	rng := pointRNG(b.seed, 1, id, d)
	maxSteps := 100 * b.params.RandomWalkLength

	counts := make(map[uint32]uint32)
	for k := 0; k < b.params.NumWalksForAreaOfInfluence; k++ {
		if l, ok := w.firstHit(d, maxSteps, rng, landmarkOf); ok {
			counts[uint32(l)]++
		}
	}

	out := make([]hit, 0, len(counts))
	for l, c := range counts {
		out = append(out, hit{landmark: l, count: c})
	}
	slices.SortFunc(out, func(a, b hit) int { return cmp.Compare(a.landmark, b.landmark) })
	return out
}

// fold adds the pairwise transitions contributed by one point and returns
// its area of influence as probabilities.
func (b *builder) fold(tb *sparse.Builder, hits []hit, weight float32) []sparse.Entry {
	walks := float64(b.params.NumWalksForAreaOfInfluence)
	minWalks := uint32(b.params.MinWalksRequired)

	row := make([]sparse.Entry, len(hits))
	for k, h := range hits {
		row[k] = sparse.Entry{Col: h.landmark, Weight: float32(float64(h.count) / walks)}
	}

	for a, ha := range hits {
		if ha.count <= minWalks {
			continue
		}
		pa := float64(ha.count) / walks
		for c, hc := range hits {
			if a == c || hc.count <= minWalks {
				continue
			}
			tb.Add(int(ha.landmark), int(hc.landmark), pa*float64(hc.count)/walks*float64(weight))
		}
	}
	return row
}

// pruneDeadLandmarks repeatedly removes landmarks without out-edges and
// returns the induced matrix over the survivors with their old indices.
func pruneDeadLandmarks(t *sparse.Matrix) (*sparse.Matrix, []uint32) {
	keep := make([]uint32, t.N())
	for i := range keep {
		keep[i] = uint32(i)
	}

	cur := t
	for {
		alive := keep[:0:0]
		for k := range keep {
			if len(cur.Row(k)) > 0 {
				alive = append(alive, keep[k])
			}
		}
		if len(alive) == len(keep) {
			return cur, keep
		}
		keep = alive
		// Indices in keep are valid rows of t by construction.
		cur, _ = t.Induced(keep)
	}
}
