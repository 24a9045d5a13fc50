package knn

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/hsne/distance"
	"github.com/hupe1980/hsne/queue"
)

type ballTreeBuilder struct {
	metric   distance.Metric
	leafSize int
}

func (b *ballTreeBuilder) Build(ctx context.Context, points []float32, dim int) (Index, error) {
	n, err := checkPoints(points, dim)
	if err != nil {
		return nil, err
	}

	t := &ballTree{
		dim:      dim,
		n:        n,
		leafSize: b.leafSize,
		metric:   b.metric,
		idx:      make([]uint32, n),
	}

	switch b.metric {
	case distance.MetricL2:
		t.data = points
		t.dist = euclidean
		t.out = func(d float32) float32 { return d * d }
	case distance.MetricCosine:
		// On unit vectors ||a-b||² = 2(1 - cos), so the tree runs Euclidean.
		t.data = make([]float32, len(points))
		copy(t.data, points)
		for i := 0; i < n; i++ {
			distance.NormalizeL2InPlace(t.data[i*dim : (i+1)*dim])
		}
		t.dist = euclidean
		t.out = func(d float32) float32 { return d * d / 2 }
	case distance.MetricManhattan:
		t.data = points
		t.dist = distance.Manhattan
		t.out = func(d float32) float32 { return d }
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMetric, b.metric)
	}

	for i := range t.idx {
		t.idx[i] = uint32(i)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.build(0, n)

	return t, nil
}

func euclidean(a, b []float32) float32 {
	return float32(math.Sqrt(float64(distance.SquaredL2(a, b))))
}

// ballNode covers idx[start:end]. Leaves have left == right == -1.
type ballNode struct {
	start, end  int
	left, right int
	centroid    []float32
	radius      float32
}

// ballTree is an exact index over a metric space. Each node stores the
// smallest enclosing ball around its centroid; splits follow the dimension
// of greatest spread.
type ballTree struct {
	data     []float32
	dim      int
	n        int
	leafSize int
	metric   distance.Metric
	idx      []uint32
	nodes    []ballNode
	dist     distance.Func
	out      func(float32) float32
}

func (t *ballTree) Len() int { return t.n }

func (t *ballTree) point(i uint32) []float32 {
	return t.data[int(i)*t.dim : (int(i)+1)*t.dim]
}

func (t *ballTree) build(start, end int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, ballNode{start: start, end: end, left: -1, right: -1})

	centroid := make([]float32, t.dim)
	inv := 1 / float32(end-start)
	for _, p := range t.idx[start:end] {
		v := t.point(p)
		for d := range centroid {
			centroid[d] += v[d] * inv
		}
	}

	var radius float32
	for _, p := range t.idx[start:end] {
		radius = max(radius, t.dist(centroid, t.point(p)))
	}

	t.nodes[id].centroid = centroid
	t.nodes[id].radius = radius

	if end-start <= t.leafSize {
		return id
	}

	splitDim := t.spreadDim(start, end)
	sub := t.idx[start:end]
	slices.SortFunc(sub, func(a, b uint32) int {
		va, vb := t.point(a)[splitDim], t.point(b)[splitDim]
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return int(a) - int(b)
	})
	mid := start + (end-start)/2

	left := t.build(start, mid)
	right := t.build(mid, end)
	t.nodes[id].left = left
	t.nodes[id].right = right

	return id
}

func (t *ballTree) spreadDim(start, end int) int {
	best, bestSpread := 0, float32(-1)
	for d := 0; d < t.dim; d++ {
		lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
		for _, p := range t.idx[start:end] {
			v := t.point(p)[d]
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi-lo > bestSpread {
			best, bestSpread = d, hi-lo
		}
	}
	return best
}

func (t *ballTree) Query(_ context.Context, q []float32, k int) ([]Neighbor, error) {
	if len(q) != t.dim {
		return nil, ErrInvalidInput
	}

	if t.metric == distance.MetricCosine {
		if nq, ok := distance.NormalizeL2Copy(q); ok {
			q = nq
		}
	}

	top := queue.NewMax(k)
	if t.n > 0 && k > 0 {
		t.search(0, q, k, top)
	}

	items := top.Sorted()
	out := make([]Neighbor, len(items))
	for i, it := range items {
		out[i] = Neighbor{Index: it.Node, Distance: t.out(it.Distance)}
	}
	return out, nil
}

func (t *ballTree) search(id int, q []float32, k int, top *queue.PriorityQueue) {
	node := &t.nodes[id]

	lower := t.dist(q, node.centroid) - node.radius
	if top.Len() == k && lower > top.Top().Distance {
		return
	}

	if node.left < 0 {
		for _, p := range t.idx[node.start:node.end] {
			top.PushBounded(queue.Item{Node: p, Distance: t.dist(q, t.point(p))}, k)
		}
		return
	}

	// Descend into the closer child first to tighten the bound early.
	l, r := node.left, node.right
	if t.dist(q, t.nodes[r].centroid) < t.dist(q, t.nodes[l].centroid) {
		l, r = r, l
	}
	t.search(l, q, k, top)
	t.search(r, q, k, top)
}
