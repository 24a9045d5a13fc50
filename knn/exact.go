package knn

import (
	"context"

	"github.com/hupe1980/hsne/distance"
	"github.com/hupe1980/hsne/queue"
)

type exactBuilder struct {
	fn distance.Func
}

func (b *exactBuilder) Build(_ context.Context, points []float32, dim int) (Index, error) {
	n, err := checkPoints(points, dim)
	if err != nil {
		return nil, err
	}
	return &exactIndex{points: points, dim: dim, n: n, fn: b.fn}, nil
}

// exactIndex scans every point for each query.
type exactIndex struct {
	points []float32
	dim    int
	n      int
	fn     distance.Func
}

func (x *exactIndex) Len() int { return x.n }

func (x *exactIndex) Query(_ context.Context, q []float32, k int) ([]Neighbor, error) {
	if len(q) != x.dim {
		return nil, ErrInvalidInput
	}

	top := queue.NewMax(k)
	for i := 0; i < x.n; i++ {
		top.PushBounded(queue.Item{Node: uint32(i), Distance: x.fn(q, x.points[i*x.dim:(i+1)*x.dim])}, k)
	}

	return toNeighbors(top.Sorted()), nil
}

func toNeighbors(items []queue.Item) []Neighbor {
	out := make([]Neighbor, len(items))
	for i, it := range items {
		out[i] = Neighbor{Index: it.Node, Distance: it.Distance}
	}
	return out
}
