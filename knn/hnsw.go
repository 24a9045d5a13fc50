package knn

import (
	"context"

	"github.com/hupe1980/hsne/distance"
	"github.com/hupe1980/hsne/hnsw"
)

type hnswBuilder struct {
	opts Options
	fn   distance.Func
}

func (b *hnswBuilder) Build(ctx context.Context, points []float32, dim int) (Index, error) {
	n, err := checkPoints(points, dim)
	if err != nil {
		return nil, err
	}

	g := hnsw.New(dim, func(o *hnsw.Options) {
		o.M = b.opts.M
		o.EF = b.opts.EFConstruction
		o.EFSearch = b.opts.EFSearch
		o.DistanceFunc = b.fn
		o.Seed = b.opts.Seed
	})

	for i := 0; i < n; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if _, err := g.Insert(points[i*dim : (i+1)*dim]); err != nil {
			return nil, err
		}
	}

	return &hnswIndex{graph: g, efSearch: b.opts.EFSearch}, nil
}

// hnswIndex adapts the graph to the Index capability.
type hnswIndex struct {
	graph    *hnsw.HNSW
	efSearch int
}

func (x *hnswIndex) Len() int { return x.graph.Len() }

func (x *hnswIndex) Query(_ context.Context, q []float32, k int) ([]Neighbor, error) {
	items, err := x.graph.KNNSearch(q, k, max(x.efSearch, k))
	if err != nil {
		return nil, err
	}

	// A disconnected region can starve the search; answer exactly instead.
	if len(items) < min(k, x.graph.Len()) {
		items, err = x.graph.BruteSearch(q, k)
		if err != nil {
			return nil, err
		}
	}

	return toNeighbors(items), nil
}
