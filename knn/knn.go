package knn

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/hupe1980/hsne/distance"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTooFewPoints is returned when fewer than two points are given.
	ErrTooFewPoints = errors.New("knn: at least two points are required")
	// ErrUnsupportedMetric is returned when a backend cannot handle a metric.
	ErrUnsupportedMetric = errors.New("knn: unsupported metric")
	// ErrUnknownAlgorithm is returned for an algorithm outside the supported set.
	ErrUnknownAlgorithm = errors.New("knn: unknown algorithm")
	// ErrInvalidInput is returned for malformed point buffers.
	ErrInvalidInput = errors.New("knn: invalid input")
)

// Neighbor is a single search result.
type Neighbor struct {
	Index    uint32
	Distance float32
}

// Index answers k-nearest-neighbour queries over a fixed point set.
type Index interface {
	// Query returns up to k neighbours of q ordered by ascending distance.
	Query(ctx context.Context, q []float32, k int) ([]Neighbor, error)
	// Len returns the number of indexed points.
	Len() int
}

// Builder constructs an Index from a flat row-major point buffer.
type Builder interface {
	Build(ctx context.Context, points []float32, dim int) (Index, error)
}

// New returns the Builder for the configured algorithm.
func New(opts Options) (Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	fn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	switch opts.Algorithm {
	case AlgorithmExact:
		return &exactBuilder{fn: fn}, nil
	case AlgorithmBallTree:
		return &ballTreeBuilder{metric: opts.Metric, leafSize: opts.LeafSize}, nil
	case AlgorithmHNSW:
		return &hnswBuilder{opts: opts, fn: fn}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, opts.Algorithm)
	}
}

// Graph is an all-points k-nearest-neighbour graph. Row i occupies
// Indices[i*K:(i+1)*K] and Distances[i*K:(i+1)*K], ordered by distance.
type Graph struct {
	N         int
	K         int
	Indices   []uint32
	Distances []float32
	// Counts holds the number of neighbours found per point. Approximate
	// indexes may return fewer than K; the rest of the row is unused.
	Counts []int
}

// Neighbors returns the neighbour indices and distances of point i.
func (g *Graph) Neighbors(i int) ([]uint32, []float32) {
	lo := i * g.K
	hi := lo + g.Counts[i]
	return g.Indices[lo:hi], g.Distances[lo:hi]
}

func checkPoints(points []float32, dim int) (int, error) {
	if dim <= 0 {
		return 0, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidInput, dim)
	}
	if len(points)%dim != 0 {
		return 0, fmt.Errorf("%w: buffer length %d is not a multiple of dimension %d", ErrInvalidInput, len(points), dim)
	}
	return len(points) / dim, nil
}

// Compute builds an index over points and queries the k nearest neighbours
// of every point, excluding the point itself. k is clamped to N-1.
func Compute(ctx context.Context, points []float32, dim, k int, opts Options) (*Graph, error) {
	n, err := checkPoints(points, dim)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, ErrTooFewPoints
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidInput, k)
	}
	k = min(k, n-1)

	builder, err := New(opts)
	if err != nil {
		return nil, err
	}

	logger := opts.logger()
	start := time.Now()

	idx, err := builder.Build(ctx, points, dim)
	if err != nil {
		return nil, err
	}

	logger.Debug("knn index built", "algorithm", opts.Algorithm.String(), "points", n, "duration", time.Since(start))

	g := &Graph{
		N:         n,
		K:         k,
		Indices:   make([]uint32, n*k),
		Distances: make([]float32, n*k),
		Counts:    make([]int, n),
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := max(1, (n+workers*4-1)/(workers*4))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				res, err := idx.Query(ctx, points[i*dim:(i+1)*dim], k+1)
				if err != nil {
					return err
				}
				fillRow(g, i, res)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("knn graph computed", "points", n, "k", k, "duration", time.Since(start))

	return g, nil
}

// fillRow writes the query result for point i into the graph, dropping the
// point itself. When the point is absent (duplicates at distance zero) the
// farthest result is dropped instead. Short results leave the row short.
func fillRow(g *Graph, i int, res []Neighbor) {
	row := g.Indices[i*g.K : (i+1)*g.K]
	dist := g.Distances[i*g.K : (i+1)*g.K]

	w := 0
	for _, nb := range res {
		if int(nb.Index) == i || w == g.K {
			continue
		}
		row[w] = nb.Index
		dist[w] = nb.Distance
		w++
	}
	g.Counts[i] = w
}
