package hierarchy

import (
	"context"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const walkChunk = 256

// parallelFor runs fn over [0, n) in fixed chunks with at most workers
// goroutines.
func parallelFor(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for lo := 0; lo < n; lo += walkChunk {
		hi := min(lo+walkChunk, n)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return eg.Wait()
}

// monteCarloLandmarks starts NumWalksForLandmarkSelection walks from every
// point and selects the points whose endpoint count exceeds
// LandmarkThreshold times the number of walks per point.
func monteCarloLandmarks(ctx context.Context, w *walker, n int, p Params, seed uint64, scale, workers int) ([]uint32, error) {
	hits := make([]atomic.Uint32, n)

	err := parallelFor(ctx, n, workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			rng := pointRNG(seed, 0, scale, uint32(i))
			for k := 0; k < p.NumWalksForLandmarkSelection; k++ {
				hits[w.endpoint(uint32(i), p.RandomWalkLength, rng)].Add(1)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	threshold := float64(p.NumWalksForLandmarkSelection) * p.LandmarkThreshold

	var landmarks []uint32
	for i := range hits {
		if float64(hits[i].Load()) > threshold {
			landmarks = append(landmarks, uint32(i))
		}
	}
	return landmarks, nil
}

const (
	stationaryMaxIter = 200
	stationaryTol     = 1e-10
)

// stationaryLandmarks computes the stationary distribution π of the walk by
// power iteration and selects the points with π_i·N above the threshold.
// Dead ends keep their mass, matching walks that stop there. The lazy chain
// ½(I+T) has the same stationary distribution and converges on periodic
// graphs.
func stationaryLandmarks(ctx context.Context, w *walker, n int, p Params) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	pi := make([]float64, n)
	next := make([]float64, n)
	for i := range pi {
		pi[i] = 1 / float64(n)
	}

	for it := 0; it < stationaryMaxIter; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range next {
			next[i] = pi[i] / 2
		}
		for i := 0; i < n; i++ {
			lo, hi := w.rowPtr[i], w.rowPtr[i+1]
			if lo == hi {
				next[i] += pi[i] / 2
				continue
			}
			total := w.cum[hi-1]
			prev := 0.0
			for k := lo; k < hi; k++ {
				next[w.cols[k]] += pi[i] / 2 * (w.cum[k] - prev) / total
				prev = w.cum[k]
			}
		}
		var delta float64
		for i := range pi {
			delta += math.Abs(next[i] - pi[i])
		}
		pi, next = next, pi
		if delta < stationaryTol {
			break
		}
	}

	var landmarks []uint32
	for i, v := range pi {
		if v*float64(n) > p.LandmarkThreshold {
			landmarks = append(landmarks, uint32(i))
		}
	}
	return landmarks, nil
}
