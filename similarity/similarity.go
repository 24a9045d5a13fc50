package similarity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/sparse"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// ErrInvalidParameter is returned for out-of-range estimator options.
var ErrInvalidParameter = errors.New("similarity: invalid parameter")

// Calibration reports how the bandwidth search went for a matrix.
type Calibration struct {
	// Degenerate counts rows that fell back to uniform weights.
	Degenerate int
	// Unconverged counts rows that hit the step cap.
	Unconverged int
}

// Conditional computes the row-stochastic matrix p(j|i) from a neighbour
// graph. Each row is calibrated independently by binary search over the
// Gaussian precision β so that the row entropy matches log(perplexity).
func Conditional(ctx context.Context, g *knn.Graph, opts Options) (*sparse.Matrix, Calibration, error) {
	if err := opts.Validate(); err != nil {
		return nil, Calibration{}, err
	}
	if g == nil || g.N == 0 {
		return sparse.New(0), Calibration{}, nil
	}

	rows := make([][]sparse.Entry, g.N)
	target := math.Log(opts.Perplexity)

	var degenerate, unconverged atomic.Int64

	workers := opts.Concurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := max(1, (g.N+workers*4-1)/(workers*4))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for lo := 0; lo < g.N; lo += chunk {
		hi := min(lo+chunk, g.N)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dist := make([]float64, g.K)
			weights := make([]float64, g.K)
			for i := lo; i < hi; i++ {
				idx, d := g.Neighbors(i)
				dist, weights := dist[:len(d)], weights[:len(d)]
				for j := range d {
					dist[j] = float64(d[j])
				}
				switch calibrateRow(dist, weights, target, opts.Tolerance, opts.MaxSearchSteps) {
				case rowDegenerate:
					degenerate.Add(1)
				case rowUnconverged:
					unconverged.Add(1)
				}
				row := make([]sparse.Entry, len(idx))
				for j := range idx {
					row[j] = sparse.Entry{Col: idx[j], Weight: float32(weights[j])}
				}
				rows[i] = row
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, Calibration{}, err
	}

	m, err := sparse.FromRows(rows)
	if err != nil {
		return nil, Calibration{}, err
	}

	cal := Calibration{Degenerate: int(degenerate.Load()), Unconverged: int(unconverged.Load())}
	if cal.Degenerate > 0 || cal.Unconverged > 0 {
		opts.logger().Warn("perplexity calibration fell back",
			"degenerate", cal.Degenerate, "unconverged", cal.Unconverged, "points", g.N)
	}

	return m, cal, nil
}

type rowStatus int

const (
	rowConverged rowStatus = iota
	rowUnconverged
	rowDegenerate
)

// calibrateRow writes normalized weights for one row and reports whether
// the search converged. Distances are shifted by their minimum, which leaves
// the normalized distribution unchanged but keeps exp() away from underflow.
func calibrateRow(dist, weights []float64, target, tol float64, maxSteps int) rowStatus {
	k := len(dist)
	if k == 0 {
		return rowConverged
	}

	lo, hi := floats.Min(dist), floats.Max(dist)
	if !(hi-lo > 0) || math.IsInf(hi, 0) || math.IsNaN(hi) {
		uniform(weights)
		return rowDegenerate
	}
	for j := range dist {
		dist[j] -= lo
	}

	beta := 1.0
	minBeta, maxBeta := math.Inf(-1), math.Inf(1)
	status := rowUnconverged

	for step := 0; step < maxSteps; step++ {
		for j, d := range dist {
			weights[j] = math.Exp(-beta * d)
		}
		sum := floats.Sum(weights)
		if !(sum > 0) || math.IsInf(sum, 0) {
			uniform(weights)
			return rowDegenerate
		}

		h := math.Log(sum) + beta*floats.Dot(dist, weights)/sum
		diff := h - target
		if math.Abs(diff) < tol {
			status = rowConverged
			break
		}

		if diff > 0 {
			minBeta = beta
			if math.IsInf(maxBeta, 1) {
				beta *= 2
			} else {
				beta = (beta + maxBeta) / 2
			}
		} else {
			maxBeta = beta
			if math.IsInf(minBeta, -1) {
				beta /= 2
			} else {
				beta = (beta + minBeta) / 2
			}
		}
	}

	sum := floats.Sum(weights)
	if !(sum > 0) || math.IsInf(sum, 0) {
		uniform(weights)
		return rowDegenerate
	}
	floats.Scale(1/sum, weights)

	return status
}

func uniform(weights []float64) {
	w := 1 / float64(len(weights))
	for j := range weights {
		weights[j] = w
	}
}

// Balance reports the outcome of Symmetrize.
type Balance struct {
	Pruned      int     // edges removed from over-full rows
	UnderFilled int     // rows left below the minimum entry count
	Iterations  int     // balancing iterations performed
	MaxError    float64 // largest remaining row-sum deviation
}

// Symmetrize merges p(j|i) and p(i|j) into a symmetric matrix, bounds every
// row's entry count to [MinMultiplier, MaxMultiplier] × Perplexity and
// balances the rows to sum to RowSum.
//
// Over-full rows lose their weakest edges, but only towards partners that
// stay above the lower bound. Balancing uses a symmetric diagonal scaling
// D·W·D, which keeps the matrix symmetric.
func Symmetrize(p *sparse.Matrix, opts Options) (*sparse.Matrix, Balance, error) {
	if err := opts.Validate(); err != nil {
		return nil, Balance{}, err
	}

	n := p.N()
	union := p.AddTranspose()

	minDeg := int(math.Floor(opts.MinMultiplier * opts.Perplexity))
	maxDeg := int(math.Ceil(opts.MaxMultiplier * opts.Perplexity))

	rows, pruned := boundDegrees(union, minDeg, maxDeg)

	var bal Balance
	bal.Pruned = pruned
	for _, r := range rows {
		if len(r) < minDeg && len(r) < n-1 {
			bal.UnderFilled++
		}
	}

	scale, iters, maxErr := balanceRows(rows, opts.RowSum, opts.Tolerance, opts.MaxBalanceIterations)
	bal.Iterations = iters
	bal.MaxError = maxErr

	out := make([][]sparse.Entry, n)
	for i, r := range rows {
		row := make([]sparse.Entry, len(r))
		for k, e := range r {
			row[k] = sparse.Entry{Col: e.col, Weight: float32(scale[i] * e.w * scale[e.col])}
		}
		out[i] = row
	}

	m, err := sparse.FromRows(out)
	if err != nil {
		return nil, Balance{}, err
	}

	logger := opts.logger()
	if bal.MaxError > opts.Tolerance {
		logger.Warn("affinity balancing did not converge", "iterations", iters, "max_error", maxErr)
	}
	if bal.UnderFilled > 0 {
		logger.Debug("affinity rows below minimum entry count", "rows", bal.UnderFilled, "min", minDeg)
	}

	return m, bal, nil
}

type edge struct {
	col uint32
	w   float64
}

func boundDegrees(m *sparse.Matrix, minDeg, maxDeg int) ([][]edge, int) {
	n := m.N()
	deg := make([]int, n)
	for i := 0; i < n; i++ {
		deg[i] = len(m.Row(i))
	}

	removed := make(map[uint64]struct{})
	key := func(a, b uint32) uint64 {
		if a > b {
			a, b = b, a
		}
		return uint64(a)<<32 | uint64(b)
	}

	for i := 0; i < n; i++ {
		if deg[i] <= maxDeg {
			continue
		}
		cand := slices.Clone(m.Row(i))
		slices.SortFunc(cand, func(a, b sparse.Entry) int {
			if c := cmp.Compare(a.Weight, b.Weight); c != 0 {
				return c
			}
			return cmp.Compare(a.Col, b.Col)
		})
		for _, e := range cand {
			if deg[i] <= maxDeg {
				break
			}
			kk := key(uint32(i), e.Col)
			if _, gone := removed[kk]; gone {
				continue
			}
			if deg[e.Col] <= minDeg {
				continue
			}
			removed[kk] = struct{}{}
			deg[i]--
			deg[e.Col]--
		}
	}

	rows := make([][]edge, n)
	for i := 0; i < n; i++ {
		r := make([]edge, 0, deg[i])
		for _, e := range m.Row(i) {
			if _, gone := removed[key(uint32(i), e.Col)]; gone {
				continue
			}
			r = append(r, edge{col: e.Col, w: float64(e.Weight)})
		}
		rows[i] = r
	}
	return rows, len(removed)
}

// balanceRows finds a positive scaling d with Σ_j d_i w_ij d_j = target for
// every non-empty row. Each sweep updates all rows from the previous
// sweep's sums with a square-root damped step.
func balanceRows(rows [][]edge, target, tol float64, maxIter int) ([]float64, int, float64) {
	n := len(rows)
	d := make([]float64, n)
	r := make([]float64, n)

	for i, row := range rows {
		s := 0.0
		for _, e := range row {
			s += e.w
		}
		if s > 0 {
			d[i] = math.Sqrt(target / s)
		} else {
			d[i] = 1
		}
	}

	rowSums := func() float64 {
		worst := 0.0
		for i, row := range rows {
			if len(row) == 0 {
				r[i] = target
				continue
			}
			s := 0.0
			for _, e := range row {
				s += e.w * d[e.col]
			}
			r[i] = d[i] * s
			worst = max(worst, math.Abs(r[i]-target))
		}
		return worst
	}

	worst := rowSums()
	iter := 0
	for ; iter < maxIter && worst > tol; iter++ {
		for i := range d {
			if r[i] > 0 {
				d[i] *= math.Sqrt(target / r[i])
			}
		}
		worst = rowSums()
	}

	return d, iter, worst
}

// Estimate computes the symmetric affinity matrix of a point set: neighbour
// search with k = NeighborMultiplier × Perplexity, per-point calibration and
// symmetrization.
func Estimate(ctx context.Context, points []float32, dim int, opts Options, knnOpts knn.Options) (*sparse.Matrix, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.logger()
	start := time.Now()

	if knnOpts.Logger == nil {
		knnOpts.Logger = opts.Logger
	}
	if knnOpts.Concurrency == 0 {
		knnOpts.Concurrency = opts.Concurrency
	}

	g, err := knn.Compute(ctx, points, dim, opts.NumNeighbors(), knnOpts)
	if err != nil {
		return nil, fmt.Errorf("similarity: neighbour search: %w", err)
	}

	cond, _, err := Conditional(ctx, g, opts)
	if err != nil {
		return nil, err
	}

	aff, bal, err := Symmetrize(cond, opts)
	if err != nil {
		return nil, err
	}

	logger.Info("affinity matrix estimated",
		"points", g.N,
		"neighbors", g.K,
		"perplexity", opts.Perplexity,
		"pruned", bal.Pruned,
		"balance_iterations", bal.Iterations,
		"duration", time.Since(start))

	return aff, nil
}
