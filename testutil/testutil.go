package testutil

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/hupe1980/hsne/distance"
)

// RNG is a seeded, goroutine-safe random source.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed uint64
}

// NewRNG creates a generator for seed.
func NewRNG(seed uint64) *RNG {
	return &RNG{rand: rand.New(rand.NewPCG(seed, seed^0x5bd1e995)), seed: seed}
}

// Reset rewinds the generator to its seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewPCG(r.seed, r.seed^0x5bd1e995))
}

// Seed returns the initial seed.
func (r *RNG) Seed() uint64 { return r.seed }

// IntN returns a value in [0, n).
func (r *RNG) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.IntN(n)
}

// FillUniform fills dst with values in [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillGaussian fills dst with standard normal values.
func (r *RNG) FillGaussian(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = float32(r.rand.NormFloat64())
	}
}

// UniformPoints returns n points in [0, 1)^dim.
func (r *RNG) UniformPoints(n, dim int) []float32 {
	out := make([]float32, n*dim)
	r.FillUniform(out)
	return out
}

// GaussianPoints returns n standard normal points.
func (r *RNG) GaussianPoints(n, dim int) []float32 {
	out := make([]float32, n*dim)
	r.FillGaussian(out)
	return out
}

// Blobs returns n points split round-robin over k Gaussian clusters with
// standard deviation spread. Cluster c is centred at c·separation on every
// axis. The second result holds each point's cluster.
func (r *RNG) Blobs(n, dim, k int, spread, separation float32) ([]float32, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	points := make([]float32, n*dim)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % k
		labels[i] = c
		for d := 0; d < dim; d++ {
			points[i*dim+d] = float32(c)*separation + float32(r.rand.NormFloat64())*spread
		}
	}
	return points, labels
}

// ExactNeighbors returns the k nearest neighbours of point i under squared
// Euclidean distance, excluding i, nearest first.
func ExactNeighbors(points []float32, dim, i, k int) []uint32 {
	n := len(points) / dim
	q := points[i*dim : (i+1)*dim]

	type cand struct {
		idx  uint32
		dist float32
	}
	all := make([]cand, 0, n-1)
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		all = append(all, cand{uint32(j), distance.SquaredL2(q, points[j*dim:(j+1)*dim])})
	}
	slices.SortFunc(all, func(a, b cand) int {
		if a.dist != b.dist {
			if a.dist < b.dist {
				return -1
			}
			return 1
		}
		return int(a.idx) - int(b.idx)
	})

	out := make([]uint32, 0, k)
	for _, c := range all[:min(k, len(all))] {
		out = append(out, c.idx)
	}
	return out
}

// Recall returns the fraction of want found in got.
func Recall(want, got []uint32) float64 {
	if len(want) == 0 {
		return 1
	}
	set := make(map[uint32]struct{}, len(got))
	for _, g := range got {
		set[g] = struct{}{}
	}
	var hits int
	for _, w := range want {
		if _, ok := set[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// Centroid returns the mean of the rows listed in idx.
func Centroid(points []float32, dim int, idx []int) []float64 {
	out := make([]float64, dim)
	for _, i := range idx {
		for d := 0; d < dim; d++ {
			out[d] += float64(points[i*dim+d])
		}
	}
	for d := range out {
		out[d] /= math.Max(1, float64(len(idx)))
	}
	return out
}
