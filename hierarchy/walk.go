package hierarchy

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/hupe1980/hsne/sparse"
)

// walker samples random walks over a transition matrix in CSR form with
// cumulative row weights.
type walker struct {
	rowPtr []int
	cols   []uint32
	cum    []float64
}

func newWalker(m *sparse.Matrix) *walker {
	n := m.N()
	w := &walker{
		rowPtr: make([]int, n+1),
		cols:   make([]uint32, 0, m.NNZ()),
		cum:    make([]float64, 0, m.NNZ()),
	}
	for i := 0; i < n; i++ {
		var acc float64
		for _, e := range m.Row(i) {
			if e.Weight <= 0 {
				continue
			}
			acc += float64(e.Weight)
			w.cols = append(w.cols, e.Col)
			w.cum = append(w.cum, acc)
		}
		w.rowPtr[i+1] = len(w.cols)
	}
	return w
}

// step moves one hop from i. It reports false for a node without out-edges.
func (w *walker) step(i uint32, rng *rand.Rand) (uint32, bool) {
	lo, hi := w.rowPtr[i], w.rowPtr[i+1]
	if lo == hi {
		return i, false
	}
	cum := w.cum[lo:hi]
	u := rng.Float64() * cum[len(cum)-1]
	k := sort.SearchFloat64s(cum, u)
	if k == len(cum) {
		k--
	} else if cum[k] == u {
		k++
		k = min(k, len(cum)-1)
	}
	return w.cols[lo+k], true
}

// endpoint walks length hops from start, stopping early at a dead end.
func (w *walker) endpoint(start uint32, length int, rng *rand.Rand) uint32 {
	cur := start
	for s := 0; s < length; s++ {
		next, ok := w.step(cur, rng)
		if !ok {
			break
		}
		cur = next
	}
	return cur
}

// firstHit walks from start until it reaches a node for which isTarget
// holds, giving up after maxSteps hops or at a dead end.
func (w *walker) firstHit(start uint32, maxSteps int, rng *rand.Rand, target []int32) (int32, bool) {
	cur := start
	for s := 0; s < maxSteps; s++ {
		next, ok := w.step(cur, rng)
		if !ok {
			return -1, false
		}
		cur = next
		if l := target[cur]; l >= 0 {
			return l, true
		}
	}
	return -1, false
}

func resolveSeed(seed int64) uint64 {
	if seed < 0 {
		return uint64(time.Now().UnixNano())
	}
	return uint64(seed)
}

// pointRNG returns the generator for one point's walks. Streams depend only
// on the seed, the phase and the point, so results do not depend on
// scheduling.
func pointRNG(seed uint64, phase, scale int, point uint32) *rand.Rand {
	return rand.New(rand.NewPCG(seed^uint64(scale)<<32^uint64(phase), uint64(point)*0x9e3779b97f4a7c15+1))
}
