package tsne

import (
	"context"
	"math"

	"github.com/hupe1980/hsne/internal/compute"
)

const (
	bhLeafSize = 8
	bhMaxDepth = 32
)

// barnesHut approximates the repulsive forces with a 2^d space-partitioning
// tree rebuilt every iteration.
type barnesHut struct {
	theta float64
}

type bhNode struct {
	center    [3]float64
	halfWidth [3]float64
	com       [3]float64
	count     int
	// first child index, or -1 for a leaf
	child int32
	// leaf payload range in bhTree.order
	lo, hi int
}

type bhTree struct {
	dims  int
	nodes []bhNode
	order []int32
}

func (b *barnesHut) compute(ctx context.Context, lease *compute.Lease, y []float32, n, dims int, rep []float64) (float64, error) {
	tree := buildBHTree(y, n, dims)
	partial := make([]float64, lease.Chunks(n))

	err := lease.Run(ctx, n, func(chunk, lo, hi int) error {
		var z float64
		stack := make([]int32, 0, 64)
		for i := lo; i < hi; i++ {
			z += tree.repulse(y, i, b.theta, rep[i*dims:(i+1)*dims], stack)
		}
		partial[chunk] = z
		return nil
	})
	if err != nil {
		return 0, err
	}

	var z float64
	for _, p := range partial {
		z += p
	}
	return z, nil
}

func buildBHTree(y []float32, n, dims int) *bhTree {
	t := &bhTree{
		dims:  dims,
		nodes: make([]bhNode, 0, 2*n/bhLeafSize+1),
		order: make([]int32, n),
	}
	for i := range t.order {
		t.order[i] = int32(i)
	}
	if n == 0 {
		return t
	}

	b := computeBounds(y, n, dims)
	var root bhNode
	var side float64
	for d := 0; d < dims; d++ {
		root.center[d] = (float64(b.Min[d]) + float64(b.Max[d])) / 2
		side = max(side, float64(b.Max[d]-b.Min[d]))
	}
	// Cubic cells keep the width criterion isotropic.
	half := side/2 + 1e-5
	for d := 0; d < dims; d++ {
		root.halfWidth[d] = half
	}

	t.nodes = append(t.nodes, root)
	t.split(y, 0, 0, n, 0)
	return t
}

// split fills node idx from order[lo:hi] and subdivides it when needed.
func (t *bhTree) split(y []float32, idx int32, lo, hi, depth int) {
	dims := t.dims
	nd := &t.nodes[idx]
	nd.count = hi - lo
	nd.lo, nd.hi = lo, hi
	nd.child = -1

	for _, p := range t.order[lo:hi] {
		for d := 0; d < dims; d++ {
			nd.com[d] += float64(y[int(p)*dims+d])
		}
	}
	for d := 0; d < dims; d++ {
		nd.com[d] /= float64(nd.count)
	}

	if nd.count <= bhLeafSize || depth >= bhMaxDepth {
		return
	}

	// Bucket points by orthant. Stable counting sort keeps the layout
	// independent of scheduling.
	fanout := 1 << dims
	center := nd.center
	half := nd.halfWidth

	orthant := func(p int32) int {
		var o int
		for d := 0; d < dims; d++ {
			if float64(y[int(p)*dims+d]) > center[d] {
				o |= 1 << d
			}
		}
		return o
	}

	counts := make([]int, fanout+1)
	for _, p := range t.order[lo:hi] {
		counts[orthant(p)+1]++
	}
	for o := 1; o <= fanout; o++ {
		counts[o] += counts[o-1]
	}
	sorted := make([]int32, hi-lo)
	next := make([]int, fanout)
	copy(next, counts[:fanout])
	for _, p := range t.order[lo:hi] {
		o := orthant(p)
		sorted[next[o]] = p
		next[o]++
	}
	copy(t.order[lo:hi], sorted)

	first := int32(len(t.nodes))
	for o := 0; o < fanout; o++ {
		var c bhNode
		for d := 0; d < dims; d++ {
			c.halfWidth[d] = half[d] / 2
			if o&(1<<d) != 0 {
				c.center[d] = center[d] + half[d]/2
			} else {
				c.center[d] = center[d] - half[d]/2
			}
		}
		t.nodes = append(t.nodes, c)
	}
	t.nodes[idx].child = first

	for o := 0; o < fanout; o++ {
		clo, chi := lo+counts[o], lo+counts[o+1]
		if clo == chi {
			t.nodes[first+int32(o)].child = -1
			continue
		}
		t.split(y, first+int32(o), clo, chi, depth+1)
	}
}

// repulse accumulates the repulsive force on point i into out and returns
// Σ_{j≠i} w_ij as seen through the tree.
func (t *bhTree) repulse(y []float32, i int, theta float64, out []float64, stack []int32) float64 {
	dims := t.dims
	clear(out)
	if len(t.nodes) == 0 {
		return 0
	}

	var yi [3]float64
	for d := 0; d < dims; d++ {
		yi[d] = float64(y[i*dims+d])
	}

	var z float64
	stack = append(stack[:0], 0)
	for len(stack) > 0 {
		nd := &t.nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if nd.count == 0 {
			continue
		}

		if nd.child < 0 {
			for _, p := range t.order[nd.lo:nd.hi] {
				j := int(p)
				if j == i {
					continue
				}
				var diff [3]float64
				var d2 float64
				for d := 0; d < dims; d++ {
					diff[d] = yi[d] - float64(y[j*dims+d])
					d2 += diff[d] * diff[d]
				}
				w := 1 / (1 + d2)
				z += w
				for d := 0; d < dims; d++ {
					out[d] += w * w * diff[d]
				}
			}
			continue
		}

		var diff [3]float64
		var d2, width float64
		for d := 0; d < dims; d++ {
			diff[d] = yi[d] - nd.com[d]
			d2 += diff[d] * diff[d]
			width = max(width, 2*nd.halfWidth[d])
		}

		if d2 > 0 && width/math.Sqrt(d2) < theta {
			w := 1 / (1 + d2)
			cw := float64(nd.count) * w
			z += cw
			for d := 0; d < dims; d++ {
				out[d] += cw * w * diff[d]
			}
			continue
		}

		fanout := int32(1) << dims
		for o := int32(0); o < fanout; o++ {
			stack = append(stack, nd.child+o)
		}
	}

	return z
}
