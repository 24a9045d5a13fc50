package tsne

import (
	"context"
	"math"

	"github.com/hupe1980/hsne/internal/compute"
)

// fieldSupport is the radius, in embedding units, beyond which a point
// does not contribute to the field.
const fieldSupport = 6.5

// field evaluates the repulsive potential on a regular grid spanning the
// embedding and interpolates it at every point. Each point is splatted onto
// the vertices within fieldSupport of it.
type field struct {
	pixelRatio float64
	minSize    int
	maxSize    int
}

type fieldGrid struct {
	dims   int
	size   [3]int
	origin [3]float64
	step   [3]float64
	// per vertex: S followed by dims components of V
	values []float64
}

func (f *field) compute(ctx context.Context, lease *compute.Lease, y []float32, n, dims int, rep []float64) (float64, error) {
	g := f.layout(y, n, dims)

	vertices := 1
	for d := 0; d < dims; d++ {
		vertices *= g.size[d]
	}
	stride := 1 + dims
	g.values = make([]float64, vertices*stride)

	// Workers own disjoint slabs of the last axis, so splats never race.
	last := dims - 1
	err := lease.Run(ctx, g.size[last], func(_, lo, hi int) error {
		for j := 0; j < n; j++ {
			p := y[j*dims : (j+1)*dims]
			fp, ok := g.footprint(p)
			if !ok {
				continue
			}
			fp[last][0] = max(fp[last][0], lo)
			fp[last][1] = min(fp[last][1], hi-1)
			if fp[last][0] > fp[last][1] {
				continue
			}
			g.splat(p, fp)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	partial := make([]float64, lease.Chunks(n))
	err = lease.Run(ctx, n, func(chunk, lo, hi int) error {
		sample := make([]float64, stride)
		var z float64
		for i := lo; i < hi; i++ {
			g.interpolate(y[i*dims:(i+1)*dims], sample)
			// S includes the point's own unit contribution.
			z += sample[0] - 1
			copy(rep[i*dims:(i+1)*dims], sample[1:])
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

func (f *field) layout(y []float32, n, dims int) *fieldGrid {
	b := computeBounds(y, n, dims)
	g := &fieldGrid{dims: dims}

	for d := 0; d < dims; d++ {
		lo, hi := float64(b.Min[d]), float64(b.Max[d])
		extent := hi - lo
		pad := 0.05*extent + 1e-3
		lo -= pad
		hi += pad

		size := int(math.Ceil((hi - lo) * f.pixelRatio))
		size = min(max(size, f.minSize), f.maxSize)

		g.size[d] = size
		g.origin[d] = lo
		g.step[d] = (hi - lo) / float64(size-1)
	}
	return g
}

// footprint returns the inclusive vertex range per axis within
// fieldSupport of p. ok is false when the range is empty.
func (g *fieldGrid) footprint(p []float32) (fp [3][2]int, ok bool) {
	for d := 0; d < g.dims; d++ {
		c := float64(p[d]) - g.origin[d]
		lo := int(math.Ceil((c - fieldSupport) / g.step[d]))
		hi := int(math.Floor((c + fieldSupport) / g.step[d]))
		lo = max(lo, 0)
		hi = min(hi, g.size[d]-1)
		if lo > hi {
			return fp, false
		}
		fp[d] = [2]int{lo, hi}
	}
	return fp, true
}

// splat adds the kernel of the point p to every vertex in fp.
func (g *fieldGrid) splat(p []float32, fp [3][2]int) {
	dims := g.dims
	stride := 1 + dims
	const support2 = fieldSupport * fieldSupport

	var k [3]int
	for d := 0; d < dims; d++ {
		k[d] = fp[d][0]
	}
	for {
		idx := 0
		mul := 1
		var diff [3]float64
		var d2 float64
		for d := 0; d < dims; d++ {
			idx += k[d] * mul
			mul *= g.size[d]
			diff[d] = g.origin[d] + float64(k[d])*g.step[d] - float64(p[d])
			d2 += diff[d] * diff[d]
		}
		if d2 <= support2 {
			w := 1 / (1 + d2)
			out := g.values[idx*stride : (idx+1)*stride]
			out[0] += w
			for d := 0; d < dims; d++ {
				out[1+d] += w * w * diff[d]
			}
		}

		d := 0
		for ; d < dims; d++ {
			if k[d] < fp[d][1] {
				k[d]++
				break
			}
			k[d] = fp[d][0]
		}
		if d == dims {
			return
		}
	}
}

// interpolate writes the multilinear interpolation of the grid values at p.
func (g *fieldGrid) interpolate(p []float32, out []float64) {
	dims := g.dims
	stride := 1 + dims
	clear(out)

	var base [3]int
	var frac [3]float64
	for d := 0; d < dims; d++ {
		x := (float64(p[d]) - g.origin[d]) / g.step[d]
		k := int(math.Floor(x))
		k = min(max(k, 0), g.size[d]-2)
		base[d] = k
		frac[d] = min(max(x-float64(k), 0), 1)
	}

	corners := 1 << dims
	for c := 0; c < corners; c++ {
		weight := 1.0
		idx := 0
		mul := 1
		for d := 0; d < dims; d++ {
			k := base[d]
			if c&(1<<d) != 0 {
				k++
				weight *= frac[d]
			} else {
				weight *= 1 - frac[d]
			}
			idx += k * mul
			mul *= g.size[d]
		}
		if weight == 0 {
			continue
		}
		vals := g.values[idx*stride : (idx+1)*stride]
		for s := range out {
			out[s] += weight * vals[s]
		}
	}
}
