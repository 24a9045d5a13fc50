package tsne

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func resolveSeed(seed int64) uint64 {
	if seed < 0 {
		return uint64(time.Now().UnixNano())
	}
	return uint64(seed)
}

// gaussianDisc samples n points from an isotropic normal scaled by radius,
// using the polar method.
func gaussianDisc(n, dims int, radius float64, seed uint64) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	y := make([]float32, n*dims)

	var spare float64
	hasSpare := false
	normal := func() float64 {
		if hasSpare {
			hasSpare = false
			return spare
		}
		for {
			u := 2*rng.Float64() - 1
			v := 2*rng.Float64() - 1
			s := u*u + v*v
			if s >= 1 || s == 0 {
				continue
			}
			m := math.Sqrt(-2 * math.Log(s) / s)
			spare = v * m
			hasSpare = true
			return u * m
		}
	}

	for i := range y {
		y[i] = float32(normal() * radius)
	}
	return y
}

// pcaPositions projects points onto their leading principal components and
// scales the result so the first component has standard deviation radius.
func pcaPositions(points []float32, dim, n, dims int, radius float64) ([]float32, error) {
	if dim < dims {
		return nil, fmt.Errorf("%w: pca needs at least %d source dimensions, got %d", ErrDimensionMismatch, dims, dim)
	}
	if len(points) != n*dim {
		return nil, fmt.Errorf("%w: pca data has %d values, want %d", ErrDimensionMismatch, len(points), n*dim)
	}
	if n < 2 {
		return make([]float32, n*dims), nil
	}

	x := mat.NewDense(n, dim, nil)
	for c := 0; c < dim; c++ {
		col := make([]float64, n)
		for r := 0; r < n; r++ {
			col[r] = float64(points[r*dim+c])
		}
		mean := stat.Mean(col, nil)
		for r := 0; r < n; r++ {
			x.Set(r, c, col[r]-mean)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, fmt.Errorf("%w: pca factorization failed", ErrInvalidParameter)
	}
	var v mat.Dense
	svd.VTo(&v)

	_, comps := v.Dims()
	comps = min(comps, dims)

	var proj mat.Dense
	proj.Mul(x, v.Slice(0, dim, 0, comps))

	first := mat.Col(nil, 0, &proj)
	scale := 1.0
	if sd := stat.StdDev(first, nil); sd > 0 {
		scale = radius / sd
	}

	y := make([]float32, n*dims)
	for r := 0; r < n; r++ {
		for d := 0; d < comps; d++ {
			y[r*dims+d] = float32(proj.At(r, d) * scale)
		}
	}
	return y, nil
}
