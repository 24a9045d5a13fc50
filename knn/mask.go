package knn

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// ProjectDimensions returns a copy of points restricted to the dimensions
// set in mask, together with the reduced dimensionality. A nil mask returns
// the input unchanged.
func ProjectDimensions(points []float32, dim int, mask *bitset.BitSet) ([]float32, int, error) {
	n, err := checkPoints(points, dim)
	if err != nil {
		return nil, 0, err
	}
	if mask == nil {
		return points, dim, nil
	}

	enabled := make([]int, 0, dim)
	for d, ok := mask.NextSet(0); ok && int(d) < dim; d, ok = mask.NextSet(d + 1) {
		enabled = append(enabled, int(d))
	}
	if len(enabled) == 0 {
		return nil, 0, fmt.Errorf("%w: dimension mask enables no dimensions", ErrInvalidInput)
	}
	if len(enabled) == dim {
		return points, dim, nil
	}

	out := make([]float32, 0, n*len(enabled))
	for i := 0; i < n; i++ {
		row := points[i*dim : (i+1)*dim]
		for _, d := range enabled {
			out = append(out, row[d])
		}
	}
	return out, len(enabled), nil
}

// Gather returns the rows of points listed in indices, in order.
func Gather(points []float32, dim int, indices []uint32) ([]float32, error) {
	n, err := checkPoints(points, dim)
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, len(indices)*dim)
	for _, idx := range indices {
		if int(idx) >= n {
			return nil, fmt.Errorf("%w: point index %d out of range (n=%d)", ErrInvalidInput, idx, n)
		}
		out = append(out, points[int(idx)*dim:(int(idx)+1)*dim]...)
	}
	return out, nil
}
