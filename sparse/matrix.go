package sparse

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrIndexOutOfRange is returned when an entry references a row or column
// outside the matrix.
var ErrIndexOutOfRange = errors.New("sparse: index out of range")

// Entry is a single non-zero element of a row.
type Entry struct {
	Col    uint32
	Weight float32
}

// Matrix is a square sparse matrix stored as sorted rows.
type Matrix struct {
	rows [][]Entry
}

// New creates an empty n×n matrix.
func New(n int) *Matrix {
	return &Matrix{rows: make([][]Entry, n)}
}

// FromRows wraps the given rows. Each row is sorted by column and duplicate
// columns are merged by summing their weights.
func FromRows(rows [][]Entry) (*Matrix, error) {
	n := len(rows)
	m := &Matrix{rows: make([][]Entry, n)}
	for i, r := range rows {
		for _, e := range r {
			if int(e.Col) >= n {
				return nil, fmt.Errorf("%w: row %d references column %d (n=%d)", ErrIndexOutOfRange, i, e.Col, n)
			}
		}
		m.rows[i] = canonical(r)
	}
	return m, nil
}

func canonical(r []Entry) []Entry {
	out := slices.Clone(r)
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.Col < b.Col:
			return -1
		case a.Col > b.Col:
			return 1
		}
		return 0
	})
	w := 0
	for _, e := range out {
		if w > 0 && out[w-1].Col == e.Col {
			out[w-1].Weight += e.Weight
			continue
		}
		out[w] = e
		w++
	}
	return out[:w]
}

// N returns the number of rows (and columns).
func (m *Matrix) N() int { return len(m.rows) }

// Row returns the entries of row i. The slice must not be modified.
func (m *Matrix) Row(i int) []Entry { return m.rows[i] }

// SetRow replaces row i. The row is canonicalised.
func (m *Matrix) SetRow(i int, r []Entry) {
	m.rows[i] = canonical(r)
}

// Get returns the weight at (i, j), or 0 when absent.
func (m *Matrix) Get(i, j int) float32 {
	r := m.rows[i]
	k, ok := slices.BinarySearchFunc(r, uint32(j), func(e Entry, c uint32) int {
		switch {
		case e.Col < c:
			return -1
		case e.Col > c:
			return 1
		}
		return 0
	})
	if !ok {
		return 0
	}
	return r[k].Weight
}

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int {
	n := 0
	for _, r := range m.rows {
		n += len(r)
	}
	return n
}

// RowSum returns the sum of row i accumulated in float64.
func (m *Matrix) RowSum(i int) float64 {
	var s float64
	for _, e := range m.rows[i] {
		s += float64(e.Weight)
	}
	return s
}

// Total returns the sum of all entries.
func (m *Matrix) Total() float64 {
	var s float64
	for i := range m.rows {
		s += m.RowSum(i)
	}
	return s
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{rows: make([][]Entry, len(m.rows))}
	for i, r := range m.rows {
		c.rows[i] = slices.Clone(r)
	}
	return c
}

// NormalizeRows scales every non-empty row to sum to 1.
func (m *Matrix) NormalizeRows() {
	for i, r := range m.rows {
		s := m.RowSum(i)
		if s <= 0 {
			continue
		}
		inv := 1 / s
		for k := range r {
			r[k].Weight = float32(float64(r[k].Weight) * inv)
		}
	}
}

// Scale multiplies every entry by f.
func (m *Matrix) Scale(f float64) {
	for _, r := range m.rows {
		for k := range r {
			r[k].Weight = float32(float64(r[k].Weight) * f)
		}
	}
}

// Transpose returns Mᵀ.
func (m *Matrix) Transpose() *Matrix {
	t := New(len(m.rows))
	for i, r := range m.rows {
		for _, e := range r {
			t.rows[e.Col] = append(t.rows[e.Col], Entry{Col: uint32(i), Weight: e.Weight})
		}
	}
	// Rows are appended in increasing i, so they are already sorted.
	return t
}

// Symmetrize returns (M + Mᵀ) / 2.
func (m *Matrix) Symmetrize() *Matrix {
	t := m.Transpose()
	out := New(len(m.rows))
	for i := range m.rows {
		out.rows[i] = mergeRows(m.rows[i], t.rows[i], 0.5)
	}
	return out
}

// AddTranspose returns M + Mᵀ.
func (m *Matrix) AddTranspose() *Matrix {
	t := m.Transpose()
	out := New(len(m.rows))
	for i := range m.rows {
		out.rows[i] = mergeRows(m.rows[i], t.rows[i], 1)
	}
	return out
}

// mergeRows merges two sorted rows, scaling the sum by f.
func mergeRows(a, b []Entry, f float32) []Entry {
	out := make([]Entry, 0, max(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Col < b[j].Col):
			out = append(out, Entry{Col: a[i].Col, Weight: a[i].Weight * f})
			i++
		case i >= len(a) || b[j].Col < a[i].Col:
			out = append(out, Entry{Col: b[j].Col, Weight: b[j].Weight * f})
			j++
		default:
			out = append(out, Entry{Col: a[i].Col, Weight: (a[i].Weight + b[j].Weight) * f})
			i++
			j++
		}
	}
	return out
}

// IsSymmetric reports whether M equals Mᵀ within tol.
func (m *Matrix) IsSymmetric(tol float64) bool {
	for i, r := range m.rows {
		for _, e := range r {
			if math.Abs(float64(e.Weight-m.Get(int(e.Col), i))) > tol {
				return false
			}
		}
	}
	return true
}

// CheckRowSums returns an error naming the first non-empty row whose sum
// deviates from want by more than tol.
func (m *Matrix) CheckRowSums(want, tol float64) error {
	for i := range m.rows {
		if len(m.rows[i]) == 0 {
			continue
		}
		if s := m.RowSum(i); math.Abs(s-want) > tol {
			return fmt.Errorf("sparse: row %d sums to %g, want %g", i, s, want)
		}
	}
	return nil
}

// Induced returns the submatrix restricted to keep, re-indexed so that
// keep[k] becomes row k. Entries to columns outside keep are dropped.
func (m *Matrix) Induced(keep []uint32) (*Matrix, error) {
	pos := make(map[uint32]uint32, len(keep))
	for k, idx := range keep {
		if int(idx) >= len(m.rows) {
			return nil, fmt.Errorf("%w: %d (n=%d)", ErrIndexOutOfRange, idx, len(m.rows))
		}
		pos[idx] = uint32(k)
	}
	out := New(len(keep))
	for k, idx := range keep {
		var row []Entry
		for _, e := range m.rows[idx] {
			if c, ok := pos[e.Col]; ok {
				row = append(row, Entry{Col: c, Weight: e.Weight})
			}
		}
		out.rows[k] = canonical(row)
	}
	return out, nil
}
