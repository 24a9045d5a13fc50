package sparse

import (
	"fmt"

	"github.com/hupe1980/hsne/persistence"
)

// Encode writes the matrix as: row count, then per row the entry count
// followed by (column, weight) pairs.
func (m *Matrix) Encode(w *persistence.Writer) {
	w.WriteUint32(uint32(len(m.rows)))
	for _, r := range m.rows {
		w.WriteUint32(uint32(len(r)))
		for _, e := range r {
			w.WriteUint32(e.Col)
			w.WriteFloat32(e.Weight)
		}
	}
}

// Decode reads a matrix written by Encode.
func Decode(r *persistence.Reader) (*Matrix, error) {
	n := r.ReadCount(4)
	m := New(n)
	for i := 0; i < n && r.Err() == nil; i++ {
		k := r.ReadCount(8)
		row := make([]Entry, k)
		for j := range row {
			row[j] = Entry{Col: r.ReadUint32(), Weight: r.ReadFloat32()}
		}
		m.rows[i] = row
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("sparse: decode: %w", err)
	}
	for i, row := range m.rows {
		for _, e := range row {
			if int(e.Col) >= n {
				return nil, fmt.Errorf("%w: row %d references column %d (n=%d)", ErrIndexOutOfRange, i, e.Col, n)
			}
		}
		m.rows[i] = canonical(row)
	}
	return m, nil
}
