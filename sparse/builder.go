package sparse

// Builder accumulates weighted entries row by row before freezing them into
// a Matrix. Rows are independent, so distinct rows may be filled from
// different goroutines.
type Builder struct {
	rows []map[uint32]float64
}

// NewBuilder returns a builder for an n×n matrix.
func NewBuilder(n int) *Builder {
	return &Builder{rows: make([]map[uint32]float64, n)}
}

// N returns the matrix size.
func (b *Builder) N() int { return len(b.rows) }

// Add accumulates w into (i, j).
func (b *Builder) Add(i, j int, w float64) {
	r := b.rows[i]
	if r == nil {
		r = make(map[uint32]float64)
		b.rows[i] = r
	}
	r[uint32(j)] += w
}

// RowLen returns the number of distinct columns in row i.
func (b *Builder) RowLen(i int) int { return len(b.rows[i]) }

// Build freezes the accumulated entries. Non-positive weights are dropped.
func (b *Builder) Build() *Matrix {
	m := New(len(b.rows))
	for i, r := range b.rows {
		if len(r) == 0 {
			continue
		}
		row := make([]Entry, 0, len(r))
		for c, w := range r {
			if w > 0 {
				row = append(row, Entry{Col: c, Weight: float32(w)})
			}
		}
		m.rows[i] = canonical(row)
	}
	return m
}
