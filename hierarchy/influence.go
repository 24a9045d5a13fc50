package hierarchy

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/hsne/sparse"
)

// addScale appends s and extends the influence index to it.
func (h *Hierarchy) addScale(s *Scale) {
	id := len(h.Scales)
	h.Scales = append(h.Scales, s)

	if id == 0 {
		lm := make(LandmarkMap, s.Size())
		sets := make([]*roaring.Bitmap, s.Size())
		for i, orig := range s.LandmarkToOriginal {
			lm[i] = []uint32{uint32(i)}
			sets[i] = roaring.BitmapOf(orig)
		}
		h.Influence = append(h.Influence, lm)
		h.points = append(h.points, sets)
		return
	}

	lm := dominantInfluence(s)
	below := h.points[id-1]
	sets := make([]*roaring.Bitmap, s.Size())
	for l, members := range lm {
		parts := make([]*roaring.Bitmap, len(members))
		for k, d := range members {
			parts[k] = below[d]
		}
		sets[l] = roaring.FastOr(parts...)
	}
	h.Influence = append(h.Influence, lm)
	h.points = append(h.points, sets)
}

// dominantInfluence assigns every point of the scale below to the landmark
// with the largest area-of-influence probability. Ties go to the lower
// landmark index; points no walk connected stay unassigned.
func dominantInfluence(s *Scale) LandmarkMap {
	lm := make(LandmarkMap, s.Size())
	for d, row := range s.AreaOfInfluence {
		best, bestW := -1, float32(0)
		for _, e := range row {
			if e.Weight > bestW {
				best, bestW = int(e.Col), e.Weight
			}
		}
		if best >= 0 {
			lm[best] = append(lm[best], uint32(d))
		}
	}
	return lm
}

// rebuildPointSets recomputes the original-point bitmaps from the landmark
// maps, used after decoding.
func (h *Hierarchy) rebuildPointSets() {
	h.points = h.points[:0]
	for id, s := range h.Scales {
		sets := make([]*roaring.Bitmap, s.Size())
		if id == 0 {
			for i, orig := range s.LandmarkToOriginal {
				sets[i] = roaring.BitmapOf(orig)
			}
		} else {
			below := h.points[id-1]
			for l, members := range h.Influence[id] {
				parts := make([]*roaring.Bitmap, len(members))
				for k, d := range members {
					parts[k] = below[d]
				}
				sets[l] = roaring.FastOr(parts...)
			}
		}
		h.points = append(h.points, sets)
	}
}

func (h *Hierarchy) checkSelection(id int, selected []uint32) (*Scale, error) {
	s, err := h.Scale(id)
	if err != nil {
		return nil, err
	}
	for _, l := range selected {
		if int(l) >= s.Size() {
			return nil, fmt.Errorf("%w: %d at scale %d (size %d)", ErrInvalidLandmark, l, id, s.Size())
		}
	}
	return s, nil
}

// InfluencedLandmarksInPreviousScale returns, for every landmark of scale
// id-1, the area-of-influence mass the selected landmarks of scale id hold
// over it. Only landmarks with positive mass are listed, sorted by index.
func (h *Hierarchy) InfluencedLandmarksInPreviousScale(id int, selected []uint32) ([]sparse.Entry, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: scale 0 has no scale below", ErrInvalidScale)
	}
	s, err := h.checkSelection(id, selected)
	if err != nil {
		return nil, err
	}

	sel := roaring.BitmapOf(selected...)

	var out []sparse.Entry
	for d, row := range s.AreaOfInfluence {
		var mass float64
		for _, e := range row {
			if sel.Contains(e.Col) {
				mass += float64(e.Weight)
			}
		}
		if mass > 0 {
			out = append(out, sparse.Entry{Col: uint32(d), Weight: float32(mass)})
		}
	}
	return out, nil
}

// InfluenceOnDataPoint propagates the influence of every scale on point p
// of scale 0 up the hierarchy. Entry s lists the landmarks of scale s with
// their influence; values below threshold are dropped after each step.
func (h *Hierarchy) InfluenceOnDataPoint(p int, threshold float32) ([][]sparse.Entry, error) {
	if len(h.Scales) == 0 || p < 0 || p >= h.Scales[0].Size() {
		return nil, fmt.Errorf("%w: data point %d", ErrInvalidLandmark, p)
	}

	out := make([][]sparse.Entry, len(h.Scales))
	out[0] = []sparse.Entry{{Col: uint32(p), Weight: 1}}

	for id := 1; id < len(h.Scales); id++ {
		s := h.Scales[id]
		acc := make(map[uint32]float64)
		for _, e := range out[id-1] {
			for _, a := range s.AreaOfInfluence[e.Col] {
				acc[a.Col] += float64(e.Weight) * float64(a.Weight)
			}
		}

		row := make([]sparse.Entry, 0, len(acc))
		for l, v := range acc {
			if float32(v) >= threshold && v > 0 {
				row = append(row, sparse.Entry{Col: l, Weight: float32(v)})
			}
		}
		slices.SortFunc(row, func(a, b sparse.Entry) int { return int(a.Col) - int(b.Col) })
		out[id] = row
	}
	return out, nil
}

// TransitionMatrixForSelection returns the transition matrix of scale id
// restricted to the selected landmarks, with rows re-normalized. Rows that
// lose every edge stay empty.
func (h *Hierarchy) TransitionMatrixForSelection(id int, selected []uint32) (*sparse.Matrix, error) {
	s, err := h.checkSelection(id, selected)
	if err != nil {
		return nil, err
	}
	m, err := s.Transition.Induced(selected)
	if err != nil {
		return nil, err
	}
	m.NormalizeRows()
	return m, nil
}

// SelectionToOriginal returns the union of original points represented by
// the selected landmarks of scale id.
func (h *Hierarchy) SelectionToOriginal(id int, selected []uint32) (*roaring.Bitmap, error) {
	if _, err := h.checkSelection(id, selected); err != nil {
		return nil, err
	}
	parts := make([]*roaring.Bitmap, len(selected))
	for k, l := range selected {
		parts[k] = h.points[id][l]
	}
	return roaring.FastOr(parts...), nil
}

// LandmarkOf returns the landmark of scale id that dominates original point
// p, or -1 when p is not represented.
func (h *Hierarchy) LandmarkOf(id int, p uint32) (int, error) {
	s, err := h.Scale(id)
	if err != nil {
		return 0, err
	}
	for l := 0; l < s.Size(); l++ {
		if h.points[id][l].Contains(p) {
			return l, nil
		}
	}
	return -1, nil
}
