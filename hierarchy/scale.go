package hierarchy

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/hsne/sparse"
)

// Scale is one level of the hierarchy. Indices into the scale below are
// plain integers into Hierarchy.Scales[id-1].
type Scale struct {
	// Transition is the row-stochastic transition matrix over the landmarks.
	Transition *sparse.Matrix

	// LandmarkToOriginal maps a landmark to its original data point index.
	LandmarkToOriginal []uint32
	// LandmarkToPrevious maps a landmark to its index in the scale below.
	LandmarkToPrevious []uint32
	// PreviousToLandmark maps a point of the scale below to its landmark
	// index here, or -1.
	PreviousToLandmark []int32

	// AreaOfInfluence holds, for every point of the scale below, the
	// probability that a walk from it first reaches each landmark. Entries
	// are sorted by landmark. Empty for scale 0.
	AreaOfInfluence [][]sparse.Entry

	// Weights is the representation mass of each landmark.
	Weights []float32
}

// Size returns the number of landmarks.
func (s *Scale) Size() int { return len(s.LandmarkToOriginal) }

// Influence returns the area-of-influence probability of landmark l for
// point p of the scale below.
func (s *Scale) Influence(p int, l uint32) float32 {
	for _, e := range s.AreaOfInfluence[p] {
		if e.Col == l {
			return e.Weight
		}
	}
	return 0
}

// LandmarkMap lists, for every landmark of a scale, the landmarks of the
// scale below whose dominant influence it is.
type LandmarkMap [][]uint32

// Hierarchy is the arena of scales built from one point set.
type Hierarchy struct {
	Params    Params
	NumPoints int
	Dim       int

	Scales []*Scale

	// Influence[s] is the landmark map of scale s; Influence[0] maps every
	// point to itself.
	Influence []LandmarkMap

	// points[s][l] is the set of original points landmark l represents.
	points [][]*roaring.Bitmap
}

// NumScales returns the number of built scales.
func (h *Hierarchy) NumScales() int { return len(h.Scales) }

// Top returns the coarsest scale.
func (h *Hierarchy) Top() *Scale { return h.Scales[len(h.Scales)-1] }

// Scale returns scale id.
func (h *Hierarchy) Scale(id int) (*Scale, error) {
	if id < 0 || id >= len(h.Scales) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrInvalidScale, id, len(h.Scales))
	}
	return h.Scales[id], nil
}

// DataPoints returns the original points represented by landmark l of
// scale id. The bitmap is shared and must not be modified.
func (h *Hierarchy) DataPoints(id int, l uint32) (*roaring.Bitmap, error) {
	s, err := h.Scale(id)
	if err != nil {
		return nil, err
	}
	if int(l) >= s.Size() {
		return nil, fmt.Errorf("%w: %d at scale %d (size %d)", ErrInvalidLandmark, l, id, s.Size())
	}
	return h.points[id][l], nil
}

// LandmarkWeights returns a copy of the weights of scale id.
func (h *Hierarchy) LandmarkWeights(id int) ([]float32, error) {
	s, err := h.Scale(id)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(s.Weights))
	copy(out, s.Weights)
	return out, nil
}

// Validate checks the structural invariants: non-increasing landmark
// counts, valid back references and row-stochastic transition matrices.
func (h *Hierarchy) Validate(tol float64) error {
	for id, s := range h.Scales {
		n := s.Size()
		if s.Transition.N() != n || len(s.Weights) != n || len(s.LandmarkToPrevious) != n {
			return fmt.Errorf("hierarchy: scale %d has inconsistent sizes", id)
		}
		if err := s.Transition.CheckRowSums(1, tol); err != nil {
			return fmt.Errorf("hierarchy: scale %d: %w", id, err)
		}
		if id == 0 {
			continue
		}
		prev := h.Scales[id-1].Size()
		if n > prev {
			return fmt.Errorf("hierarchy: scale %d has %d landmarks, scale below has %d", id, n, prev)
		}
		if len(s.PreviousToLandmark) != prev || len(s.AreaOfInfluence) != prev {
			return fmt.Errorf("hierarchy: scale %d reverse maps do not cover scale below", id)
		}
		for l, p := range s.LandmarkToPrevious {
			if int(p) >= prev || s.PreviousToLandmark[p] != int32(l) {
				return fmt.Errorf("hierarchy: scale %d landmark %d has invalid back reference %d", id, l, p)
			}
		}
	}
	return nil
}
