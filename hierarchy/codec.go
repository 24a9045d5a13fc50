package hierarchy

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/hsne/persistence"
	"github.com/hupe1980/hsne/sparse"
)

// EncodeScales serializes the scales: point count, dimensionality, scale
// count, then per scale its transition matrix, index maps, areas of
// influence and weights.
func EncodeScales(h *Hierarchy, c persistence.Compression) ([]byte, error) {
	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)

	w.WriteUint64(uint64(h.NumPoints))
	w.WriteUint32(uint32(h.Dim))
	w.WriteUint32(uint32(len(h.Scales)))

	for _, s := range h.Scales {
		s.Transition.Encode(w)
		writeUint32s(w, s.LandmarkToOriginal)
		writeUint32s(w, s.LandmarkToPrevious)
		w.WriteUint32(uint32(len(s.PreviousToLandmark)))
		for _, v := range s.PreviousToLandmark {
			w.WriteInt32(v)
		}
		w.WriteUint32(uint32(len(s.AreaOfInfluence)))
		for _, row := range s.AreaOfInfluence {
			w.WriteUint32(uint32(len(row)))
			for _, e := range row {
				w.WriteUint32(e.Col)
				w.WriteFloat32(e.Weight)
			}
		}
		w.WriteUint32(uint32(len(s.Weights)))
		w.WriteFloat32Slice(s.Weights)
	}

	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("hierarchy: encode scales: %w", err)
	}
	return persistence.Encode(persistence.KindHierarchy, c, buf.Bytes())
}

// EncodeInfluence serializes the landmark maps of every scale.
func EncodeInfluence(h *Hierarchy, c persistence.Compression) ([]byte, error) {
	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)

	w.WriteUint32(uint32(len(h.Influence)))
	for _, lm := range h.Influence {
		w.WriteUint32(uint32(len(lm)))
		for _, members := range lm {
			writeUint32s(w, members)
		}
	}

	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("hierarchy: encode influence: %w", err)
	}
	return persistence.Encode(persistence.KindInfluence, c, buf.Bytes())
}

// Decode restores a hierarchy from blobs written by EncodeScales and
// EncodeInfluence. The parameters are not part of the blobs and are
// supplied by the caller.
func Decode(scales, influence []byte, params Params) (*Hierarchy, error) {
	_, payload, err := persistence.Decode(scales, persistence.KindHierarchy)
	if err != nil {
		return nil, err
	}
	r := persistence.NewReader(payload)

	h := &Hierarchy{Params: params}
	h.NumPoints = int(r.ReadUint64())
	h.Dim = int(r.ReadUint32())
	count := r.ReadCount(4)

	for id := 0; id < count && r.Err() == nil; id++ {
		t, err := sparse.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("hierarchy: scale %d: %w", id, err)
		}
		s := &Scale{Transition: t}
		s.LandmarkToOriginal = readUint32s(r)
		s.LandmarkToPrevious = readUint32s(r)

		s.PreviousToLandmark = make([]int32, r.ReadCount(4))
		for i := range s.PreviousToLandmark {
			s.PreviousToLandmark[i] = r.ReadInt32()
		}

		rows := r.ReadCount(4)
		if rows > 0 {
			s.AreaOfInfluence = make([][]sparse.Entry, rows)
		}
		for d := 0; d < rows && r.Err() == nil; d++ {
			row := make([]sparse.Entry, r.ReadCount(8))
			for k := range row {
				row[k] = sparse.Entry{Col: r.ReadUint32(), Weight: r.ReadFloat32()}
			}
			s.AreaOfInfluence[d] = row
		}

		s.Weights = r.ReadFloat32Slice(r.ReadCount(4))
		h.Scales = append(h.Scales, s)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("hierarchy: decode scales: %w", err)
	}

	_, payload, err = persistence.Decode(influence, persistence.KindInfluence)
	if err != nil {
		return nil, err
	}
	r = persistence.NewReader(payload)

	maps := r.ReadCount(4)
	if maps != len(h.Scales) {
		return nil, fmt.Errorf("hierarchy: influence covers %d scales, hierarchy has %d", maps, len(h.Scales))
	}
	for id := 0; id < maps && r.Err() == nil; id++ {
		lm := make(LandmarkMap, r.ReadCount(4))
		for l := range lm {
			lm[l] = readUint32s(r)
		}
		h.Influence = append(h.Influence, lm)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("hierarchy: decode influence: %w", err)
	}

	for id, lm := range h.Influence {
		if len(lm) != h.Scales[id].Size() {
			return nil, fmt.Errorf("hierarchy: influence of scale %d has %d landmarks, want %d", id, len(lm), h.Scales[id].Size())
		}
		below := h.Scales[max(id-1, 0)].Size()
		for l, members := range lm {
			for _, d := range members {
				if int(d) >= below {
					return nil, fmt.Errorf("%w: scale %d landmark %d lists member %d", ErrInvalidLandmark, id, l, d)
				}
			}
		}
	}
	if err := h.Validate(1e-4); err != nil {
		return nil, err
	}

	h.rebuildPointSets()
	return h, nil
}

func writeUint32s(w *persistence.Writer, s []uint32) {
	w.WriteUint32(uint32(len(s)))
	w.WriteUint32Slice(s)
}

func readUint32s(r *persistence.Reader) []uint32 {
	return r.ReadUint32Slice(r.ReadCount(4))
}
