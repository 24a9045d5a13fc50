package tsne

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/hupe1980/hsne/persistence"
	"github.com/hupe1980/hsne/sparse"
)

// Checkpoint is a resumable copy of an engine's optimisation state.
type Checkpoint struct {
	Params    Params
	N         int
	Dims      int
	Iteration int
	State     State
	Y         []float32
	Gains     []float32
	Update    []float32
	Joint     *sparse.Matrix
}

func (e *engine) Checkpoint() (*Checkpoint, error) {
	if e.state == StateUninitialized {
		return nil, fmt.Errorf("%w: engine is not initialized", ErrInvalidState)
	}
	return &Checkpoint{
		Params:    e.params,
		N:         e.n,
		Dims:      e.dims,
		Iteration: e.iteration,
		State:     e.state,
		Y:         slices.Clone(e.y),
		Gains:     slices.Clone(e.gains),
		Update:    slices.Clone(e.update),
		Joint:     e.p.Clone(),
	}, nil
}

// Restore replaces the engine's state with cp. The checkpoint's parameters
// take effect, including its backend.
func (e *engine) Restore(cp *Checkpoint) error {
	if cp == nil || cp.Joint == nil {
		return fmt.Errorf("%w: empty checkpoint", ErrInvalidParameter)
	}
	if err := cp.Params.Validate(); err != nil {
		return err
	}
	want := cp.N * cp.Dims
	if cp.Dims != cp.Params.Dimensions || cp.Joint.N() != cp.N ||
		len(cp.Y) != want || len(cp.Gains) != want || len(cp.Update) != want {
		return fmt.Errorf("%w: inconsistent checkpoint", ErrDimensionMismatch)
	}

	e.params = cp.Params
	e.dims = cp.Dims
	e.backend = newRepulsion(cp.Params)
	if err := e.load(cp.Joint.Clone()); err != nil {
		return err
	}
	e.y = slices.Clone(cp.Y)
	e.gains = slices.Clone(cp.Gains)
	e.update = slices.Clone(cp.Update)
	e.iteration = cp.Iteration
	e.skipped.Store(0)

	e.state = cp.State
	if e.state == StateUninitialized {
		e.state = StateInitialized
	}

	e.logger.Debug("engine restored", "points", e.n, "iteration", e.iteration)

	return nil
}

// Encode serializes the checkpoint as a framed blob.
func (cp *Checkpoint) Encode(c persistence.Compression) ([]byte, error) {
	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)

	writeParams(w, cp.Params)
	w.WriteUint32(uint32(cp.N))
	w.WriteUint32(uint32(cp.Dims))
	w.WriteUint64(uint64(cp.Iteration))
	w.WriteUint32(uint32(cp.State))
	w.WriteUint32(uint32(len(cp.Y)))
	w.WriteFloat32Slice(cp.Y)
	w.WriteUint32(uint32(len(cp.Gains)))
	w.WriteFloat32Slice(cp.Gains)
	w.WriteUint32(uint32(len(cp.Update)))
	w.WriteFloat32Slice(cp.Update)
	cp.Joint.Encode(w)

	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("tsne: encode checkpoint: %w", err)
	}
	return persistence.Encode(persistence.KindCheckpoint, c, buf.Bytes())
}

// DecodeCheckpoint parses a blob written by Checkpoint.Encode.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	_, payload, err := persistence.Decode(data, persistence.KindCheckpoint)
	if err != nil {
		return nil, err
	}
	r := persistence.NewReader(payload)

	cp := &Checkpoint{Params: readParams(r)}
	cp.N = int(r.ReadUint32())
	cp.Dims = int(r.ReadUint32())
	cp.Iteration = int(r.ReadUint64())
	cp.State = State(r.ReadUint32())
	cp.Y = r.ReadFloat32Slice(r.ReadCount(4))
	cp.Gains = r.ReadFloat32Slice(r.ReadCount(4))
	cp.Update = r.ReadFloat32Slice(r.ReadCount(4))
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("tsne: decode checkpoint: %w", err)
	}

	joint, err := sparse.Decode(r)
	if err != nil {
		return nil, err
	}
	cp.Joint = joint
	return cp, nil
}

func writeParams(w *persistence.Writer, p Params) {
	w.WriteUint32(uint32(p.Dimensions))
	w.WriteFloat64(p.LearningRate)
	w.WriteFloat64(p.MomentumInitial)
	w.WriteFloat64(p.MomentumFinal)
	w.WriteUint32(uint32(p.MomentumSwitchIter))
	w.WriteFloat64(p.MinGain)
	w.WriteFloat64(p.ExaggerationFactor)
	w.WriteUint32(uint32(p.ExaggerationIter))
	w.WriteUint32(uint32(p.ExaggerationDecay))
	w.WriteInt64(p.Seed)
	w.WriteFloat64(p.RNGRange)
	w.WriteUint32(uint32(p.Init))
	w.WriteUint32(uint32(p.SnapshotInterval))
	w.WriteUint32(uint32(p.Backend))
	w.WriteFloat64(p.Theta)
	w.WriteFloat64(p.PixelRatio)
	w.WriteUint32(uint32(p.MinFieldSize))
	w.WriteUint32(uint32(p.MaxFieldSize))
}

func readParams(r *persistence.Reader) Params {
	return Params{
		Dimensions:         int(r.ReadUint32()),
		LearningRate:       r.ReadFloat64(),
		MomentumInitial:    r.ReadFloat64(),
		MomentumFinal:      r.ReadFloat64(),
		MomentumSwitchIter: int(r.ReadUint32()),
		MinGain:            r.ReadFloat64(),
		ExaggerationFactor: r.ReadFloat64(),
		ExaggerationIter:   int(r.ReadUint32()),
		ExaggerationDecay:  int(r.ReadUint32()),
		Seed:               r.ReadInt64(),
		RNGRange:           r.ReadFloat64(),
		Init:               Init(r.ReadUint32()),
		SnapshotInterval:   int(r.ReadUint32()),
		Backend:            Backend(r.ReadUint32()),
		Theta:              r.ReadFloat64(),
		PixelRatio:         r.ReadFloat64(),
		MinFieldSize:       int(r.ReadUint32()),
		MaxFieldSize:       int(r.ReadUint32()),
	}
}
