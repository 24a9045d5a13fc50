package tsne

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidParameter is returned for out-of-range parameters.
	ErrInvalidParameter = errors.New("tsne: invalid parameter")
	// ErrInvalidState is returned when an operation is not allowed in the
	// engine's current state.
	ErrInvalidState = errors.New("tsne: invalid state")
	// ErrDimensionMismatch is returned when a supplied embedding or
	// checkpoint does not fit the engine.
	ErrDimensionMismatch = errors.New("tsne: dimension mismatch")
	// ErrEmpty is returned when initializing with an empty matrix.
	ErrEmpty = errors.New("tsne: empty probability matrix")
)

// Backend selects the repulsion implementation.
type Backend int

const (
	BackendBarnesHut Backend = iota
	BackendField
)

func (b Backend) String() string {
	switch b {
	case BackendBarnesHut:
		return "barnes-hut"
	case BackendField:
		return "field"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend resolves a backend by name.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "barnes-hut", "barneshut", "bh", "cpu":
		return BackendBarnesHut, nil
	case "field", "grid", "gpu":
		return BackendField, nil
	default:
		return 0, fmt.Errorf("%w: unknown backend %q", ErrInvalidParameter, name)
	}
}

// Init selects how initial positions are generated.
type Init int

const (
	// InitRandom samples a seeded Gaussian disc.
	InitRandom Init = iota
	// InitPCA projects the source data on its principal components.
	InitPCA
)

// Params are the gradient-descent parameters. They are copied when an
// engine is created.
type Params struct {
	Dimensions int

	LearningRate       float64
	MomentumInitial    float64
	MomentumFinal      float64
	MomentumSwitchIter int
	MinGain            float64

	ExaggerationFactor float64
	ExaggerationIter   int
	ExaggerationDecay  int

	// Seed for the initial positions; negative means time-based.
	Seed     int64
	RNGRange float64
	Init     Init

	// SnapshotInterval is the number of iterations between recentring and
	// snapshot publication. Zero disables periodic snapshots.
	SnapshotInterval int

	Backend Backend

	// Theta is the Barnes-Hut accuracy trade-off.
	Theta float64

	// PixelRatio, MinFieldSize and MaxFieldSize size the field grid: each
	// axis gets clamp(extent*PixelRatio, MinFieldSize, MaxFieldSize) cells.
	PixelRatio   float64
	MinFieldSize int
	MaxFieldSize int
}

// DefaultParams returns the default gradient-descent parameters.
func DefaultParams() Params {
	return Params{
		Dimensions:         2,
		LearningRate:       200,
		MomentumInitial:    0.2,
		MomentumFinal:      0.5,
		MomentumSwitchIter: 250,
		MinGain:            0.1,
		ExaggerationFactor: 4,
		ExaggerationIter:   250,
		ExaggerationDecay:  150,
		Seed:               -1,
		RNGRange:           0.1,
		SnapshotInterval:   10,
		Backend:            BackendBarnesHut,
		Theta:              0.5,
		PixelRatio:         2,
		MinFieldSize:       5,
		MaxFieldSize:       128,
	}
}

// Validate checks the parameters for consistency.
func (p Params) Validate() error {
	switch {
	case p.Dimensions != 2 && p.Dimensions != 3:
		return fmt.Errorf("%w: dimensions must be 2 or 3, got %d", ErrInvalidParameter, p.Dimensions)
	case p.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive", ErrInvalidParameter)
	case p.MinGain <= 0:
		return fmt.Errorf("%w: min gain must be positive", ErrInvalidParameter)
	case p.ExaggerationFactor < 1:
		return fmt.Errorf("%w: exaggeration factor must be >= 1, got %g", ErrInvalidParameter, p.ExaggerationFactor)
	case p.ExaggerationIter < 0 || p.ExaggerationDecay < 0:
		return fmt.Errorf("%w: exaggeration durations must not be negative", ErrInvalidParameter)
	case p.SnapshotInterval < 0:
		return fmt.Errorf("%w: snapshot interval must not be negative", ErrInvalidParameter)
	case p.RNGRange <= 0:
		return fmt.Errorf("%w: rng range must be positive", ErrInvalidParameter)
	case p.Backend != BackendBarnesHut && p.Backend != BackendField:
		return fmt.Errorf("%w: unknown backend %v", ErrInvalidParameter, p.Backend)
	case p.Backend == BackendBarnesHut && (p.Theta < 0 || p.Theta > 1):
		return fmt.Errorf("%w: theta must be in [0, 1], got %g", ErrInvalidParameter, p.Theta)
	case p.Backend == BackendField && (p.PixelRatio <= 0 || p.MinFieldSize < 2 || p.MaxFieldSize < p.MinFieldSize):
		return fmt.Errorf("%w: invalid field sizing", ErrInvalidParameter)
	}
	return nil
}

// ExaggerationAt returns the exaggeration applied at iteration i.
func (p Params) ExaggerationAt(i int) float64 {
	const baseline = 1.0

	switch {
	case i <= p.ExaggerationIter:
		return p.ExaggerationFactor
	case i <= p.ExaggerationIter+p.ExaggerationDecay:
		decay := 1 - float64(i-p.ExaggerationIter)/float64(p.ExaggerationDecay)
		return baseline + (p.ExaggerationFactor-baseline)*decay
	default:
		return baseline
	}
}

// MomentumAt returns the momentum applied at iteration i.
func (p Params) MomentumAt(i int) float64 {
	if i < p.MomentumSwitchIter {
		return p.MomentumInitial
	}
	return p.MomentumFinal
}

// SnapshotDue reports whether a snapshot follows once completed iterations
// have been run.
func (p Params) SnapshotDue(completed int) bool {
	return p.SnapshotInterval > 0 && completed > 0 && completed%p.SnapshotInterval == 0
}
