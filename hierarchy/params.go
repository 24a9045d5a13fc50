package hierarchy

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/resource"
)

var (
	// ErrInvalidParameter is returned for out-of-range parameters.
	ErrInvalidParameter = errors.New("hierarchy: invalid parameter")
	// ErrInvalidScale is returned for a scale index outside the hierarchy.
	ErrInvalidScale = errors.New("hierarchy: invalid scale")
	// ErrInvalidLandmark is returned for a landmark index outside its scale.
	ErrInvalidLandmark = errors.New("hierarchy: invalid landmark")
)

// Params are the hierarchy construction parameters. They are copied when a
// build starts.
type Params struct {
	// NumScales is the requested number of scales, including scale 0.
	NumScales int

	// Seed drives every random walk; negative means time-based.
	Seed int64

	// MonteCarloSampling selects landmarks by random-walk endpoint counts.
	// When false the stationary distribution of the transition matrix is
	// computed by power iteration instead.
	MonteCarloSampling bool

	NumWalksForLandmarkSelection int
	// LandmarkThreshold is the multiple of the mean hit count a point needs
	// to become a landmark.
	LandmarkThreshold float64
	RandomWalkLength  int

	NumWalksForAreaOfInfluence int
	// MinWalksRequired is the number of walks a landmark must receive from a
	// finer point before that point links it to other landmarks.
	MinWalksRequired int

	// NumNeighbors is the kNN size of scale 0; perplexity is a third of it.
	NumNeighbors int

	// OutOfCore streams the area-of-influence pass in bounded batches.
	OutOfCore bool

	// Concurrency bounds the walker goroutines. Zero means GOMAXPROCS.
	Concurrency int

	Knn knn.Options
}

// DefaultParams returns the default construction parameters.
func DefaultParams() Params {
	return Params{
		NumScales:                    3,
		Seed:                         -1,
		MonteCarloSampling:           true,
		NumWalksForLandmarkSelection: 15,
		LandmarkThreshold:            1.5,
		RandomWalkLength:             15,
		NumWalksForAreaOfInfluence:   100,
		MinWalksRequired:             0,
		NumNeighbors:                 90,
		OutOfCore:                    true,
		Knn:                          knn.DefaultOptions(),
	}
}

// Perplexity returns the perplexity used to calibrate scale 0.
func (p Params) Perplexity() float64 {
	return float64(p.NumNeighbors) / 3
}

// Validate checks the parameters for consistency.
func (p Params) Validate() error {
	switch {
	case p.NumScales < 1:
		return fmt.Errorf("%w: need at least one scale, got %d", ErrInvalidParameter, p.NumScales)
	case p.NumWalksForLandmarkSelection < 1:
		return fmt.Errorf("%w: landmark selection walks must be positive", ErrInvalidParameter)
	case p.LandmarkThreshold <= 0:
		return fmt.Errorf("%w: landmark threshold must be positive, got %g", ErrInvalidParameter, p.LandmarkThreshold)
	case p.RandomWalkLength < 1:
		return fmt.Errorf("%w: walk length must be positive", ErrInvalidParameter)
	case p.NumWalksForAreaOfInfluence < 1:
		return fmt.Errorf("%w: area of influence walks must be positive", ErrInvalidParameter)
	case p.MinWalksRequired < 0:
		return fmt.Errorf("%w: min walks must not be negative", ErrInvalidParameter)
	case p.NumNeighbors < 3:
		return fmt.Errorf("%w: need at least 3 neighbours, got %d", ErrInvalidParameter, p.NumNeighbors)
	}
	return p.Knn.Validate()
}

type options struct {
	subset   []uint32
	mask     *bitset.BitSet
	logger   *slog.Logger
	resource *resource.Controller
	progress func(scale int, s *Scale)
}

// Option configures a build.
type Option func(*options)

// WithSubset restricts scale 0 to the given original point indices.
func WithSubset(indices []uint32) Option {
	return func(o *options) { o.subset = indices }
}

// WithDimensionMask restricts neighbour search to the dimensions set in mask.
func WithDimensionMask(mask *bitset.BitSet) Option {
	return func(o *options) { o.mask = mask }
}

// WithResources reserves each scale's working memory from c.
func WithResources(c *resource.Controller) Option {
	return func(o *options) { o.resource = c }
}

// WithLogger sets the build logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgress registers a callback invoked after each scale is built.
func WithProgress(fn func(scale int, s *Scale)) Option {
	return func(o *options) { o.progress = fn }
}
