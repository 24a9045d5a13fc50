package similarity

import (
	"fmt"
	"log/slog"
)

// Options configures the similarity estimator.
type Options struct {
	// Perplexity is the effective number of neighbours per point.
	Perplexity float64

	// NeighborMultiplier sets k = NeighborMultiplier × Perplexity neighbours
	// per point in Estimate.
	NeighborMultiplier float64

	// MinMultiplier and MaxMultiplier bound the entry count of every
	// symmetrized row to [MinMultiplier, MaxMultiplier] × Perplexity.
	MinMultiplier float64
	MaxMultiplier float64

	// RowSum is the constant every symmetrized row is balanced to.
	RowSum float64

	// Tolerance is the entropy tolerance of the bandwidth search and the
	// row-sum tolerance of the balancing step.
	Tolerance float64

	// MaxSearchSteps caps the per-point bandwidth search.
	MaxSearchSteps int

	// MaxBalanceIterations caps the row balancing step.
	MaxBalanceIterations int

	// Concurrency bounds the goroutines used for calibration.
	// Zero means runtime.GOMAXPROCS(0).
	Concurrency int

	Logger *slog.Logger
}

// DefaultOptions returns the default estimator configuration.
func DefaultOptions() Options {
	return Options{
		Perplexity:           30,
		NeighborMultiplier:   3,
		MinMultiplier:        2,
		MaxMultiplier:        6,
		RowSum:               2,
		Tolerance:            1e-5,
		MaxSearchSteps:       200,
		MaxBalanceIterations: 5000,
	}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	switch {
	case o.Perplexity <= 0:
		return fmt.Errorf("%w: perplexity must be positive, got %g", ErrInvalidParameter, o.Perplexity)
	case o.NeighborMultiplier <= 0:
		return fmt.Errorf("%w: neighbour multiplier must be positive, got %g", ErrInvalidParameter, o.NeighborMultiplier)
	case o.MinMultiplier < 0 || o.MaxMultiplier < o.MinMultiplier:
		return fmt.Errorf("%w: invalid degree bounds [%g, %g]", ErrInvalidParameter, o.MinMultiplier, o.MaxMultiplier)
	case o.RowSum <= 0:
		return fmt.Errorf("%w: row sum must be positive, got %g", ErrInvalidParameter, o.RowSum)
	case o.Tolerance <= 0:
		return fmt.Errorf("%w: tolerance must be positive, got %g", ErrInvalidParameter, o.Tolerance)
	case o.MaxSearchSteps < 1 || o.MaxBalanceIterations < 1:
		return fmt.Errorf("%w: iteration caps must be positive", ErrInvalidParameter)
	}
	return nil
}

// NumNeighbors returns the neighbour count used by Estimate.
func (o Options) NumNeighbors() int {
	return max(1, int(o.NeighborMultiplier*o.Perplexity))
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}
