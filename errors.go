package hsne

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/refine"
	"github.com/hupe1980/hsne/similarity"
	"github.com/hupe1980/hsne/tsne"
)

var (
	// ErrInvalidParameter is returned for rejected configuration values.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNoHierarchy is returned when an operation needs a built hierarchy.
	ErrNoHierarchy = errors.New("hierarchy not built")
	// ErrEmptySelection is returned when a refinement selects nothing.
	ErrEmptySelection = errors.New("empty selection")
	// ErrBusy is returned when a background run is still in progress.
	ErrBusy = errors.New("computation in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("analysis closed")
)

// ErrDimensionMismatch indicates that a point buffer does not divide into
// rows of the configured dimension.
type ErrDimensionMismatch struct {
	Dimension int
	Values    int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: %d values do not form rows of %d", e.Values, e.Dimension)
}

// ErrInvalidScale indicates a scale outside the built hierarchy.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidScale struct {
	Scale     int
	NumScales int
	cause     error
}

func (e *ErrInvalidScale) Error() string {
	return fmt.Sprintf("invalid scale %d of %d", e.Scale, e.NumScales)
}

func (e *ErrInvalidScale) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Argument validation.
	switch {
	case errors.Is(err, hierarchy.ErrInvalidParameter),
		errors.Is(err, similarity.ErrInvalidParameter),
		errors.Is(err, tsne.ErrInvalidParameter),
		errors.Is(err, refine.ErrInvalidThreshold),
		errors.Is(err, knn.ErrTooFewPoints),
		errors.Is(err, knn.ErrUnsupportedMetric),
		errors.Is(err, knn.ErrUnknownAlgorithm),
		errors.Is(err, coordinator.ErrInvalidJob):
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	// Selection problems.
	if errors.Is(err, refine.ErrEmptySelection) || errors.Is(err, refine.ErrNothingInfluenced) {
		return fmt.Errorf("%w: %w", ErrEmptySelection, err)
	}

	// Lifecycle.
	if errors.Is(err, coordinator.ErrRunning) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	if errors.Is(err, coordinator.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
