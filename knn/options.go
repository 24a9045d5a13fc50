package knn

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/hsne/distance"
)

// Algorithm selects the neighbour search backend.
type Algorithm int

const (
	AlgorithmHNSW Algorithm = iota
	AlgorithmBallTree
	AlgorithmExact
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmHNSW:
		return "HNSW"
	case AlgorithmBallTree:
		return "BallTree"
	case AlgorithmExact:
		return "Exact"
	default:
		return fmt.Sprintf("Unknown(%d)", int(a))
	}
}

// ParseAlgorithm resolves an algorithm from its name (case-insensitive).
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "hnsw":
		return AlgorithmHNSW, nil
	case "balltree", "ball-tree", "tree":
		return AlgorithmBallTree, nil
	case "exact", "brute", "bruteforce":
		return AlgorithmExact, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// Options configures neighbour search.
type Options struct {
	Algorithm Algorithm
	Metric    distance.Metric

	// LeafSize is the maximum number of points per ball-tree leaf.
	LeafSize int

	// M, EFConstruction and EFSearch tune the HNSW graph.
	M              int
	EFConstruction int
	EFSearch       int

	// Seed makes HNSW level assignment reproducible.
	Seed uint64

	// Concurrency bounds the number of goroutines used by Compute.
	// Zero means runtime.GOMAXPROCS(0).
	Concurrency int

	Logger *slog.Logger
}

// DefaultOptions returns the default neighbour search configuration.
func DefaultOptions() Options {
	return Options{
		Algorithm:      AlgorithmHNSW,
		Metric:         distance.MetricL2,
		LeafSize:       32,
		M:              16,
		EFConstruction: 200,
		EFSearch:       200,
		Seed:           1,
	}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if _, err := distance.Provider(o.Metric); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedMetric, o.Metric)
	}
	switch o.Algorithm {
	case AlgorithmExact:
	case AlgorithmBallTree:
		if !o.Metric.IsMetricSpace() {
			return fmt.Errorf("%w: ball tree requires a metric space, got %v", ErrUnsupportedMetric, o.Metric)
		}
		if o.LeafSize < 1 {
			return fmt.Errorf("knn: leaf size must be positive, got %d", o.LeafSize)
		}
	case AlgorithmHNSW:
		if o.M < 2 || o.EFConstruction < 1 || o.EFSearch < 1 {
			return fmt.Errorf("knn: invalid hnsw tuning m=%d efConstruction=%d efSearch=%d", o.M, o.EFConstruction, o.EFSearch)
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnknownAlgorithm, o.Algorithm)
	}
	return nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}
