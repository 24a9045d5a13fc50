package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/hsne/hierarchy"
)

// FormatVersion is the fingerprint document version.
const FormatVersion = "1.0"

// Fingerprint identifies the inputs a cached hierarchy was built from.
type Fingerprint struct {
	Version            string `json:"version"`
	Codec              string `json:"codec,omitempty"`
	Name               string `json:"name"`
	NumPoints          int    `json:"num_points"`
	NumDimensions      int    `json:"num_dimensions"`
	NumScales          int    `json:"num_scales"`
	KnnLibrary         string `json:"knn_library"`
	KnnMetric          string `json:"knn_metric"`
	Seed               int64  `json:"seed"`
	MonteCarloSampling bool   `json:"monte_carlo_sampling"`

	// Informational only.
	NumNeighbors      int       `json:"num_neighbors,omitempty"`
	LandmarkThreshold float64   `json:"landmark_threshold,omitempty"`
	RandomWalkLength  int       `json:"random_walk_length,omitempty"`
	BuiltScales       int       `json:"built_scales,omitempty"`
	Compression       string    `json:"compression,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewFingerprint describes a build of numPoints × dim points with params.
func NewFingerprint(name string, numPoints, dim int, params hierarchy.Params) Fingerprint {
	return Fingerprint{
		Version:            FormatVersion,
		Name:               name,
		NumPoints:          numPoints,
		NumDimensions:      dim,
		NumScales:          params.NumScales,
		KnnLibrary:         params.Knn.Algorithm.String(),
		KnnMetric:          params.Knn.Metric.String(),
		Seed:               params.Seed,
		MonteCarloSampling: params.MonteCarloSampling,
		NumNeighbors:       params.NumNeighbors,
		LandmarkThreshold:  params.LandmarkThreshold,
		RandomWalkLength:   params.RandomWalkLength,
	}
}

// Compare returns ErrCacheMismatch naming every compared field that differs.
func (f Fingerprint) Compare(want Fingerprint) error {
	var diffs []string
	check := func(field string, got, want any) {
		if got != want {
			diffs = append(diffs, fmt.Sprintf("%s %v != %v", field, got, want))
		}
	}

	check("version", f.Version, want.Version)
	check("name", f.Name, want.Name)
	check("points", f.NumPoints, want.NumPoints)
	check("dimensions", f.NumDimensions, want.NumDimensions)
	check("scales", f.NumScales, want.NumScales)
	check("knn library", f.KnnLibrary, want.KnnLibrary)
	check("knn metric", f.KnnMetric, want.KnnMetric)
	check("seed", f.Seed, want.Seed)
	check("monte carlo", f.MonteCarloSampling, want.MonteCarloSampling)

	if len(diffs) > 0 {
		return fmt.Errorf("%w: %s", ErrCacheMismatch, strings.Join(diffs, ", "))
	}
	return nil
}
