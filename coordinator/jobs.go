package coordinator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/sparse"
	"github.com/hupe1980/hsne/tsne"
)

// ErrInvalidJob is returned when a job is incomplete.
var ErrInvalidJob = errors.New("coordinator: invalid job")

// Job is a unit of background work: an *EmbeddingJob or a *HierarchyJob.
type Job interface {
	validate() error
	kind() string
}

// Publication mirrors snapshots into a host dataset derived from Parent.
type Publication struct {
	Host   host.Datasets
	Name   string
	Parent host.DatasetID
}

// EmbeddingJob runs gradient descent over an affinity or transition matrix.
type EmbeddingJob struct {
	// Exactly one of Affinity (symmetric) and Transition (row-stochastic)
	// is set.
	Affinity   *sparse.Matrix
	Transition *sparse.Matrix

	Params     tsne.Params
	Iterations int

	// Initial optionally seeds the positions.
	Initial []float32
	// PCAData feeds tsne.InitPCA.
	PCAData []float32
	PCADim  int

	Publish *Publication
}

func (j *EmbeddingJob) kind() string { return "embedding" }

func (j *EmbeddingJob) validate() error {
	switch {
	case (j.Affinity == nil) == (j.Transition == nil):
		return fmt.Errorf("%w: set exactly one of affinity and transition", ErrInvalidJob)
	case j.Iterations < 0:
		return fmt.Errorf("%w: negative iteration count", ErrInvalidJob)
	}
	return j.Params.Validate()
}

// HierarchyJob builds a landmark hierarchy.
type HierarchyJob struct {
	Points  []float32
	Dim     int
	Params  hierarchy.Params
	Options []hierarchy.Option
}

func (j *HierarchyJob) kind() string { return "hierarchy" }

func (j *HierarchyJob) validate() error {
	if j.Dim <= 0 || len(j.Points) == 0 {
		return fmt.Errorf("%w: no points", ErrInvalidJob)
	}
	return j.Params.Validate()
}
