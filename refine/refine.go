package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/sparse"
	"github.com/hupe1980/hsne/tsne"
)

// DefaultThreshold is the share of a landmark's influence mass the
// selection must exceed.
const DefaultThreshold = 0.5

var (
	// ErrEmptySelection is returned when no landmarks are selected.
	ErrEmptySelection = errors.New("refine: empty selection")
	// ErrNothingInfluenced is returned when no landmark passes the threshold.
	ErrNothingInfluenced = errors.New("refine: no landmark above threshold")
	// ErrInvalidThreshold is returned for thresholds outside [0, 1).
	ErrInvalidThreshold = errors.New("refine: invalid threshold")
)

type options struct {
	threshold         float64
	neighborThreshold float32
	logger            *slog.Logger
}

// Option configures a refinement.
type Option func(*options)

// WithThreshold sets the influence share a landmark must exceed.
func WithThreshold(t float64) Option {
	return func(o *options) { o.threshold = t }
}

// WithNeighborThreshold also keeps landmarks reached from a kept one by a
// transition weight above t. The default of 1 keeps none.
func WithNeighborThreshold(t float32) Option {
	return func(o *options) { o.neighborThreshold = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(optFns []Option) (options, error) {
	o := options{threshold: DefaultThreshold, neighborThreshold: 1}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.threshold < 0 || o.threshold >= 1 {
		return o, fmt.Errorf("%w: %g", ErrInvalidThreshold, o.threshold)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o, nil
}

// Result describes the landmarks of a refinement at Scale.
type Result struct {
	// Scale is the scale the members belong to, one below the selection.
	Scale int
	// Landmarks are the landmarks whose influence mass exceeds the threshold.
	Landmarks []uint32
	// Neighbors are one-hop neighbours added by the neighbour threshold.
	Neighbors []uint32
	// Members is the sorted union of Landmarks and Neighbors; member k is
	// row k of Transition.
	Members []uint32
	// Mass is the influence share held by the selection, per member.
	Mass []float32
	// Transition is the row-normalised transition matrix induced on Members.
	// Rows of members without an edge inside the set are empty.
	Transition *sparse.Matrix
	// Original maps each member to its original data index.
	Original []uint32
	// Points holds the original data points represented by Members.
	Points *roaring.Bitmap
}

// Refine computes the refinement of selected landmarks at scale.
func Refine(h *hierarchy.Hierarchy, scale int, selected []uint32, optFns ...Option) (*Result, error) {
	o, err := newOptions(optFns)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}

	influenced, err := h.InfluencedLandmarksInPreviousScale(scale, selected)
	if err != nil {
		return nil, err
	}

	mass := make(map[uint32]float32, len(influenced))
	var landmarks []uint32
	for _, e := range influenced {
		mass[e.Col] = e.Weight
		if float64(e.Weight) > o.threshold {
			landmarks = append(landmarks, e.Col)
		}
	}
	if len(landmarks) == 0 {
		return nil, fmt.Errorf("%w: %d candidates at scale %d", ErrNothingInfluenced, len(influenced), scale-1)
	}

	lower := h.Scales[scale-1]
	neighbors := oneHop(lower.Transition, landmarks, o.neighborThreshold)

	members := make([]uint32, 0, len(landmarks)+len(neighbors))
	members = append(members, landmarks...)
	members = append(members, neighbors...)
	slices.Sort(members)

	t, err := lower.Transition.Induced(members)
	if err != nil {
		return nil, err
	}
	t.NormalizeRows()

	points, err := h.SelectionToOriginal(scale-1, members)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Scale:      scale - 1,
		Landmarks:  landmarks,
		Neighbors:  neighbors,
		Members:    members,
		Mass:       make([]float32, len(members)),
		Transition: t,
		Original:   make([]uint32, len(members)),
		Points:     points,
	}
	for k, m := range members {
		res.Mass[k] = mass[m]
		res.Original[k] = lower.LandmarkToOriginal[m]
	}

	o.logger.Debug("refined selection",
		"scale", scale,
		"selected", len(selected),
		"landmarks", len(landmarks),
		"neighbors", len(neighbors),
		"points", points.GetCardinality(),
	)

	return res, nil
}

// oneHop returns the landmarks outside kept reached from kept by an edge
// heavier than threshold, sorted.
func oneHop(t *sparse.Matrix, kept []uint32, threshold float32) []uint32 {
	if threshold >= 1 {
		return nil
	}
	in := roaring.BitmapOf(kept...)
	extra := roaring.New()
	for _, l := range kept {
		for _, e := range t.Row(int(l)) {
			if e.Weight > threshold && !in.Contains(e.Col) {
				extra.Add(e.Col)
			}
		}
	}
	return extra.ToArray()
}

// Request describes a drill-down run.
type Request struct {
	Hierarchy *hierarchy.Hierarchy
	Scale     int
	// Selected lists landmarks at Scale. When nil, the selection of Source
	// is read from Host.
	Selected []uint32

	Params     tsne.Params
	Iterations int

	// Host and Source, when set, receive the child embedding as a dataset
	// named Name derived from Source.
	Host   host.Datasets
	Source host.DatasetID
	Name   string
}

// Drill refines the request's selection and starts an embedding of the
// result on c. The returned result maps the child's rows to original data.
func Drill(ctx context.Context, c *coordinator.Coordinator, req Request, optFns ...Option) (*Result, error) {
	selected := req.Selected
	if selected == nil && req.Host != nil {
		sel, err := req.Host.Selection(req.Source)
		if err != nil {
			return nil, fmt.Errorf("refine: read selection: %w", err)
		}
		selected = sel
	}

	res, err := Refine(req.Hierarchy, req.Scale, selected, optFns...)
	if err != nil {
		return nil, err
	}

	job := &coordinator.EmbeddingJob{
		Transition: res.Transition,
		Params:     req.Params,
		Iterations: req.Iterations,
	}
	if req.Host != nil {
		name := req.Name
		if name == "" {
			name = fmt.Sprintf("scale %d refinement", res.Scale)
		}
		job.Publish = &coordinator.Publication{Host: req.Host, Name: name, Parent: req.Source}
	}

	if err := c.Start(ctx, job); err != nil {
		return nil, err
	}
	return res, nil
}
