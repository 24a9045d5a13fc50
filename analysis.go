package hsne

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/hsne/cache"
	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/refine"
	"github.com/hupe1980/hsne/tsne"
)

// Embedding is the outcome of an embedding run over the landmarks of one
// scale.
type Embedding struct {
	Scale int
	Dims  int
	// Points holds Dims coordinates per row, row-major.
	Points []float32
	// Landmarks maps each row to its landmark index at Scale.
	Landmarks []uint32
	// Original maps each row to the data point the landmark stands for.
	Original []uint32
	// Weights is the representation mass of each row's landmark.
	Weights []float32
	// Iteration is the last completed iteration, -1 when none completed.
	Iteration int
	// Dataset is the host dataset the embedding was published to, if any.
	Dataset host.DatasetID
}

// Len returns the number of rows.
func (e *Embedding) Len() int { return len(e.Landmarks) }

// Row returns the coordinates of row i.
func (e *Embedding) Row(i int) []float32 {
	return e.Points[i*e.Dims : (i+1)*e.Dims]
}

// Analysis drives one dataset through hierarchy construction, embedding of
// the top scale and refinement of selections.
type Analysis struct {
	name   string
	points []float32
	dim    int

	opts   options
	logger *Logger
	cache  *cache.Cache
	coord  *coordinator.Coordinator

	closed atomic.Bool

	// mu serialises operations that start background runs.
	mu      sync.Mutex
	h       *hierarchy.Hierarchy
	current *Embedding
}

// New creates an analysis of points (N×dim, row-major). name identifies the
// dataset in the cache and in published dataset names.
func New(name string, points []float32, dim int, optFns ...Option) (*Analysis, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidParameter, dim)
	}
	if len(points) == 0 || len(points)%dim != 0 {
		return nil, &ErrDimensionMismatch{Dimension: dim, Values: len(points)}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidParameter)
	}

	o := applyOptions(optFns)
	if err := o.hierarchy.Validate(); err != nil {
		return nil, translateError(err)
	}
	if err := o.embedding.Validate(); err != nil {
		return nil, translateError(err)
	}
	if o.iterations < 0 {
		return nil, fmt.Errorf("%w: negative iteration count", ErrInvalidParameter)
	}

	a := &Analysis{
		name:   name,
		points: points,
		dim:    dim,
		opts:   o,
		logger: o.logger.WithDataset(name),
	}

	if o.store != nil {
		cacheOpts := append([]cache.Option{
			cache.WithLogger(a.logger.Logger),
			cache.WithResources(o.resources),
		}, o.cacheOptions...)
		a.cache = cache.New(o.store, cacheOpts...)
	}

	a.coord = coordinator.New(
		coordinator.WithLogger(a.logger.Logger),
		coordinator.WithListener(a.onEvent),
		coordinator.WithGracePeriod(o.gracePeriod),
		coordinator.WithResources(o.resources),
	)
	return a, nil
}

func (a *Analysis) onEvent(ev coordinator.Event) {
	switch ev.Type {
	case coordinator.EventSnapshot:
		a.opts.metricsCollector.RecordSnapshot(ev.Iteration)
	case coordinator.EventScaleBuilt:
		a.opts.metricsCollector.RecordScale(ev.Scale, ev.Landmarks)
	}
	if a.opts.listener != nil {
		a.opts.listener(ev)
	}
}

// NumPoints returns the number of data points.
func (a *Analysis) NumPoints() int { return len(a.points) / a.dim }

// BuildHierarchy builds the hierarchy, or loads it from the cache when one
// is configured and holds a matching entry. It returns the existing
// hierarchy when called again.
func (a *Analysis) BuildHierarchy(ctx context.Context) (*hierarchy.Hierarchy, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.hierarchyLocked(ctx)
}

func (a *Analysis) hierarchyLocked(ctx context.Context) (*hierarchy.Hierarchy, error) {
	if a.h != nil {
		return a.h, nil
	}

	start := time.Now()

	var (
		h         *hierarchy.Hierarchy
		fromCache bool
		err       error
	)
	if a.cache != nil {
		h, fromCache, err = a.cache.LoadOrBuild(ctx, a.name, a.points, a.dim, a.opts.hierarchy,
			hierarchy.WithLogger(a.logger.Logger))
	} else {
		h, err = a.buildInBackground(ctx)
	}

	scales := 0
	if h != nil {
		scales = h.NumScales()
	}
	a.opts.metricsCollector.RecordHierarchy(scales, fromCache, time.Since(start), err)
	a.logger.LogHierarchy(ctx, scales, fromCache, time.Since(start), err)

	if err != nil {
		return nil, translateError(err)
	}
	a.h = h
	return h, nil
}

func (a *Analysis) buildInBackground(ctx context.Context) (*hierarchy.Hierarchy, error) {
	job := &coordinator.HierarchyJob{
		Points: a.points,
		Dim:    a.dim,
		Params: a.opts.hierarchy,
	}
	if err := a.coord.Start(ctx, job); err != nil {
		return nil, err
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	h, err := a.coord.Hierarchy()
	if errors.Is(err, coordinator.ErrNothingToContinue) {
		return nil, fmt.Errorf("%w: build was stopped", ErrNoHierarchy)
	}
	return h, err
}

// Hierarchy returns the built hierarchy.
func (a *Analysis) Hierarchy() (*hierarchy.Hierarchy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.h == nil {
		return nil, ErrNoHierarchy
	}
	return a.h, nil
}

// EmbedTop embeds the landmarks of the coarsest scale, building the
// hierarchy first if necessary. It blocks until the run finishes or is
// stopped; a stopped run returns its partial embedding.
func (a *Analysis) EmbedTop(ctx context.Context) (*Embedding, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := a.hierarchyLocked(ctx)
	if err != nil {
		return nil, err
	}

	scale := h.NumScales() - 1
	top := h.Top()

	job := &coordinator.EmbeddingJob{
		Transition: top.Transition,
		Params:     a.opts.embedding,
		Iterations: a.opts.iterations,
	}
	if a.opts.embedding.Init == tsne.InitPCA {
		job.PCAData = a.rows(top.LandmarkToOriginal)
		job.PCADim = a.dim
	}
	if a.opts.host != nil {
		job.Publish = &coordinator.Publication{
			Host:   a.opts.host,
			Name:   fmt.Sprintf("%s scale %d", a.name, scale),
			Parent: a.opts.source,
		}
	}

	landmarks := make([]uint32, top.Size())
	for i := range landmarks {
		landmarks[i] = uint32(i)
	}
	tmpl := &Embedding{
		Scale:     scale,
		Dims:      a.opts.embedding.Dimensions,
		Landmarks: landmarks,
		Original:  slices.Clone(top.LandmarkToOriginal),
		Weights:   slices.Clone(top.Weights),
	}

	return a.embedLocked(ctx, 0, func() (*Embedding, error) {
		return tmpl, a.coord.Start(ctx, job)
	})
}

// embedLocked runs launch, waits for the run it started and collects the
// embedding. from is the iteration count the run resumes at.
func (a *Analysis) embedLocked(ctx context.Context, from int, launch func() (*Embedding, error)) (*Embedding, error) {
	start := time.Now()

	tmpl, err := launch()
	if err != nil {
		return nil, translateError(err)
	}

	err = a.wait(ctx)
	var e *Embedding
	if err == nil {
		e, err = a.collect(tmpl)
	}

	p := a.coord.Progress()
	a.opts.metricsCollector.RecordEmbedding(tmpl.Len(), p.Iteration-from, time.Since(start), err)
	a.logger.LogEmbedding(ctx, tmpl.Scale, tmpl.Len(), p.Iteration-1, time.Since(start), err)

	if err != nil {
		return nil, translateError(err)
	}
	a.current = e
	return e, nil
}

func (a *Analysis) collect(tmpl *Embedding) (*Embedding, error) {
	points, err := a.coord.Embedding()
	if err != nil {
		return nil, err
	}
	p := a.coord.Progress()

	e := *tmpl
	e.Points = points
	e.Iteration = p.Iteration - 1
	e.Dataset = p.Dataset
	return &e, nil
}

// Continue resumes the most recent embedding for n more iterations.
func (a *Analysis) Continue(ctx context.Context, n int) (*Embedding, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil, fmt.Errorf("%w: no embedding to continue", ErrInvalidParameter)
	}
	tmpl := a.current
	return a.embedLocked(ctx, a.coord.Progress().Iteration, func() (*Embedding, error) {
		return tmpl, a.coord.Continue(ctx, n)
	})
}

// Refine embeds the landmarks of the scale below from that the rows
// selected in from influence. When selected is nil the selection is read
// from the host dataset from was published to.
func (a *Analysis) Refine(ctx context.Context, from *Embedding, selected []uint32) (*Embedding, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.h == nil {
		return nil, ErrNoHierarchy
	}
	if from == nil {
		return nil, fmt.Errorf("%w: no embedding to refine", ErrInvalidParameter)
	}
	if from.Scale < 1 || from.Scale >= a.h.NumScales() {
		return nil, &ErrInvalidScale{Scale: from.Scale, NumScales: a.h.NumScales(), cause: hierarchy.ErrInvalidScale}
	}

	if selected == nil && a.opts.host != nil && from.Dataset != "" {
		rows, err := a.opts.host.Selection(from.Dataset)
		if err != nil {
			return nil, err
		}
		selected = rows
	}

	landmarks := make([]uint32, 0, len(selected))
	for _, row := range selected {
		if int(row) >= from.Len() {
			return nil, fmt.Errorf("%w: row %d of %d", ErrInvalidParameter, row, from.Len())
		}
		landmarks = append(landmarks, from.Landmarks[row])
	}

	req := refine.Request{
		Hierarchy:  a.h,
		Scale:      from.Scale,
		Selected:   landmarks,
		Params:     a.opts.embedding,
		Iterations: a.opts.iterations,
	}
	if a.opts.host != nil {
		req.Host = a.opts.host
		req.Source = from.Dataset
		if req.Source == "" {
			req.Source = a.opts.source
		}
		req.Name = fmt.Sprintf("%s scale %d refinement", a.name, from.Scale-1)
	}

	return a.embedLocked(ctx, 0, func() (*Embedding, error) {
		res, err := refine.Drill(ctx, a.coord, req, a.opts.refine...)

		members := 0
		if res != nil {
			members = len(res.Members)
		}
		a.opts.metricsCollector.RecordRefinement(members, err)
		a.logger.LogRefinement(ctx, from.Scale, len(landmarks), members, err)
		if err != nil {
			return nil, err
		}

		scale := a.h.Scales[res.Scale]
		tmpl := &Embedding{
			Scale:     res.Scale,
			Dims:      a.opts.embedding.Dimensions,
			Landmarks: res.Members,
			Original:  make([]uint32, len(res.Members)),
			Weights:   make([]float32, len(res.Members)),
		}
		for i, m := range res.Members {
			tmpl.Original[i] = res.Original[i]
			tmpl.Weights[i] = scale.Weights[m]
		}
		return tmpl, nil
	})
}

// PublishWeights publishes the landmark weights of e as a one-column host
// dataset derived from e's dataset.
func (a *Analysis) PublishWeights(e *Embedding) (host.DatasetID, error) {
	if a.opts.host == nil {
		return "", fmt.Errorf("%w: no host configured", ErrInvalidParameter)
	}
	parent := e.Dataset
	if parent == "" {
		parent = a.opts.source
	}

	id, err := a.opts.host.CreateDerivedDataset(fmt.Sprintf("%s scale %d weights", a.name, e.Scale), parent)
	if err != nil {
		return "", err
	}
	if err := a.opts.host.SetData(id, e.Weights, len(e.Weights), 1); err != nil {
		return "", err
	}
	return id, a.opts.host.NotifyDataChanged(id)
}

// Stop asks the active background run to end at its next iteration.
func (a *Analysis) Stop() {
	a.coord.Stop()
}

// Progress reports on the active or most recent background run.
func (a *Analysis) Progress() coordinator.Progress {
	return a.coord.Progress()
}

// Close stops the active run. The analysis cannot be used afterwards.
func (a *Analysis) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.coord.Close()
}

// wait blocks until the current run ends. When ctx ends first the run is
// stopped.
func (a *Analysis) wait(ctx context.Context) error {
	err := a.coord.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		a.coord.Stop()
		grace, cancel := context.WithTimeout(context.Background(), a.opts.gracePeriod)
		defer cancel()
		_ = a.coord.Wait(grace)
	}
	return err
}

func (a *Analysis) rows(indices []uint32) []float32 {
	out := make([]float32, 0, len(indices)*a.dim)
	for _, i := range indices {
		out = append(out, a.points[int(i)*a.dim:(int(i)+1)*a.dim]...)
	}
	return out
}
