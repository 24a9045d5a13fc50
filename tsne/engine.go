package tsne

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/hsne/internal/compute"
	"github.com/hupe1980/hsne/sparse"
)

// State is the lifecycle state of an engine.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateIterating
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateIterating:
		return "iterating"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Bounds is the axis-aligned extent of an embedding.
type Bounds struct {
	Min []float32
	Max []float32
}

// Extent returns the largest side length.
func (b Bounds) Extent() float32 {
	var e float32
	for d := range b.Min {
		e = max(e, b.Max[d]-b.Min[d])
	}
	return e
}

// GradientEngine is the iterative embedding optimiser. An engine is owned
// by a single goroutine at a time and is not safe for concurrent use.
type GradientEngine interface {
	// InitializeAffinity prepares a run over a symmetric affinity matrix.
	InitializeAffinity(p *sparse.Matrix) error
	// InitializeTransition symmetrizes a transition matrix as (T+Tᵀ)/2 and
	// prepares a run over it.
	InitializeTransition(t *sparse.Matrix) error
	// Iterate performs one gradient-descent step.
	Iterate(ctx context.Context) error
	// Bind hands the engine a compute lease; kernels run through it.
	Bind(lease *compute.Lease)

	Bounds() Bounds
	// Embedding returns a copy of the current positions.
	Embedding() []float32
	NumPoints() int
	Dimensions() int
	// Iteration returns the number of completed iterations, which is also
	// the index of the next iteration.
	Iteration() int
	// SetCurrentIteration moves the iteration counter, placing the next
	// iteration at index n on the exaggeration and momentum schedules.
	SetCurrentIteration(n int) error
	// Exaggeration returns the factor applied by the most recent iteration.
	Exaggeration() float64

	// Finish recentres the embedding, marks the run finished and returns
	// the final positions.
	Finish() []float32
	Abort()
	// Resume re-opens a finished or aborted run for further iterations.
	Resume() error
	State() State

	// Checkpoint captures everything needed to continue the run elsewhere.
	Checkpoint() (*Checkpoint, error)
	Restore(cp *Checkpoint) error
	KLDivergence(ctx context.Context) (float64, error)

	Params() Params
	// SkippedUpdates counts point updates dropped for non-finite gradients.
	SkippedUpdates() int64
}

// repulsion computes, for every point i, rep_i = Σ_j w_ij² (y_i − y_j) with
// w_ij = 1/(1+|y_i−y_j|²), and returns Z = Σ_i Σ_{j≠i} w_ij.
type repulsion interface {
	compute(ctx context.Context, lease *compute.Lease, y []float32, n, dims int, rep []float64) (float64, error)
}

type options struct {
	lease   *compute.Lease
	logger  *slog.Logger
	initial []float32
	pcaData []float32
	pcaDim  int
}

// Option configures an engine.
type Option func(*options)

// WithLease runs kernels through the given compute lease.
func WithLease(l *compute.Lease) Option {
	return func(o *options) { o.lease = l }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithInitialEmbedding seeds the run with caller-supplied positions.
func WithInitialEmbedding(y []float32) Option {
	return func(o *options) { o.initial = slices.Clone(y) }
}

// WithPCAData provides the high-dimensional rows used by InitPCA.
func WithPCAData(points []float32, dim int) Option {
	return func(o *options) {
		o.pcaData = points
		o.pcaDim = dim
	}
}

// New creates an engine with the backend selected by params.Backend.
func New(params Params, optFns ...Option) (GradientEngine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.lease == nil {
		_, o.lease = compute.NewContext("tsne", compute.WithLogger(o.logger))
	}

	e := &engine{
		params:  params,
		lease:   o.lease,
		logger:  o.logger.With("backend", params.Backend.String()),
		initial: o.initial,
		pcaData: o.pcaData,
		pcaDim:  o.pcaDim,
		dims:    params.Dimensions,
	}

	e.backend = newRepulsion(params)

	return e, nil
}

func newRepulsion(params Params) repulsion {
	if params.Backend == BackendField {
		return &field{pixelRatio: params.PixelRatio, minSize: params.MinFieldSize, maxSize: params.MaxFieldSize}
	}
	return &barnesHut{theta: params.Theta}
}

type engine struct {
	params  Params
	backend repulsion
	lease   *compute.Lease
	logger  *slog.Logger

	initial []float32
	pcaData []float32
	pcaDim  int

	state State
	n     int
	dims  int

	// Joint probabilities in CSR form, Σ p_ij = 1.
	p      *sparse.Matrix
	rowPtr []int
	cols   []uint32
	vals   []float32

	y      []float32
	gains  []float32
	update []float32
	grad   []float64
	rep    []float64

	iteration int
	skipped   atomic.Int64
}

func (e *engine) Params() Params            { return e.params }
func (e *engine) State() State              { return e.state }
func (e *engine) NumPoints() int            { return e.n }
func (e *engine) Dimensions() int           { return e.dims }
func (e *engine) Iteration() int            { return e.iteration }
func (e *engine) SkippedUpdates() int64     { return e.skipped.Load() }
func (e *engine) Bind(lease *compute.Lease) { e.lease = lease }

func (e *engine) Embedding() []float32 { return slices.Clone(e.y) }

func (e *engine) Exaggeration() float64 {
	return e.params.ExaggerationAt(max(e.iteration-1, 0))
}

func (e *engine) InitializeTransition(t *sparse.Matrix) error {
	return e.InitializeAffinity(t.Symmetrize())
}

func (e *engine) InitializeAffinity(p *sparse.Matrix) error {
	if p == nil || p.N() == 0 {
		return ErrEmpty
	}
	total := p.Total()
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return fmt.Errorf("%w: total probability mass is %g", ErrInvalidParameter, total)
	}

	// Without any mass the points only repel each other.
	joint := p.Clone()
	if total > 0 {
		joint.Scale(1 / total)
	}

	if err := e.load(joint); err != nil {
		return err
	}

	y, err := e.initialPositions()
	if err != nil {
		return err
	}
	e.y = y
	e.gains = make([]float32, len(y))
	for i := range e.gains {
		e.gains[i] = 1
	}
	e.update = make([]float32, len(y))
	e.iteration = 0
	e.skipped.Store(0)
	e.state = StateInitialized

	e.logger.Debug("engine initialized", "points", e.n, "dims", e.dims, "nnz", joint.NNZ())

	return nil
}

// load installs a joint probability matrix and sizes the buffers.
func (e *engine) load(joint *sparse.Matrix) error {
	n := joint.N()
	nnz := joint.NNZ()

	e.p = joint
	e.n = n
	e.rowPtr = make([]int, n+1)
	e.cols = make([]uint32, 0, nnz)
	e.vals = make([]float32, 0, nnz)
	for i := 0; i < n; i++ {
		for _, en := range joint.Row(i) {
			if int(en.Col) == i {
				continue
			}
			e.cols = append(e.cols, en.Col)
			e.vals = append(e.vals, en.Weight)
		}
		e.rowPtr[i+1] = len(e.cols)
	}

	e.grad = make([]float64, n*e.dims)
	e.rep = make([]float64, n*e.dims)
	return nil
}

func (e *engine) initialPositions() ([]float32, error) {
	want := e.n * e.dims

	if e.initial != nil {
		if len(e.initial) != want {
			return nil, fmt.Errorf("%w: initial embedding has %d values, want %d", ErrDimensionMismatch, len(e.initial), want)
		}
		return slices.Clone(e.initial), nil
	}

	if e.params.Init == InitPCA {
		if e.pcaData == nil {
			return nil, fmt.Errorf("%w: pca initialization needs source data", ErrInvalidParameter)
		}
		return pcaPositions(e.pcaData, e.pcaDim, e.n, e.dims, e.params.RNGRange)
	}

	return gaussianDisc(e.n, e.dims, e.params.RNGRange, resolveSeed(e.params.Seed)), nil
}

func (e *engine) SetCurrentIteration(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: iteration must not be negative, got %d", ErrInvalidParameter, n)
	}
	if e.state == StateUninitialized {
		return fmt.Errorf("%w: engine is not initialized", ErrInvalidState)
	}
	e.iteration = n
	return nil
}

func (e *engine) Iterate(ctx context.Context) error {
	switch e.state {
	case StateInitialized, StateIterating:
	default:
		return fmt.Errorf("%w: cannot iterate in state %s", ErrInvalidState, e.state)
	}
	e.state = StateIterating

	it := e.iteration
	exag := e.params.ExaggerationAt(it)
	mom := e.params.MomentumAt(it)

	if it == e.params.MomentumSwitchIter {
		e.logger.Debug("switching to final momentum", "iteration", it)
	}
	if it == e.params.ExaggerationIter+1 {
		e.logger.Debug("removing exaggeration", "iteration", it)
	}

	z, err := e.backend.compute(ctx, e.lease, e.y, e.n, e.dims, e.rep)
	if err != nil {
		return err
	}
	if !(z > 0) || math.IsInf(z, 0) {
		z = math.SmallestNonzeroFloat64
	}

	if err := e.gradient(ctx, exag, z); err != nil {
		return err
	}
	if err := e.step(ctx, mom); err != nil {
		return err
	}

	e.iteration++

	if e.params.SnapshotDue(e.iteration) {
		e.recentre()
	}

	return nil
}

// gradient computes 4(exag·attr − rep/Z) for every point. Points with a
// non-finite component get a NaN marker in their first component and are
// skipped by step.
func (e *engine) gradient(ctx context.Context, exag, z float64) error {
	dims := e.dims
	invZ := 1 / z

	return e.lease.Run(ctx, e.n, func(_, lo, hi int) error {
		attr := make([]float64, dims)
		for i := lo; i < hi; i++ {
			yi := e.y[i*dims : (i+1)*dims]
			clear(attr)
			for k := e.rowPtr[i]; k < e.rowPtr[i+1]; k++ {
				j := int(e.cols[k])
				yj := e.y[j*dims : (j+1)*dims]
				var d2 float64
				for d := 0; d < dims; d++ {
					diff := float64(yi[d] - yj[d])
					d2 += diff * diff
				}
				w := float64(e.vals[k]) / (1 + d2)
				for d := 0; d < dims; d++ {
					attr[d] += w * float64(yi[d]-yj[d])
				}
			}

			g := e.grad[i*dims : (i+1)*dims]
			finite := true
			for d := 0; d < dims; d++ {
				g[d] = 4 * (exag*attr[d] - e.rep[i*dims+d]*invZ)
				if math.IsNaN(g[d]) || math.IsInf(g[d], 0) {
					finite = false
				}
			}
			if !finite {
				g[0] = math.NaN()
			}
		}
		return nil
	})
}

// step applies gains, momentum and the learning rate.
func (e *engine) step(ctx context.Context, mom float64) error {
	dims := e.dims
	eta := e.params.LearningRate
	minGain := float32(e.params.MinGain)

	return e.lease.Run(ctx, e.n, func(_, lo, hi int) error {
		for i := lo; i < hi; i++ {
			if math.IsNaN(e.grad[i*dims]) {
				e.skipped.Add(1)
				continue
			}
			for d := 0; d < dims; d++ {
				k := i*dims + d
				g := e.grad[k]
				u := e.update[k]

				if (g > 0) != (u > 0) {
					e.gains[k] += 0.2
				} else {
					e.gains[k] *= 0.8
				}
				if e.gains[k] < minGain {
					e.gains[k] = minGain
				}

				e.update[k] = float32(mom*float64(u) - eta*float64(e.gains[k])*g)
				e.y[k] += e.update[k]
			}
		}
		return nil
	})
}

func (e *engine) recentre() {
	if e.n == 0 {
		return
	}
	mean := make([]float64, e.dims)
	for i := 0; i < e.n; i++ {
		for d := 0; d < e.dims; d++ {
			mean[d] += float64(e.y[i*e.dims+d])
		}
	}
	for d := range mean {
		mean[d] /= float64(e.n)
	}
	for i := 0; i < e.n; i++ {
		for d := 0; d < e.dims; d++ {
			e.y[i*e.dims+d] -= float32(mean[d])
		}
	}
}

func (e *engine) Bounds() Bounds {
	return computeBounds(e.y, e.n, e.dims)
}

func computeBounds(y []float32, n, dims int) Bounds {
	b := Bounds{Min: make([]float32, dims), Max: make([]float32, dims)}
	if n == 0 {
		return b
	}
	copy(b.Min, y[:dims])
	copy(b.Max, y[:dims])
	for i := 1; i < n; i++ {
		for d := 0; d < dims; d++ {
			v := y[i*dims+d]
			b.Min[d] = min(b.Min[d], v)
			b.Max[d] = max(b.Max[d], v)
		}
	}
	return b
}

func (e *engine) Finish() []float32 {
	if e.state != StateUninitialized {
		e.recentre()
		e.state = StateFinished
	}
	return e.Embedding()
}

func (e *engine) Abort() {
	if e.state != StateUninitialized {
		e.state = StateAborted
	}
}

func (e *engine) Resume() error {
	switch e.state {
	case StateFinished, StateAborted:
		e.state = StateIterating
		return nil
	case StateInitialized, StateIterating:
		return nil
	default:
		return fmt.Errorf("%w: cannot resume in state %s", ErrInvalidState, e.state)
	}
}

// KLDivergence returns KL(P‖Q) of the current embedding. Q's normaliser is
// computed exactly, which is quadratic in the number of points.
func (e *engine) KLDivergence(ctx context.Context) (float64, error) {
	if e.state == StateUninitialized {
		return 0, fmt.Errorf("%w: engine is not initialized", ErrInvalidState)
	}
	dims := e.dims

	dist2 := func(i, j int) float64 {
		var s float64
		for d := 0; d < dims; d++ {
			diff := float64(e.y[i*dims+d] - e.y[j*dims+d])
			s += diff * diff
		}
		return s
	}

	z, err := e.lease.Sum(ctx, e.n, func(lo, hi int) float64 {
		var s float64
		for i := lo; i < hi; i++ {
			for j := 0; j < e.n; j++ {
				if j != i {
					s += 1 / (1 + dist2(i, j))
				}
			}
		}
		return s
	})
	if err != nil {
		return 0, err
	}

	return e.lease.Sum(ctx, e.n, func(lo, hi int) float64 {
		var s float64
		for i := lo; i < hi; i++ {
			for k := e.rowPtr[i]; k < e.rowPtr[i+1]; k++ {
				p := float64(e.vals[k])
				if p <= 0 {
					continue
				}
				q := 1 / (1 + dist2(i, int(e.cols[k]))) / z
				s += p * math.Log(p/q)
			}
		}
		return s
	})
}
