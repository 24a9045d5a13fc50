package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/internal/compute"
	"github.com/hupe1980/hsne/resource"
	"github.com/hupe1980/hsne/tsne"
)

var (
	// ErrNothingToContinue is returned by Continue when no embedding run
	// can be resumed.
	ErrNothingToContinue = errors.New("coordinator: nothing to continue")
	// ErrRunning is returned when an operation requires an idle coordinator.
	ErrRunning = errors.New("coordinator: run in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator: closed")
	// ErrForcedTermination is the error of a run abandoned after the grace
	// period.
	ErrForcedTermination = errors.New("coordinator: run terminated after grace period")
)

// DefaultGracePeriod bounds how long Start and Close wait for a stopping run.
const DefaultGracePeriod = 5 * time.Second

const callerHolder = "caller"

type options struct {
	logger   *slog.Logger
	listener Listener
	grace    time.Duration
	resource *resource.Controller
	workers  int
}

// Option configures a Coordinator.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithListener registers the event listener.
func WithListener(fn Listener) Option {
	return func(o *options) { o.listener = fn }
}

// WithGracePeriod sets how long a stopping run may take before it is
// terminated.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

// WithResources draws run slots and hierarchy memory from c.
func WithResources(c *resource.Controller) Option {
	return func(o *options) { o.resource = c }
}

// WithWorkers bounds the kernel parallelism of embedding runs.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Progress describes the current or most recent run.
type Progress struct {
	Run     uint64
	Kind    string
	Running bool
	// Iteration is the number of completed iterations of the embedding.
	Iteration int
	// Target is the iteration count the run stops at.
	Target int
	// Scales is the number of scales built so far.
	Scales int
	// LastSnapshot is the iteration index of the last snapshot, or -1.
	LastSnapshot int
	// Dataset is the host dataset snapshots are published to, if any.
	Dataset host.DatasetID
}

type run struct {
	id     uint64
	kind   string
	target int

	stop      atomic.Bool
	abandoned atomic.Bool
	cancel    context.CancelFunc
	release   func()
	compute   *compute.Context
	done      chan struct{}

	iteration    atomic.Int64
	scales       atomic.Int64
	lastSnapshot atomic.Int64

	listener Listener
	logger   *slog.Logger

	// Written by the worker before done is closed.
	err       error
	engine    tsne.GradientEngine
	lease     *compute.Lease
	job       *EmbeddingJob
	dataset   host.DatasetID
	hierarchy *hierarchy.Hierarchy
}

func (r *run) emit(ev Event) {
	if r.abandoned.Load() || r.listener == nil {
		return
	}
	ev.Run = r.id
	r.listener(ev)
}

func (r *run) requestStop() {
	r.stop.Store(true)
	if r.kind == "hierarchy" {
		r.cancel()
	}
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Coordinator owns the background execution of one computation at a time.
type Coordinator struct {
	mu     sync.Mutex
	opts   options
	seq    uint64
	closed bool

	active atomic.Pointer[run]
	last   atomic.Pointer[run]
}

// New creates a coordinator.
func New(optFns ...Option) *Coordinator {
	o := options{grace: DefaultGracePeriod}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{opts: o}
}

// Start stops the active run, if any, and launches job in the background.
// ctx bounds only the wait for a run slot.
func (c *Coordinator) Start(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.stopActiveLocked()

	switch j := job.(type) {
	case *EmbeddingJob:
		cctx, lease := c.newCompute()
		r, err := c.newRunLocked(ctx, j.kind(), cctx)
		if err != nil {
			cctx.Destroy()
			return err
		}
		r.job = j
		r.target = j.Iterations

		if p := j.Publish; p != nil {
			id, err := p.Host.CreateDerivedDataset(p.Name, p.Parent)
			if err != nil {
				cctx.Destroy()
				r.release()
				return fmt.Errorf("coordinator: create embedding dataset: %w", err)
			}
			r.dataset = id
		}

		c.launch(r, func() { c.runEmbedding(r, lease, nil, j.Iterations) })
	case *HierarchyJob:
		r, err := c.newRunLocked(ctx, j.kind(), nil)
		if err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		c.launch(r, func() { c.runHierarchy(runCtx, r, j) })
	default:
		return fmt.Errorf("%w: unsupported job %T", ErrInvalidJob, job)
	}
	return nil
}

// Continue resumes the most recent embedding for n more iterations. The
// embedding must have finished or been stopped.
func (c *Coordinator) Continue(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative iteration count", ErrInvalidJob)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	prev := c.last.Load()
	if prev == nil || prev.kind != "embedding" {
		return ErrNothingToContinue
	}
	if !prev.finished() {
		return ErrRunning
	}
	if prev.abandoned.Load() || prev.engine == nil {
		return ErrNothingToContinue
	}

	cctx, lease := prev.compute, prev.lease
	if lease == nil || !lease.Valid() {
		cctx, lease = c.newCompute()
	}

	r, err := c.newRunLocked(ctx, "embedding", cctx)
	if err != nil {
		return err
	}
	r.job = prev.job
	r.dataset = prev.dataset
	r.target = prev.engine.Iteration() + n

	eng := prev.engine
	c.launch(r, func() { c.runEmbedding(r, lease, eng, n) })
	return nil
}

// Stop requests the active run to stop. It does not wait; use Wait.
func (c *Coordinator) Stop() {
	if r := c.active.Load(); r != nil {
		r.requestStop()
	}
}

// Wait blocks until the most recent run ends or ctx is done, and returns
// the run's error. Stopped runs return nil.
func (c *Coordinator) Wait(ctx context.Context) error {
	r := c.last.Load()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress reports on the active or most recent run.
func (c *Coordinator) Progress() Progress {
	r := c.last.Load()
	if r == nil {
		return Progress{LastSnapshot: -1}
	}
	return Progress{
		Run:          r.id,
		Kind:         r.kind,
		Running:      !r.finished(),
		Iteration:    int(r.iteration.Load()),
		Target:       r.target,
		Scales:       int(r.scales.Load()),
		LastSnapshot: int(r.lastSnapshot.Load()),
		Dataset:      r.dataset,
	}
}

// Embedding returns a copy of the most recent embedding once its run has
// ended.
func (c *Coordinator) Embedding() ([]float32, error) {
	r := c.last.Load()
	if r == nil || r.kind != "embedding" {
		return nil, ErrNothingToContinue
	}
	if !r.finished() {
		return nil, ErrRunning
	}
	if r.engine == nil || r.abandoned.Load() {
		return nil, ErrNothingToContinue
	}
	return r.engine.Embedding(), nil
}

// Hierarchy returns the result of the most recent hierarchy build.
func (c *Coordinator) Hierarchy() (*hierarchy.Hierarchy, error) {
	r := c.last.Load()
	if r == nil || r.kind != "hierarchy" {
		return nil, ErrNothingToContinue
	}
	if !r.finished() {
		return nil, ErrRunning
	}
	if r.hierarchy == nil {
		return nil, ErrNothingToContinue
	}
	return r.hierarchy, nil
}

// Close stops the active run and rejects further work.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.stopActiveLocked()
	return nil
}

func (c *Coordinator) newCompute() (*compute.Context, *compute.Lease) {
	optFns := []compute.Option{compute.WithLogger(c.opts.logger)}
	if c.opts.workers > 0 {
		optFns = append(optFns, compute.WithWorkers(c.opts.workers))
	}
	return compute.NewContext(callerHolder, optFns...)
}

func (c *Coordinator) newRunLocked(ctx context.Context, kind string, cctx *compute.Context) (*run, error) {
	release, err := c.opts.resource.AcquireSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: acquire run slot: %w", err)
	}

	c.seq++
	r := &run{
		id:       c.seq,
		kind:     kind,
		cancel:   func() {},
		release:  release,
		compute:  cctx,
		done:     make(chan struct{}),
		listener: c.opts.listener,
		logger:   c.opts.logger.With("run", c.seq, "kind", kind),
	}
	r.lastSnapshot.Store(-1)
	return r, nil
}

func (c *Coordinator) launch(r *run, fn func()) {
	c.active.Store(r)
	c.last.Store(r)
	go func() {
		defer func() {
			r.release()
			c.active.CompareAndSwap(r, nil)
			close(r.done)
		}()
		fn()
	}()
}

// stopActiveLocked stops the active run, waiting at most the grace period
// before destroying its compute context and abandoning it.
func (c *Coordinator) stopActiveLocked() {
	r := c.active.Load()
	if r == nil {
		return
	}
	r.requestStop()

	timer := time.NewTimer(c.opts.grace)
	defer timer.Stop()

	select {
	case <-r.done:
		return
	case <-timer.C:
	}

	r.logger.Warn("run did not stop within grace period, terminating", "grace", c.opts.grace)

	r.abandoned.Store(true)
	if r.compute != nil {
		r.compute.Destroy()
	}
	r.cancel()
	r.release()
	c.active.CompareAndSwap(r, nil)

	if r.listener != nil {
		r.listener(Event{
			Type:      EventAborted,
			Run:       r.id,
			Iteration: int(r.iteration.Load()) - 1,
			Err:       ErrForcedTermination,
		})
	}
}

// runEmbedding executes on the worker goroutine. eng is nil for a fresh run.
func (c *Coordinator) runEmbedding(r *run, caller *compute.Lease, eng tsne.GradientEngine, n int) {
	ctx := context.Background()
	job := r.job

	lease, err := caller.TransferOwnership(fmt.Sprintf("worker-%d", r.id))
	if err != nil {
		r.fail(err)
		return
	}
	defer func() {
		if back, err := lease.TransferOwnership(callerHolder); err == nil {
			r.lease = back
		}
	}()

	if eng == nil {
		eng, err = tsne.New(job.Params,
			tsne.WithLease(lease),
			tsne.WithLogger(r.logger),
			tsne.WithInitialEmbedding(job.Initial),
			tsne.WithPCAData(job.PCAData, job.PCADim),
		)
		if err == nil {
			if job.Affinity != nil {
				err = eng.InitializeAffinity(job.Affinity)
			} else {
				err = eng.InitializeTransition(job.Transition)
			}
		}
		if err != nil {
			r.fail(err)
			return
		}
	} else {
		eng.Bind(lease)
		if err := eng.Resume(); err != nil {
			r.fail(err)
			return
		}
	}
	r.engine = eng

	start := eng.Iteration()
	target := start + n
	params := eng.Params()
	r.iteration.Store(int64(start))

	r.emit(Event{
		Type:      EventStarted,
		Iteration: start - 1,
		NumPoints: eng.NumPoints(),
		Dims:      eng.Dimensions(),
	})
	r.logger.Info("embedding started", "points", eng.NumPoints(), "from", start, "to", target)

	began := time.Now()

	for eng.Iteration() < target {
		if r.stop.Load() {
			r.abort(eng)
			return
		}

		if err := eng.Iterate(ctx); err != nil {
			if r.stop.Load() || errors.Is(err, compute.ErrDestroyed) || errors.Is(err, compute.ErrRevoked) {
				r.abort(eng)
				return
			}
			r.fail(err)
			return
		}

		completed := eng.Iteration()
		r.iteration.Store(int64(completed))
		if params.SnapshotDue(completed) {
			r.snapshot(eng, completed-1)
		}
	}

	eng.Finish()
	last := eng.Iteration() - 1
	if last >= 0 && int64(last) != r.lastSnapshot.Load() {
		r.snapshot(eng, last)
	}

	r.logger.Info("embedding finished", "iterations", eng.Iteration(), "duration", time.Since(began))

	r.emit(Event{
		Type:      EventFinished,
		Iteration: last,
		NumPoints: eng.NumPoints(),
		Dims:      eng.Dimensions(),
		Embedding: eng.Embedding(),
	})
}

func (r *run) snapshot(eng tsne.GradientEngine, iteration int) {
	y := eng.Embedding()
	r.lastSnapshot.Store(int64(iteration))

	if p := r.job.Publish; p != nil && r.dataset != "" {
		if err := p.Host.SetData(r.dataset, y, eng.NumPoints(), eng.Dimensions()); err != nil {
			r.logger.Warn("publishing snapshot failed", "error", err)
		} else if err := p.Host.NotifyDataChanged(r.dataset); err != nil {
			r.logger.Warn("notifying snapshot failed", "error", err)
		}
	}

	r.emit(Event{
		Type:      EventSnapshot,
		Iteration: iteration,
		NumPoints: eng.NumPoints(),
		Dims:      eng.Dimensions(),
		Embedding: slices.Clone(y),
	})
}

func (r *run) abort(eng tsne.GradientEngine) {
	eng.Abort()
	r.logger.Info("embedding stopped", "iterations", eng.Iteration())
	r.emit(Event{
		Type:      EventAborted,
		Iteration: eng.Iteration() - 1,
		NumPoints: eng.NumPoints(),
		Dims:      eng.Dimensions(),
		Embedding: eng.Embedding(),
	})
}

func (r *run) fail(err error) {
	r.err = err
	r.logger.Error("run failed", "error", err)
	r.emit(Event{Type: EventFailed, Iteration: int(r.iteration.Load()) - 1, Err: err})
}

// runHierarchy executes on the worker goroutine.
func (c *Coordinator) runHierarchy(ctx context.Context, r *run, job *HierarchyJob) {
	defer r.cancel()

	r.emit(Event{Type: EventStarted, NumPoints: len(job.Points) / job.Dim, Iteration: -1})

	optFns := slices.Clone(job.Options)
	optFns = append(optFns,
		hierarchy.WithLogger(r.logger),
		hierarchy.WithResources(c.opts.resource),
		hierarchy.WithProgress(func(id int, s *hierarchy.Scale) {
			r.scales.Store(int64(id + 1))
			r.emit(Event{Type: EventScaleBuilt, Scale: id, Landmarks: s.Size(), Iteration: -1})
		}),
	)

	h, err := hierarchy.Build(ctx, job.Points, job.Dim, job.Params, optFns...)
	if err != nil {
		if r.stop.Load() && errors.Is(err, context.Canceled) {
			r.logger.Info("hierarchy build stopped", "scales", r.scales.Load())
			r.emit(Event{Type: EventAborted, Iteration: -1})
			return
		}
		r.fail(err)
		return
	}

	r.hierarchy = h
	r.emit(Event{Type: EventFinished, Hierarchy: h, Scale: h.NumScales() - 1, Landmarks: h.Top().Size(), Iteration: -1})
}
