package coordinator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/resource"
	"github.com/hupe1980/hsne/similarity"
	"github.com/hupe1980/hsne/sparse"
	"github.com/hupe1980/hsne/testutil"
	"github.com/hupe1980/hsne/tsne"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	hook   func(Event)
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) forRun(id uint64) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Run == id {
			out = append(out, ev)
		}
	}
	return out
}

func testAffinity(t *testing.T, n int) (*sparse.Matrix, []float32) {
	t.Helper()

	points, _ := testutil.NewRNG(21).Blobs(n, 4, 3, 1, 12)

	opts := similarity.DefaultOptions()
	opts.Perplexity = 10
	ko := knn.DefaultOptions()
	ko.Algorithm = knn.AlgorithmExact

	p, err := similarity.Estimate(context.Background(), points, 4, opts, ko)
	require.NoError(t, err)
	return p, points
}

func embeddingJob(p *sparse.Matrix, iterations int) *EmbeddingJob {
	params := tsne.DefaultParams()
	params.Seed = 3
	return &EmbeddingJob{Affinity: p, Params: params, Iterations: iterations}
}

func wait(t *testing.T, c *Coordinator) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return c.Wait(ctx)
}

func TestInvalidJobs(t *testing.T) {
	p, points := testAffinity(t, 60)

	tests := []struct {
		name string
		job  Job
	}{
		{"NoMatrix", &EmbeddingJob{Params: tsne.DefaultParams(), Iterations: 10}},
		{"BothMatrices", &EmbeddingJob{Affinity: p, Transition: p, Params: tsne.DefaultParams(), Iterations: 10}},
		{"NegativeIterations", &EmbeddingJob{Affinity: p, Params: tsne.DefaultParams(), Iterations: -1}},
		{"BadParams", &EmbeddingJob{Affinity: p, Params: tsne.Params{}, Iterations: 10}},
		{"NoPoints", &HierarchyJob{Dim: 4, Params: hierarchy.DefaultParams()}},
		{"BadHierarchyParams", &HierarchyJob{Points: points, Dim: 4, Params: hierarchy.Params{}}},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, c.Start(context.Background(), tt.job))
		})
	}
	assert.Equal(t, Progress{LastSnapshot: -1}, c.Progress())
}

func TestContinueWithoutRun(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.Continue(context.Background(), 10), ErrNothingToContinue)

	_, err := c.Embedding()
	assert.ErrorIs(t, err, ErrNothingToContinue)
}

func TestSnapshotsAreOrdered(t *testing.T) {
	p, _ := testAffinity(t, 90)

	rec := &recorder{}
	c := New(WithListener(rec.listen))
	require.NoError(t, c.Start(context.Background(), embeddingJob(p, 100)))
	require.NoError(t, wait(t, c))

	events := rec.forRun(1)
	require.GreaterOrEqual(t, len(events), 3)

	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, -1, events[0].Iteration)
	assert.Equal(t, 90, events[0].NumPoints)
	assert.Equal(t, 2, events[0].Dims)

	last := -1
	for _, ev := range events[1 : len(events)-1] {
		require.Equal(t, EventSnapshot, ev.Type)
		assert.Greater(t, ev.Iteration, last)
		assert.Len(t, ev.Embedding, 90*2)
		last = ev.Iteration
	}
	assert.Equal(t, 99, last)

	final := events[len(events)-1]
	assert.Equal(t, EventFinished, final.Type)
	assert.Equal(t, 99, final.Iteration)

	progress := c.Progress()
	assert.False(t, progress.Running)
	assert.Equal(t, 100, progress.Iteration)
	assert.Equal(t, 99, progress.LastSnapshot)

	y, err := c.Embedding()
	require.NoError(t, err)
	assert.Equal(t, final.Embedding, y)
}

func TestStopAndContinue(t *testing.T) {
	p, _ := testAffinity(t, 120)

	var c *Coordinator
	rec := &recorder{}
	rec.hook = func(ev Event) {
		if ev.Run == 1 && ev.Type == EventSnapshot && ev.Iteration == 399 {
			c.Stop()
		}
	}
	c = New(WithListener(rec.listen))

	require.NoError(t, c.Start(context.Background(), embeddingJob(p, 1000)))
	require.NoError(t, wait(t, c))

	first := rec.forRun(1)
	aborted := first[len(first)-1]
	assert.Equal(t, EventAborted, aborted.Type)
	assert.Equal(t, 399, aborted.Iteration)
	assert.Equal(t, 400, c.Progress().Iteration)

	require.NoError(t, c.Continue(context.Background(), 600))
	require.NoError(t, wait(t, c))

	second := rec.forRun(2)
	require.GreaterOrEqual(t, len(second), 3)
	assert.Equal(t, EventStarted, second[0].Type)
	assert.Equal(t, 399, second[0].Iteration)
	assert.Equal(t, EventSnapshot, second[1].Type)
	assert.Equal(t, 409, second[1].Iteration)

	snap := second[len(second)-2]
	assert.Equal(t, EventSnapshot, snap.Type)
	assert.Equal(t, 999, snap.Iteration)

	finished := second[len(second)-1]
	assert.Equal(t, EventFinished, finished.Type)
	assert.Equal(t, 999, finished.Iteration)

	// An uninterrupted run reaches the same embedding.
	direct := New()
	require.NoError(t, direct.Start(context.Background(), embeddingJob(p, 1000)))
	require.NoError(t, wait(t, direct))

	want, err := direct.Embedding()
	require.NoError(t, err)
	require.Len(t, finished.Embedding, len(want))
	for i := range want {
		assert.InDelta(t, want[i], finished.Embedding[i], 1e-4)
	}
	assert.Equal(t, 1.0, tsne.DefaultParams().ExaggerationAt(999))
}

func TestStartStopsActiveRun(t *testing.T) {
	p, _ := testAffinity(t, 90)

	rec := &recorder{}
	c := New(WithListener(rec.listen))
	require.NoError(t, c.Start(context.Background(), embeddingJob(p, 100000)))
	require.NoError(t, c.Start(context.Background(), embeddingJob(p, 30)))
	require.NoError(t, wait(t, c))

	first := rec.forRun(1)
	require.NotEmpty(t, first)
	assert.Equal(t, EventAborted, first[len(first)-1].Type)
	assert.NoError(t, first[len(first)-1].Err)

	second := rec.forRun(2)
	require.NotEmpty(t, second)
	assert.Equal(t, EventFinished, second[len(second)-1].Type)
}

func TestForcedTermination(t *testing.T) {
	p, _ := testAffinity(t, 60)

	block := make(chan struct{})
	defer close(block)

	blocked := make(chan struct{})
	var once sync.Once

	rec := &recorder{}
	rec.hook = func(ev Event) {
		if ev.Run == 1 && ev.Type == EventSnapshot {
			once.Do(func() { close(blocked) })
			<-block
		}
	}
	c := New(WithListener(rec.listen), WithGracePeriod(50*time.Millisecond))

	require.NoError(t, c.Start(context.Background(), embeddingJob(p, 1000)))
	<-blocked

	require.NoError(t, c.Start(context.Background(), embeddingJob(p, 20)))
	require.NoError(t, wait(t, c))

	first := rec.forRun(1)
	aborted := first[len(first)-1]
	assert.Equal(t, EventAborted, aborted.Type)
	assert.ErrorIs(t, aborted.Err, ErrForcedTermination)

	second := rec.forRun(2)
	assert.Equal(t, EventFinished, second[len(second)-1].Type)

	// The abandoned run cannot be continued; the finished one can.
	require.NoError(t, c.Continue(context.Background(), 10))
	require.NoError(t, wait(t, c))
	assert.Equal(t, 30, c.Progress().Iteration)
}

func TestPublication(t *testing.T) {
	p, points := testAffinity(t, 60)

	h := host.NewMemory()
	parent, err := h.AddDataset("points", points, 60, 4)
	require.NoError(t, err)

	job := embeddingJob(p, 40)
	job.Publish = &Publication{Host: h, Name: "embedding", Parent: parent}

	c := New()
	require.NoError(t, c.Start(context.Background(), job))
	require.NoError(t, wait(t, c))

	children := h.Children(parent)
	require.Len(t, children, 1)

	ds, ok := h.Dataset(children[0])
	require.True(t, ok)
	assert.Equal(t, "embedding", ds.Name)
	assert.Equal(t, 60, ds.Count)
	assert.Equal(t, 2, ds.Dims)
	assert.Equal(t, 4, ds.Version)

	job.Publish.Parent = "missing"
	assert.ErrorIs(t, c.Start(context.Background(), job), host.ErrUnknownDataset)
}

func TestHierarchyJob(t *testing.T) {
	points, _ := testutil.NewRNG(3).Blobs(600, 5, 3, 1, 15)

	params := hierarchy.DefaultParams()
	params.Seed = 7
	params.NumScales = 2
	params.NumNeighbors = 30
	params.Knn.Algorithm = knn.AlgorithmExact

	rec := &recorder{}
	c := New(WithListener(rec.listen))
	require.NoError(t, c.Start(context.Background(), &HierarchyJob{Points: points, Dim: 5, Params: params}))
	require.NoError(t, wait(t, c))

	events := rec.forRun(1)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, 600, events[0].NumPoints)

	var built []int
	for _, ev := range events {
		if ev.Type == EventScaleBuilt {
			built = append(built, ev.Scale)
		}
	}
	assert.Equal(t, []int{0, 1}, built)

	final := events[len(events)-1]
	require.Equal(t, EventFinished, final.Type)
	require.NotNil(t, final.Hierarchy)
	assert.Equal(t, 2, final.Hierarchy.NumScales())

	h, err := c.Hierarchy()
	require.NoError(t, err)
	assert.Same(t, final.Hierarchy, h)
	assert.Equal(t, 2, c.Progress().Scales)

	assert.ErrorIs(t, c.Continue(context.Background(), 10), ErrNothingToContinue)
}

func TestClose(t *testing.T) {
	p, _ := testAffinity(t, 60)

	rec := &recorder{}
	c := New(WithListener(rec.listen))
	require.NoError(t, c.Start(context.Background(), embeddingJob(p, 100000)))
	require.NoError(t, c.Close())
	require.NoError(t, wait(t, c))

	events := rec.forRun(1)
	assert.Equal(t, EventAborted, events[len(events)-1].Type)
	assert.ErrorIs(t, c.Start(context.Background(), embeddingJob(p, 10)), ErrClosed)
	assert.NoError(t, c.Close())
}

type rejectingHost struct {
	*host.Memory
}

func (rejectingHost) CreateDerivedDataset(string, host.DatasetID) (host.DatasetID, error) {
	return "", errors.New("host unavailable")
}

func TestFailedStartDestroysCompute(t *testing.T) {
	p, _ := testAffinity(t, 60)

	newLogged := func(optFns ...Option) (*Coordinator, *bytes.Buffer) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		return New(append(optFns, WithLogger(logger))...), &buf
	}

	t.Run("Publication", func(t *testing.T) {
		c, buf := newLogged()
		job := embeddingJob(p, 10)
		job.Publish = &Publication{Host: rejectingHost{host.NewMemory()}, Name: "child"}

		assert.Error(t, c.Start(context.Background(), job))
		assert.Contains(t, buf.String(), "compute context destroyed")
		assert.Nil(t, c.active.Load())
	})

	t.Run("Slot", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MaxComputations: 1})
		release, ok := rc.TryAcquireSlot()
		require.True(t, ok)
		defer release()

		c, buf := newLogged(WithResources(rc))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, c.Start(ctx, embeddingJob(p, 10)), context.Canceled)
		assert.Contains(t, buf.String(), "compute context destroyed")
	})
}
