package hsne

import (
	"log/slog"
	"time"

	"github.com/hupe1980/hsne/blobstore"
	"github.com/hupe1980/hsne/cache"
	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/distance"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/refine"
	"github.com/hupe1980/hsne/resource"
	"github.com/hupe1980/hsne/tsne"
)

// Hierarchy creates an analysis builder for points (N×dim, row-major).
//
// The builder is immutable - each method returns a new builder with the updated configuration.
//
// Example:
//
//	a, err := hsne.Hierarchy(points, 50).
//	    Name("mnist").
//	    Scales(4).
//	    Cosine().
//	    Seed(42).
//	    Iterations(500).
//	    Build()
func Hierarchy(points []float32, dim int) Builder {
	return Builder{
		points:     points,
		dim:        dim,
		name:       "dataset",
		hierarchy:  hierarchy.DefaultParams(),
		embedding:  tsne.DefaultParams(),
		iterations: DefaultIterations,
	}
}

// Builder is an immutable fluent builder for creating an Analysis.
type Builder struct {
	points []float32
	dim    int
	name   string

	hierarchy  hierarchy.Params
	embedding  tsne.Params
	iterations int

	store        blobstore.BlobStore
	cacheOptions []cache.Option
	resources    *resource.Controller
	host         host.Datasets
	source       host.DatasetID
	refine       []refine.Option
	listener     coordinator.Listener
	grace        time.Duration
	logger       *Logger
	metrics      MetricsCollector
}

// Name sets the dataset name used for the cache entry and published datasets.
func (b Builder) Name(name string) Builder {
	b.name = name
	return b
}

// Scales sets the number of scales to build, including the data scale.
func (b Builder) Scales(n int) Builder {
	b.hierarchy.NumScales = n
	return b
}

// Seed makes hierarchy construction and the initial embedding reproducible.
func (b Builder) Seed(seed int64) Builder {
	b.hierarchy.Seed = seed
	b.embedding.Seed = seed
	return b
}

// Neighbors sets the number of nearest neighbours of the data scale.
func (b Builder) Neighbors(k int) Builder {
	b.hierarchy.NumNeighbors = k
	return b
}

// Exact computes neighbours by brute force.
func (b Builder) Exact() Builder {
	b.hierarchy.Knn.Algorithm = knn.AlgorithmExact
	return b
}

// BallTree computes neighbours with a ball tree.
func (b Builder) BallTree() Builder {
	b.hierarchy.Knn.Algorithm = knn.AlgorithmBallTree
	return b
}

// HNSW computes approximate neighbours with an HNSW graph (default).
func (b Builder) HNSW() Builder {
	b.hierarchy.Knn.Algorithm = knn.AlgorithmHNSW
	return b
}

// SquaredL2 sets the neighbour metric to Euclidean distance (default).
func (b Builder) SquaredL2() Builder {
	b.hierarchy.Knn.Metric = distance.MetricL2
	return b
}

// Cosine sets the neighbour metric to cosine distance.
func (b Builder) Cosine() Builder {
	b.hierarchy.Knn.Metric = distance.MetricCosine
	return b
}

// StationaryLandmarks selects landmarks from the stationary distribution
// instead of Monte-Carlo walk endpoints.
func (b Builder) StationaryLandmarks() Builder {
	b.hierarchy.MonteCarloSampling = false
	return b
}

// Iterations sets the length of every embedding run.
func (b Builder) Iterations(n int) Builder {
	b.iterations = n
	return b
}

// FieldBackend uses the field-based gradient instead of Barnes-Hut.
func (b Builder) FieldBackend() Builder {
	b.embedding.Backend = tsne.BackendField
	return b
}

// Embedding replaces the gradient-descent parameters.
func (b Builder) Embedding(p tsne.Params) Builder {
	b.embedding = p
	return b
}

// HierarchyParams replaces the hierarchy parameters.
func (b Builder) HierarchyParams(p hierarchy.Params) Builder {
	b.hierarchy = p
	return b
}

// Cache stores hierarchies in store.
func (b Builder) Cache(store blobstore.BlobStore, optFns ...cache.Option) Builder {
	b.store = store
	b.cacheOptions = optFns
	return b
}

// Resources limits memory, background runs and cache IO.
func (b Builder) Resources(cfg resource.Config) Builder {
	b.resources = resource.NewController(cfg)
	return b
}

// ResourceController shares an existing controller.
func (b Builder) ResourceController(c *resource.Controller) Builder {
	b.resources = c
	return b
}

// Host publishes embeddings into h as datasets derived from source.
func (b Builder) Host(h host.Datasets, source host.DatasetID) Builder {
	b.host = h
	b.source = source
	return b
}

// RefineThreshold sets the influence mass a landmark needs to enter a
// refinement.
func (b Builder) RefineThreshold(t float64) Builder {
	b.refine = append(b.refine[:len(b.refine):len(b.refine)], refine.WithThreshold(t))
	return b
}

// Listener receives coordinator events.
func (b Builder) Listener(fn coordinator.Listener) Builder {
	b.listener = fn
	return b
}

// GracePeriod bounds how long a stopped run may take to yield.
func (b Builder) GracePeriod(d time.Duration) Builder {
	b.grace = d
	return b
}

// Logger sets the structured logger for operation tracing.
func (b Builder) Logger(l *Logger) Builder {
	b.logger = l
	return b
}

// LogLevel sets a text logger with the given level.
func (b Builder) LogLevel(level slog.Level) Builder {
	b.logger = NewTextLogger(level)
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b Builder) Metrics(mc MetricsCollector) Builder {
	b.metrics = mc
	return b
}

// Build creates the Analysis.
func (b Builder) Build() (*Analysis, error) {
	opts := []Option{
		WithHierarchyParams(b.hierarchy),
		WithEmbeddingParams(b.embedding),
		WithIterations(b.iterations),
	}
	if b.store != nil {
		opts = append(opts, WithCache(b.store, b.cacheOptions...))
	}
	if b.resources != nil {
		opts = append(opts, WithResources(b.resources))
	}
	if b.host != nil {
		opts = append(opts, WithHost(b.host, b.source))
	}
	if len(b.refine) > 0 {
		opts = append(opts, WithRefineOptions(b.refine...))
	}
	if b.listener != nil {
		opts = append(opts, WithListener(b.listener))
	}
	if b.grace > 0 {
		opts = append(opts, WithGracePeriod(b.grace))
	}
	if b.logger != nil {
		opts = append(opts, WithLogger(b.logger))
	}
	if b.metrics != nil {
		opts = append(opts, WithMetricsCollector(b.metrics))
	}
	return New(b.name, b.points, b.dim, opts...)
}
