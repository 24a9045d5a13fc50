package hsne

import (
	"log/slog"
	"time"

	"github.com/hupe1980/hsne/blobstore"
	"github.com/hupe1980/hsne/cache"
	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/host"
	"github.com/hupe1980/hsne/refine"
	"github.com/hupe1980/hsne/resource"
	"github.com/hupe1980/hsne/tsne"
)

// DefaultIterations is the length of an embedding run.
const DefaultIterations = 1000

type options struct {
	hierarchy  hierarchy.Params
	embedding  tsne.Params
	iterations int

	store        blobstore.BlobStore
	cacheOptions []cache.Option

	resources   *resource.Controller
	host        host.Datasets
	source      host.DatasetID
	refine      []refine.Option
	listener    coordinator.Listener
	gracePeriod time.Duration

	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures an Analysis.
type Option func(*options)

// WithHierarchyParams sets the hierarchy construction parameters.
func WithHierarchyParams(p hierarchy.Params) Option {
	return func(o *options) {
		o.hierarchy = p
	}
}

// WithEmbeddingParams sets the gradient-descent parameters of every
// embedding run.
func WithEmbeddingParams(p tsne.Params) Option {
	return func(o *options) {
		o.embedding = p
	}
}

// WithIterations sets the number of iterations of an embedding run.
func WithIterations(n int) Option {
	return func(o *options) {
		o.iterations = n
	}
}

// WithCache stores built hierarchies in store and loads them on later
// builds with the same parameters.
//
// Example:
//
//	store, _ := s3.New(ctx, "my-bucket", "hsne/")
//	a, _ := hsne.New("mnist", points, 784, hsne.WithCache(store))
func WithCache(store blobstore.BlobStore, optFns ...cache.Option) Option {
	return func(o *options) {
		o.store = store
		o.cacheOptions = optFns
	}
}

// WithResources limits memory, background runs and cache IO through c.
// A controller may be shared between analyses.
func WithResources(c *resource.Controller) Option {
	return func(o *options) {
		o.resources = c
	}
}

// WithHost publishes embeddings as datasets derived from source in h.
// Refinements without an explicit selection read it from h.
func WithHost(h host.Datasets, source host.DatasetID) Option {
	return func(o *options) {
		o.host = h
		o.source = source
	}
}

// WithRefineOptions configures landmark selection of refinements.
func WithRefineOptions(optFns ...refine.Option) Option {
	return func(o *options) {
		o.refine = optFns
	}
}

// WithListener receives coordinator events on the worker goroutine.
func WithListener(fn coordinator.Listener) Option {
	return func(o *options) {
		o.listener = fn
	}
}

// WithGracePeriod bounds how long a stopped run may take to yield.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		o.gracePeriod = d
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &hsne.BasicMetricsCollector{}
//	a, _ := hsne.New("iris", points, 4, hsne.WithMetricsCollector(metrics))
//	// ... use a ...
//	stats := metrics.GetStats()
//	fmt.Printf("Cache hits: %d\n", stats.CacheHits)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		hierarchy:        hierarchy.DefaultParams(),
		embedding:        tsne.DefaultParams(),
		iterations:       DefaultIterations,
		gracePeriod:      coordinator.DefaultGracePeriod,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
