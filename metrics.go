package hsne

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordHierarchy is called after a hierarchy is built or loaded.
	RecordHierarchy(scales int, fromCache bool, duration time.Duration, err error)

	// RecordScale is called for every scale a background build completes.
	RecordScale(scale, landmarks int)

	// RecordSnapshot is called for every published embedding snapshot.
	RecordSnapshot(iteration int)

	// RecordEmbedding is called when an embedding run ends. iterations is
	// the number of iterations the run performed.
	RecordEmbedding(points, iterations int, duration time.Duration, err error)

	// RecordRefinement is called after each refinement.
	RecordRefinement(landmarks int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordHierarchy(int, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordScale(int, int)                            {}
func (NoopMetricsCollector) RecordSnapshot(int)                              {}
func (NoopMetricsCollector) RecordEmbedding(int, int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordRefinement(int, error)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	HierarchyCount      atomic.Int64
	HierarchyErrors     atomic.Int64
	HierarchyTotalNanos atomic.Int64
	CacheHits           atomic.Int64
	ScalesBuilt         atomic.Int64
	Snapshots           atomic.Int64
	EmbeddingCount      atomic.Int64
	EmbeddingErrors     atomic.Int64
	EmbeddingTotalNanos atomic.Int64
	Iterations          atomic.Int64
	RefinementCount     atomic.Int64
	RefinementErrors    atomic.Int64
}

// RecordHierarchy implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHierarchy(scales int, fromCache bool, duration time.Duration, err error) {
	b.HierarchyCount.Add(1)
	b.HierarchyTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.HierarchyErrors.Add(1)
		return
	}
	if fromCache {
		b.CacheHits.Add(1)
	}
}

// RecordScale implements MetricsCollector.
func (b *BasicMetricsCollector) RecordScale(int, int) {
	b.ScalesBuilt.Add(1)
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(int) {
	b.Snapshots.Add(1)
}

// RecordEmbedding implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEmbedding(points, iterations int, duration time.Duration, err error) {
	b.EmbeddingCount.Add(1)
	b.EmbeddingTotalNanos.Add(duration.Nanoseconds())
	b.Iterations.Add(int64(iterations))
	if err != nil {
		b.EmbeddingErrors.Add(1)
	}
}

// RecordRefinement implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRefinement(landmarks int, err error) {
	b.RefinementCount.Add(1)
	if err != nil {
		b.RefinementErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		HierarchyCount:    b.HierarchyCount.Load(),
		HierarchyErrors:   b.HierarchyErrors.Load(),
		HierarchyAvgNanos: avg(b.HierarchyTotalNanos.Load(), b.HierarchyCount.Load()),
		CacheHits:         b.CacheHits.Load(),
		ScalesBuilt:       b.ScalesBuilt.Load(),
		Snapshots:         b.Snapshots.Load(),
		EmbeddingCount:    b.EmbeddingCount.Load(),
		EmbeddingErrors:   b.EmbeddingErrors.Load(),
		EmbeddingAvgNanos: avg(b.EmbeddingTotalNanos.Load(), b.EmbeddingCount.Load()),
		Iterations:        b.Iterations.Load(),
		RefinementCount:   b.RefinementCount.Load(),
		RefinementErrors:  b.RefinementErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	HierarchyCount    int64
	HierarchyErrors   int64
	HierarchyAvgNanos int64
	CacheHits         int64
	ScalesBuilt       int64
	Snapshots         int64
	EmbeddingCount    int64
	EmbeddingErrors   int64
	EmbeddingAvgNanos int64
	Iterations        int64
	RefinementCount   int64
	RefinementErrors  int64
}
