package hsne

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	var m BasicMetricsCollector

	m.RecordHierarchy(3, false, 2*time.Second, nil)
	m.RecordHierarchy(3, true, 0, nil)
	m.RecordHierarchy(0, false, 0, errors.New("boom"))
	m.RecordScale(0, 100)
	m.RecordSnapshot(9)
	m.RecordSnapshot(19)
	m.RecordEmbedding(100, 20, time.Second, nil)
	m.RecordEmbedding(100, 5, 3*time.Second, errors.New("stopped"))
	m.RecordRefinement(12, nil)

	stats := m.GetStats()
	assert.Equal(t, int64(3), stats.HierarchyCount)
	assert.Equal(t, int64(1), stats.HierarchyErrors)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, (2*time.Second).Nanoseconds()/3, stats.HierarchyAvgNanos)
	assert.Equal(t, int64(1), stats.ScalesBuilt)
	assert.Equal(t, int64(2), stats.Snapshots)
	assert.Equal(t, int64(2), stats.EmbeddingCount)
	assert.Equal(t, int64(1), stats.EmbeddingErrors)
	assert.Equal(t, (2 * time.Second).Nanoseconds(), stats.EmbeddingAvgNanos)
	assert.Equal(t, int64(25), stats.Iterations)
	assert.Equal(t, int64(1), stats.RefinementCount)
	assert.Zero(t, stats.RefinementErrors)
}

func TestNoopMetricsCollector(t *testing.T) {
	var m MetricsCollector = NoopMetricsCollector{}
	m.RecordHierarchy(1, true, 0, nil)
	m.RecordEmbedding(1, 1, 0, nil)
}
