package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointsAreSeeded(t *testing.T) {
	a := NewRNG(4711).GaussianPoints(10, 8)
	b := NewRNG(4711).GaussianPoints(10, 8)
	c := NewRNG(4712).GaussianPoints(10, 8)

	assert.Len(t, a, 80)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformPoints(1, 10)

	rng.Reset()
	v2 := rng.UniformPoints(1, 10)

	assert.Equal(t, v1, v2)
	for _, v := range v1 {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestBlobs(t *testing.T) {
	points, labels := NewRNG(1).Blobs(90, 4, 3, 0.1, 10)
	assert.Len(t, points, 360)
	assert.Len(t, labels, 90)

	var second []int
	for i, l := range labels {
		if l == 2 {
			second = append(second, i)
		}
	}
	assert.Len(t, second, 30)
	assert.InDelta(t, 20, Centroid(points, 4, second)[0], 0.1)
}

func TestExactNeighborsAndRecall(t *testing.T) {
	points := []float32{0, 1, 3, 6, 10}

	got := ExactNeighbors(points, 1, 2, 2)
	assert.Equal(t, []uint32{1, 0}, got)

	assert.Equal(t, 1.0, Recall(got, []uint32{0, 1, 4}))
	assert.Equal(t, 0.5, Recall(got, []uint32{1}))
	assert.Equal(t, 1.0, Recall(nil, nil))
}
