package hsne

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/refine"
	"github.com/hupe1980/hsne/tsne"
	"github.com/stretchr/testify/assert"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{fmt.Errorf("%w: k", hierarchy.ErrInvalidParameter), ErrInvalidParameter},
		{tsne.ErrInvalidParameter, ErrInvalidParameter},
		{knn.ErrTooFewPoints, ErrInvalidParameter},
		{refine.ErrInvalidThreshold, ErrInvalidParameter},
		{refine.ErrEmptySelection, ErrEmptySelection},
		{refine.ErrNothingInfluenced, ErrEmptySelection},
		{coordinator.ErrRunning, ErrBusy},
		{coordinator.ErrClosed, ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.in.Error(), func(t *testing.T) {
			got := translateError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in)
		})
	}

	assert.NoError(t, translateError(nil))

	other := errors.New("boom")
	assert.Same(t, other, translateError(other))
}

func TestErrInvalidScale(t *testing.T) {
	err := error(&ErrInvalidScale{Scale: 3, NumScales: 2, cause: hierarchy.ErrInvalidScale})
	assert.EqualError(t, err, "invalid scale 3 of 2")
	assert.ErrorIs(t, err, hierarchy.ErrInvalidScale)
}
