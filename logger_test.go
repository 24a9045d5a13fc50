package hsne

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).
		WithDataset("iris").
		WithRun(4)

	ctx := context.Background()
	l.LogHierarchy(ctx, 3, true, time.Second, nil)
	l.WithScale(2).LogRefinement(ctx, 2, 5, 40, nil)
	l.LogEmbedding(ctx, 1, 100, 0, 0, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"hierarchy ready"`)
	assert.Contains(t, out, `"from_cache":true`)
	assert.Contains(t, out, `"dataset":"iris"`)
	assert.Contains(t, out, `"run":4`)
	assert.Contains(t, out, `"msg":"refinement computed"`)
	assert.Contains(t, out, `"msg":"embedding failed"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.LogHierarchy(context.Background(), 1, false, 0, nil)
}
