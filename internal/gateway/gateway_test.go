package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitAndNormalizeUnitLength(t *testing.T) {
	v := fitAndNormalize([]float32{3, 4}, 4)
	require.Len(t, v, 4)

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-6)
	assert.Equal(t, float32(0), v[3])
}

func TestFitAndNormalizeZeroVector(t *testing.T) {
	v := fitAndNormalize([]float32{0, 0, 0}, 3)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestParseNLIReplyVariants(t *testing.T) {
	cases := []struct {
		reply string
		label NLILabel
		score float64
	}{
		{"entailment 0.92", NLIEntailment, 0.92},
		{"contradiction 0.81", NLIContradiction, 0.81},
		{"neutral 0.3", NLINeutral, 0.3},
		{"", NLINeutral, 0},
		{"garbage", NLINeutral, 0},
	}
	for _, c := range cases {
		v := parseNLIReply(c.reply)
		assert.Equal(t, c.label, v.Label, c.reply)
		assert.InDelta(t, c.score, v.Score, 1e-9, c.reply)
	}
}

func TestCallWithTimeoutReady(t *testing.T) {
	res := callWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	assert.True(t, res.Ok())
	assert.Equal(t, StatusReady, res.Status)
	assert.Equal(t, 42, res.Value)
}

func TestCallWithTimeoutNotAvailable(t *testing.T) {
	res := callWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.False(t, res.Ok())
	assert.Equal(t, StatusNotAvailable, res.Status)
}

func TestCallWithTimeoutTimeout(t *testing.T) {
	res := callWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	assert.Equal(t, StatusTimeout, res.Status)
}

func TestResultConstructors(t *testing.T) {
	assert.True(t, Ready(1).Ok())
	assert.False(t, NotAvailable[int]().Ok())
	assert.False(t, TimedOut[int]().Ok())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "not_available", StatusNotAvailable.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
}
