package upload

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewBandwidthLimiter_Unlimited(t *testing.T) {
	assert.Nil(t, NewBandwidthLimiter(0, nil))
	assert.Nil(t, NewBandwidthLimiter(-5, nil))
}

func TestBandwidthLimiter_NilPassThrough(t *testing.T) {
	var bl *BandwidthLimiter

	r := bytes.NewReader([]byte("x"))
	assert.Same(t, r, bl.WrapReader(context.Background(), r))
}

func TestBandwidthLimiter_ReadsAllBytes(t *testing.T) {
	bl := NewBandwidthLimiter(1<<20, nil)
	require.NotNil(t, bl)
	assert.Equal(t, 2<<20, bl.limiter.Burst())

	data := bytes.Repeat([]byte("v"), 4096)
	got, err := io.ReadAll(bl.WrapReader(context.Background(), bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBandwidthLimiter_CanceledContext(t *testing.T) {
	bl := &BandwidthLimiter{limiter: rate.NewLimiter(1, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := io.ReadAll(bl.WrapReader(ctx, bytes.NewReader([]byte("abc"))))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitN_SplitsAboveBurst(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 2)
	assert.NoError(t, waitN(context.Background(), limiter, 7))
}
