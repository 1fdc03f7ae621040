package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

type countingProvider struct {
	calls int
}

func (c *countingProvider) Generate(ctx context.Context, req ports.GenerateRequest) (ports.Completion, error) {
	c.calls++
	return ports.Completion{Text: "ok"}, nil
}

func (c *countingProvider) Stream(ctx context.Context, req ports.GenerateRequest) (<-chan ports.Chunk, error) {
	c.calls++
	ch := make(chan ports.Chunk)
	close(ch)
	return ch, nil
}

func (c *countingProvider) CountTokens(ctx context.Context, model, prompt string) (int, error) {
	return 0, nil
}

func TestRateLimitedProvider(t *testing.T) {
	inner := &countingProvider{}
	limited := NewRateLimitedProvider(inner, 2, time.Hour)

	req := ports.GenerateRequest{Model: "m", Prompt: "p"}
	_, err := limited.Generate(context.Background(), req)
	require.NoError(t, err)
	_, err = limited.Generate(context.Background(), req)
	require.NoError(t, err)

	_, err = limited.Generate(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 2, inner.calls)
}

func TestRateLimitPerModel(t *testing.T) {
	inner := &countingProvider{}
	limited := NewRateLimitedProvider(inner, 1, time.Hour)

	_, err := limited.Generate(context.Background(), ports.GenerateRequest{Model: "a"})
	require.NoError(t, err)
	_, err = limited.Generate(context.Background(), ports.GenerateRequest{Model: "b"})
	require.NoError(t, err)
	_, err = limited.Generate(context.Background(), ports.GenerateRequest{Model: "a"})
	assert.Error(t, err)
}

func TestRateLimitRefill(t *testing.T) {
	bucket := newTokenBucket(1, 10*time.Millisecond)
	require.NoError(t, bucket.acquire("m"))
	require.Error(t, bucket.acquire("m"))

	assert.Eventually(t, func() bool {
		return bucket.acquire("m") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestCountTokensExemptFromLimit(t *testing.T) {
	limited := NewRateLimitedProvider(&countingProvider{}, 0, time.Hour)
	_, err := limited.CountTokens(context.Background(), "m", "p")
	assert.NoError(t, err)
}
