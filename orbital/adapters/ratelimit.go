package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

// ErrRateLimitExceeded is returned when a model's token bucket is empty.
var ErrRateLimitExceeded = &RateLimitError{Message: "rate limit exceeded"}

type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// tokenBucket rate-limits calls per model.
type tokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate time.Duration) *tokenBucket {
	return &tokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

func (tb *tokenBucket) acquire(model string) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, exists := tb.buckets[model]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: time.Now()}
		tb.buckets[model] = b
	}

	elapsed := time.Since(b.lastRefill)
	tokensToAdd := int(elapsed / tb.refillRate)
	if tokensToAdd > 0 {
		b.tokens = min(b.tokens+tokensToAdd, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(tokensToAdd) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return ErrRateLimitExceeded
	}
	b.tokens--
	return nil
}

// RateLimitedProvider enforces a per-model token bucket in front of the
// wrapped provider. Token counting is exempt; it is cheap accounting and
// already best-effort at the call sites.
type RateLimitedProvider struct {
	inner  ports.Provider
	bucket *tokenBucket
}

func NewRateLimitedProvider(inner ports.Provider, capacity int, refillRate time.Duration) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:  inner,
		bucket: newTokenBucket(capacity, refillRate),
	}
}

func (p *RateLimitedProvider) Generate(ctx context.Context, req ports.GenerateRequest) (ports.Completion, error) {
	if err := p.bucket.acquire(req.Model); err != nil {
		return ports.Completion{}, &ports.ProviderError{Model: req.Model, Message: "rate limited", Err: err}
	}
	return p.inner.Generate(ctx, req)
}

func (p *RateLimitedProvider) Stream(ctx context.Context, req ports.GenerateRequest) (<-chan ports.Chunk, error) {
	if err := p.bucket.acquire(req.Model); err != nil {
		return nil, &ports.ProviderError{Model: req.Model, Message: "rate limited", Err: err}
	}
	return p.inner.Stream(ctx, req)
}

func (p *RateLimitedProvider) CountTokens(ctx context.Context, model, prompt string) (int, error) {
	return p.inner.CountTokens(ctx, model, prompt)
}

var _ ports.Provider = (*RateLimitedProvider)(nil)
