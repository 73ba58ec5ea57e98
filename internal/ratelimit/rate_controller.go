package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/anders94/stablecoin-wars-backend/internal/errors"
)

// EndpointLimiter gates calls against one RPC endpoint. Every Acquire
// passes through two layers: an in-process golang.org/x/time/rate.Limiter
// that smooths bursts and serves waiters FIFO within this process, then the
// Redis-durable TokenBucket that enforces the budget across every process
// sharing the endpoint. A call that can't get a token within the
// configured timeout returns errors.RateLimitStalled rather than blocking
// indefinitely, per §5's stall policy.
type EndpointLimiter struct {
	id      uuid.UUID
	bucket  *TokenBucket
	local   *rate.Limiter
	timeout time.Duration
}

func newEndpointLimiter(id uuid.UUID, bucket *TokenBucket, rps float64, burst int, timeout time.Duration) *EndpointLimiter {
	return &EndpointLimiter{
		id:      id,
		bucket:  bucket,
		local:   rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

// Acquire blocks until one call against this endpoint is permitted, or
// returns errors.RateLimitStalled once the hard timeout elapses.
func (l *EndpointLimiter) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.local.Wait(ctx); err != nil {
		return errors.NewRateLimitStalled(l.id.String())
	}

	key := "ratelimit:endpoint:" + l.id.String()
	for {
		allowed, retryAfter, err := l.bucket.consume(ctx, key, float64(l.local.Limit()), l.local.Burst())
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.NewRateLimitStalled(l.id.String())
		case <-time.After(retryAfter):
		}
	}
}

// Registry caches one EndpointLimiter per endpoint id, so every caller in
// the process shares the same in-process smoothing limiter for a given
// endpoint rather than each constructing its own.
type Registry struct {
	bucket  *TokenBucket
	timeout time.Duration

	mu        sync.Mutex
	limiters  map[uuid.UUID]*EndpointLimiter
}

func NewRegistry(bucket *TokenBucket, timeout time.Duration) *Registry {
	return &Registry{
		bucket:   bucket,
		timeout:  timeout,
		limiters: make(map[uuid.UUID]*EndpointLimiter),
	}
}

// Acquire blocks until a call against endpointID is permitted, creating
// the endpoint's limiter on first use from rps/burst. If rps/burst differ
// from the cached limiter's configuration, the bucket is replaced
// atomically per §4.2's reconfiguration rule; an acquisition already
// in flight against the old limiter is left to complete on it.
func (r *Registry) Acquire(ctx context.Context, endpointID uuid.UUID, rps float64, burst int) error {
	r.mu.Lock()
	l, ok := r.limiters[endpointID]
	if !ok || l.local.Limit() != rate.Limit(rps) || l.local.Burst() != burst {
		l = newEndpointLimiter(endpointID, r.bucket, rps, burst, r.timeout)
		r.limiters[endpointID] = l
	}
	r.mu.Unlock()

	return l.Acquire(ctx)
}
