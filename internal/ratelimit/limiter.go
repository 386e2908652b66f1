package ratelimit

import "context"

// RateLimiter controls call throughput per named resource.
type RateLimiter interface {
	Allow(ctx context.Context, resource string) (bool, error)
	Wait(ctx context.Context, resource string) error
}
