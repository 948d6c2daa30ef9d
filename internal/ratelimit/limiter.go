package ratelimit

import "context"

// RateLimiter throttles outbound sends per limiter key. The delivery worker
// keys by channel name (email, sms, push) so one slow provider cannot starve
// the others; the broadcast worker uses its own "broadcast" key.
type RateLimiter interface {
	// Allow reports whether one send may go out now under the key's budget.
	Allow(ctx context.Context, key string) (bool, error)
	// Wait blocks until the key's budget admits a send or ctx is done.
	Wait(ctx context.Context, key string) error
}
