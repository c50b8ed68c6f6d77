package ratelimit

import "context"

// Limiter spends one request from the budget of key.
type Limiter interface {
	// Allow reports whether the request fits b. Implementations return
	// ctx.Err() without spending anything when ctx is already done.
	Allow(ctx context.Context, key string, b Budget) (Decision, error)
}
