// Package memory holds in-process implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/mcp-router/internal/domain/ratelimit"
)

// Defaults used when the corresponding option is absent or not positive.
const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultIdleTTL       = time.Hour
)

// RateLimiter is a GCRA limiter keeping one theoretical arrival time (TAT)
// per key. Safe for concurrent use. Keys whose TAT is older than the idle
// TTL are dropped by the background sweeper started with Start.
type RateLimiter struct {
	mu    sync.Mutex
	tat   map[string]time.Time
	clock func() time.Time

	sweepInterval time.Duration
	idleTTL       time.Duration
	logger        *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithSweepInterval sets how often idle keys are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(r *RateLimiter) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithIdleTTL sets how long a key may stay idle before it is swept.
func WithIdleTTL(d time.Duration) Option {
	return func(r *RateLimiter) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithLogger sets the logger used for sweep reports.
func WithLogger(logger *slog.Logger) Option {
	return func(r *RateLimiter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRateLimiter creates an empty limiter. The sweeper is not running until
// Start is called.
func NewRateLimiter(opts ...Option) *RateLimiter {
	r := &RateLimiter{
		tat:           make(map[string]time.Time),
		clock:         time.Now,
		sweepInterval: DefaultSweepInterval,
		idleTTL:       DefaultIdleTTL,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow implements ratelimit.Limiter.
func (r *RateLimiter) Allow(ctx context.Context, key string, b ratelimit.Budget) (ratelimit.Decision, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Decision{}, err
	}
	interval := b.Interval()
	tolerance := b.Tolerance()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	tat := r.tat[key]
	if tat.Before(now) {
		tat = now
	}

	next := tat.Add(interval)
	if excess := next.Sub(now) - tolerance; excess > 0 {
		return ratelimit.Decision{RetryAfter: excess}, nil
	}
	r.tat[key] = next

	return ratelimit.Decision{
		Allowed:   true,
		Remaining: int((tolerance - next.Sub(now)) / interval),
	}, nil
}

// Start runs the sweeper until ctx is done or Stop is called.
func (r *RateLimiter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				if n := r.sweep(); n > 0 {
					r.logger.Debug("rate limiter swept idle keys", "removed", n, "remaining", r.Len())
				}
			}
		}
	}()
}

// sweep drops keys idle for longer than the TTL and returns how many went.
func (r *RateLimiter) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock().Add(-r.idleTTL)
	removed := 0
	for key, tat := range r.tat {
		if tat.Before(cutoff) {
			delete(r.tat, key)
			removed++
		}
	}
	return removed
}

// Stop ends the sweeper and waits for it. Safe to call more than once, and
// before Start.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tat)
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)
