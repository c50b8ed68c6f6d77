package memory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/mcp-router/internal/domain/ratelimit"
)

// manualClock is a clock that only moves when advanced.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, opts ...Option) (*RateLimiter, *manualClock) {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	r := NewRateLimiter(opts...)
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r.clock = clock.Now
	return r, clock
}

func TestRateLimiter_FirstRequest(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter(t)
	d, err := r.Allow(context.Background(), ratelimit.PeerKey("10.0.0.1"), ratelimit.PerMinute(10, 5))
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d.Remaining != 4 {
		t.Errorf("Remaining = %d, want 4", d.Remaining)
	}
}

func TestRateLimiter_BurstThenRefuse(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter(t)
	b := ratelimit.Budget{Rate: 1, Burst: 3, Period: time.Second}

	for i := 0; i < 3; i++ {
		d, err := r.Allow(context.Background(), "k", b)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should fit the burst", i)
		}
		if want := 2 - i; d.Remaining != want {
			t.Errorf("request %d: Remaining = %d, want %d", i, d.Remaining, want)
		}
	}

	d, err := r.Allow(context.Background(), "k", b)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if d.Allowed {
		t.Fatal("request past the burst should be refused")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s", d.RetryAfter)
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	t.Parallel()

	r, clock := newTestLimiter(t)
	b := ratelimit.Budget{Rate: 2, Burst: 1, Period: time.Second}

	if d, _ := r.Allow(context.Background(), "k", b); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d, _ := r.Allow(context.Background(), "k", b); d.Allowed {
		t.Fatal("immediate second request should be refused")
	}

	clock.Advance(499 * time.Millisecond)
	if d, _ := r.Allow(context.Background(), "k", b); d.Allowed {
		t.Fatal("request before one interval should be refused")
	}

	clock.Advance(time.Millisecond)
	if d, _ := r.Allow(context.Background(), "k", b); !d.Allowed {
		t.Error("request after one interval should be allowed")
	}
}

func TestRateLimiter_RefusalDoesNotSpend(t *testing.T) {
	t.Parallel()

	r, clock := newTestLimiter(t)
	b := ratelimit.Budget{Rate: 1, Burst: 1, Period: time.Second}

	_, _ = r.Allow(context.Background(), "k", b)
	for i := 0; i < 10; i++ {
		_, _ = r.Allow(context.Background(), "k", b)
	}

	clock.Advance(time.Second)
	if d, _ := r.Allow(context.Background(), "k", b); !d.Allowed {
		t.Error("refused requests must not push the arrival time further out")
	}
}

func TestRateLimiter_PeersAreIndependent(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter(t)
	b := ratelimit.Budget{Rate: 1, Burst: 1, Period: time.Second}
	a, c := ratelimit.PeerKey("10.0.0.1"), ratelimit.PeerKey("10.0.0.2")

	if d, _ := r.Allow(context.Background(), a, b); !d.Allowed {
		t.Fatal("first request for a should be allowed")
	}
	if d, _ := r.Allow(context.Background(), a, b); d.Allowed {
		t.Fatal("second request for a should be refused")
	}
	if d, _ := r.Allow(context.Background(), c, b); !d.Allowed {
		t.Error("c should have its own budget")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRateLimiter_ConcurrentAllowStaysWithinBurst(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter(t)
	b := ratelimit.Budget{Rate: 1, Burst: 10, Period: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Allow(context.Background(), "shared", b)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want exactly the burst of 10", allowed)
	}
}

func TestRateLimiter_DoneContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRateLimiter()
	if _, err := r.Allow(ctx, "k", ratelimit.PerMinute(10, 0)); err == nil {
		t.Error("Allow() with a done context should fail")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	t.Parallel()

	r, clock := newTestLimiter(t, WithIdleTTL(time.Hour))
	b := ratelimit.PerMinute(60, 0)

	_, _ = r.Allow(context.Background(), "idle", b)
	clock.Advance(2 * time.Hour)
	_, _ = r.Allow(context.Background(), "active", b)

	if n := r.sweep(); n != 1 {
		t.Errorf("sweep() removed %d, want 1", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", r.Len())
	}
}

func TestRateLimiter_OptionsIgnoreNonPositive(t *testing.T) {
	r := NewRateLimiter(WithSweepInterval(0), WithIdleTTL(-time.Second), WithLogger(nil))
	if r.sweepInterval != DefaultSweepInterval {
		t.Errorf("sweepInterval = %v, want default", r.sweepInterval)
	}
	if r.idleTTL != DefaultIdleTTL {
		t.Errorf("idleTTL = %v, want default", r.idleTTL)
	}
	if r.logger == nil {
		t.Error("logger should keep its default")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRateLimiter(WithSweepInterval(10 * time.Millisecond))
	r.Start(context.Background())

	r.Stop()
	r.Stop()
}

func TestRateLimiter_StopBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRateLimiter()
	r.Stop()
}

func TestRateLimiter_SweeperExitsOnContextDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRateLimiter(WithSweepInterval(10 * time.Millisecond))
	r.Start(ctx)

	cancel()
	r.wg.Wait()
}
