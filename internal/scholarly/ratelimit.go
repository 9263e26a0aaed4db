package scholarly

import (
	"context"
	"sync"
	"time"
)

// limiter enforces at most K calls per rolling T-second window across the
// whole process (spec §4.3). It's a hand-rolled arrival-timestamp log
// rather than golang.org/x/time/rate's token-bucket: the spec's contract is
// explicit about the algorithm ("maintain the arrival timestamps of the
// last <=K admitted calls; evict entries older than now-T; if K remain,
// sleep until the oldest ages out"), which a continuous-refill bucket
// doesn't reproduce exactly at the boundary. See DESIGN.md.
type limiter struct {
	mu        sync.Mutex
	k         int
	window    time.Duration
	arrivals  []time.Time
	sleepFunc func(context.Context, time.Duration) error
}

func newLimiter(k int, window time.Duration) *limiter {
	return &limiter{
		k:         k,
		window:    window,
		arrivals:  make([]time.Time, 0, k),
		sleepFunc: sleepCtx,
	}
}

// acquire blocks until the caller is permitted to make a call, or returns
// ctx.Err() if ctx is cancelled first.
func (l *limiter) acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.evict(now)

		if len(l.arrivals) < l.k {
			l.arrivals = append(l.arrivals, now)
			l.mu.Unlock()
			return nil
		}

		oldest := l.arrivals[0]
		wait := l.window - now.Sub(oldest)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := l.sleepFunc(ctx, wait); err != nil {
			return err
		}
	}
}

// evict drops arrivals older than the rolling window. Caller holds l.mu.
func (l *limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.arrivals) && !l.arrivals[i].After(cutoff) {
		i++
	}
	l.arrivals = l.arrivals[i:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
