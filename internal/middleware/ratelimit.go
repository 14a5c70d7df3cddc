package middleware

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Limit allows Count calls per Window. A zero Count disables limiting.
type Limit struct {
	Count  int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
}

// pruned marks a state Prune has retired. Allow never counts against it.
var pruned = &window{}

// RateLimiter counts calls per (session, tool) in fixed windows that reset
// once Window has elapsed since the first call. Each key's state is
// replaced by compare-and-swap, so concurrent callers never share a count.
type RateLimiter struct {
	def     Limit
	perTool map[string]Limit
	now     func() time.Time
	states  sync.Map // key -> *atomic.Pointer[window]
}

func NewRateLimiter(def Limit, perTool map[string]Limit) *RateLimiter {
	return &RateLimiter{def: def, perTool: perTool, now: time.Now}
}

// WithClock swaps the time source. Tests only.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.now = now
	return r
}

func (r *RateLimiter) limitFor(tool string) Limit {
	if l, ok := r.perTool[tool]; ok {
		return l
	}
	return r.def
}

func key(session, tool string) string {
	return session + "\x00" + tool
}

func (r *RateLimiter) state(k string) *atomic.Pointer[window] {
	if v, ok := r.states.Load(k); ok {
		return v.(*atomic.Pointer[window])
	}
	v, _ := r.states.LoadOrStore(k, new(atomic.Pointer[window]))
	return v.(*atomic.Pointer[window])
}

// Allow records one call or returns *RateLimitedError.
func (r *RateLimiter) Allow(session, tool string) error {
	limit := r.limitFor(tool)
	if limit.Count <= 0 || limit.Window <= 0 {
		return nil
	}
	k := key(session, tool)
	ptr := r.state(k)
	for {
		now := r.now()
		cur := ptr.Load()
		if cur == pruned {
			r.states.CompareAndDelete(k, ptr)
			ptr = r.state(k)
			continue
		}
		var next *window
		switch {
		case cur == nil || now.Sub(cur.start) >= limit.Window:
			next = &window{start: now, count: 1}
		case cur.count >= limit.Count:
			retry := cur.start.Add(limit.Window).Sub(now)
			if retry <= 0 {
				retry = time.Millisecond
			}
			return &RateLimitedError{Limit: limit.Count, Window: limit.Window, RetryAfter: retry}
		default:
			next = &window{start: cur.start, count: cur.count + 1}
		}
		if ptr.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Prune drops keys whose window has fully elapsed. A key is retired by
// swapping in the pruned marker first, so an Allow racing with Prune
// either lands before the swap or retries on a fresh state.
func (r *RateLimiter) Prune() {
	now := r.now()
	r.states.Range(func(k, v any) bool {
		ptr := v.(*atomic.Pointer[window])
		cur := ptr.Load()
		if cur == pruned {
			r.states.CompareAndDelete(k, v)
			return true
		}
		_, tool, _ := strings.Cut(k.(string), "\x00")
		if cur != nil && now.Sub(cur.start) < r.limitFor(tool).Window {
			return true
		}
		if ptr.CompareAndSwap(cur, pruned) {
			r.states.CompareAndDelete(k, v)
		}
		return true
	})
}

// PruneEvery calls Prune on each tick until ctx ends.
func (r *RateLimiter) PruneEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune()
		}
	}
}

// Len reports how many keys are tracked.
func (r *RateLimiter) Len() int {
	n := 0
	r.states.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
