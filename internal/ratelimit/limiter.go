// Package ratelimit provides keyed token-bucket rate limiting, used per host
// for outgoing fetches and per client IP for the HTTP API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (e *entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *entry) idle(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastSeen)
}

// Limiter tracks per-key request rates using a token bucket algorithm.
type Limiter struct {
	rate  rate.Limit
	burst int
	keys  sync.Map // map[string]*entry

	stop chan struct{}
	once sync.Once
}

// New creates a Limiter that allows r requests per second with the given burst size.
// A background goroutine evicts stale entries every 60 seconds.
// Call Stop to release resources.
func New(r float64, burst int) *Limiter {
	l := &Limiter{
		rate:  rate.Limit(r),
		burst: burst,
		stop:  make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) get(key string) *rate.Limiter {
	now := time.Now()
	v, _ := l.keys.LoadOrStore(key, &entry{
		limiter:  rate.NewLimiter(l.rate, l.burst),
		lastSeen: now,
	})
	e := v.(*entry)
	e.touch(now)
	return e.limiter
}

// Allow reports whether a request for key should be permitted now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait blocks until a request for key is permitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Stop terminates the background cleanup goroutine. It is safe to call more
// than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

const staleAfter = 5 * time.Minute

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.keys.Range(func(key, value any) bool {
		if value.(*entry).idle(now) > staleAfter {
			l.keys.Delete(key)
		}
		return true
	})
}
