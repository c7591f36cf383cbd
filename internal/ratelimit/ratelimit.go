package ratelimit

import (
	"context"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

type keyState struct {
	mu         sync.Mutex
	lastAction time.Time
	interval   time.Duration
}

// KeyedLimiter enforces a minimum spacing between calls that share a key.
// Callers on different keys never block each other.
type KeyedLimiter struct {
	mu              sync.Mutex
	keys            map[string]*keyState
	intervals       map[string]time.Duration
	defaultInterval time.Duration
}

func NewKeyedLimiter(defaultInterval time.Duration, intervals map[string]time.Duration) *KeyedLimiter {
	iv := make(map[string]time.Duration, len(intervals))
	for k, v := range intervals {
		iv[k] = v
	}
	return &KeyedLimiter{
		keys:            make(map[string]*keyState),
		intervals:       iv,
		defaultInterval: defaultInterval,
	}
}

func (l *KeyedLimiter) state(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.keys[key]
	if !ok {
		interval, found := l.intervals[key]
		if !found {
			interval = l.defaultInterval
		}
		s = &keyState{interval: interval}
		l.keys[key] = s
	}
	return s
}

// Wait blocks until the key's interval has elapsed since its previous call.
// The first call for a key returns immediately. Each caller reserves the
// next free slot and sleeps without holding the key's lock, so interval
// reads and updates never wait behind a sleeping caller.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	s := l.state(key)

	s.mu.Lock()
	prev := s.lastAction
	now := time.Now()
	slot := now
	if !prev.IsZero() {
		if next := prev.Add(s.interval); next.After(now) {
			slot = next
		}
	}
	s.lastAction = slot
	s.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		// Give the slot back unless a later caller already queued behind it.
		if s.lastAction.Equal(slot) {
			s.lastAction = prev
		}
		s.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Interval returns the spacing currently applied to key.
func (l *KeyedLimiter) Interval(key string) time.Duration {
	s := l.state(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

const (
	maxAdaptiveInterval = 60 * time.Second
	errorThreshold      = 3
	backoffFactor       = 1.5
	relaxAfter          = 5
)

type adaptiveCounters struct {
	base      time.Duration
	errors    int
	successes int
}

// AdaptiveLimiter widens a key's interval after repeated errors and relaxes it
// back toward the configured base after a run of successes.
type AdaptiveLimiter struct {
	*KeyedLimiter
	mu       sync.Mutex
	counters map[string]*adaptiveCounters
}

func NewAdaptiveLimiter(defaultInterval time.Duration, intervals map[string]time.Duration) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		KeyedLimiter: NewKeyedLimiter(defaultInterval, intervals),
		counters:     make(map[string]*adaptiveCounters),
	}
}

func (a *AdaptiveLimiter) counter(key string) *adaptiveCounters {
	c, ok := a.counters[key]
	if !ok {
		c = &adaptiveCounters{base: a.baseInterval(key)}
		a.counters[key] = c
	}
	return c
}

// baseInterval is the configured spacing for key, read without touching the
// key's state.
func (a *AdaptiveLimiter) baseInterval(key string) time.Duration {
	a.KeyedLimiter.mu.Lock()
	defer a.KeyedLimiter.mu.Unlock()
	if iv, ok := a.intervals[key]; ok {
		return iv
	}
	return a.defaultInterval
}

// RecordSuccess relaxes key's spacing by 10% after a run of successes, never
// below the configured base.
func (a *AdaptiveLimiter) RecordSuccess(key string) {
	a.mu.Lock()
	c := a.counter(key)
	c.successes++
	c.errors = 0
	relax := c.successes > relaxAfter
	if relax {
		c.successes = 0
	}
	base := c.base
	a.mu.Unlock()

	if !relax {
		return
	}
	a.adjust(key, func(cur time.Duration) time.Duration {
		return max(time.Duration(float64(cur)*0.9), base)
	})
}

// RecordError widens key's spacing after repeated errors, up to a minute.
func (a *AdaptiveLimiter) RecordError(key string) {
	a.mu.Lock()
	c := a.counter(key)
	c.errors++
	c.successes = 0
	widen := c.errors >= errorThreshold
	if widen {
		c.errors = 0
	}
	a.mu.Unlock()

	if !widen {
		return
	}
	a.adjust(key, func(cur time.Duration) time.Duration {
		return min(time.Duration(float64(cur)*backoffFactor), maxAdaptiveInterval)
	})
}

func (a *AdaptiveLimiter) adjust(key string, next func(time.Duration) time.Duration) {
	s := a.state(key)
	s.mu.Lock()
	s.interval = next(s.interval)
	s.mu.Unlock()
}
