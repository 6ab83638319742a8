// Package ratelimit produces randomized politeness delays and linear
// retry backoff so request timing never looks machine-generated.
package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/crashlens/leadcrawler/internal/metrics"
)

// Limiter suspends callers for a random duration within [Min, Max].
// It is purely time-based and has no failure modes beyond context
// cancellation.
type Limiter struct {
	min  time.Duration
	max  time.Duration
	base time.Duration
}

// New builds a Limiter. Min and max are swapped if reversed; equal
// values behave as a fixed delay. base is the unit for Backoff waits.
func New(min, max, base time.Duration) *Limiter {
	if min < 0 {
		min = 0
	}
	if max < min {
		min, max = max, min
	}
	if base <= 0 {
		base = 2 * time.Second
	}
	return &Limiter{min: min, max: max, base: base}
}

// Wait suspends for a uniformly random duration within the configured
// window, or until the context finishes.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.pause(ctx, l.randomDelay())
}

// Backoff suspends for base*attempt before the next enrichment attempt
// (attempt is 1-indexed).
func (l *Limiter) Backoff(ctx context.Context, attempt int) error {
	if attempt < 1 {
		attempt = 1
	}
	return l.pause(ctx, l.base*time.Duration(attempt))
}

func (l *Limiter) randomDelay() time.Duration {
	window := l.max - l.min
	if window <= 0 {
		return l.min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(window)+1))
	if err != nil {
		return l.min + window/2
	}
	return l.min + time.Duration(n.Int64())
}

func (l *Limiter) pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait canceled: %w", ctx.Err())
	case <-timer.C:
		metrics.ObserveRateLimitDelay(delay)
		return nil
	}
}
