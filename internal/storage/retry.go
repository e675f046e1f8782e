package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy bounds Retry. Zero values fall back to 3 attempts, 100ms base and
// 5s max delay.
type Policy struct {
	Max      int // total attempts, including the first
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64 // +/- fraction, default 0.2
}

func (p Policy) withDefaults() Policy {
	if p.Max <= 0 {
		p.Max = 3
	}
	if p.Base <= 0 {
		p.Base = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// Retry calls fn until it succeeds, returns a permanent error, the context
// ends, or p.Max attempts were made. ErrNotFound, state conflicts and
// context errors are permanent.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var err error
	for attempt := 1; attempt <= p.Max; attempt++ {
		err = fn(ctx)
		if err == nil || Permanent(err) {
			return err
		}
		if attempt == p.Max {
			break
		}
		t := time.NewTimer(Backoff(p.Base, p.MaxDelay, p.Jitter, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// Permanent reports errors that retrying cannot fix.
func Permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrOutOfRange) ||
		IsConflict(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns base doubled per retry, capped at maxD, with +/- jitter.
func Backoff(base, maxD time.Duration, jitter float64, retry int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if maxD <= 0 {
		maxD = 15 * time.Second
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > maxD {
			d = maxD
			break
		}
	}
	if jitter > 0 {
		r := (rand.Float64()*2 - 1) * jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}
