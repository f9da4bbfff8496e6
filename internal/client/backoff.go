package client

import (
	"math/rand"
	"time"
)

// Backoff is an exponential retry schedule with bounded jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the maximum added fraction of the computed delay (0.1 = 10%).
	Jitter float64
}

// Delay returns the wait before retry number n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.BaseDelay
	for i := 1; i < n && d < b.MaxDelay; i++ {
		d *= 2
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}
