package syncqueue

import (
	"math"
	"time"
)

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64

	// rand returns a value in [0, 1).
	rand func() float64
}

// nextDelay returns the wait after the n-th failed attempt (n >= 1):
// initialDelay * multiplier^(n-1), capped at maxDelay, then jittered.
func (eb *exponentialBackoff) nextDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	delay := float64(eb.initialDelay) * math.Pow(eb.multiplier, float64(n-1))
	if delay > float64(eb.maxDelay) || math.IsInf(delay, 1) {
		delay = float64(eb.maxDelay)
	}

	if eb.jitter > 0 && eb.rand != nil {
		delay *= 1 + eb.jitter*(2*eb.rand()-1)
	}
	if delay > float64(eb.maxDelay) {
		delay = float64(eb.maxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
