package network

import "time"

// Retry tracks the delay between attempts of a polled network operation.
// The delay doubles after every failure but never exceeds base*cap,
// so for base=1s and cap=3 the sequence is 1s, 2s, 3s, 3s, ...
type Retry struct {
	base time.Duration
	max  time.Duration
	t    time.Duration
}

func NewRetry(base time.Duration, cap int) Retry {
	if base <= 0 {
		base = time.Second
	}
	if cap < 1 {
		cap = 1
	}
	return Retry{base: base, max: base * time.Duration(cap), t: base}
}

// Fail returns the delay to wait before the next attempt and
// advances the backoff.
func (r *Retry) Fail() time.Duration {
	d := r.t
	r.t *= 2
	if r.t > r.max {
		r.t = r.max
	}
	return d
}

func (r *Retry) Success()            { r.t = r.base }
func (r *Retry) Time() time.Duration { return r.t }
