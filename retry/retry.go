// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package retry implements the exponential-backoff-with-jitter policy
// shared by the discovery client (ribbit) and the archive range fetcher
// (cdn/fetch): both retry a transient failure with doubling delay capped at
// a ceiling, jittered by a fixed fraction, before giving up on the current
// host/protocol and failing over to the next one.
package retry

import (
	"math/rand"
	"time"
)

// Policy describes one backoff sequence.
type Policy struct {
	MaxAttempts int // total attempts including the first, not just retries
	Initial     time.Duration
	Max         time.Duration
	JitterFrac  float64
}

// Delay returns the backoff delay before attempt number n (1-indexed: the
// delay before the 2nd attempt is Delay(1)), doubling from Initial and
// capped at Max, jittered by ±JitterFrac.
func (p Policy) Delay(n int) time.Duration {
	d := p.Initial
	for i := 1; i < n; i++ {
		d *= 2
		if d > p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return jitter(d, p.JitterFrac)
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// RetryAfter honors an HTTP Retry-After delay when present, else falls back
// to the policy's computed delay for rate-limited (429) responses.
func (p Policy) RetryAfter(n int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	return p.Delay(n)
}
