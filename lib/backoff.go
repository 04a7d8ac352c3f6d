package lib

import (
	"math"
	"time"
)

// RetryPolicy bounds a retransmission loop.
type RetryPolicy struct {
	MaxRetries     int           // maximum number of transmissions (-1 for infinite)
	InitialTimeout time.Duration // first reply timeout
	MinTimeout     time.Duration // floor applied to every timeout
	MaxTimeout     time.Duration // ceiling applied to every timeout
	Multiplier     float64       // growth factor per retransmission
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     10,
		InitialTimeout: InitialTimeout,
		MinTimeout:     MinTimeout,
		MaxTimeout:     MaxTimeout,
		Multiplier:     2.0,
	}
}

// Unlimited returns a copy of p that never exhausts.
func (p RetryPolicy) Unlimited() RetryPolicy {
	p.MaxRetries = -1
	return p
}

func (p RetryPolicy) NewBackoff() *Backoff {
	return &Backoff{policy: p, timeout: p.clamp(p.InitialTimeout)}
}

func (p RetryPolicy) clamp(d time.Duration) time.Duration {
	if d < p.MinTimeout {
		d = p.MinTimeout
	}
	if p.MaxTimeout > 0 && d > p.MaxTimeout {
		d = p.MaxTimeout
	}
	return d
}

// Backoff tracks one retransmission loop. Not safe for concurrent use.
type Backoff struct {
	policy   RetryPolicy
	timeout  time.Duration
	attempts int
	retries  int // unanswered transmissions so far
}

// Timeout is how long to wait for a reply to the latest transmission.
func (b *Backoff) Timeout() time.Duration {
	return b.timeout
}

func (b *Backoff) Attempts() int {
	return b.attempts
}

// Attempt records a transmission. It returns false, without recording,
// when the policy allows no further transmissions.
func (b *Backoff) Attempt() bool {
	if b.Exhausted() {
		return false
	}
	b.attempts++
	return true
}

func (b *Backoff) Exhausted() bool {
	return b.policy.MaxRetries >= 0 && b.attempts >= b.policy.MaxRetries
}

// Next grows the timeout after an unanswered transmission: the clamped
// initial timeout times multiplier^retries, capped at MaxTimeout.
func (b *Backoff) Next() time.Duration {
	b.retries++
	base := b.policy.clamp(b.policy.InitialTimeout)
	b.timeout = b.policy.clamp(CalculateBackoffDuration(b.retries, base, b.policy.MaxTimeout, b.policy.Multiplier))
	return b.timeout
}

// CalculateBackoffDuration returns initialBackoff*multiplier^retryCount capped
// at maxBackoff. A multiplier <= 0 doubles and a maxBackoff <= 0 means no cap.
func CalculateBackoffDuration(retryCount int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if maxBackoff <= 0 {
		maxBackoff = time.Duration(math.MaxInt64)
	}
	// compare in float64 so a large retry count cannot overflow the conversion
	backoff := float64(initialBackoff) * math.Pow(multiplier, float64(retryCount))
	if backoff >= float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(backoff)
}
