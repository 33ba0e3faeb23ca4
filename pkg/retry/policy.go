package retry

import (
	"errors"
	"math"
	"time"
)

// ErrMaxRetriesExceeded is returned once every attempt allowed by the policy has failed
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy describes how many times and how far apart an operation is retried
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// RetryableFunc overrides the default classification when set
	RetryableFunc func(error) bool
}

// DefaultPolicy retries three times starting at 200ms
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
	}
}

// Validate checks the policy is usable
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return errors.New("backoff durations must not be negative")
	}
	if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
		return errors.New("initial backoff exceeds max backoff")
	}
	if p.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	return nil
}

// Backoff computes the wait before a given retry attempt
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator for the policy
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the wait before retry attempt n (1-based), capped at MaxBackoff
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(b.policy.InitialBackoff) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if b.policy.MaxBackoff > 0 && d > float64(b.policy.MaxBackoff) {
		return b.policy.MaxBackoff
	}
	return time.Duration(d)
}
