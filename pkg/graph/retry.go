package graph

import (
	"fmt"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// Backoff strategies accepted in a retry policy.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Retrier is a retry policy with its durations parsed.
type Retrier struct {
	Errors   []string
	Max      int
	Backoff  string
	Delay    time.Duration
	MaxDelay time.Duration
}

// NewRetrier validates policy and parses its durations. A nil policy
// yields a nil Retrier.
func NewRetrier(policy *schema.RetryPolicy) (*Retrier, error) {
	if policy == nil {
		return nil, nil
	}
	if policy.Max < 0 {
		return nil, fmt.Errorf("retry max must be >= 0, got %d", policy.Max)
	}

	r := &Retrier{
		Errors:  policy.Errors,
		Max:     policy.Max,
		Backoff: policy.Backoff,
	}
	switch r.Backoff {
	case "":
		r.Backoff = BackoffNone
	case BackoffNone, BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return nil, fmt.Errorf("unknown retry backoff %q", policy.Backoff)
	}

	var err error
	if policy.Delay != "" {
		if r.Delay, err = time.ParseDuration(policy.Delay); err != nil {
			return nil, fmt.Errorf("retry delay: %w", err)
		}
	}
	if policy.MaxDelay != "" {
		if r.MaxDelay, err = time.ParseDuration(policy.MaxDelay); err != nil {
			return nil, fmt.Errorf("retry max_delay: %w", err)
		}
	}
	return r, nil
}

// DelayFor returns the wait before retry attempt (0-based), capped at
// MaxDelay when one is set.
func (r *Retrier) DelayFor(attempt int) time.Duration {
	if r == nil || r.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch r.Backoff {
	case BackoffExponential:
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = r.Delay * multiplier
	case BackoffLinear:
		delay = r.Delay * time.Duration(attempt+1)
	default:
		delay = r.Delay
	}

	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// Schedule returns the delay before each of the Max attempts.
func (r *Retrier) Schedule() []time.Duration {
	if r == nil {
		return nil
	}
	out := make([]time.Duration, r.Max)
	for i := range out {
		out[i] = r.DelayFor(i)
	}
	return out
}
