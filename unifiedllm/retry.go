package unifiedllm

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries  int     // total attempts, including the first
	BackoffBase float64 // seconds
	BackoffMax  float64 // seconds, caps every delay including Retry-After
	JitterMax   float64 // upper bound of the uniform jitter added to computed backoff
	OnRetry     func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 1.0,
		BackoffMax:  30.0,
		JitterMax:   0.25,
	}
}

// Delay returns the wait before the next attempt after n failed attempts
// (n >= 1). A server-provided Retry-After wins over computed backoff.
func (p RetryPolicy) Delay(n int, retryAfter *float64) time.Duration {
	if n < 1 {
		n = 1
	}
	var secs float64
	if retryAfter != nil {
		secs = *retryAfter
	} else {
		secs = p.BackoffBase * math.Pow(2, float64(n-1))
		if p.JitterMax > 0 {
			secs += rand.Float64() * p.JitterMax
		}
	}
	secs = math.Max(0, math.Min(secs, p.BackoffMax))
	return time.Duration(secs * float64(time.Second))
}

// Retry executes fn until it succeeds, fails with a non-retryable error, or
// MaxRetries attempts have been made. The last error is returned unchanged.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) || attempt >= attempts {
			return zero, err
		}

		delay := policy.Delay(attempt, RetryAfter(err))
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
