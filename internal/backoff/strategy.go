package backoff

import "time"

// Strategy defines the interface for backoff calculation algorithms.
// Attempt numbering starts at 1 (the first failed attempt).
type Strategy interface {
	// Calculate returns the un-jittered delay before retrying after the
	// given failed attempt.
	Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier float64) time.Duration
}

// ImmediateStrategy retries with no delay at all.
type ImmediateStrategy struct{}

// Calculate implements Strategy.
func (ImmediateStrategy) Calculate(int, time.Duration, time.Duration, float64) time.Duration {
	return 0
}

// FixedStrategy waits the base delay before every retry.
type FixedStrategy struct{}

// Calculate implements Strategy.
func (FixedStrategy) Calculate(_ int, baseDelay, maxDelay time.Duration, _ float64) time.Duration {
	return capDelay(baseDelay, maxDelay)
}

// LinearStrategy waits baseDelay * attempt.
type LinearStrategy struct{}

// Calculate implements Strategy.
func (LinearStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, _ float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capDelay(baseDelay*time.Duration(attempt), maxDelay)
}

// ExponentialStrategy waits baseDelay * multiplier^(attempt-1), capped at
// maxDelay.
type ExponentialStrategy struct{}

// Calculate implements Strategy.
func (ExponentialStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Prevent overflow by limiting the exponent.
	exp := attempt - 1
	if exp > 30 {
		exp = 30
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := time.Duration(float64(baseDelay) * Pow(multiplier, exp))
	if delay < 0 {
		delay = maxDelay
	}
	return capDelay(delay, maxDelay)
}

func capDelay(delay, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	if delay < 0 {
		return 0
	}
	return delay
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
