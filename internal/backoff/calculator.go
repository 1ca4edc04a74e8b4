package backoff

import "time"

// Calculator provides backoff calculation using a configurable strategy.
// It centralizes delay math so the retry policy stays a pure decision layer.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the un-jittered delay for the given attempt.
func (c *Calculator) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier float64) time.Duration {
	return c.strategy.Calculate(attempt, baseDelay, maxDelay, multiplier)
}

// Strategy returns the strategy backing this calculator.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}

// Immediate returns a calculator that never delays.
func Immediate() *Calculator { return NewCalculator(ImmediateStrategy{}) }

// Fixed returns a calculator with a constant delay.
func Fixed() *Calculator { return NewCalculator(FixedStrategy{}) }

// Linear returns a calculator whose delay grows linearly with attempts.
func Linear() *Calculator { return NewCalculator(LinearStrategy{}) }

// Exponential returns a calculator whose delay doubles per attempt.
func Exponential() *Calculator { return NewCalculator(ExponentialStrategy{}) }
