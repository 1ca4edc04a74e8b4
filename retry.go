package kemudi

import (
	"errors"
	"math/rand"
	"time"

	internalbackoff "github.com/prawiraga/kemudi/internal/backoff"
)

// Default status code sets. 408/429/5xx are worth retrying; straightforward
// client errors never are.
var (
	defaultRetryableStatusCodes    = []int{408, 429, 500, 502, 503, 504}
	defaultNonRetryableStatusCodes = []int{400, 401, 403, 404, 422}
)

// CustomRetryFunc overrides the policy's classification and delay computation
// entirely (the max-attempts ceiling still applies first).
type CustomRetryFunc func(err error, attempt int) RetryDecision

// RetryPolicyConfig enumerates every recognized retry knob with its default.
type RetryPolicyConfig struct {
	// MaxAttempts is the ceiling on attempt numbers: once attempt >=
	// MaxAttempts the policy always declines. Zero disables retries
	// entirely (a single attempt). DefaultRetryPolicy and the client
	// default use 3.
	MaxAttempts int
	// BaseDelay seeds the backoff computation. Default 100ms.
	BaseDelay time.Duration
	// MaxDelay caps any computed delay. Default 10s.
	MaxDelay time.Duration
	// Multiplier applies to the exponential strategy. Default 2.0.
	Multiplier float64
	// Classification selects the delay strategy. Default exponential.
	Classification Classification
	// Jitter multiplies the computed delay by a uniform factor in
	// [0.75, 1.25] to spread retries across clients. Default true.
	Jitter bool
	// RetryableStatusCodes retry by default; NonRetryableStatusCodes never
	// retry. A status in neither set is not retried.
	RetryableStatusCodes    []int
	NonRetryableStatusCodes []int
	// CheckNetworkStatus consults NetworkStatus before retrying: when the
	// environment reports offline the failure surfaces immediately rather
	// than wasting attempts. Default off.
	CheckNetworkStatus bool
	// NetworkStatus reports whether the environment is online. Only used
	// when CheckNetworkStatus is set.
	NetworkStatus func() bool
	// Custom, when set, replaces classification and delay computation.
	Custom CustomRetryFunc
}

// RetryPolicy is a pure decision function from (error, attempt) to a
// RetryDecision. It holds configuration only, no mutable state, so a single
// policy is safe to share across requests and goroutines.
type RetryPolicy struct {
	maxAttempts        int
	baseDelay          time.Duration
	maxDelay           time.Duration
	multiplier         float64
	classification     Classification
	jitter             bool
	retryable          map[int]struct{}
	nonRetryable       map[int]struct{}
	checkNetworkStatus bool
	networkStatus      func() bool
	custom             CustomRetryFunc
	calc               *internalbackoff.Calculator
}

// NewRetryPolicy builds a policy, applying defaults for zero-valued fields.
func NewRetryPolicy(cfg RetryPolicyConfig) *RetryPolicy {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Classification == ClassificationNone {
		cfg.Classification = ClassificationExponential
	}
	if cfg.RetryableStatusCodes == nil {
		cfg.RetryableStatusCodes = defaultRetryableStatusCodes
	}
	if cfg.NonRetryableStatusCodes == nil {
		cfg.NonRetryableStatusCodes = defaultNonRetryableStatusCodes
	}

	p := &RetryPolicy{
		maxAttempts:        cfg.MaxAttempts,
		baseDelay:          cfg.BaseDelay,
		maxDelay:           cfg.MaxDelay,
		multiplier:         cfg.Multiplier,
		classification:     cfg.Classification,
		jitter:             cfg.Jitter,
		retryable:          statusSet(cfg.RetryableStatusCodes),
		nonRetryable:       statusSet(cfg.NonRetryableStatusCodes),
		checkNetworkStatus: cfg.CheckNetworkStatus,
		networkStatus:      cfg.NetworkStatus,
		custom:             cfg.Custom,
		calc:               calculatorFor(cfg.Classification),
	}
	return p
}

// DefaultRetryPolicy returns a policy with all defaults: 3 attempts,
// exponential backoff from 100ms capped at 10s, jittered.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(RetryPolicyConfig{MaxAttempts: 3, Jitter: true})
}

// MaxAttempts returns the attempt ceiling.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Decide computes whether the given failed attempt should be retried. The
// attempt number starts at 1 for the first execution. Decide never returns an
// error itself; it only classifies one.
func (p *RetryPolicy) Decide(err error, attempt int) RetryDecision {
	if attempt >= p.maxAttempts {
		return RetryDecision{Reason: "max attempts exceeded"}
	}

	if p.custom != nil {
		return p.custom(err, attempt)
	}

	retryable, reason := p.classify(err)
	if !retryable {
		return RetryDecision{Reason: reason}
	}

	if p.checkNetworkStatus && p.networkStatus != nil && !p.networkStatus() {
		return RetryDecision{Reason: "network offline"}
	}

	delay := p.calc.Calculate(attempt, p.baseDelay, p.maxDelay, p.multiplier)
	if p.jitter && delay > 0 {
		// Uniform factor in [0.75, 1.25].
		delay = time.Duration(float64(delay) * (0.75 + 0.5*rand.Float64()))
	}

	return RetryDecision{
		ShouldRetry:    true,
		Delay:          delay,
		Classification: p.classification,
		Reason:         reason,
	}
}

// classify buckets an error into retryable or not, with a reason string.
func (p *RetryPolicy) classify(err error) (bool, string) {
	if err == nil {
		return false, "no error"
	}
	if isCancellation(err) {
		return false, "cancelled"
	}

	if status, ok := StatusCodeOf(err); ok {
		if _, blocked := p.nonRetryable[status]; blocked {
			return false, "non-retryable status"
		}
		if _, allowed := p.retryable[status]; allowed {
			return true, "retryable status"
		}
		return false, "status not retryable"
	}

	if isTimeout(err) {
		return true, "timeout"
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Type {
		case ErrorTypeNetwork:
			return true, "network error"
		case ErrorTypeQueueFull, ErrorTypeCancelled, ErrorTypeValidation:
			return false, "not retryable"
		}
	}

	// Unclassified errors are treated as network-level failures.
	return true, "network error"
}

func calculatorFor(c Classification) *internalbackoff.Calculator {
	switch c {
	case ClassificationImmediate:
		return internalbackoff.Immediate()
	case ClassificationFixed:
		return internalbackoff.Fixed()
	case ClassificationLinear:
		return internalbackoff.Linear()
	default:
		return internalbackoff.Exponential()
	}
}

func statusSet(codes []int) map[int]struct{} {
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}
