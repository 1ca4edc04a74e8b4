package kemudi

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Option configures a Client during construction.
type Option func(*Client)

// WithMaxConcurrency sets how many submissions may execute simultaneously.
func WithMaxConcurrency(n int) Option {
	return func(c *Client) {
		c.maxConcurrent = n
	}
}

// WithQueueSize sets the maximum number of submissions waiting for a slot.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		c.maxQueueSize = n
	}
}

// WithPriorityQueueing makes the gate pop the highest-priority waiter first
// instead of strict FIFO. Ties are broken by arrival order.
func WithPriorityQueueing() Option {
	return func(c *Client) {
		c.priorityQueueing = true
	}
}

// WithConcurrencyGate sets a pre-built gate, overriding the concurrency and
// queue size options.
func WithConcurrencyGate(gate *ConcurrencyGate) Option {
	return func(c *Client) {
		c.gate = gate
	}
}

// WithCache enables the in-memory cache with the given TTL.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheEnabled = true
		c.cacheTTL = ttl
	}
}

// WithCacheMaxEntries bounds the in-memory cache size.
func WithCacheMaxEntries(n int) Option {
	return func(c *Client) {
		c.cacheMaxEntries = n
	}
}

// WithCacheSweep runs a periodic background sweep that removes expired
// entries from the in-memory cache. Without it expiry is purely lazy.
func WithCacheSweep(interval time.Duration) Option {
	return func(c *Client) {
		c.cacheSweepEvery = interval
	}
}

// WithCustomCache sets a custom cache implementation.
func WithCustomCache(store CacheStore, ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheEnabled = true
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithRedisCache enables caching backed by a Redis instance. The prefix
// namespaces this client's keys; pass "" for the default.
func WithRedisCache(client *redis.Client, prefix string, ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheEnabled = true
		c.cache = NewRedisCache(client, prefix, c.logger)
		c.cacheTTL = ttl
	}
}

// WithCacheCondition sets a custom cache condition function.
func WithCacheCondition(fn CacheCondition) Option {
	return func(c *Client) {
		c.cacheCondition = fn
	}
}

// WithKeyFields selects which request fields feed the fingerprint.
func WithKeyFields(fields KeyFields) Option {
	return func(c *Client) {
		c.keyFields = fields
	}
}

// WithDeduplication enables in-flight request coalescing.
func WithDeduplication() Option {
	return func(c *Client) {
		c.dedupEnabled = true
	}
}

// WithDeduplicationCondition sets a custom deduplication condition function.
func WithDeduplicationCondition(fn DedupCondition) Option {
	return func(c *Client) {
		c.dedupCondition = fn
	}
}

// WithMaxAttempts sets the retry attempt ceiling. Zero disables retries: the
// executor runs exactly once and any failure surfaces immediately.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.retryConfig.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial backoff duration.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryConfig.BaseDelay = d
	}
}

// WithMaxDelay caps computed backoff delays.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryConfig.MaxDelay = d
	}
}

// WithBackoffMultiplier sets the exponential backoff multiplier.
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.retryConfig.Multiplier = f
	}
}

// WithClassification selects the backoff strategy.
func WithClassification(class Classification) Option {
	return func(c *Client) {
		c.retryConfig.Classification = class
	}
}

// WithJitter toggles randomized delay spreading.
func WithJitter(enabled bool) Option {
	return func(c *Client) {
		c.retryConfig.Jitter = enabled
	}
}

// WithRetryableStatusCodes replaces the default retryable status set.
func WithRetryableStatusCodes(codes []int) Option {
	return func(c *Client) {
		c.retryConfig.RetryableStatusCodes = codes
	}
}

// WithNonRetryableStatusCodes replaces the default non-retryable status set.
func WithNonRetryableStatusCodes(codes []int) Option {
	return func(c *Client) {
		c.retryConfig.NonRetryableStatusCodes = codes
	}
}

// WithNetworkStatusCheck consults fn before each retry; when it reports
// offline the failure surfaces immediately.
func WithNetworkStatusCheck(fn func() bool) Option {
	return func(c *Client) {
		c.retryConfig.CheckNetworkStatus = true
		c.retryConfig.NetworkStatus = fn
	}
}

// WithCustomRetry replaces the policy's classification and delay computation.
func WithCustomRetry(fn CustomRetryFunc) Option {
	return func(c *Client) {
		c.retryConfig.Custom = fn
	}
}

// WithRetryPolicy sets a pre-built policy, overriding the retry options.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error if invalid.
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateGateConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateDedupConfig()...)
	errors = append(errors, c.validateDebugConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &RequestError{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errors),
			Timestamp: time.Now(),
		}
	}

	return nil
}

// validateGateConfig validates concurrency gate configuration.
func (c *Client) validateGateConfig() []string {
	var errors []string

	if c.maxConcurrent <= 0 {
		errors = append(errors, "maxConcurrency must be positive")
	}
	if c.maxQueueSize < 0 {
		errors = append(errors, "queueSize must be non-negative")
	}

	return errors
}

// validateCacheConfig validates cache configuration.
func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.cache != nil && c.cacheTTL <= 0 {
		errors = append(errors, "cacheTTL must be positive when cache is enabled")
	}
	if c.cacheMaxEntries <= 0 {
		errors = append(errors, "cacheMaxEntries must be positive")
	}
	if c.cacheSweepEvery < 0 {
		errors = append(errors, "cache sweep interval must be non-negative")
	}
	if c.cacheCondition == nil {
		errors = append(errors, "cache condition must be set")
	}

	return errors
}

// validateRetryConfig validates retry-related configuration. Zero values are
// valid (zero attempts disables retries); negatives are not.
func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.retryConfig.MaxAttempts < 0 {
		errors = append(errors, "maxAttempts must be non-negative")
	}
	if c.retryConfig.BaseDelay < 0 {
		errors = append(errors, "baseDelay must be non-negative")
	}
	if c.retryConfig.MaxDelay < 0 {
		errors = append(errors, "maxDelay must be non-negative")
	}
	if c.retryConfig.MaxDelay > 0 && c.retryConfig.BaseDelay > c.retryConfig.MaxDelay {
		errors = append(errors, "maxDelay must be greater than or equal to baseDelay")
	}
	if c.retryConfig.Multiplier < 0 {
		errors = append(errors, "backoffMultiplier must be non-negative")
	}
	if c.retryConfig.CheckNetworkStatus && c.retryConfig.NetworkStatus == nil {
		errors = append(errors, "network status function must be set when the offline check is enabled")
	}

	return errors
}

// validateDedupConfig validates deduplication configuration.
func (c *Client) validateDedupConfig() []string {
	var errors []string

	if c.dedup != nil && c.dedupCondition == nil {
		errors = append(errors, "deduplication condition must be set when deduplication is enabled")
	}

	return errors
}

// validateDebugConfig validates debug configuration.
func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

// validateExtremeValues validates that configuration values are within
// reasonable bounds.
func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.retryConfig.MaxAttempts > 100 {
		errors = append(errors, "maxAttempts > 100 may cause excessive resource usage")
	}
	if c.retryConfig.BaseDelay > 10*time.Minute {
		errors = append(errors, "baseDelay > 10m may cause very long delays")
	}
	if c.retryConfig.MaxDelay > time.Hour {
		errors = append(errors, "maxDelay > 1h may cause extremely long delays")
	}
	if c.maxConcurrent > 100000 {
		errors = append(errors, "maxConcurrency > 100k may cause memory issues")
	}
	if c.maxQueueSize > 1000000 {
		errors = append(errors, "queueSize > 1M may cause memory issues")
	}
	if c.cache != nil && c.cacheTTL > 24*time.Hour {
		errors = append(errors, "cacheTTL > 24h may cause stale data issues")
	}

	return errors
}
