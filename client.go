package kemudi

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Client composes the cache, deduplication coordinator, concurrency gate and
// retry policy into one entry point. It holds no per-request state of its own;
// all mutable shared structures live in the components it wires together.
// A single Client is safe for concurrent use.
type Client struct {
	gate   *ConcurrencyGate
	dedup  *DeduplicationCoordinator
	cache  CacheStore
	policy *RetryPolicy

	keyFields      KeyFields
	cacheTTL       time.Duration
	cacheCondition CacheCondition
	dedupCondition DedupCondition

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	// construction knobs consumed by New
	maxConcurrent    int
	maxQueueSize     int
	priorityQueueing bool
	cacheEnabled     bool
	cacheMaxEntries  int
	cacheSweepEvery  time.Duration
	dedupEnabled     bool
	retryConfig      RetryPolicyConfig

	ownedCache      *MemoryCache
	validationError error
}

// New constructs a Client from functional options. A best effort validation is
// performed; call IsValid / ValidationError for errors. Submitting through an
// invalid client fails with a Validation error.
func New(options ...Option) *Client {
	c := &Client{
		maxConcurrent:   10,
		maxQueueSize:    100,
		keyFields:       DefaultKeyFields(),
		cacheTTL:        5 * time.Minute,
		cacheMaxEntries: 1000,
		cacheCondition:  DefaultCacheCondition,
		dedupCondition:  DefaultDedupCondition,
		retryConfig:     RetryPolicyConfig{MaxAttempts: 3, Jitter: true},
		debug:           DefaultDebugConfig(),
	}

	for _, option := range options {
		option(c)
	}

	if c.gate == nil {
		if c.priorityQueueing {
			c.gate = NewPriorityConcurrencyGate(c.maxConcurrent, c.maxQueueSize)
		} else {
			c.gate = NewConcurrencyGate(c.maxConcurrent, c.maxQueueSize)
		}
	}
	if c.dedupEnabled && c.dedup == nil {
		c.dedup = NewDeduplicationCoordinator()
	}
	if c.cacheEnabled && c.cache == nil {
		if c.cacheSweepEvery > 0 {
			c.ownedCache = NewMemoryCacheWithSweep(c.cacheMaxEntries, c.cacheSweepEvery)
		} else {
			c.ownedCache = NewMemoryCache(c.cacheMaxEntries)
		}
		c.cache = c.ownedCache
	}
	if c.policy == nil {
		c.policy = NewRetryPolicy(c.retryConfig)
	}

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}
	return c
}

// Submit orchestrates one request: cache check, dedup join-or-own, concurrency
// slot, executor with retries, cache population and waiter fan-out. The caller
// always receives either a resolved response or one terminal error carrying
// retry-count metadata. A non-success status is returned as the snapshot plus
// an HTTPStatus error.
func (c *Client) Submit(ctx context.Context, config *RequestConfig, executor Executor) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	if config == nil || executor == nil {
		return nil, &RequestError{
			Type:      ErrorTypeValidation,
			Message:   "config and executor must be non-nil",
			Timestamp: time.Now(),
		}
	}

	start := time.Now()
	endpoint := endpointLabel(config.URL)
	fingerprint := Fingerprint(config, c.keyFields)

	var requestID string
	if c.debugEnabled() && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	c.metrics.RecordRequestStart(config.Method, endpoint)
	defer c.metrics.RecordRequestEnd(config.Method, endpoint)

	cacheEnabled := c.cache != nil && c.shouldCache(ctx, config)
	if cacheEnabled {
		if item, found := c.cache.Get(fingerprint); found {
			c.metrics.RecordCacheHit(config.Method, endpoint)
			c.metrics.RecordRequest(config.Method, endpoint, item.Response.StatusCode, time.Since(start))
			if c.debugEnabled() && c.debug.LogCache {
				c.logger.Debug("Cache hit", "requestID", requestID, "fingerprint", fingerprint)
			}
			return item.Response, nil
		}
		c.metrics.RecordCacheMiss(config.Method, endpoint)
		if c.debugEnabled() && c.debug.LogCache {
			c.logger.Debug("Cache miss", "requestID", requestID, "fingerprint", fingerprint)
		}
	}

	dedupEnabled := c.dedup != nil && c.dedupCondition(config)
	var entry *InFlightEntry
	var owner bool
	if dedupEnabled {
		entry, owner = c.dedup.GetOrCreateEntry(fingerprint)
		if !owner {
			// The original runner already holds (or is queued for) the slot;
			// joiners never touch the gate.
			c.metrics.RecordDeduplicationHit(config.Method, endpoint)
			if c.debugEnabled() && c.debug.LogDedup {
				c.logger.Debug("Joining in-flight request", "requestID", requestID, "fingerprint", fingerprint)
			}
			resp, err := entry.Wait(ctx)
			c.recordOutcome(config.Method, endpoint, resp, start)
			return resp, err
		}
	}

	if dedupEnabled && owner {
		return c.runShared(ctx, config, executor, entry, fingerprint, requestID, endpoint, start, cacheEnabled)
	}

	resp, err := c.run(ctx, config, executor, fingerprint, requestID, endpoint, start)
	if cacheEnabled && err == nil && resp.OK() {
		c.storeInCache(ctx, fingerprint, requestID, resp)
	}
	c.recordOutcome(config.Method, endpoint, resp, start)
	return resp, err
}

// runShared drives the owner's execution of a deduplicated request. The
// execution runs under a context detached from the owner's caller, so
// cancelling the owner detaches that one caller exactly like a joiner and the
// shared result still reaches everyone else. The execution itself stops early
// only once the entry settles first (CancelInFlight or the cleanup backstop).
func (c *Client) runShared(ctx context.Context, config *RequestConfig, executor Executor, entry *InFlightEntry, fingerprint, requestID, endpoint string, start time.Time, cacheEnabled bool) (*Response, error) {
	var once sync.Once
	tracked := func(ctx context.Context, config *RequestConfig) (*Response, error) {
		once.Do(c.dedup.markExecution)
		return executor(ctx, config)
	}

	execCtx, stopExec := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		// A force-cancelled entry aborts the underlying execution too.
		<-entry.done
		stopExec()
	}()
	go func() {
		resp, err := c.run(execCtx, config, tracked, fingerprint, requestID, endpoint, start)
		if cacheEnabled && err == nil && resp.OK() {
			c.storeInCache(execCtx, fingerprint, requestID, resp)
		}
		c.dedup.Complete(fingerprint, resp, err)
	}()

	resp, err := entry.Wait(ctx)
	c.recordOutcome(config.Method, endpoint, resp, start)
	return resp, err
}

func (c *Client) storeInCache(ctx context.Context, fingerprint, requestID string, resp *Response) {
	c.cache.Set(fingerprint, resp, c.ttlFor(ctx))
	c.metrics.RecordCacheSize("default", c.cache.Len())
	if c.debugEnabled() && c.debug.LogCache {
		c.logger.Debug("Response cached", "requestID", requestID, "fingerprint", fingerprint)
	}
}

// run acquires a concurrency slot and drives the retry loop around the
// executor. Exactly one Release matches the successful Acquire.
func (c *Client) run(ctx context.Context, config *RequestConfig, executor Executor, fingerprint, requestID, endpoint string, start time.Time) (*Response, error) {
	queuedAt := time.Now()
	if err := c.gate.Acquire(ctx, config.Priority); err != nil {
		if errors.Is(err, ErrQueueFull) {
			c.metrics.RecordQueueRejection(config.Method, endpoint)
		}
		c.metrics.RecordError(errorTypeOf(err), config.Method, endpoint)
		if c.debugEnabled() && c.debug.LogQueue {
			c.logger.Warn("Slot acquisition failed", "requestID", requestID, "fingerprint", fingerprint, "error", err.Error())
		}
		return nil, c.annotate(err, fingerprint, requestID, 0, start)
	}
	defer c.gate.Release()

	c.metrics.RecordQueueWait(time.Since(queuedAt))
	c.metrics.RecordQueueDepth(c.gate.Status().QueuedCount)

	attempt := 0
	for {
		attempt++
		resp, err := executor(ctx, config)
		if err == nil && resp != nil && !resp.OK() {
			err = NewHTTPStatusError(resp.StatusCode)
		}
		if err == nil {
			return resp, nil
		}
		err = c.classifyExecutorError(err)
		c.metrics.RecordError(errorTypeOf(err), config.Method, endpoint)

		decision := c.policy.Decide(err, attempt)
		if !decision.ShouldRetry {
			if decision.Reason == "max attempts exceeded" && IsTransient(err) {
				err = &RequestError{
					Type:        ErrorTypeMaxRetries,
					Message:     "max retry attempts exceeded",
					Cause:       err,
					Timestamp:   time.Now(),
					Attempt:     attempt,
					MaxAttempts: c.policy.MaxAttempts(),
				}
			}
			if c.debugEnabled() && c.debug.LogRetries {
				c.logger.Debug("Not retrying", "requestID", requestID, "attempt", attempt, "reason", decision.Reason)
			}
			return resp, c.annotate(err, fingerprint, requestID, attempt, start)
		}

		c.metrics.RecordRetry(config.Method, endpoint, attempt)
		if c.debugEnabled() && c.debug.LogRetries {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1,
				"delay", decision.Delay, "classification", decision.Classification.String(), "reason", decision.Reason)
		}

		if werr := sleepContext(ctx, decision.Delay); werr != nil {
			cancelled := &RequestError{
				Type:      ErrorTypeCancelled,
				Message:   "cancelled while waiting to retry",
				Cause:     werr,
				Timestamp: time.Now(),
			}
			return nil, c.annotate(cancelled, fingerprint, requestID, attempt, start)
		}
	}
}

// classifyExecutorError maps a raw transport failure into the error taxonomy.
// Errors the executor already classified pass through untouched.
func (c *Client) classifyExecutorError(err error) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return err
	}
	if isCancellation(err) {
		return &RequestError{
			Type:      ErrorTypeCancelled,
			Message:   "request cancelled",
			Cause:     err,
			Timestamp: time.Now(),
		}
	}
	if isTimeout(err) {
		return NewTimeoutError(err)
	}
	return NewNetworkError(err)
}

// annotate fills in request-scoped metadata on terminal RequestErrors.
func (c *Client) annotate(err error, fingerprint, requestID string, attempt int, start time.Time) error {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return err
	}
	if reqErr.Fingerprint == "" {
		reqErr.Fingerprint = fingerprint
	}
	if reqErr.RequestID == "" {
		reqErr.RequestID = requestID
	}
	if reqErr.Attempt == 0 {
		reqErr.Attempt = attempt
	}
	if reqErr.MaxAttempts == 0 {
		reqErr.MaxAttempts = c.policy.MaxAttempts()
	}
	reqErr.Duration = time.Since(start)
	return err
}

func (c *Client) recordOutcome(method, endpoint string, resp *Response, start time.Time) {
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, statusCode, time.Since(start))
}

func (c *Client) debugEnabled() bool {
	return c.debug != nil && c.debug.Enabled && c.logger != nil
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor an already-cancelled context on immediate retries.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorTypeOf(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Type
	}
	return "Unknown"
}

// Fingerprint exposes the fingerprint Submit would compute for config under
// this client's key field configuration.
func (c *Client) Fingerprint(config *RequestConfig) string {
	return Fingerprint(config, c.keyFields)
}

// GateStatus returns a read-only snapshot of the concurrency gate.
func (c *Client) GateStatus() GateStatus {
	return c.gate.Status()
}

// CacheStats returns cache counters, or the zero value when caching is off.
func (c *Client) CacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return c.cache.Stats()
}

// DedupStats returns deduplication counters, or the zero value when
// deduplication is off.
func (c *Client) DedupStats() DedupStats {
	if c.dedup == nil {
		return DedupStats{}
	}
	return c.dedup.Stats()
}

// TaskInfo returns inspection data for the in-flight entry matching config's
// fingerprint.
func (c *Client) TaskInfo(config *RequestConfig) (TaskInfo, bool) {
	if c.dedup == nil {
		return TaskInfo{}, false
	}
	return c.dedup.GetTaskInfo(c.Fingerprint(config))
}

// CancelQueue rejects every queued (not yet running) request. Running
// executions are unaffected.
func (c *Client) CancelQueue(reason error) {
	c.gate.CancelQueue(reason)
}

// CancelInFlight force-cancels the shared execution for config's fingerprint,
// rejecting all joiners. This is the explicit "cancel all joiners" path; a
// single joiner that merely stops waiting should cancel its own context.
func (c *Client) CancelInFlight(config *RequestConfig) bool {
	if c.dedup == nil {
		return false
	}
	return c.dedup.Cancel(c.Fingerprint(config))
}

// CleanupTimeoutTasks force-cancels in-flight entries older than timeout.
func (c *Client) CleanupTimeoutTasks(timeout time.Duration) int {
	if c.dedup == nil {
		return 0
	}
	return c.dedup.CleanupTimeoutTasks(timeout)
}

// Close releases resources owned by the client (the memory cache sweep).
func (c *Client) Close() {
	if c.ownedCache != nil {
		c.ownedCache.Close()
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Context keys for per-request cache control.
type contextKey string

const cacheControlKey contextKey = "kemudi_cache_control"

// CacheControl holds per-request cache overrides carried via context.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheEnabled forces caching on for requests under ctx.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled forces caching off for requests under ctx.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching with a custom TTL for requests under ctx.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}

func (c *Client) shouldCache(ctx context.Context, config *RequestConfig) bool {
	if control, ok := ctx.Value(cacheControlKey).(*CacheControl); ok {
		return control.Enabled
	}
	return c.cacheCondition(config)
}

func (c *Client) ttlFor(ctx context.Context) time.Duration {
	if control, ok := ctx.Value(cacheControlKey).(*CacheControl); ok && control.TTL > 0 {
		return control.TTL
	}
	return c.cacheTTL
}
