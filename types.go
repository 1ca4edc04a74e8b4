package kemudi

import (
	"context"
	"net/http"
	"time"
)

// Executor performs the actual transport I/O for one request. It is the only
// capability kemudi consumes from the transport layer; the core never
// inspects config beyond computing the fingerprint.
type Executor func(ctx context.Context, config *RequestConfig) (*Response, error)

// RequestConfig describes a request to be orchestrated. The core treats it as
// an opaque bag except for the fields selected by the configured KeyFields.
type RequestConfig struct {
	Method  string
	URL     string
	Params  map[string]string
	Body    []byte
	Headers map[string]string

	// Priority orders queued requests when priority queueing is enabled on
	// the gate. Higher values are released first; ties fall back to FIFO.
	Priority int
}

// Response is the snapshot an Executor produces. The core only looks at the
// status code (success/failure discriminant) and the size estimate.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Size overrides the memory accounting estimate; when zero the length
	// of Body is used instead.
	Size int
}

// OK reports whether the response represents a success for caching purposes.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode < 400
}

// SizeEstimate returns the number of bytes this response is accounted as.
func (r *Response) SizeEstimate() int {
	if r == nil {
		return 0
	}
	if r.Size > 0 {
		return r.Size
	}
	return len(r.Body)
}

// KeyFields selects which RequestConfig attributes participate in the request
// fingerprint. Two requests with the same fingerprint under the same KeyFields
// are treated as interchangeable by both the cache and the deduplication
// coordinator.
type KeyFields struct {
	Method  bool
	URL     bool
	Params  bool
	Body    bool
	Headers bool
}

// DefaultKeyFields fingerprints method, URL and params; body and headers are
// excluded so that e.g. tracing headers do not split otherwise identical
// requests.
func DefaultKeyFields() KeyFields {
	return KeyFields{Method: true, URL: true, Params: true}
}

// Classification names the backoff family a retry decision was computed with.
type Classification int

const (
	// ClassificationNone marks a decision not to retry.
	ClassificationNone Classification = iota
	// ClassificationImmediate retries with no delay.
	ClassificationImmediate
	// ClassificationFixed retries after the base delay every time.
	ClassificationFixed
	// ClassificationLinear retries after baseDelay * attempt.
	ClassificationLinear
	// ClassificationExponential retries after baseDelay * 2^(attempt-1), capped.
	ClassificationExponential
)

// String returns the classification name for logging.
func (c Classification) String() string {
	switch c {
	case ClassificationImmediate:
		return "Immediate"
	case ClassificationFixed:
		return "Fixed"
	case ClassificationLinear:
		return "Linear"
	case ClassificationExponential:
		return "Exponential"
	default:
		return "None"
	}
}

// RetryDecision is the pure, stateless outcome of consulting the RetryPolicy
// for one failed attempt. It is computed fresh per attempt and never stored.
type RetryDecision struct {
	ShouldRetry    bool
	Delay          time.Duration
	Classification Classification
	Reason         string
}

// GateStatus is a read-only snapshot of the concurrency gate.
type GateStatus struct {
	ActiveCount   int
	QueuedCount   int
	MaxConcurrent int
	MaxQueueSize  int
}

// TaskInfo describes one in-flight deduplication entry.
type TaskInfo struct {
	Fingerprint string
	CreatedAt   time.Time
	RefCount    int
	Age         time.Duration
}

// DedupStats aggregates deduplication coordinator counters.
type DedupStats struct {
	Executions        uint64
	Duplications      uint64
	SavedRequests     uint64
	DeduplicationRate float64
	Pending           int
}

// HotKey pairs a cache key with its access count for the stats surface.
type HotKey struct {
	Key         string
	AccessCount int64
}

// CacheStats aggregates cache store counters.
type CacheStats struct {
	Hits           uint64
	Misses         uint64
	Sets           uint64
	Evictions      uint64
	Expirations    uint64
	Entries        int
	HitRate        float64
	MemoryEstimate int64
	HotKeys        []HotKey
}

// CacheCondition decides whether a request is eligible for caching.
type CacheCondition func(config *RequestConfig) bool

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(config *RequestConfig) bool {
	return config.Method == "GET"
}

// DedupCondition decides whether a request is eligible for deduplication.
type DedupCondition func(config *RequestConfig) bool

// DefaultDedupCondition deduplicates safe idempotent methods.
func DefaultDedupCondition(config *RequestConfig) bool {
	switch config.Method {
	case "GET", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}
