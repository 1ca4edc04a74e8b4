// Package kemudi is a client-side request orchestration layer that sits
// between application code and a pluggable transport executor:
//
//   - Concurrency gating (bounded simultaneous executions + bounded FIFO queue)
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Response caching with TTL expiry and LRU eviction (memory or Redis backed)
//   - Retry decisions with configurable backoff strategies + jitter
//   - Prometheus metrics and lightweight structured debug logging
//
// The core never performs I/O itself. Callers hand Submit an Executor, an
// opaque "run this request" function, and kemudi decides whether to serve the
// result from cache, attach to an identical in-flight execution, queue it
// behind the concurrency gate, and whether a failure is worth retrying.
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - No hidden global state: every component is an explicit constructible
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via pluggable cache backends, loggers and metrics
//
// Typical usage:
//
//	client := kemudi.New(
//	    kemudi.WithMaxConcurrency(8),
//	    kemudi.WithQueueSize(64),
//	    kemudi.WithCache(5*time.Minute),
//	    kemudi.WithDeduplication(),
//	    kemudi.WithMaxAttempts(3),
//	)
//	resp, err := client.Submit(ctx, &kemudi.RequestConfig{
//	    Method: "GET",
//	    URL:    "https://api.example.com/data",
//	}, executor)
//
// Only the fingerprint fields of RequestConfig are ever inspected; everything
// else is carried through to the executor untouched. The library avoids
// opinionated logging: provide a Logger (e.g. via WithSimpleLogger) and enable
// debug flags selectively (WithDebug / WithDebugConfig) for insight without noise.
package kemudi
