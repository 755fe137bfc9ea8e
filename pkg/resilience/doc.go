// Package resilience provides the building blocks for calling unreliable
// dependencies: per-dependency circuit breakers with a sliding outcome
// window, backoff policies, and a guarded HTTP client that combines breaker,
// per-attempt timeout and bounded retries into a single logical call.
package resilience
