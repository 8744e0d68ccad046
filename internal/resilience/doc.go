// Package resilience provides the retry coordinator and circuit breaker that
// isolate SessionGuard from a slow or failing remote dependency.
//
//   - retry.go: bounded retries with exponential backoff and jitter
//   - breaker.go: Closed/Open/HalfOpen circuit breaker with a single probe
//
// Neither type inspects error content. Classification goes through
// domain.KindOf and the policy's IsRetryable predicate.
package resilience
