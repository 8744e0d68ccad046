// Package metric provides Prometheus metrics for SessionGuard.
//
//   - prometheus.go: the Registry of application collectors and the
//     /metrics HTTP handler
//   - collector.go: a pull collector for values owned by other components
//
// All Registry methods are safe to call on a nil *Registry so components
// can run without metrics in tests.
package metric
