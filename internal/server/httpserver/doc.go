// Package httpserver serves the operational HTTP endpoints of a running
// sessionguard process:
//
//   - /metrics: Prometheus exposition of the metric registry
//   - /healthz: liveness plus the current session status
//   - /v1/session: the current AuthState as JSON
//
// Every route runs behind the RequestID, Recover and Access middlewares.
package httpserver
