// Package shutdown coordinates graceful process termination.
//
// A Handler turns SIGINT/SIGTERM into context cancellation and then runs the
// registered hooks, most recent first, under a shared deadline.
package shutdown
