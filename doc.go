// Package dbpool implements a pooled database connection manager that sits
// between an application and a low-level database driver. It owns the
// lifecycle of a bounded population of physical connections, multiplexes
// them across concurrent callers, and enforces borrow timeouts, validation,
// transaction discipline and a failure-backoff circuit breaker that a naked
// driver does not provide.
package dbpool
