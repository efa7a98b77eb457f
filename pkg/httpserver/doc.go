// Package httpserver runs the HTTP listener with graceful shutdown on
// context cancellation or termination signals, plus a probe handler for
// liveness and readiness checks.
package httpserver
