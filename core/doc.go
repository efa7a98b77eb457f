// Package core holds the shared HTTP surface: the Response abstraction,
// JSON envelope rendering, and typed HTTP errors used by every module's
// handlers.
package core
