// Package logger builds the application's slog.Logger: JSON or text handler
// per environment, static service attributes, and context extractors that
// stamp request-scoped values (request id, user id) onto every record.
package logger
