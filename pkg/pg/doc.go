// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool with
// retrying startup, goose schema migrations, a health check closure, and
// error classification helpers (not-found, duplicate key) used by the stores
// built on top of it.
//
// Config is populated from environment variables via caarlos0/env; see the
// field tags for names and defaults.
package pg
