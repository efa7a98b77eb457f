package redis

import "errors"

var (
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")
	ErrNotReady                = errors.New("redis did not become ready in time")
	ErrHealthcheckFailed       = errors.New("redis healthcheck failed")
)
