// Package redis connects the go-redis client with startup retries and
// exposes a health check closure. The quota ledger is its main consumer.
package redis
