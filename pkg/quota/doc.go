// Package quota meters resource consumption against plan limits.
//
// The Enforcer resolves a user's active plan, then performs an atomic
// check-and-increment against a Ledger: under concurrent requests the number
// of allowed increments never exceeds the plan's limit. Counters are keyed
// by subject and billing period, so a period rollover starts counting from
// zero without an explicit reset.
//
// Three Ledger backends are provided: in-process memory for tests and
// single-node setups, Redis for multi-instance deployments, and Postgres
// when usage must live next to the billing rows.
//
// A rejected request is a business outcome, not an error: the Decision
// carries the limit and current usage so callers can render an upgrade
// prompt.
package quota
