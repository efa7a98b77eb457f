// Package billing keeps locally-owned subscription state consistent with an
// external, authoritative payment provider.
//
// Provider notifications arrive asynchronously, out of order and sometimes
// duplicated. The engine ingests them through a single idempotent path
// (Sync.ApplyEvent), guarded by a billing-period/status precedence rule so
// stale retransmissions never regress state. A pull-based Reconciler replays
// provider truth through the same path when webhooks are lost, and a
// Projector maintains a denormalized per-user summary for cheap reads.
//
// The provider binding is Stripe (StripeProvider); everything else depends
// only on the Provider interface.
package billing
