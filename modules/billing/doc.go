// Package billing exposes the billing engine over HTTP: webhook ingestion,
// usage limits and tracking, checkout and portal links, the public plan
// catalog, and the operator reconciliation endpoint.
package billing
