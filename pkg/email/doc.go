// Package email sends transactional mail through Postmark, with a file-based
// sender for local development. Billing consumes the EmailSender interface;
// nothing else in the codebase talks to the provider directly.
package email
