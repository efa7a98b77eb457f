package billing

import (
	"errors"
	"fmt"
)

var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrUserNotFound              = errors.New("user not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrPlanNotFound              = errors.New("billing plan not found")
	ErrInvalidPlanConfiguration  = errors.New("invalid billing plan configuration")
	ErrFailedToLoadPlans         = errors.New("failed to load billing plans")

	// ErrVerification marks webhook payloads that fail signature validation
	// or cannot be decoded. The HTTP layer must answer non-2xx so the
	// provider's own retry schedule applies.
	ErrVerification = errors.New("webhook verification failed")

	// ErrTransientStore marks store failures that are safe to retry; the
	// event is not acknowledged and the provider redelivers it.
	ErrTransientStore = errors.New("transient store failure")

	ErrProviderUnavailable = errors.New("billing provider unavailable")
	ErrNoProviderRecord    = errors.New("provider has no subscription for this handle")
)

// UnknownSubjectError is a fatal, non-retryable condition: an otherwise-valid
// event references a user or customer that cannot be resolved locally.
// Redelivery cannot heal it; it must surface for manual reconciliation.
type UnknownSubjectError struct {
	CustomerID     string
	SubscriptionID string
}

func (e *UnknownSubjectError) Error() string {
	return fmt.Sprintf("cannot resolve user for customer %q (subscription %q)", e.CustomerID, e.SubscriptionID)
}

// IsUnknownSubject reports whether err is an UnknownSubjectError.
func IsUnknownSubject(err error) bool {
	var e *UnknownSubjectError
	return errors.As(err, &e)
}

// ReconciliationMismatch is reported when provider and local state disagreed
// during a pull. Local state is corrected toward provider truth, never the
// reverse; the mismatch itself is kept for operator visibility.
type ReconciliationMismatch struct {
	SubscriptionID string
	LocalStatus    Status
	RemoteStatus   Status
}

func (e *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("subscription %s: local status %q diverged from provider %q",
		e.SubscriptionID, e.LocalStatus, e.RemoteStatus)
}
