package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dreamforge-ai/dreamforge/binder"
	"github.com/dreamforge-ai/dreamforge/core"
	"github.com/dreamforge-ai/dreamforge/pkg/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/logger"
)

type adminSyncRequest struct {
	UserID        string `json:"userId"`
	SessionHandle string `json:"sessionHandle,omitempty"`
}

type adminSyncResponse struct {
	Found        bool                 `json:"found"`
	Subscription *subscriptionSummary `json:"subscription,omitempty"`
	Mismatch     *mismatchBody        `json:"mismatch,omitempty"`
	Message      string               `json:"message,omitempty"`
}

type mismatchBody struct {
	SubscriptionID string `json:"subscriptionId"`
	LocalStatus    string `json:"localStatus"`
	RemoteStatus   string `json:"remoteStatus"`
}

// handleAdminSync runs the reconciler for one user, pulling provider truth
// and replaying it through the regular event path.
func (m *Module) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	var req adminSyncRequest
	if err := binder.JSON(r, &req); err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage(err.Error())))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("invalid user id")))
		return
	}

	outcome, err := m.reconciler.Reconcile(r.Context(), userID, req.SessionHandle)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUserNotFound):
			core.Respond(w, r, core.JSONError(core.ErrNotFound.WithMessage("unknown user")))
		case errors.Is(err, billing.ErrProviderUnavailable):
			core.Respond(w, r, core.JSONError(core.ErrServiceUnavailable.WithMessage("payment provider unavailable")))
		default:
			m.log.ErrorContext(r.Context(), "manual reconciliation failed",
				logger.UserID(userID), logger.Error(err))
			core.Respond(w, r, core.JSONError(err))
		}
		return
	}

	resp := adminSyncResponse{Found: outcome.Found}
	if !outcome.Found {
		// Explicit result, not an error: the operator asked a question and
		// "no subscription at the provider" is a valid answer.
		resp.Message = "no subscription found"
		core.Respond(w, r, core.JSON(resp))
		return
	}

	resp.Subscription = newSubscriptionSummary(outcome.Subscription)
	if outcome.Mismatch != nil {
		resp.Mismatch = &mismatchBody{
			SubscriptionID: outcome.Mismatch.SubscriptionID,
			LocalStatus:    string(outcome.Mismatch.LocalStatus),
			RemoteStatus:   string(outcome.Mismatch.RemoteStatus),
		}
	}
	core.Respond(w, r, core.JSON(resp))
}
