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

type createCheckoutRequest struct {
	UserID string `json:"userId"`
	PlanID string `json:"planId"`
}

type portalLinkRequest struct {
	UserID string `json:"userId"`
}

// handleListPlans serves the public catalog.
func (m *Module) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := m.catalog.List(r.Context())
	if err != nil {
		core.Respond(w, r, core.JSONError(err))
		return
	}

	out := make([]planSummary, 0, len(plans))
	for _, plan := range plans {
		if plan.Public {
			out = append(out, newPlanSummary(plan))
		}
	}
	core.Respond(w, r, core.JSON(map[string]any{"plans": out}))
}

// handleCreateCheckout opens a hosted checkout session for a paid plan and
// records the session as the user's reconciliation anchor before answering.
func (m *Module) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := binder.JSON(r, &req); err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage(err.Error())))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("invalid user id")))
		return
	}

	plan, err := m.catalog.ByID(r.Context(), req.PlanID)
	if err != nil {
		core.Respond(w, r, core.JSONError(core.ErrNotFound.WithMessage("unknown plan")))
		return
	}
	if plan.PriceID == "" {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("plan is not purchasable")))
		return
	}

	user, err := m.users.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			core.Respond(w, r, core.JSONError(core.ErrNotFound.WithMessage("unknown user")))
			return
		}
		core.Respond(w, r, core.JSONError(err))
		return
	}

	session, err := m.provider.CreateCheckout(r.Context(), billing.CheckoutRequest{
		PriceID:    plan.PriceID,
		UserID:     user.ID.String(),
		CustomerID: user.ProviderCustID,
		Email:      user.Email,
		SuccessURL: m.cfg.CheckoutSuccessURL,
		CancelURL:  m.cfg.CheckoutCancelURL,
	})
	if err != nil {
		m.log.ErrorContext(r.Context(), "checkout creation failed",
			logger.UserID(userID), logger.Error(err))
		core.Respond(w, r, core.JSONError(core.ErrServiceUnavailable.WithMessage("payment provider unavailable")))
		return
	}

	// The recorded session is what lets the sweep heal a lost completion
	// webhook, so failing to record it fails the request.
	if err := m.users.RecordCheckout(r.Context(), userID, session.SessionID, ""); err != nil {
		m.log.ErrorContext(r.Context(), "recording checkout session failed",
			logger.UserID(userID), logger.Error(err))
		core.Respond(w, r, core.JSONError(err))
		return
	}

	core.Respond(w, r, core.JSON(map[string]string{
		"sessionId": session.SessionID,
		"url":       session.URL,
	}))
}

// handlePortalLink returns a pre-authenticated billing portal URL.
func (m *Module) handlePortalLink(w http.ResponseWriter, r *http.Request) {
	var req portalLinkRequest
	if err := binder.JSON(r, &req); err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage(err.Error())))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("invalid user id")))
		return
	}

	user, err := m.users.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			core.Respond(w, r, core.JSONError(core.ErrNotFound.WithMessage("unknown user")))
			return
		}
		core.Respond(w, r, core.JSONError(err))
		return
	}
	if user.ProviderCustID == "" {
		core.Respond(w, r, core.JSONError(core.ErrConflict.WithMessage("user has no billing account yet")))
		return
	}

	url, err := m.provider.CreatePortalLink(r.Context(), user.ProviderCustID)
	if err != nil {
		m.log.ErrorContext(r.Context(), "portal link creation failed",
			logger.UserID(userID), logger.Error(err))
		core.Respond(w, r, core.JSONError(core.ErrServiceUnavailable.WithMessage("payment provider unavailable")))
		return
	}

	core.Respond(w, r, core.JSON(map[string]string{"url": url}))
}
