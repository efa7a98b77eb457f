package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dreamforge-ai/dreamforge/binder"
	"github.com/dreamforge-ai/dreamforge/core"
	"github.com/dreamforge-ai/dreamforge/pkg/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/logger"
)

// trackUsageRequest carries the consumption request. Amount is a pointer so
// an omitted field (defaults to one unit) is distinguishable from an explicit
// zero (rejected).
type trackUsageRequest struct {
	Type   string `json:"type"`
	Amount *int64 `json:"amount"`
}

type usageBody struct {
	Type      string `json:"type"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

type trackUsageResponse struct {
	Usage        usageBody            `json:"usage"`
	Subscription *subscriptionSummary `json:"subscription"`
}

func pathUserID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "userID"))
}

// handleUsageLimits reports the user's plan, limits and current counters.
func (m *Module) handleUsageLimits(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("invalid user id")))
		return
	}

	overview, err := m.enforcer.Limits(r.Context(), userID)
	if err != nil {
		m.log.ErrorContext(r.Context(), "usage overview failed", logger.UserID(userID), logger.Error(err))
		core.Respond(w, r, core.JSONError(err))
		return
	}

	limits := make(map[string]int64, len(overview.Usage))
	usage := make(map[string]int64, len(overview.Usage))
	remaining := make(map[string]int64, len(overview.Usage))
	for res, info := range overview.Usage {
		limits[string(res)] = info.Limit
		usage[string(res)] = info.Used
		remaining[string(res)] = info.Remaining
	}

	core.Respond(w, r, core.JSON(map[string]any{
		"plan":      overview.PlanID,
		"tier":      overview.Tier,
		"limits":    limits,
		"usage":     usage,
		"remaining": remaining,
	}))
}

// handleTrackUsage consumes units of a resource. A quota rejection is a 402
// with the upgrade payload, never a 5xx: running out of quota is a business
// outcome.
func (m *Module) handleTrackUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("invalid user id")))
		return
	}

	var req trackUsageRequest
	if err := binder.JSON(r, &req); err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage(err.Error())))
		return
	}

	resource := billing.Resource(req.Type)
	if !validResource(resource) {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("unknown resource type")))
		return
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount < 1 {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("amount must be at least 1")))
		return
	}

	dec, err := m.enforcer.CheckAndIncrement(r.Context(), userID, resource, amount)
	if err != nil {
		m.log.ErrorContext(r.Context(), "usage tracking failed", logger.UserID(userID), logger.Error(err))
		core.Respond(w, r, core.JSONError(err))
		return
	}

	if !dec.Allowed {
		core.Respond(w, r, core.JSONRaw(http.StatusPaymentRequired, map[string]any{
			"limit":           dec.Limit,
			"used":            dec.Used,
			"upgradeRequired": true,
		}))
		return
	}

	core.Respond(w, r, core.JSON(trackUsageResponse{
		Usage: usageBody{
			Type:      req.Type,
			Used:      dec.Used,
			Limit:     dec.Limit,
			Remaining: dec.Remaining,
		},
		Subscription: m.entitledSummary(r, userID),
	}))
}

func validResource(res billing.Resource) bool {
	for _, known := range billing.Resources {
		if res == known {
			return true
		}
	}
	return false
}

// entitledSummary is best-effort decoration of usage responses; a store
// hiccup degrades to null rather than failing a successful increment.
func (m *Module) entitledSummary(r *http.Request, userID uuid.UUID) *subscriptionSummary {
	subs, err := m.store.ListByUser(r.Context(), userID)
	if err != nil {
		m.log.WarnContext(r.Context(), "subscription summary lookup failed",
			logger.UserID(userID), logger.Error(err))
		return nil
	}
	sub := billing.EntitledSubscription(subs)
	if sub == nil {
		return nil
	}
	return newSubscriptionSummary(sub)
}
