package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/dreamforge-ai/dreamforge/core"
	"github.com/dreamforge-ai/dreamforge/pkg/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/logger"
)

// maxWebhookBody caps webhook payloads. Stripe events are a few KB; 256 KiB
// leaves generous headroom.
const maxWebhookBody = 256 << 10

// handleWebhook ingests provider events. The response code drives the
// provider's retry behavior: 2xx acknowledges, anything else redelivers.
func (m *Module) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("unreadable payload")))
		return
	}

	ev, err := m.provider.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		m.log.WarnContext(r.Context(), "webhook rejected", logger.Error(err))
		core.Respond(w, r, core.JSONError(core.ErrBadRequest.WithMessage("signature verification failed")))
		return
	}

	if ev.Kind == billing.EventIgnored {
		core.Respond(w, r, core.JSONRaw(http.StatusOK, map[string]bool{"received": true}))
		return
	}

	if err := m.sync.ApplyEvent(r.Context(), ev); err != nil {
		var unknown *billing.UnknownSubjectError
		switch {
		case errors.As(err, &unknown):
			// Redelivery cannot resolve a subject we don't know; a non-2xx
			// keeps the event visible in the provider dashboard for manual
			// reconciliation.
			m.log.ErrorContext(r.Context(), "webhook references unknown subject",
				logger.EventID(ev.ProviderEvent),
				logger.SubscriptionID(unknown.SubscriptionID))
			core.Respond(w, r, core.JSONError(core.ErrUnprocessableEntity.WithMessage("unknown subject")))
		case errors.Is(err, billing.ErrTransientStore):
			core.Respond(w, r, core.JSONError(core.ErrServiceUnavailable.WithMessage("temporary failure, retry")))
		default:
			m.log.ErrorContext(r.Context(), "webhook processing failed",
				logger.EventID(ev.ProviderEvent), logger.Error(err))
			core.Respond(w, r, core.JSONError(err))
		}
		return
	}

	core.Respond(w, r, core.JSONRaw(http.StatusOK, map[string]bool{"received": true}))
}
