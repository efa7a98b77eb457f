package billing

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/quota"
)

// Config carries the HTTP module's own knobs; everything billing-specific
// (Stripe keys, plan files) belongs to the packages that use it.
type Config struct {
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL,required"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL,required"`
	PortalReturnURL    string `env:"PORTAL_RETURN_URL"`
}

// Module bundles the billing HTTP surface: webhook ingestion, usage
// endpoints, checkout/portal links, plan listing, and the operator sync
// endpoint.
type Module struct {
	cfg        Config
	sync       *billing.Sync
	reconciler *billing.Reconciler
	provider   billing.Provider
	store      billing.Store
	users      billing.UserStore
	catalog    billing.Catalog
	enforcer   *quota.Enforcer
	log        *slog.Logger
}

// NewModule wires the billing HTTP module. Panics on nil dependencies, same
// as the services it fronts.
func NewModule(
	cfg Config,
	sync *billing.Sync,
	reconciler *billing.Reconciler,
	provider billing.Provider,
	store billing.Store,
	users billing.UserStore,
	catalog billing.Catalog,
	enforcer *quota.Enforcer,
	log *slog.Logger,
) *Module {
	if sync == nil {
		panic("billing module: sync service is required")
	}
	if reconciler == nil {
		panic("billing module: reconciler is required")
	}
	if provider == nil {
		panic("billing module: provider is required")
	}
	if store == nil {
		panic("billing module: subscription store is required")
	}
	if users == nil {
		panic("billing module: user store is required")
	}
	if catalog == nil {
		panic("billing module: plan catalog is required")
	}
	if enforcer == nil {
		panic("billing module: quota enforcer is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Module{
		cfg:        cfg,
		sync:       sync,
		reconciler: reconciler,
		provider:   provider,
		store:      store,
		users:      users,
		catalog:    catalog,
		enforcer:   enforcer,
		log:        log,
	}
}

// Router mounts every billing endpoint.
func (m *Module) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/billing", m.handleWebhook)

	r.Route("/billing", func(r chi.Router) {
		r.Get("/plans", m.handleListPlans)
		r.Post("/checkout", m.handleCreateCheckout)
		r.Post("/portal", m.handlePortalLink)
	})

	r.Route("/users/{userID}/usage", func(r chi.Router) {
		r.Get("/limits", m.handleUsageLimits)
		r.Post("/track", m.handleTrackUsage)
	})

	r.Post("/admin/subscriptions/sync", m.handleAdminSync)

	return r
}
