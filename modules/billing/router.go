package billing

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/ringline/billingkit/pkg/billing"
	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/planchange"
	"github.com/ringline/billingkit/pkg/reconcile"
	"github.com/ringline/billingkit/pkg/subscription"
	"github.com/ringline/billingkit/pkg/usage"
	"github.com/ringline/billingkit/pkg/view"
)

// RouterOptions carries the services the module mounts. Healthchecks are
// optional; everything else is required.
type RouterOptions struct {
	Catalog    plan.Catalog
	Subs       subscription.Store
	View       *view.Service
	Changes    *planchange.Service
	Ledger     *usage.Ledger
	Provider   billing.Provider
	Reconciler *reconcile.Reconciler
	Log        *slog.Logger

	// Healthchecks are probed by GET /health, keyed by dependency name.
	Healthchecks map[string]func(context.Context) error
}

// Router builds the billing module router.
//
//	r.Mount("/billing", billing.Router(opts))
func Router(opts RouterOptions) chi.Router {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &handlers{
		catalog:    opts.Catalog,
		subs:       opts.Subs,
		view:       opts.View,
		changes:    opts.Changes,
		ledger:     opts.Ledger,
		provider:   opts.Provider,
		reconciler: opts.Reconciler,
		log:        log,
		health:     opts.Healthchecks,
	}

	r := chi.NewRouter()

	r.Get("/plans", h.listPlans)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/subscription", h.subscriptionView)
		r.Get("/subscription/compare", h.comparePlans)
		r.Post("/subscription/change", h.requestChange)
		r.Delete("/subscription/change", h.cancelChange)
		r.Post("/usage/{feature}/consume", h.consume)
		r.Post("/usage/{feature}/refund", h.refund)
		r.Get("/usage/{period}", h.usageHistory)
		r.Post("/portal", h.portalSession)
	})

	r.Post("/webhooks/provider", h.webhook)
	r.Get("/health", h.healthcheck)

	return r
}
