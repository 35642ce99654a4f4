// Package billing exposes the subscription engine over HTTP: plan listing,
// the subscription view, plan change requests, metered consumption, portal
// sessions, and the provider webhook endpoint that feeds the reconciler.
//
// Mount it on any chi router:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(billing.RouterOptions{
//	    Catalog:    catalog,
//	    View:       viewSvc,
//	    Changes:    changeSvc,
//	    Ledger:     ledger,
//	    Provider:   provider,
//	    Reconciler: reconciler,
//	}))
package billing
