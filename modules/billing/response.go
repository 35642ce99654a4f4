package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ringline/billingkit/pkg/billing"
	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/planchange"
	"github.com/ringline/billingkit/pkg/reconcile"
	"github.com/ringline/billingkit/pkg/subscription"
	"github.com/ringline/billingkit/pkg/usage"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)

	var body errorBody
	body.Error.Code = code
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

// classify maps sentinel errors to HTTP statuses. Expected denials (limit
// exceeded, already current) get 4xx codes the client can branch on;
// provider outages get 502 so callers know to retry.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, usage.ErrLimitExceeded):
		return http.StatusTooManyRequests, "limit_exceeded"
	case errors.Is(err, usage.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, plan.ErrPlanNotFound),
		errors.Is(err, planchange.ErrTargetNotOffered):
		return http.StatusNotFound, "plan_not_found"
	case errors.Is(err, subscription.ErrNotFound):
		return http.StatusNotFound, "subscription_not_found"
	case errors.Is(err, planchange.ErrAlreadyCurrent):
		return http.StatusConflict, "already_current"
	case errors.Is(err, planchange.ErrNoPendingChange):
		return http.StatusNotFound, "no_pending_change"
	case errors.Is(err, planchange.ErrInvalidInterval):
		return http.StatusBadRequest, "invalid_interval"
	case errors.Is(err, billing.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, billing.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, billing.ErrWebhookVerificationFailed),
		errors.Is(err, billing.ErrMalformedWebhook):
		return http.StatusBadRequest, "invalid_webhook"
	case errors.Is(err, billing.ErrMissingCustomerRef):
		return http.StatusConflict, "no_billing_account"
	case errors.Is(err, reconcile.ErrMissingExternalID),
		errors.Is(err, reconcile.ErrUnknownEventType):
		return http.StatusBadRequest, "invalid_event"
	case errors.Is(err, reconcile.ErrUnknownUser):
		// Acknowledged with an error status the provider will retry;
		// operators resolve the attribution and replay.
		return http.StatusUnprocessableEntity, "unknown_user"
	case errors.Is(err, subscription.ErrVersionConflict):
		return http.StatusConflict, "concurrent_update"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
