package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/billing"
	"github.com/ringline/billingkit/pkg/logger"
	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/planchange"
	"github.com/ringline/billingkit/pkg/reconcile"
	"github.com/ringline/billingkit/pkg/subscription"
	"github.com/ringline/billingkit/pkg/usage"
	"github.com/ringline/billingkit/pkg/view"
)

// maxWebhookBody caps provider webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

type handlers struct {
	catalog    plan.Catalog
	subs       subscription.Store
	view       *view.Service
	changes    *planchange.Service
	ledger     *usage.Ledger
	provider   billing.Provider
	reconciler *reconcile.Reconciler
	log        *slog.Logger
	health     map[string]func(context.Context) error
}

func (h *handlers) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (h *handlers) subscriptionView(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	v, err := h.view.SubscriptionView(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) comparePlans(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		badRequest(w, "missing target plan")
		return
	}

	cmp, err := h.view.ComparePlans(r.Context(), userID, target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

type changeRequest struct {
	PlanID   string        `json:"plan_id"`
	Interval plan.Interval `json:"interval"`
}

type changeResponse struct {
	AppliedImmediately bool                 `json:"applied_immediately"`
	Subscription       *view.View           `json:"subscription,omitempty"`
	Pending            *view.PendingSummary `json:"pending_change,omitempty"`
}

func (h *handlers) requestChange(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if req.Interval == "" {
		req.Interval = plan.IntervalMonthly
	}

	result, err := h.changes.RequestChange(r.Context(), userID, req.PlanID, req.Interval)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := changeResponse{AppliedImmediately: result.AppliedImmediately}
	if result.AppliedImmediately {
		v, err := h.view.SubscriptionView(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Subscription = v
	} else if result.Pending != nil {
		target, err := h.catalog.Get(r.Context(), result.Pending.TargetPlanID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Pending = &view.PendingSummary{
			TargetPlan:    target,
			Interval:      result.Pending.TargetInterval,
			Type:          result.Pending.Type,
			EffectiveDate: result.Pending.EffectiveDate,
			RequestedAt:   result.Pending.RequestedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) cancelChange(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	if err := h.changes.CancelPendingChange(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// consumeRequest carries the unit count; a body without one means a single
// unit, the common case for channel senders gating one call or message.
type consumeRequest struct {
	Amount int64 `json:"amount"`
}

type consumeResponse struct {
	Allowed   bool       `json:"allowed"`
	Used      int64      `json:"used"`
	Limit     plan.Limit `json:"limit"`
	Remaining int64      `json:"remaining"`
}

func (h *handlers) consume(w http.ResponseWriter, r *http.Request) {
	userID, feature, ok := parseUsageParams(w, r)
	if !ok {
		return
	}
	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	if err := h.ledger.TryConsume(r.Context(), userID, feature, req.Amount); err != nil {
		writeError(w, err)
		return
	}

	quota, err := h.ledger.Remaining(r.Context(), userID, feature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, consumeResponse{
		Allowed:   true,
		Used:      quota.Used,
		Limit:     quota.Limit,
		Remaining: quota.RemainingForDisplay(),
	})
}

func (h *handlers) refund(w http.ResponseWriter, r *http.Request) {
	userID, feature, ok := parseUsageParams(w, r)
	if !ok {
		return
	}
	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	if err := h.ledger.Refund(r.Context(), userID, feature, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) usageHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	periodKey := chi.URLParam(r, "period")

	used, err := h.ledger.History(r.Context(), userID, periodKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period_key": periodKey,
		"usage":      used,
	})
}

type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

func (h *handlers) portalSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	sub, err := h.subs.Get(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	url, err := h.provider.CreatePortalSession(r.Context(), sub.CustomerRef, req.ReturnURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"portal_url": url})
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w, "cannot read payload")
		return
	}

	event, err := h.provider.ParseWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook rejected", logger.Error(err))
		writeError(w, err)
		return
	}

	outcome, err := h.reconciler.Apply(r.Context(), event)
	if err != nil {
		h.log.ErrorContext(r.Context(), "event reconciliation failed",
			logger.EventID(event.ExternalID), logger.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome.Status)})
}

func (h *handlers) healthcheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

func parseUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		badRequest(w, "invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func parseUsageParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, plan.Feature, bool) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return uuid.Nil, "", false
	}
	feature := plan.Feature(chi.URLParam(r, "feature"))
	if !slices.Contains(plan.Features(), feature) {
		badRequest(w, "unknown feature")
		return uuid.Nil, "", false
	}
	return userID, feature, true
}

func badRequest(w http.ResponseWriter, msg string) {
	var body errorBody
	body.Error.Code = "bad_request"
	body.Error.Message = msg
	writeJSON(w, http.StatusBadRequest, body)
}
