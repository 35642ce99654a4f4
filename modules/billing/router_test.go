package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	module "github.com/ringline/billingkit/modules/billing"
	"github.com/ringline/billingkit/pkg/billing"
	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/planchange"
	"github.com/ringline/billingkit/pkg/reconcile"
	"github.com/ringline/billingkit/pkg/subscription"
	"github.com/ringline/billingkit/pkg/usage"
	"github.com/ringline/billingkit/pkg/view"
)

type fakeProvider struct {
	webhookEvent *billing.WebhookEvent
	webhookErr   error
}

func (f *fakeProvider) CreateOrUpdateSubscription(ctx context.Context, req billing.ChangeRequest) (*billing.Confirmation, error) {
	now := time.Now().UTC()
	return &billing.Confirmation{
		CustomerRef: "sub_test",
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
		OccurredAt:  now,
	}, nil
}

func (f *fakeProvider) ScheduleChangeAtPeriodEnd(ctx context.Context, req billing.ChangeRequest) error {
	return nil
}

func (f *fakeProvider) CancelScheduledChange(ctx context.Context, customerRef string) error {
	return nil
}

func (f *fakeProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	return "https://portal.example/session/xyz", nil
}

func (f *fakeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.WebhookEvent, error) {
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return f.webhookEvent, nil
}

var testPlans = []plan.Plan{
	{
		ID: "free", Name: "Free", Rank: 0,
		Limits: map[plan.Feature]plan.Limit{
			plan.FeatureCalls: plan.Limited(10),
			plan.FeatureTexts: plan.Limited(100),
		},
		Active: true,
	},
	{
		ID: "pro", Name: "Pro", Rank: 1,
		Limits: map[plan.Feature]plan.Limit{
			plan.FeatureCalls:  plan.Limited(500),
			plan.FeatureTexts:  plan.Limited(1000),
			plan.FeatureEmails: plan.Unlimited(),
		},
		Prices: map[plan.Interval]plan.Money{
			plan.IntervalMonthly: {Amount: 1999, Currency: "USD"},
			plan.IntervalYearly:  {Amount: 19990, Currency: "USD"},
		},
		Active: true,
	},
}

type testServer struct {
	srv      *httptest.Server
	provider *fakeProvider
	userID   uuid.UUID
}

func newTestServer(t *testing.T, planID string) *testServer {
	t.Helper()

	userID := uuid.New()
	catalog := plan.MustMemoryCatalog(testPlans...)
	subs := subscription.NewMemoryStore()
	sub := subscription.NewFree(userID, time.Now().UTC().AddDate(0, 0, -5))
	sub.PlanID = planID
	if planID != subscription.FreePlanID {
		sub.CustomerRef = "sub_existing"
	}
	require.NoError(t, subs.Create(context.Background(), sub))

	locker := subscription.NewLocker()
	pending := planchange.NewMemoryStore()
	provider := &fakeProvider{}
	ledger := usage.NewLedger(catalog, subs, usage.NewMemoryStore(), locker)

	router := module.Router(module.RouterOptions{
		Catalog:    catalog,
		Subs:       subs,
		View:       view.NewService(catalog, subs, pending, ledger),
		Changes:    planchange.NewService(catalog, subs, pending, provider, locker),
		Ledger:     ledger,
		Provider:   provider,
		Reconciler: reconcile.New(subs, pending, reconcile.NewMemoryAuditLog(), locker),
		Healthchecks: map[string]func(context.Context) error{
			"self": func(context.Context) error { return nil },
		},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, provider: provider, userID: userID}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestRouter_Plans(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "free")

	resp, body := ts.do(t, http.MethodGet, "/plans", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	plans, ok := body["plans"].([]any)
	require.True(t, ok)
	assert.Len(t, plans, 2)
}

func TestRouter_SubscriptionView(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "pro")

	resp, body := ts.do(t, http.MethodGet, fmt.Sprintf("/users/%s/subscription", ts.userID), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	if planBody, ok := body["plan"].(map[string]any); assert.True(t, ok) {
		assert.Equal(t, "pro", planBody["id"])
	}

	resp, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/users/%s/subscription", uuid.New()), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/users/not-a-uuid/subscription", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_RequestChange(t *testing.T) {
	t.Parallel()

	t.Run("upgrade applies immediately", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, body := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/subscription/change", ts.userID),
			`{"plan_id":"pro","interval":"monthly"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["applied_immediately"])
	})

	t.Run("downgrade defers", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "pro")

		resp, body := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/subscription/change", ts.userID),
			`{"plan_id":"free","interval":"monthly"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["applied_immediately"])
		assert.NotNil(t, body["pending_change"])
	})

	t.Run("already current conflicts", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "pro")

		resp, _ := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/subscription/change", ts.userID),
			`{"plan_id":"pro","interval":"monthly"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, _ := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/subscription/change", ts.userID),
			`{"plan_id":"enterprise","interval":"monthly"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestRouter_CancelChange(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "pro")

	// Nothing pending yet.
	resp, _ := ts.do(t, http.MethodDelete, fmt.Sprintf("/users/%s/subscription/change", ts.userID), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost,
		fmt.Sprintf("/users/%s/subscription/change", ts.userID),
		`{"plan_id":"free","interval":"monthly"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/users/%s/subscription/change", ts.userID), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRouter_Consume(t *testing.T) {
	t.Parallel()

	t.Run("allows and reports remaining", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, body := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/calls/consume", ts.userID),
			`{"amount":4}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, float64(6), body["remaining"])
	})

	t.Run("omitted amount consumes one unit", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, body := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/calls/consume", ts.userID), "{}")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, float64(9), body["remaining"])
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, _ := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/calls/consume", ts.userID),
			`{"amount":-2}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("denies over the limit", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, _ := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/calls/consume", ts.userID),
			`{"amount":11}`)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})

	t.Run("unknown feature", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, _ := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/faxes/consume", ts.userID),
			`{"amount":1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("refund returns units", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "free")

		resp, _ := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/calls/consume", ts.userID), `{"amount":10}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/calls/refund", ts.userID), `{"amount":3}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, body := ts.do(t, http.MethodPost,
			fmt.Sprintf("/users/%s/usage/calls/consume", ts.userID), `{"amount":3}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(0), body["remaining"])
	})
}

func TestRouter_PortalSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "pro")

	resp, body := ts.do(t, http.MethodPost,
		fmt.Sprintf("/users/%s/portal", ts.userID),
		`{"return_url":"https://app.example/billing"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://portal.example/session/xyz", body["portal_url"])
}

func TestRouter_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("applies and dedups", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "pro")
		ts.provider.webhookEvent = &billing.WebhookEvent{
			ExternalID:    "evt_http_1",
			Type:          billing.EventPaymentFailed,
			ProviderEvent: "transaction.payment_failed",
			UserID:        ts.userID,
			OccurredAt:    time.Now().UTC(),
			Raw:           []byte(`{}`),
		}

		resp, body := ts.do(t, http.MethodPost, "/webhooks/provider", `{"event":"raw"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "applied", body["status"])

		resp, body = ts.do(t, http.MethodPost, "/webhooks/provider", `{"event":"raw"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "duplicate", body["status"])
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "pro")
		ts.provider.webhookErr = billing.ErrWebhookVerificationFailed

		resp, _ := ts.do(t, http.MethodPost, "/webhooks/provider", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown user is retryable", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, "pro")
		ts.provider.webhookEvent = &billing.WebhookEvent{
			ExternalID:    "evt_http_2",
			Type:          billing.EventPaymentFailed,
			ProviderEvent: "transaction.payment_failed",
			UserID:        uuid.New(),
			OccurredAt:    time.Now().UTC(),
			Raw:           []byte(`{}`),
		}

		resp, _ := ts.do(t, http.MethodPost, "/webhooks/provider", `{}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "free")

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", checks["self"])
}
