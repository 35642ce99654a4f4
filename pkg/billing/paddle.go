package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
)

// PaddleConfig holds configuration for the Paddle provider.
type PaddleConfig struct {
	APIKey        string        `env:"PADDLE_API_KEY,required"`
	WebhookSecret string        `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	HTTPTimeout   time.Duration `env:"PADDLE_HTTP_TIMEOUT" envDefault:"30s"`
}

// PaddleProvider implements Provider on top of Paddle. The engine's opaque
// customerRef is the Paddle subscription ID (sub_xxx); Paddle resolves the
// customer from it on every call.
//
// Subscription lifecycle endpoints (update, cancel-at-period-end, clear
// scheduled change) are called over Paddle's REST API directly: the SDK
// covers transactions, portal sessions and webhook verification, but has no
// helper for clearing a scheduled change, and keeping all three lifecycle
// calls on one code path makes their error mapping uniform.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	http     *http.Client
	baseURL  string
	apiKey   string

	// prices maps "planID/interval" to the Paddle price ID billed for it.
	prices map[string]string
}

// PriceKey builds the lookup key for the plan/interval price map.
func PriceKey(planID string, interval plan.Interval) string {
	return planID + "/" + string(interval)
}

// NewPaddleProvider creates a Paddle-backed Provider. The prices map must
// cover every paid (plan, interval) pair the catalog offers.
func NewPaddleProvider(cfg PaddleConfig, prices map[string]string) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client  *paddle.SDK
		baseURL string
		err     error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
		baseURL = "https://sandbox-api.paddle.com"
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
		baseURL = "https://api.paddle.com"
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		http:     &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		prices:   prices,
	}, nil
}

func (p *PaddleProvider) priceFor(planID string, interval plan.Interval) (string, error) {
	priceID, ok := p.prices[PriceKey(planID, interval)]
	if !ok {
		return "", fmt.Errorf("no paddle price configured for plan %s interval %s", planID, interval)
	}
	return priceID, nil
}

// CreateOrUpdateSubscription applies the target plan to the customer's
// Paddle subscription. First purchases (no customerRef yet) go through a
// catalog transaction, which Paddle turns into a subscription and reports
// back via webhook.
func (p *PaddleProvider) CreateOrUpdateSubscription(ctx context.Context, req ChangeRequest) (*Confirmation, error) {
	priceID, err := p.priceFor(req.PlanID, req.Interval)
	if err != nil {
		return nil, err
	}

	if req.CustomerRef == "" {
		return p.createFirstSubscription(ctx, req, priceID)
	}

	prorationMode := "prorated_immediately"
	if !req.Prorate {
		prorationMode = "do_not_bill"
	}

	var resp struct {
		Data struct {
			ID                   string `json:"id"`
			CustomerID           string `json:"customer_id"`
			CurrentBillingPeriod *struct {
				StartsAt time.Time `json:"starts_at"`
				EndsAt   time.Time `json:"ends_at"`
			} `json:"current_billing_period"`
		} `json:"data"`
	}
	err = p.call(ctx, http.MethodPatch, "/subscriptions/"+req.CustomerRef, map[string]any{
		"items": []map[string]any{
			{"price_id": priceID, "quantity": 1},
		},
		"proration_billing_mode": prorationMode,
		"custom_data": map[string]any{
			"user_id":  req.UserID.String(),
			"plan_id":  req.PlanID,
			"interval": string(req.Interval),
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	conf := &Confirmation{
		SubscriptionRef: resp.Data.ID,
		CustomerRef:     req.CustomerRef,
		OccurredAt:      time.Now().UTC(),
	}
	if bp := resp.Data.CurrentBillingPeriod; bp != nil {
		conf.PeriodStart = bp.StartsAt
		conf.PeriodEnd = bp.EndsAt
	}
	return conf, nil
}

// createFirstSubscription charges a catalog transaction for a customer with
// no Paddle subscription yet. Custom data carries our identifiers so the
// resulting webhooks can be attributed.
func (p *PaddleProvider) createFirstSubscription(ctx context.Context, req ChangeRequest, priceID string) (*Confirmation, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id":  req.UserID.String(),
			"plan_id":  req.PlanID,
			"interval": string(req.Interval),
		},
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}

	conf := &Confirmation{OccurredAt: time.Now().UTC()}
	if transaction.SubscriptionID != nil {
		conf.SubscriptionRef = *transaction.SubscriptionID
		conf.CustomerRef = *transaction.SubscriptionID
	}
	return conf, nil
}

// ScheduleChangeAtPeriodEnd defers the target plan to the period boundary.
// Downgrades to the free tier become a cancel-at-period-end; everything else
// is a subscription update billed fully next period.
func (p *PaddleProvider) ScheduleChangeAtPeriodEnd(ctx context.Context, req ChangeRequest) error {
	if req.CustomerRef == "" {
		return ErrMissingCustomerRef
	}

	if _, hasPricedTarget := p.prices[PriceKey(req.PlanID, req.Interval)]; !hasPricedTarget {
		// Free target: nothing to bill next period, cancel instead.
		return p.call(ctx, http.MethodPost, "/subscriptions/"+req.CustomerRef+"/cancel", map[string]any{
			"effective_from": "next_billing_period",
		}, nil)
	}

	priceID, err := p.priceFor(req.PlanID, req.Interval)
	if err != nil {
		return err
	}
	return p.call(ctx, http.MethodPatch, "/subscriptions/"+req.CustomerRef, map[string]any{
		"items": []map[string]any{
			{"price_id": priceID, "quantity": 1},
		},
		"proration_billing_mode": "full_next_billing_period",
		"custom_data": map[string]any{
			"user_id":  req.UserID.String(),
			"plan_id":  req.PlanID,
			"interval": string(req.Interval),
		},
	}, nil)
}

// CancelScheduledChange clears a pending scheduled change on the Paddle
// subscription.
func (p *PaddleProvider) CancelScheduledChange(ctx context.Context, customerRef string) error {
	if customerRef == "" {
		return ErrMissingCustomerRef
	}
	return p.call(ctx, http.MethodPatch, "/subscriptions/"+customerRef, map[string]any{
		"scheduled_change": nil,
	}, nil)
}

// CreatePortalSession returns a pre-authenticated customer portal URL.
func (p *PaddleProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	if customerRef == "" {
		return "", ErrMissingCustomerRef
	}

	// Paddle portal sessions are created per customer; resolve the
	// customer from the subscription first.
	var sub struct {
		Data struct {
			CustomerID string `json:"customer_id"`
		} `json:"data"`
	}
	if err := p.call(ctx, http.MethodGet, "/subscriptions/"+customerRef, nil, &sub); err != nil {
		return "", err
	}

	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID:      sub.Data.CustomerID,
		SubscriptionIDs: []string{customerRef},
	})
	if err != nil {
		return "", errors.Join(ErrProviderUnavailable, err)
	}
	if session.URLs.General.Overview == "" {
		return "", ErrNoPortalURL
	}
	return session.URLs.General.Overview, nil
}

// paddleEnvelope is the raw shape every Paddle webhook shares.
type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// paddleEventData covers the subscription and transaction fields the engine
// reads. Everything else stays in Raw for the audit log.
type paddleEventData struct {
	ID                   string         `json:"id"`
	SubscriptionID       string         `json:"subscription_id"`
	Status               string         `json:"status"`
	Origin               string         `json:"origin"`
	CustomData           map[string]any `json:"custom_data"`
	CurrentBillingPeriod *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	BillingPeriod *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"billing_period"`
}

// ParseWebhook verifies the Paddle signature and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var envelope paddleEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(ErrMalformedWebhook, err)
	}
	var data paddleEventData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, errors.Join(ErrMalformedWebhook, err)
	}

	event := &WebhookEvent{
		ExternalID:    envelope.EventID,
		Type:          mapPaddleEventType(envelope.EventType, data.Origin),
		ProviderEvent: envelope.EventType,
		OccurredAt:    envelope.OccurredAt,
		Status:        data.Status,
		Raw:           envelope.Data,
	}

	if data.CustomData != nil {
		if raw, ok := data.CustomData["user_id"].(string); ok {
			if userID, err := uuid.Parse(raw); err == nil {
				event.UserID = userID
			}
		}
		if planID, ok := data.CustomData["plan_id"].(string); ok {
			event.PlanID = planID
		}
		if interval, ok := data.CustomData["interval"].(string); ok {
			event.Interval = plan.Interval(interval)
		}
	}

	if bp := data.CurrentBillingPeriod; bp != nil {
		start, end := bp.StartsAt, bp.EndsAt
		event.PeriodStart, event.PeriodEnd = &start, &end
	} else if bp := data.BillingPeriod; bp != nil {
		start, end := bp.StartsAt, bp.EndsAt
		event.PeriodStart, event.PeriodEnd = &start, &end
	}

	return event, nil
}

// mapPaddleEventType normalizes Paddle event names. Recurring renewal
// transactions become billing-cycle events, which is what triggers period
// rollover and pending-change application downstream.
func mapPaddleEventType(paddleEvent, origin string) EventType {
	switch paddleEvent {
	case "subscription.updated", "subscription.activated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCanceled
	case "transaction.completed", "transaction.payment_succeeded":
		if origin == "subscription_recurring" {
			return EventBillingCycleRenewed
		}
		return EventPaymentSucceeded
	case "transaction.payment_failed", "subscription.past_due":
		return EventPaymentFailed
	default:
		// Unknown events keep their provider name; the reconciler
		// rejects them explicitly instead of guessing.
		return EventType(paddleEvent)
	}
}

// call issues one Paddle REST request and decodes the response into out.
func (p *PaddleProvider) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode paddle request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build paddle request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return errors.Join(ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode paddle response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Join(ErrPaymentDeclined, fmt.Errorf("paddle %s %s: %s", method, path, raw))
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Join(ErrProviderUnavailable, fmt.Errorf("paddle %s %s: status %d: %s", method, path, resp.StatusCode, raw))
	}
}
