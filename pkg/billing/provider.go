package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
)

// Provider is the minimal surface the engine needs from a payment processor.
// Implementations wrap the official SDK of one processor and keep its quirks
// out of the engine; the engine never interprets provider-specific payloads.
type Provider interface {
	// CreateOrUpdateSubscription charges the customer for the target plan
	// and interval, prorating the current period when requested. Used on
	// the immediate-upgrade path; the returned confirmation carries the
	// period bounds the processor settled on.
	CreateOrUpdateSubscription(ctx context.Context, req ChangeRequest) (*Confirmation, error)

	// ScheduleChangeAtPeriodEnd asks the processor to apply the target
	// plan/interval when the current period ends. Used for downgrades and
	// yearly-to-monthly switches; no money moves now.
	ScheduleChangeAtPeriodEnd(ctx context.Context, req ChangeRequest) error

	// CancelScheduledChange undoes a previously scheduled change. The
	// local pending row must only be cleared after this succeeds.
	CancelScheduledChange(ctx context.Context, customerRef string) error

	// CreatePortalSession returns a pre-authenticated URL to the
	// processor's customer portal. Opaque passthrough.
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error)

	// ParseWebhook verifies the delivery signature and normalizes the
	// payload into a WebhookEvent. Deliveries are at-least-once and may
	// arrive out of order; the reconciler deals with both.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// ChangeRequest describes one plan/interval transition to the processor.
type ChangeRequest struct {
	CustomerRef string
	UserID      uuid.UUID
	PlanID      string
	Interval    plan.Interval
	Prorate     bool
}

// Confirmation is the processor's synchronous acknowledgment of an applied
// change.
type Confirmation struct {
	SubscriptionRef string
	CustomerRef     string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	OccurredAt      time.Time
}

// EventType is the normalized type of a processor notification. The
// reconciler switches over these exhaustively; an event the mapping does not
// recognize keeps its provider name and is rejected as unknown rather than
// silently defaulted.
type EventType string

const (
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventSubscriptionCanceled EventType = "subscription.canceled"
	EventBillingCycleRenewed  EventType = "billing_cycle_renewed"
)

// Known reports whether the event type is one the reconciler handles.
func (t EventType) Known() bool {
	switch t {
	case EventSubscriptionUpdated, EventPaymentSucceeded, EventPaymentFailed,
		EventSubscriptionCanceled, EventBillingCycleRenewed:
		return true
	}
	return false
}

// WebhookEvent is one normalized processor notification. ExternalID is the
// processor's globally unique event ID and the reconciler's dedup key.
type WebhookEvent struct {
	ExternalID    string
	Type          EventType
	ProviderEvent string // original provider event name, for the audit log
	UserID        uuid.UUID

	// OccurredAt is the processor's "effective as of" marker. The
	// reconciler orders events by it, never by arrival time.
	OccurredAt time.Time

	PlanID      string
	Interval    plan.Interval
	Status      string
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	// Raw is the full provider payload, retained in the audit log so a
	// failed apply can be replayed manually.
	Raw json.RawMessage
}
