package billing

import "errors"

var (
	// ErrProviderUnavailable covers network failures, timeouts, and 5xx
	// responses from the processor. Safe to retry; nothing was mutated
	// locally.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPaymentDeclined is the processor refusing the charge itself.
	ErrPaymentDeclined = errors.New("payment declined by provider")

	ErrMissingAPIKey             = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret      = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment        = errors.New("invalid billing provider environment")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrMalformedWebhook          = errors.New("malformed webhook payload")
	ErrMissingCustomerRef        = errors.New("provider customer reference is required")
	ErrNoPortalURL               = errors.New("no portal URL returned from provider")
)
