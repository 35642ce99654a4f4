package plan

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Feature is a metered, quota-gated feature of the communication product.
type Feature string

const (
	FeatureCalls  Feature = "calls"
	FeatureTexts  Feature = "texts"
	FeatureEmails Feature = "emails"
)

// Features lists all metered features in a stable order.
func Features() []Feature {
	return []Feature{FeatureCalls, FeatureTexts, FeatureEmails}
}

// Capability is a non-metered plan flag, enabled or disabled per tier.
type Capability string

const (
	CapabilityVoicemailTranscripts Capability = "voicemail_transcripts"
	CapabilityCustomCallerID       Capability = "custom_caller_id"
	CapabilityPrioritySupport      Capability = "priority_support"
)

// Interval is the billing frequency of a subscription.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Valid reports whether the interval is one of the known billing intervals.
func (i Interval) Valid() bool {
	return i == IntervalMonthly || i == IntervalYearly
}

// Money is a monetary amount in the smallest currency unit.
// $10.99 USD is Money{Amount: 1099, Currency: "USD"}.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// Limit is a per-feature usage ceiling: either Limited(n) with n >= 0, or
// Unlimited. The zero value is Limited(0), a feature that is present but
// never allowed, which is distinct from Unlimited everywhere downstream.
type Limit struct {
	n         int64
	unlimited bool
}

// Limited returns a finite limit. Negative values are clamped to zero; the
// catalog validator rejects them before they get this far.
func Limited(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// Unlimited returns a limit with no ceiling.
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// IsUnlimited reports whether the limit has no ceiling.
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Value returns the finite ceiling and true, or (0, false) for Unlimited.
func (l Limit) Value() (int64, bool) {
	if l.unlimited {
		return 0, false
	}
	return l.n, true
}

// Allows reports whether consuming amount more units on top of used stays
// within the limit.
func (l Limit) Allows(used, amount int64) bool {
	if l.unlimited {
		return true
	}
	return used+amount <= l.n
}

// Remaining returns the units left before the ceiling and true, or
// (0, false) for Unlimited. The result may be negative when usage has been
// recorded against a since-reduced limit; callers flooring for display must
// do so themselves, authorization uses the raw value.
func (l Limit) Remaining(used int64) (int64, bool) {
	if l.unlimited {
		return 0, false
	}
	return l.n - used, true
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.n)
}

// MarshalJSON encodes Limited(n) as n and Unlimited as the string "unlimited".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(l.n)
}

// UnmarshalJSON accepts an integer or the string "unlimited".
func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "unlimited" {
			return fmt.Errorf("%w: unknown limit value %q", ErrInvalidConfiguration, s)
		}
		*l = Unlimited()
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: limit must be an integer or \"unlimited\"", ErrInvalidConfiguration)
	}
	if n < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidConfiguration, n)
	}
	*l = Limited(n)
	return nil
}

// MarshalYAML mirrors the JSON encoding for YAML catalog files.
func (l Limit) MarshalYAML() (any, error) {
	if l.unlimited {
		return "unlimited", nil
	}
	return l.n, nil
}

// UnmarshalYAML accepts an integer or the scalar "unlimited".
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		if s != "unlimited" {
			return fmt.Errorf("%w: unknown limit value %q", ErrInvalidConfiguration, s)
		}
		*l = Unlimited()
		return nil
	}

	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("%w: limit must be an integer or \"unlimited\"", ErrInvalidConfiguration)
	}
	if n < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidConfiguration, n)
	}
	*l = Limited(n)
	return nil
}
