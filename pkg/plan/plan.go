package plan

import (
	"fmt"
	"maps"
	"slices"
)

// Plan describes a subscription tier and its constraints. The ID is the
// stable tier key referenced by subscriptions ("free", "pro", "premium");
// Rank orders tiers for upgrade/downgrade classification and is explicit
// rather than positional so inserting a tier never reclassifies transitions
// between existing ones.
type Plan struct {
	ID           string             `json:"id" yaml:"id"`
	Name         string             `json:"name" yaml:"name"`
	Description  string             `json:"description,omitempty" yaml:"description,omitempty"`
	Rank         int                `json:"rank" yaml:"rank"`
	Limits       map[Feature]Limit  `json:"limits" yaml:"limits"`
	Capabilities []Capability       `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Prices       map[Interval]Money `json:"prices,omitempty" yaml:"prices,omitempty"`
	TrialDays    int                `json:"trial_days,omitempty" yaml:"trial_days,omitempty"`
	Active       bool               `json:"active" yaml:"active"`
}

// Limit returns the plan's ceiling for the feature. Features absent from the
// plan are treated as Limited(0): present but never allowed.
func (p Plan) Limit(f Feature) Limit {
	if l, ok := p.Limits[f]; ok {
		return l
	}
	return Limited(0)
}

// HasCapability reports whether the plan enables the capability flag.
func (p Plan) HasCapability(c Capability) bool {
	return slices.Contains(p.Capabilities, c)
}

// Price returns the plan's price for the interval, if one is configured.
// Free tiers carry no prices at all.
func (p Plan) Price(i Interval) (Money, bool) {
	m, ok := p.Prices[i]
	return m, ok
}

// IsFree reports whether the plan has no configured prices.
func (p Plan) IsFree() bool {
	return len(p.Prices) == 0
}

// clone returns a deep copy so catalog callers cannot mutate shared state.
func (p Plan) clone() Plan {
	p.Limits = maps.Clone(p.Limits)
	p.Capabilities = slices.Clone(p.Capabilities)
	p.Prices = maps.Clone(p.Prices)
	return p
}

// LimitChange describes a limit moving between two plans for one feature.
type LimitChange struct {
	From Limit `json:"from"`
	To   Limit `json:"to"`
}

// Comparison summarizes what a subscriber gains or loses moving between two
// plans. It backs the downgrade-confirmation surface; classification of the
// transition itself lives in the planchange package.
type Comparison struct {
	GainedCapabilities []Capability            `json:"gained_capabilities,omitempty"`
	LostCapabilities   []Capability            `json:"lost_capabilities,omitempty"`
	RaisedLimits       map[Feature]LimitChange `json:"raised_limits,omitempty"`
	ReducedLimits      map[Feature]LimitChange `json:"reduced_limits,omitempty"`
}

// HasReductions reports whether the move reduces any limit or drops any
// capability.
func (c Comparison) HasReductions() bool {
	return len(c.ReducedLimits) > 0 || len(c.LostCapabilities) > 0
}

// Compare returns the differences between the current and target plans.
func Compare(current, target Plan) Comparison {
	cmp := Comparison{
		RaisedLimits:  make(map[Feature]LimitChange),
		ReducedLimits: make(map[Feature]LimitChange),
	}

	for _, cap := range target.Capabilities {
		if !slices.Contains(current.Capabilities, cap) {
			cmp.GainedCapabilities = append(cmp.GainedCapabilities, cap)
		}
	}
	for _, cap := range current.Capabilities {
		if !slices.Contains(target.Capabilities, cap) {
			cmp.LostCapabilities = append(cmp.LostCapabilities, cap)
		}
	}

	for _, f := range Features() {
		from, to := current.Limit(f), target.Limit(f)
		if from == to {
			continue
		}
		change := LimitChange{From: from, To: to}
		switch {
		case from.IsUnlimited():
			// Unlimited to anything finite is a reduction.
			cmp.ReducedLimits[f] = change
		case to.IsUnlimited():
			cmp.RaisedLimits[f] = change
		default:
			fromN, _ := from.Value()
			toN, _ := to.Value()
			if toN > fromN {
				cmp.RaisedLimits[f] = change
			} else {
				cmp.ReducedLimits[f] = change
			}
		}
	}

	return cmp
}

// validate checks a plan row for configuration mistakes that would otherwise
// surface as runtime misbehavior.
func (p Plan) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: plan ID is required", ErrInvalidConfiguration)
	}
	if p.Rank < 0 {
		return fmt.Errorf("%w: plan %s has negative rank %d", ErrInvalidConfiguration, p.ID, p.Rank)
	}
	if p.TrialDays < 0 {
		return fmt.Errorf("%w: plan %s has negative trial days %d", ErrInvalidConfiguration, p.ID, p.TrialDays)
	}
	for interval := range p.Prices {
		if !interval.Valid() {
			return fmt.Errorf("%w: plan %s has unknown billing interval %q", ErrInvalidConfiguration, p.ID, interval)
		}
	}
	return nil
}
