package plan

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Catalog is the read-only view of the plan table exposed to the rest of the
// engine. No write operations exist on purpose: plans are seeded by operators
// and referenced, never edited, by subscription code.
type Catalog interface {
	// ListActive returns all active plans ordered by ascending rank.
	ListActive(ctx context.Context) ([]Plan, error)

	// Get returns the plan with the given ID, active or not. Returns
	// ErrPlanNotFound if no such plan exists. Inactive plans remain
	// resolvable because existing subscribers may still reference them.
	Get(ctx context.Context, id string) (Plan, error)
}

// memoryCatalog serves plans from an immutable in-memory table.
type memoryCatalog struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewMemoryCatalog builds a catalog from the given plans. At least one plan
// is required; duplicate or malformed plans fail construction so that
// misconfiguration prevents startup instead of surfacing mid-request.
func NewMemoryCatalog(plans ...Plan) (Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: at least one plan is required", ErrInvalidConfiguration)
	}

	table := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, exists := table[p.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate plan ID %q", ErrInvalidConfiguration, p.ID)
		}
		table[p.ID] = p.clone()
	}

	return &memoryCatalog{plans: table}, nil
}

// MustMemoryCatalog is NewMemoryCatalog that panics on error, for tests and
// embedded defaults.
func MustMemoryCatalog(plans ...Plan) Catalog {
	c, err := NewMemoryCatalog(plans...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *memoryCatalog) ListActive(ctx context.Context) ([]Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if p.Active {
			out = append(out, p.clone())
		}
	}
	slices.SortFunc(out, func(a, b Plan) int {
		if a.Rank != b.Rank {
			return a.Rank - b.Rank
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (c *memoryCatalog) Get(ctx context.Context, id string) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p.clone(), nil
}
