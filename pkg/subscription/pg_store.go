package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ringline/billingkit/pkg/pg"
	"github.com/ringline/billingkit/pkg/plan"
)

// pgStore persists subscriptions in the user_subscription_state table.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	const q = `
		SELECT user_id, plan_id, status, billing_interval,
		       period_start, period_end, customer_ref,
		       version, state_timestamp, created_at, updated_at
		FROM user_subscription_state
		WHERE user_id = $1`

	var sub Subscription
	var status, interval string
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&sub.UserID, &sub.PlanID, &status, &interval,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.CustomerRef,
		&sub.Version, &sub.StateTimestamp, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	sub.Status = Status(status)
	sub.Interval = plan.Interval(interval)
	return &sub, nil
}

func (s *pgStore) Create(ctx context.Context, sub *Subscription) error {
	const q = `
		INSERT INTO user_subscription_state
			(user_id, plan_id, status, billing_interval,
			 period_start, period_end, customer_ref,
			 version, state_timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, q,
		sub.UserID, sub.PlanID, string(sub.Status), string(sub.Interval),
		sub.PeriodStart, sub.PeriodEnd, sub.CustomerRef,
		sub.Version, sub.StateTimestamp, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKey(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (s *pgStore) Update(ctx context.Context, sub *Subscription) error {
	const q = `
		UPDATE user_subscription_state
		SET plan_id = $2, status = $3, billing_interval = $4,
		    period_start = $5, period_end = $6, customer_ref = $7,
		    version = version + 1, state_timestamp = $8, updated_at = $9
		WHERE user_id = $1 AND version = $10`

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, q,
		sub.UserID, sub.PlanID, string(sub.Status), string(sub.Interval),
		sub.PeriodStart, sub.PeriodEnd, sub.CustomerRef,
		sub.StateTimestamp, now, sub.Version,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is missing or someone committed first;
		// distinguish so callers can report the right reason.
		if _, getErr := s.Get(ctx, sub.UserID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}

	sub.Version++
	sub.UpdatedAt = now
	return nil
}
