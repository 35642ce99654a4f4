package planchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ringline/billingkit/pkg/pg"
	"github.com/ringline/billingkit/pkg/plan"
)

// pgStore persists change records in the pending_plan_changes table. A
// partial unique index on (user_id) WHERE status = 'pending' backs the one
// live row per user invariant at the database level, on top of the
// transactional supersede in ReplacePending.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) GetPending(ctx context.Context, userID uuid.UUID) (*PendingChange, error) {
	const q = `
		SELECT user_id, target_plan_id, target_interval, change_type,
		       effective_date, status, requested_at
		FROM pending_plan_changes
		WHERE user_id = $1 AND status = 'pending'`

	change, err := scanChange(s.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, ErrNoPendingChange
		}
		return nil, fmt.Errorf("get pending change: %w", err)
	}
	return change, nil
}

func (s *pgStore) ReplacePending(ctx context.Context, change *PendingChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace pending change: %w", err)
	}
	defer tx.Rollback(ctx)

	const supersede = `
		UPDATE pending_plan_changes
		SET status = 'cancelled', closed_at = $2
		WHERE user_id = $1 AND status = 'pending'`
	if _, err := tx.Exec(ctx, supersede, change.UserID, change.RequestedAt); err != nil {
		return fmt.Errorf("supersede pending change: %w", err)
	}

	const insert = `
		INSERT INTO pending_plan_changes
			(user_id, target_plan_id, target_interval, change_type,
			 effective_date, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)`
	if _, err := tx.Exec(ctx, insert,
		change.UserID, change.TargetPlanID, string(change.TargetInterval),
		string(change.Type), change.EffectiveDate, change.RequestedAt,
	); err != nil {
		return fmt.Errorf("insert pending change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace pending change: %w", err)
	}
	change.Status = StatusPending
	return nil
}

func (s *pgStore) ClosePending(ctx context.Context, userID uuid.UUID, status ChangeStatus, closedAt time.Time) error {
	const q = `
		UPDATE pending_plan_changes
		SET status = $2, closed_at = $3
		WHERE user_id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, q, userID, string(status), closedAt)
	if err != nil {
		return fmt.Errorf("close pending change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPendingChange
	}
	return nil
}

func (s *pgStore) History(ctx context.Context, userID uuid.UUID) ([]PendingChange, error) {
	const q = `
		SELECT user_id, target_plan_id, target_interval, change_type,
		       effective_date, status, requested_at
		FROM pending_plan_changes
		WHERE user_id = $1
		ORDER BY requested_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("change history: %w", err)
	}
	defer rows.Close()

	var history []PendingChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("change history: %w", err)
		}
		history = append(history, *change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("change history: %w", err)
	}
	return history, nil
}

func scanChange(row pgx.Row) (*PendingChange, error) {
	var change PendingChange
	var interval, changeType, status string
	if err := row.Scan(
		&change.UserID, &change.TargetPlanID, &interval, &changeType,
		&change.EffectiveDate, &status, &change.RequestedAt,
	); err != nil {
		return nil, err
	}
	change.TargetInterval = plan.Interval(interval)
	change.Type = ChangeType(changeType)
	change.Status = ChangeStatus(status)
	return &change, nil
}
