package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ringline/billingkit/pkg/plan"
)

// pgStore persists counters in the usage_counters table, one row per
// (user_id, period_key, feature).
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a CounterStore backed by PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) CounterStore {
	return &pgStore{pool: pool}
}

func (s *pgStore) Used(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature) (int64, error) {
	const q = `
		SELECT COALESCE(
			(SELECT used FROM usage_counters
			 WHERE user_id = $1 AND period_key = $2 AND feature = $3), 0)`

	var used int64
	if err := s.pool.QueryRow(ctx, q, userID, periodKey, string(feature)).Scan(&used); err != nil {
		return 0, errors.Join(ErrFailedToCount, err)
	}
	return used, nil
}

func (s *pgStore) Add(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error {
	const q = `
		INSERT INTO usage_counters (user_id, period_key, feature, used)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, period_key, feature)
		DO UPDATE SET used = usage_counters.used + EXCLUDED.used`

	if _, err := s.pool.Exec(ctx, q, userID, periodKey, string(feature), amount); err != nil {
		return errors.Join(ErrFailedToConsume, err)
	}
	return nil
}

// AddIfUnder relies on the upsert's conditional update: when the row exists
// and the increment would exceed max, the WHERE clause suppresses the update
// and no row comes back, which reads as a denial. The initial insert path is
// guarded by the amount <= max check.
func (s *pgStore) AddIfUnder(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount, max int64) (bool, error) {
	if amount > max {
		return false, nil
	}

	const q = `
		INSERT INTO usage_counters (user_id, period_key, feature, used)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, period_key, feature)
		DO UPDATE SET used = usage_counters.used + EXCLUDED.used
		WHERE usage_counters.used + EXCLUDED.used <= $5
		RETURNING used`

	rows, err := s.pool.Query(ctx, q, userID, periodKey, string(feature), amount, max)
	if err != nil {
		return false, errors.Join(ErrFailedToConsume, err)
	}
	defer rows.Close()

	applied := rows.Next()
	if err := rows.Err(); err != nil {
		return false, errors.Join(ErrFailedToConsume, err)
	}
	return applied, nil
}

func (s *pgStore) Sub(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error {
	const q = `
		UPDATE usage_counters
		SET used = GREATEST(used - $4, 0)
		WHERE user_id = $1 AND period_key = $2 AND feature = $3`

	if _, err := s.pool.Exec(ctx, q, userID, periodKey, string(feature), amount); err != nil {
		return errors.Join(ErrFailedToConsume, err)
	}
	return nil
}

func (s *pgStore) Snapshot(ctx context.Context, userID uuid.UUID, periodKey string) (map[plan.Feature]int64, error) {
	const q = `
		SELECT feature, used FROM usage_counters
		WHERE user_id = $1 AND period_key = $2`

	rows, err := s.pool.Query(ctx, q, userID, periodKey)
	if err != nil {
		return nil, errors.Join(ErrFailedToCount, err)
	}
	defer rows.Close()

	out := make(map[plan.Feature]int64)
	for rows.Next() {
		var feature string
		var used int64
		if err := rows.Scan(&feature, &used); err != nil {
			return nil, errors.Join(ErrFailedToCount, err)
		}
		out[plan.Feature(feature)] = used
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrFailedToCount, fmt.Errorf("scan usage counters: %w", err))
	}
	return out, nil
}
