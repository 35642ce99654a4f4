package reconcile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ringline/billingkit/pkg/pg"
)

// pgAudit persists the audit log in the reconciliation_events table. The
// UNIQUE constraint on external_event_id is the cross-process half of the
// idempotency guarantee: even if two engine processes race past Seen, only
// one Record wins.
type pgAudit struct {
	pool *pgxpool.Pool
}

// NewPgAuditLog returns an AuditLog backed by PostgreSQL.
func NewPgAuditLog(pool *pgxpool.Pool) AuditLog {
	return &pgAudit{pool: pool}
}

func (a *pgAudit) Seen(ctx context.Context, externalID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM reconciliation_events WHERE external_event_id = $1)`

	var seen bool
	if err := a.pool.QueryRow(ctx, q, externalID).Scan(&seen); err != nil {
		return false, fmt.Errorf("check event seen: %w", err)
	}
	return seen, nil
}

func (a *pgAudit) Record(ctx context.Context, entry Entry) error {
	const q = `
		INSERT INTO reconciliation_events
			(external_event_id, event_type, user_id, payload, outcome, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := a.pool.Exec(ctx, q,
		entry.ExternalID, entry.EventType, entry.UserID,
		entry.Payload, string(entry.Outcome), entry.ProcessedAt,
	)
	if err != nil {
		if pg.IsDuplicateKey(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
