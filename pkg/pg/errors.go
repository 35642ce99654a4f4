package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidConnString = errors.New("invalid postgres connection string")
	ErrConnectFailed     = errors.New("failed to open postgres connection")
	ErrHealthcheckFailed = errors.New("postgres healthcheck failed")
	ErrMigrateFailed     = errors.New("failed to apply migrations")
)

// IsNotFound reports whether err means the query matched no rows.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKey reports a unique constraint violation (SQLSTATE 23505).
// The reconciliation audit log relies on this for event dedup.
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
