// Package pg bootstraps the PostgreSQL layer backing subscription state,
// usage counters, pending changes, and the reconciliation audit log.
//
// It wraps pgx/v5 pooling with startup retries, applies embedded goose
// migrations, and exposes the error classifiers the store packages use
// (duplicate key, no rows).
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil { ... }
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, migrations.FS, log); err != nil { ... }
package pg
