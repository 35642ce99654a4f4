// Package redis opens the Redis connection used by the usage counter store.
// Counters are hot-path state (every metered call touches them), so this is
// the one stateful dependency the engine keeps outside PostgreSQL.
package redis
