// Package logger builds the slog.Logger shared by the billing services.
//
// Production gets JSON output at info level; development gets text at debug.
// Handlers can be decorated with context extractors so request-scoped values
// (request ID, user ID) appear on every record without threading them
// through call sites.
//
// Usage:
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "billingkit"),
//	    logger.WithContextValue("request_id", requestIDKey),
//	)
//	log.Info("plan change applied", logger.UserID(userID))
package logger
