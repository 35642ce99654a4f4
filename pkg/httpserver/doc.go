// Package httpserver wraps net/http with graceful shutdown and
// environment-driven configuration.
//
// Run blocks until the context is canceled, an interrupt or TERM signal
// arrives, or the listener fails. In-flight requests get ShutdownTimeout to
// drain before the server is torn down.
//
//	var cfg httpserver.Config
//	config.MustLoad(&cfg)
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
package httpserver
