// Package handlers contains the health checks and reusable middleware of the
// progression HTTP API.
//
// # Health Checks
//
// A CompositeHealthChecker runs every registered check in parallel, each
// bounded by its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("0.1.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
// Middleware share the MiddlewareFunc signature and compose with Chain:
//
//	h := handlers.ChainHandler(mux,
//	    auth.Middleware,
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	)
package handlers
