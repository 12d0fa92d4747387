package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	httpapi "github.com/habitquest/progression/internal/interface/http"
	"github.com/habitquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVE
// ══════════════════════════════════════════════════════════════════════════════

// newHTTPServer builds the API server over the app's handlers.
func newHTTPServer(a *app) *httpapi.Server {
	h := a.cfg.HTTP

	cfg := httpapi.DefaultConfig()
	cfg.Host = h.Host
	cfg.Port = h.Port
	cfg.ReadTimeout = h.ReadTimeout
	cfg.WriteTimeout = h.WriteTimeout
	cfg.IdleTimeout = h.IdleTimeout
	cfg.MaxBodyBytes = h.MaxBodyBytes
	cfg.EnableCORS = h.EnableCORS
	cfg.AllowedOrigins = h.AllowedOrigins
	cfg.RateLimitPerMinute = h.RateLimitPerMinute
	cfg.APIKeys = h.APIKeys

	return httpapi.NewServer(cfg, httpapi.Dependencies{
		CreateUser:     a.createUser,
		RecordHabit:    a.record,
		SetGoals:       a.setGoals,
		EvaluateStreak: a.streaks,
		GetProgress:    a.progress,
		Logger:         a.log,
		HealthChecker:  a.health,
		Version:        a.cfg.App.Version,
	})
}

func newServeCmd(run runner) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the progression API over HTTP until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c, func(a *app) error {
				if c.Flags().Changed("port") {
					a.cfg.HTTP.Port = port
				}
				srv := newHTTPServer(a)
				errCh := srv.StartAsync()

				select {
				case err := <-errCh:
					return err
				case <-c.Context().Done():
				}

				ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Context()), a.cfg.HTTP.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				a.log.Info("server stopped", logger.String("address", srv.Address()))
				return <-errCh
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (overrides HTTP_PORT)")
	return cmd
}
