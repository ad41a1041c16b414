package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/appid"
	"github.com/relaybot/relaybot/internal/observability"
	"github.com/relaybot/relaybot/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/", handlers.RootHandler(s.status))

	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/status", handlers.StatusHandler(s.status))
	s.router.Get("/metrics", MetricsHandler)

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes gofulmen's signal endpoint (for example a
// remote graceful shutdown) when RELAYBOT_ADMIN_TOKEN is set.
func (s *Server) registerAdminEndpoint() {
	tokenVar := appid.Get().EnvName("ADMIN_TOKEN")
	adminToken := os.Getenv(tokenVar)
	logger := observability.BotLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + tokenVar + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
