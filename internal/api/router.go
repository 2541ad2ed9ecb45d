package api

import (
	"net/http"

	"github.com/Rrens/flowbot/internal/api/handler"
	customMiddleware "github.com/Rrens/flowbot/internal/api/middleware"
	"github.com/Rrens/flowbot/internal/channel"
	"github.com/Rrens/flowbot/internal/config"
	"github.com/Rrens/flowbot/internal/security"
	"github.com/Rrens/flowbot/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the collaborators the router wires into handlers
type Deps struct {
	Engine   handler.TurnProcessor
	Sessions *service.SessionService
	JWT      *security.JWTManager
	Sender   channel.Sender
	Ready    map[string]handler.Pinger

	// Optional; nil disables the feature.
	Limiter    customMiddleware.Limiter
	GraphCache handler.GraphInvalidator
	Deliveries handler.Deduplicator
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	chatHandler := handler.NewChatHandler(deps.Engine, deps.Limiter)
	whatsappHandler := handler.NewWhatsAppHandler(
		deps.Engine,
		deps.Sender,
		channel.TenantResolver(cfg.WhatsApp.Tenants),
		deps.Deliveries,
		cfg.WhatsApp.VerifyToken,
		cfg.WhatsApp.AppSecret,
	)
	sessionHandler := handler.NewSessionHandler(deps.Sessions, deps.GraphCache)

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(deps.Limiter)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready))

		// Channel webhooks (public, signature checked)
		r.Route("/webhooks/whatsapp", func(r chi.Router) {
			r.Get("/", whatsappHandler.Verify)
			r.Post("/", whatsappHandler.Receive)
		})

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(customMiddleware.TenantContext)

			// Web chat (public, rate limited per user)
			r.Post("/webchat/messages", chatHandler.Send)

			// Operator routes
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)
				r.Use(customMiddleware.TenantScope)
				r.Use(rateLimitMiddleware.Limit)

				r.Post("/flow/cache/flush", sessionHandler.FlushFlowCache)

				r.Route("/sessions/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Get("/messages", sessionHandler.Messages)
					r.Post("/end", sessionHandler.End)
				})
			})
		})
	})

	return r
}
