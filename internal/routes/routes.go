package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/aegis/internal/auth"
	"github.com/BradenHooton/aegis/internal/handlers"
	"github.com/BradenHooton/aegis/internal/metrics"
	"github.com/BradenHooton/aegis/internal/middleware"
	"github.com/BradenHooton/aegis/internal/models"
)

// Handlers groups everything RegisterRoutes mounts
type Handlers struct {
	Risk    *handlers.RiskHandler
	Devices *handlers.DeviceHandler
	Audit   *handlers.AuditHandler
	Health  *handlers.HealthHandler
}

// RegisterRoutes registers all application routes. /health and /metrics are public; the
// /v1 API needs a bearer token, and rule, device and event administration needs the admin role.
func RegisterRoutes(router chi.Router, h Handlers, tokenManager *auth.TokenManager, rateLimit middleware.RateLimitConfig) {
	router.Get("/health", h.Health.Health)
	router.Handle("/metrics", metrics.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(middleware.RateLimitBySubject(rateLimit))
		r.Use(auth.RequireRole(models.RoleService, models.RoleAdmin))

		// Risk assessment
		r.Post("/risk/assess", h.Risk.Assess)
		r.Post("/risk/assess/login", h.Risk.AssessLogin)
		r.Post("/risk/assess/registration", h.Risk.AssessRegistration)
		r.Post("/risk/assess/behavior", h.Risk.AssessBehavior)
		r.Post("/risk/login-attempts", h.Risk.RecordLoginAttempt)
		r.Get("/risk/users/{id}/history", h.Risk.GetUserHistory)
		r.Get("/risk/rules", h.Risk.ListRules)
		r.Get("/risk/rules/stats", h.Risk.GetRuleStats)
		r.Get("/risk/rules/{id}", h.Risk.GetRule)

		// Devices
		r.Post("/devices", h.Devices.Record)
		r.Get("/devices/stats", h.Devices.Stats)
		r.Get("/devices/{fingerprint}", h.Devices.Get)
		r.Get("/users/{id}/devices", h.Devices.ListForUser)

		// Audit trail
		r.Post("/audit/logs", h.Audit.CreateLog)
		r.Get("/audit/logs", h.Audit.ListLogs)
		r.Post("/audit/events", h.Audit.CreateEvent)
		r.Get("/audit/events", h.Audit.ListEvents)
		r.Post("/audit/permission-checks", h.Audit.CreatePermissionCheck)
		r.Post("/audit/password-changes", h.Audit.CreatePasswordChange)
		r.Post("/audit/account-locks", h.Audit.CreateAccountLock)
		r.Post("/audit/sensitive-operations", h.Audit.CreateSensitiveOperation)
		r.Post("/audit/data-access", h.Audit.CreateDataAccess)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Post("/risk/rules", h.Risk.CreateRule)
			r.Patch("/risk/rules/{id}", h.Risk.UpdateRule)
			r.Post("/risk/rules/{id}/enable", h.Risk.EnableRule)
			r.Post("/risk/rules/{id}/disable", h.Risk.DisableRule)

			r.Post("/devices/{fingerprint}/trust", h.Devices.Trust)
			r.Post("/devices/{fingerprint}/block", h.Devices.Block)
			r.Post("/devices/cleanup", h.Devices.Cleanup)

			r.Get("/audit/logs/export", h.Audit.ExportLogs)
			r.Get("/audit/stats", h.Audit.Stats)
			r.Post("/audit/events/{id}/resolve", h.Audit.ResolveEvent)
		})
	})
}
