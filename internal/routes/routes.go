package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/handlers"
	"github.com/BradenHooton/otpdesk/internal/middleware"
)

// Handlers groups every HTTP handler the API serves
type Handlers struct {
	Health   *handlers.HealthHandler
	Logins   *handlers.LoginHandler
	OTP      *handlers.OTPHandler
	Devices  *handlers.DeviceHandler
	Commands *handlers.CommandHandler
	Accounts *handlers.AccountHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, tokenManager *auth.TokenManager, limits middleware.RateLimitConfig) {
	// Public routes
	router.Get("/health", h.Health.Check)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Use(auth.BearerMiddleware(tokenManager))
		r.Use(middleware.RateLimitBySubject(limits))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeLogins))
			r.Post("/logins", h.Logins.Start)
			r.Get("/logins/{attemptID}", h.Logins.Get)
			r.Post("/logins/{attemptID}/code", h.Logins.SubmitCode)
			r.Post("/logins/{attemptID}/password", h.Logins.SubmitPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeOTP))
			r.Post("/accounts/{accountID}/otp", h.OTP.Start)
			r.Get("/accounts/{accountID}/otp", h.OTP.Get)
			r.Post("/accounts/{accountID}/otp/resend", h.OTP.Resend)
			r.Delete("/accounts/{accountID}/otp", h.OTP.Stop)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeDevices))
			r.Get("/accounts/{accountID}/devices", h.Devices.List)
			r.Delete("/accounts/{accountID}/devices/{handle}", h.Devices.Terminate)
			r.Post("/accounts/{accountID}/devices/terminate-others", h.Devices.TerminateOthers)
		})

		r.With(auth.RequireScope(auth.ScopeCommands)).Post("/commands", h.Commands.Dispatch)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeAccounts))
			r.Post("/accounts", h.Accounts.Import)
			r.Post("/accounts/{accountID}/assign", h.Accounts.Assign)
			r.Get("/accounts/{accountID}/secret", h.Accounts.Secret)
			r.Post("/rate-limits/reset", h.Accounts.ResetLimits)
		})
	})
}
