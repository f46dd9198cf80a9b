package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/mealplan/internal/http/handlers/admin/usersubscriptions"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/auth/forgotpassword"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/auth/refresh"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/auth/resetpassword"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/auth/verifyemail"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/health"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/payment/cancel"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/payment/plans"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/payment/subscribe"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/payment/subscription"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/payment/verify"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/payment/webhook"
	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/models"
	authservice "github.com/magabrotheeeer/mealplan/internal/services/auth"
	"github.com/magabrotheeeer/mealplan/internal/services/payment"
)

// Deps зависимости маршрутов.
type Deps struct {
	Log      *slog.Logger
	Auth     *authservice.AuthService
	Payments *payment.Service
	Limiter  *middlewarectx.IPRateLimiter
	Metrics  http.Handler
	Checks   map[string]health.Pinger
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, d Deps) {
	log := d.Log
	requireAuth := middlewarectx.JWTMiddleware(d.Auth, log)

	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(log, d.Checks).ServeHTTP)
	r.Handle("/metrics", d.Metrics)
	r.Get("/docs/*", httpSwagger.WrapHandler)

	r.Route("/auth", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(d.Limiter, log))

		r.Post("/register", register.New(log, d.Auth).ServeHTTP)
		r.Post("/login", login.New(log, d.Auth).ServeHTTP)
		r.Post("/refresh", refresh.New(log, d.Auth).ServeHTTP)
		r.Get("/verify-email/{token}", verifyemail.New(log, d.Auth).ServeHTTP)
		r.Post("/forgot-password", forgotpassword.New(log, d.Auth).ServeHTTP)
		r.Post("/reset-password/{token}", resetpassword.New(log, d.Auth).ServeHTTP)
		r.With(requireAuth).Post("/logout", logout.New(log, d.Auth).ServeHTTP)
	})

	r.Route("/payments", func(r chi.Router) {
		// Вебхук защищён подписью, а не токеном
		r.Post("/webhook", webhook.New(log, d.Payments).ServeHTTP)
		r.With(middlewarectx.OptionalJWTMiddleware(d.Auth, log)).Get("/plans", plans.New(log, d.Payments).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/subscribe", subscribe.New(log, d.Payments).ServeHTTP)
			r.Post("/cancel", cancel.New(log, d.Payments).ServeHTTP)
			r.Get("/verify/{reference}", verify.New(log, d.Payments).ServeHTTP)
			r.Get("/subscription", subscription.New(log, d.Payments).ServeHTTP)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAuth, middlewarectx.RequireRole(log, models.RoleAdmin))
		r.Get("/users/{id}/subscriptions", usersubscriptions.New(log, d.Payments).ServeHTTP)
	})
}
