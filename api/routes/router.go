package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capsule-ai/capsule-backend/api/controllers"
	webhookcontrollers "github.com/capsule-ai/capsule-backend/api/controllers/webhooks"
	"github.com/capsule-ai/capsule-backend/api/middleware"
	"github.com/capsule-ai/capsule-backend/internal/auth"
	"github.com/capsule-ai/capsule-backend/internal/webhooks"
	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	pkgredis "github.com/capsule-ai/capsule-backend/pkg/redis"
)

// Store is the Redis surface the HTTP layer needs for throttling,
// idempotency replay and readiness.
type Store interface {
	pkgredis.ResponseStore
	pkgredis.RateLimitStore
	Ping(ctx context.Context) error
}

// WebhookProcessor applies verified provider events.
type WebhookProcessor interface {
	webhookcontrollers.CryptomusProcessor
	webhookcontrollers.StripeProcessor
}

// Dependencies carries everything NewRouter mounts. Nil services disable
// their routes' behaviour rather than the routes themselves.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Gatherer prometheus.Gatherer

	DB    controllers.Pinger
	Store Store

	Auth     auth.Service
	Checkout controllers.CheckoutStarter
	Payments controllers.PaymentHistory

	Webhooks       *webhooks.Registry
	Processor      WebhookProcessor
	CryptomusGuard *webhooks.IdempotencyGuard
	StripeGuard    *webhooks.IdempotencyGuard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	var (
		limiterStore     pkgredis.RateLimitStore
		idempotencyStore pkgredis.ResponseStore
	)
	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["database"] = deps.DB
	}
	if deps.Store != nil {
		limiterStore = deps.Store
		idempotencyStore = deps.Store
		readiness["redis"] = deps.Store
	}
	consumeOnce := middleware.Idempotency(middleware.ConsumePolicy, idempotencyStore, logg)
	criticalOnce := middleware.Idempotency(middleware.CriticalPolicy, idempotencyStore, logg)

	var verifier middleware.TokenVerifier
	if deps.Auth != nil {
		verifier = deps.Auth
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	var (
		cryptomusGuard webhookEventGuard
		stripeGuard    webhookEventGuard
		cryptomusProc  webhookcontrollers.CryptomusProcessor
		stripeProc     webhookcontrollers.StripeProcessor
	)
	if deps.CryptomusGuard != nil {
		cryptomusGuard = deps.CryptomusGuard
	}
	if deps.StripeGuard != nil {
		stripeGuard = deps.StripeGuard
	}
	if deps.Processor != nil {
		cryptomusProc = deps.Processor
		stripeProc = deps.Processor
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/cryptomus", webhookcontrollers.CryptomusWebhook(deps.Webhooks, cryptomusProc, cryptomusGuard, logg))
			r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, stripeProc, stripeGuard, logg))
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(loginPolicy, limiterStore, logg)).Post("/login", controllers.AuthLogin(deps.Auth, logg))
			r.With(middleware.AuthRateLimit(registerPolicy, limiterStore, logg)).Post("/register", controllers.AuthRegister(deps.Auth, logg))
			r.Post("/password/reset", controllers.AuthPasswordReset(deps.Auth, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(verifier, logg))
				r.Post("/logout", controllers.AuthLogout(deps.Auth, logg))
				r.Post("/password", controllers.AuthChangePassword(deps.Auth, logg))
			})
		})

		r.Get("/payments/packages", controllers.PaymentPackages(deps.Checkout))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(verifier, logg))

			r.Get("/me", controllers.Me(deps.Auth, logg))
			r.Get("/me/stats", controllers.MeStats(deps.Auth, logg))
			r.With(consumeOnce).Post("/credits/consume", controllers.CreditsConsume(deps.Auth, logg))
			r.Get("/payments", controllers.PaymentList(deps.Payments, logg))
			r.With(criticalOnce).Post("/payments/checkout", controllers.PaymentCheckout(deps.Checkout, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminKey(cfg.Admin.APIKey, logg))
		r.With(criticalOnce).Post("/credits/grant", controllers.AdminGrantCredits(deps.Auth, logg))
		r.Post("/users/{userId}/deactivate", controllers.AdminDeactivateUser(deps.Auth, logg))
	})

	return r
}

type webhookEventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}
