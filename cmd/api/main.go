package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/capsule-ai/capsule-backend/api/routes"
	"github.com/capsule-ai/capsule-backend/internal/auth"
	"github.com/capsule-ai/capsule-backend/internal/credits"
	"github.com/capsule-ai/capsule-backend/internal/payments"
	"github.com/capsule-ai/capsule-backend/internal/users"
	"github.com/capsule-ai/capsule-backend/internal/webhooks"
	pkgAuth "github.com/capsule-ai/capsule-backend/pkg/auth"
	"github.com/capsule-ai/capsule-backend/pkg/auth/session"
	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/cryptomus"
	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/capsule-ai/capsule-backend/pkg/metrics"
	"github.com/capsule-ai/capsule-backend/pkg/migrate"
	"github.com/capsule-ai/capsule-backend/pkg/redis"
	"github.com/capsule-ai/capsule-backend/pkg/security"
	pkgstripe "github.com/capsule-ai/capsule-backend/pkg/stripe"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	useSQLite := flag.Bool("sqlite", false, "use the embedded sqlite database instead of postgres")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	if *useSQLite {
		if err := os.Setenv(config.EnvUseSQLite, "true"); err != nil {
			logg.Error(context.Background(), "failed to enable sqlite", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = db.DriverSQLite
	}

	if cfg.JWT.Secret == "" {
		secret, err := pkgAuth.GenerateSecret()
		if err != nil {
			logg.Error(context.Background(), "failed to generate jwt secret", err)
			os.Exit(1)
		}
		cfg.JWT.Secret = secret
		logg.Warn(context.Background(), "CAPSULE_JWT_SECRET not set; generated a per-process secret, tokens will not survive a restart")
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	issuer, err := pkgAuth.NewIssuer(cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create token issuer", err)
		os.Exit(1)
	}
	revoker, err := session.NewRevoker(redisClient, issuer.TTL())
	if err != nil {
		logg.Error(context.Background(), "failed to create token revoker", err)
		os.Exit(1)
	}

	ledgerRepo := credits.NewRepository(dbClient.DB())
	ledger, err := credits.NewService(dbClient, ledgerRepo, ledgerMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create credit ledger", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		TransactionRunner: dbClient,
		Repo:              payments.NewRepository(dbClient.DB()),
		Ledger:            ledgerRepo,
		Metrics:           ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(dbClient.DB()),
		Hasher:         security.NewArgon2Hasher(cfg.Password),
		Tokens:         issuer,
		Revoker:        revoker,
		Credits:        ledger,
		Payments:       paymentService,
		PasswordConfig: cfg.Password,
		CreditsConfig:  cfg.Credits,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	var (
		gateways  []payments.Gateway
		verifiers []webhooks.Verifier
	)

	if cfg.Cryptomus.Enabled() {
		cryptomusClient, err := cryptomus.NewClient(cfg.Cryptomus)
		if err != nil {
			logg.Error(context.Background(), "failed to create cryptomus client", err)
			os.Exit(1)
		}
		gateways = append(gateways, payments.NewCryptomusGateway(cryptomusClient))
		verifiers = append(verifiers, webhooks.NewCryptomusVerifier(cryptomusClient.APIKey()))
	} else {
		logg.Warn(context.Background(), "cryptomus not configured; crypto checkout disabled")
	}

	stripeSecret := cfg.Stripe.WebhookSecret
	stripeTolerance := cfg.Stripe.Tolerance
	if cfg.Stripe.Enabled() {
		stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe client", err)
			os.Exit(1)
		}
		gateways = append(gateways, payments.NewStripeGateway(stripeClient))
		stripeSecret = stripeClient.SigningSecret()
		stripeTolerance = stripeClient.Tolerance()
	} else {
		logg.Warn(context.Background(), "stripe not configured; card checkout disabled")
	}
	verifiers = append(verifiers, webhooks.NewStripeVerifier(stripeSecret, stripeTolerance))

	checkoutService, err := payments.NewCheckoutService(payments.CheckoutParams{
		Payments: paymentService,
		Gateways: gateways,
		Timeouts: map[enums.PaymentMethod]time.Duration{
			enums.PaymentMethodCryptomus: cfg.Cryptomus.Timeout,
			enums.PaymentMethodStripe:    cfg.Stripe.Timeout,
		},
		Metrics: ledgerMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	processor, err := webhooks.NewProcessor(paymentService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook processor", err)
		os.Exit(1)
	}
	cryptomusGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "cryptomus-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create cryptomus webhook guard", err)
		os.Exit(1)
	}
	stripeGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}

	if cfg.Admin.APIKey == "" {
		logg.Warn(context.Background(), "CAPSULE_ADMIN_API_KEY not set; admin routes disabled")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"db_driver": dbClient.Driver(),
		"providers": checkoutService.Methods(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:         cfg,
			Logger:         logg,
			Gatherer:       registry,
			DB:             dbClient,
			Store:          redisClient,
			Auth:           authService,
			Checkout:       checkoutService,
			Payments:       paymentService,
			Webhooks:       webhooks.NewRegistry(ledgerMetrics, verifiers...),
			Processor:      processor,
			CryptomusGuard: cryptomusGuard,
			StripeGuard:    stripeGuard,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-stop.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
