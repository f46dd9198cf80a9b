// Package api собирает HTTP-приложение: хранилище, кеш, шину уведомлений,
// сервисы аутентификации и подписок, маршруты.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/magabrotheeeer/mealplan/internal/app/infra"
	"github.com/magabrotheeeer/mealplan/internal/cache"
	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/http/handlers/health"
	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/lib/jwt"
	"github.com/magabrotheeeer/mealplan/internal/lib/password"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/metrics"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
	authservice "github.com/magabrotheeeer/mealplan/internal/services/auth"
	"github.com/magabrotheeeer/mealplan/internal/services/payment"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-приложение.
type App struct {
	server *http.Server
	logger *slog.Logger
	store  infra.Store
	cache  *cache.Cache
	bus    *infra.Bus
}

// New подключает зависимости и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "api.New"

	store, err := infra.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	bus, err := infra.OpenBus(cfg.RabbitMQ, logger)
	if err != nil {
		_ = cacheRedis.Close()
		_ = store.Close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hasher, err := password.New(cfg.BcryptCost)
	if err != nil {
		bus.Close()
		_ = cacheRedis.Close()
		_ = store.Close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	authService := authservice.NewAuthService(
		logger,
		store,
		cacheRedis,
		jwt.NewMaker(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL),
		hasher,
		bus.Publisher(),
		recorder,
		authservice.Options{
			AppURL:          cfg.AppURL,
			VerificationTTL: cfg.VerificationTTL,
			ResetTTL:        cfg.ResetTTL,
			RotateRefresh:   !cfg.DisableRefreshRotation,
		},
	)

	paymentService := payment.New(
		logger,
		store,
		paymentprovider.NewClient(cfg.PaymentGateway),
		cacheRedis,
		bus.Publisher(),
		recorder,
		payment.Options{
			WebhookSecret:  cfg.WebhookSecret,
			IdempotencyTTL: cfg.IdempotencyTTL,
			LockTTL:        cfg.LockTTL,
			LockWait:       cfg.LockWait,
			GracePeriod:    cfg.GracePeriod,
			CallbackURL:    cfg.CallbackURL,
			Plans:          cfg.Plans,
		},
	)

	router := chi.NewRouter()
	RegisterRoutes(router, Deps{
		Log:      logger,
		Auth:     authService,
		Payments: paymentService,
		Limiter:  middlewarectx.NewIPRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst),
		Metrics:  metrics.Handler(registry),
		Checks: map[string]health.Pinger{
			"storage": store,
			"redis":   cacheRedis,
		},
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		store:  store,
		cache:  cacheRedis,
		bus:    bus,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}

	a.close()
	return err
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.bus.Close()
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.store.Close(ctx); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
