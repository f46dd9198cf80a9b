// Package scheduler собирает фоновый процесс, переводящий просроченные подписки
// в cancelled по истечении льготного периода.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mealplan/internal/app/infra"
	"github.com/magabrotheeeer/mealplan/internal/cache"
	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
	"github.com/magabrotheeeer/mealplan/internal/services/payment"
	schedulerservice "github.com/magabrotheeeer/mealplan/internal/services/scheduler"
)

// App приложение планировщика.
type App struct {
	schedulerService *schedulerservice.SchedulerService
	store            infra.Store
	cache            *cache.Cache
	bus              *infra.Bus
	logger           *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
// Переходы идут через тот же сервис подписок, что и вебхуки: с блокировкой пользователя и уведомлением.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "scheduler.New"

	store, err := infra.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("%s: cache not initialized: %w", op, err)
	}

	bus, err := infra.OpenBus(cfg.RabbitMQ, logger)
	if err != nil {
		_ = cacheRedis.Close()
		_ = store.Close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	paymentService := payment.New(
		logger,
		store,
		paymentprovider.NewClient(cfg.PaymentGateway),
		cacheRedis,
		bus.Publisher(),
		nil,
		payment.Options{
			IdempotencyTTL: cfg.IdempotencyTTL,
			LockTTL:        cfg.LockTTL,
			LockWait:       cfg.LockWait,
			GracePeriod:    cfg.GracePeriod,
			Plans:          cfg.Plans,
		},
	)

	return &App{
		schedulerService: schedulerservice.NewSchedulerService(paymentService, cfg.SweepInterval, logger),
		store:            store,
		cache:            cacheRedis,
		bus:              bus,
		logger:           logger,
	}, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.schedulerService.Run(ctx)

	a.logger.Info("shutting down scheduler service")

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.bus.Close()
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.store.Close(closeCtx); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
	return nil
}
