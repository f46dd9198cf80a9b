// Package sender собирает потребителя очередей уведомлений, который отправляет письма.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/mealplan/internal/app/infra"
	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan/internal/mailer"
	senderservice "github.com/magabrotheeeer/mealplan/internal/services/sender"
)

// App приложение отправки писем.
type App struct {
	bus           *infra.Bus
	senderService *senderservice.SenderService
	logger        *slog.Logger
}

// New подключается к брокеру и выбирает драйвер почты.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "sender.New"

	m, err := mailer.New(cfg.Mail, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	bus, err := infra.OpenBus(cfg.RabbitMQ, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if bus == nil {
		return nil, fmt.Errorf("%s: rabbitmq url is required for the sender", op)
	}

	return &App{
		bus:           bus,
		senderService: senderservice.NewSenderService(m, logger),
		logger:        logger,
	}, nil
}

// Run потребляет все очереди уведомлений до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	for _, q := range rabbitmq.GetNotificationQueues() {
		err := rabbitmq.ConsumerMessage(ctx, a.bus.Channel(), q.QueueName, a.logger, a.senderService.HandleNotification)
		if err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", q.QueueName), slog.Any("err", err))
			a.bus.Close()
			return err
		}
		a.logger.Info("consumer started", slog.String("queue", q.QueueName))
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")
	a.bus.Close()
	return nil
}
