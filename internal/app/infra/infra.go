// Package infra подключает общие зависимости приложений: хранилище по выбранному
// драйверу, шину уведомлений и логгер.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/migrations"
	authservice "github.com/magabrotheeeer/mealplan/internal/services/auth"
	"github.com/magabrotheeeer/mealplan/internal/services/payment"
	"github.com/magabrotheeeer/mealplan/internal/storage/mongostore"
	"github.com/magabrotheeeer/mealplan/internal/storage/repository"
)

// Store хранилище пользователей и журнала подписок, общее для всех сервисов.
type Store interface {
	authservice.UserRepository
	payment.Store
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var (
	_ Store = (*mongostore.Storage)(nil)
	_ Store = (*repository.Storage)(nil)
)

// NewLogger текстовый логгер. В local и dev включён уровень debug.
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "local" || env == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// OpenStore подключает хранилище по storage.driver.
// Для postgres перед использованием применяются миграции.
func OpenStore(ctx context.Context, cfg config.Storage, log *slog.Logger) (Store, error) {
	const op = "infra.OpenStore"

	switch cfg.Driver {
	case config.DriverMongo:
		s, err := mongostore.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("storage connected", slog.String("driver", cfg.Driver), slog.String("database", cfg.MongoDatabase))
		return s, nil
	case config.DriverPostgres:
		s, err := repository.New(cfg.StorageConnectionString)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := waitForDB(ctx, s); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		version, err := migrations.Run(s.DB, cfg.MigrationsPath)
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("storage connected", slog.String("driver", cfg.Driver), slog.Uint64("schema_version", uint64(version)))
		return s, nil
	default:
		return nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Driver)
	}
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range 10 {
		if err = repository.CheckDatabaseReady(db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}

// Bus соединение и канал RabbitMQ с объявленными очередями уведомлений.
type Bus struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger
}

// OpenBus подключается к брокеру. Пустой url означает, что шина не настроена: возвращается nil.
func OpenBus(cfg config.RabbitMQ, log *slog.Logger) (*Bus, error) {
	const op = "infra.OpenBus"
	if cfg.RabbitMQURL == "" {
		log.Warn("rabbitmq url is empty, notifications are disabled")
		return nil, nil
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Bus{conn: conn, ch: ch, log: log}, nil
}

// Channel канал для потребителей.
func (b *Bus) Channel() *amqp.Channel {
	return b.ch
}

// Publisher издатель уведомлений. Без шины публикации отбрасываются.
func (b *Bus) Publisher() payment.Publisher {
	if b == nil {
		return rabbitmq.Nop{}
	}
	return rabbitmq.NewPublisher(b.ch)
}

// Close закрывает канал и соединение. Безопасен для nil.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.ch.Close(); err != nil {
		b.log.Error("failed to close channel", sl.Err(err))
	}
	if err := b.conn.Close(); err != nil {
		b.log.Error("failed to close connection", sl.Err(err))
	}
}
