// Package mongostore реализует хранилище пользователей и журнала подписок на MongoDB.
// Переход подписки (снимок в пользователе и запись журнала) сохраняется одной транзакцией,
// поэтому сервер должен быть запущен как replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/magabrotheeeer/mealplan/internal/config"
)

// ErrFailedToConnect сервер недоступен после всех попыток.
var ErrFailedToConnect = errors.New("failed to connect to mongo")

const (
	usersCollection         = "users"
	subscriptionsCollection = "subscriptions"
)

// Storage обёртка над базой MongoDB.
type Storage struct {
	client        *mongo.Client
	users         *mongo.Collection
	subscriptions *mongo.Collection
}

// New подключается к MongoDB с повторными попытками и создаёт индексы.
func New(ctx context.Context, cfg config.Storage) (*Storage, error) {
	const op = "mongostore.New"

	attempts := max(cfg.MongoRetryAttempts, 1)
	var client *mongo.Client
	for i := range attempts {
		c, err := mongo.Connect(
			options.Client().
				ApplyURI(cfg.MongoURI).
				SetConnectTimeout(cfg.MongoConnectTimeout).
				SetRetryWrites(true).
				SetRetryReads(true),
		)
		if err == nil {
			if err = c.Ping(ctx, nil); err == nil {
				client = c
				break
			}
			_ = c.Disconnect(ctx)
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(cfg.MongoRetryInterval):
		}
	}
	if client == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrFailedToConnect)
	}

	s := newStorage(client, cfg.MongoDatabase)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func newStorage(client *mongo.Client, database string) *Storage {
	db := client.Database(database)
	return &Storage{
		client:        client,
		users:         db.Collection(usersCollection),
		subscriptions: db.Collection(subscriptionsCollection),
	}
}

// EnsureIndexes создаёт уникальные и поисковые индексы. Повторный вызов безопасен.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	const op = "mongostore.EnsureIndexes"

	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{
			// пользователи без телефона в индекс не попадают
			Keys: bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_phone").
				SetPartialFilterExpression(bson.M{"phone": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "providerCustomerCode", Value: 1}},
			Options: options.Index().SetName("idx_customer_code").
				SetPartialFilterExpression(bson.M{"providerCustomerCode": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "verificationTokenHash", Value: 1}},
			Options: options.Index().SetName("idx_verification_token").
				SetPartialFilterExpression(bson.M{"verificationTokenHash": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "resetTokenHash", Value: 1}},
			Options: options.Index().SetName("idx_reset_token").
				SetPartialFilterExpression(bson.M{"resetTokenHash": bson.M{"$type": "string"}}),
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("%s: users: %w", op, err)
	}

	subIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("idx_user_created"),
		},
		{
			// не больше одной активной записи на пользователя
			Keys: bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_active_per_user").
				SetPartialFilterExpression(bson.M{"status": bson.M{"$in": bson.A{"premium", "past_due"}}}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "nextPaymentDate", Value: 1}},
			Options: options.Index().SetName("idx_status_next_payment"),
		},
	}
	if _, err := s.subscriptions.Indexes().CreateMany(ctx, subIndexes); err != nil {
		return fmt.Errorf("%s: subscriptions: %w", op, err)
	}
	return nil
}

// Ping проверяет доступность сервера.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongostore.Ping: %w", err)
	}
	return nil
}

// Close закрывает соединения с сервером.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
