package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/storage"
)

var activeStatuses = bson.A{string(models.StatusPremium), string(models.StatusPastDue)}

// LatestSubscription возвращает активную запись пользователя, а если её нет,
// самую свежую по дате создания.
func (s *Storage) LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "mongostore.LatestSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var sub models.Subscription
	err := s.subscriptions.FindOne(ctx, bson.M{"userId": userID, "status": bson.M{"$in": activeStatuses}}).Decode(&sub)
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if err = s.subscriptions.FindOne(ctx, bson.M{"userId": userID}, opts).Decode(&sub); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// ListSubscriptions возвращает журнал подписок пользователя, новые записи первыми.
func (s *Storage) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	const op = "mongostore.ListSubscriptions"
	return s.findSubscriptions(ctx, op, bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// ListPastDue возвращает просроченные записи, у которых льготный период закончился к cutoff.
// Если дата платежа неизвестна, отсчёт идёт от последнего события.
func (s *Storage) ListPastDue(ctx context.Context, cutoff time.Time) ([]*models.Subscription, error) {
	const op = "mongostore.ListPastDue"
	filter := bson.M{
		"status": string(models.StatusPastDue),
		"$or": bson.A{
			bson.M{"nextPaymentDate": bson.M{"$lte": cutoff}},
			bson.M{"nextPaymentDate": bson.M{"$exists": false}, "lastEventAt": bson.M{"$lte": cutoff}},
		},
	}
	return s.findSubscriptions(ctx, op, filter, options.Find().SetSort(bson.D{{Key: "lastEventAt", Value: 1}}))
}

func (s *Storage) findSubscriptions(ctx context.Context, op string, filter bson.M,
	opts *options.FindOptionsBuilder) ([]*models.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	cursor, err := s.subscriptions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	subs := make([]*models.Subscription, 0)
	if err = cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// SaveTransition в одной транзакции обновляет снимок подписки пользователя
// и сохраняет запись журнала (если rec не nil).
func (s *Storage) SaveTransition(ctx context.Context, userID string, snapshot models.UserSubscription,
	rec *models.Subscription) error {
	const op = "mongostore.SaveTransition"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer sess.EndSession(ctx)

	now := time.Now().UTC()
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
			"$set": bson.M{"subscription": snapshot, "updatedAt": now},
		})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, storage.ErrUserNotFound
		}
		if rec == nil {
			return nil, nil
		}
		rec.UpdatedAt = now
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		_, err = s.subscriptions.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
