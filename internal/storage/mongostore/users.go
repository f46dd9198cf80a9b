package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/storage"
)

// CreateUser сохраняет нового пользователя. Занятые email или телефон дают storage.ErrUserExists.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	const op = "mongostore.CreateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	user.Normalize()
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, "mongostore.GetUserByID", bson.M{"_id": id})
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, "mongostore.GetUserByEmail", bson.M{"email": models.NormalizeEmail(email)})
}

// GetUserByCustomerCode возвращает пользователя по коду клиента в платёжном шлюзе.
func (s *Storage) GetUserByCustomerCode(ctx context.Context, code string) (*models.User, error) {
	if code == "" {
		return nil, fmt.Errorf("mongostore.GetUserByCustomerCode: %w", storage.ErrUserNotFound)
	}
	return s.findUser(ctx, "mongostore.GetUserByCustomerCode", bson.M{"providerCustomerCode": code})
}

// GetUserByVerificationHash ищет пользователя по хешу токена подтверждения email.
func (s *Storage) GetUserByVerificationHash(ctx context.Context, hash string) (*models.User, error) {
	if hash == "" {
		return nil, fmt.Errorf("mongostore.GetUserByVerificationHash: %w", storage.ErrUserNotFound)
	}
	return s.findUser(ctx, "mongostore.GetUserByVerificationHash", bson.M{"verificationTokenHash": hash})
}

// GetUserByResetHash ищет пользователя по хешу токена сброса пароля.
func (s *Storage) GetUserByResetHash(ctx context.Context, hash string) (*models.User, error) {
	if hash == "" {
		return nil, fmt.Errorf("mongostore.GetUserByResetHash: %w", storage.ErrUserNotFound)
	}
	return s.findUser(ctx, "mongostore.GetUserByResetHash", bson.M{"resetTokenHash": hash})
}

func (s *Storage) findUser(ctx context.Context, op string, filter bson.M) (*models.User, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var u models.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// TouchLastActive отмечает время последнего входа.
func (s *Storage) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return s.updateUser(ctx, "mongostore.TouchLastActive", id, bson.M{
		"$set": bson.M{"lastActive": at, "updatedAt": at},
	})
}

// MarkEmailVerified подтверждает email и гасит токен подтверждения.
func (s *Storage) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return s.updateUser(ctx, "mongostore.MarkEmailVerified", id, bson.M{
		"$set":   bson.M{"emailVerified": true, "updatedAt": at},
		"$unset": bson.M{"verificationTokenHash": "", "verificationExpiresAt": ""},
	})
}

// SetResetToken сохраняет хеш токена сброса пароля и срок его действия.
func (s *Storage) SetResetToken(ctx context.Context, id, hash string, expires, at time.Time) error {
	return s.updateUser(ctx, "mongostore.SetResetToken", id, bson.M{
		"$set": bson.M{"resetTokenHash": hash, "resetExpiresAt": expires, "updatedAt": at},
	})
}

// SetPassword меняет хеш пароля и гасит токен сброса.
func (s *Storage) SetPassword(ctx context.Context, id, hash string, at time.Time) error {
	return s.updateUser(ctx, "mongostore.SetPassword", id, bson.M{
		"$set":   bson.M{"passwordHash": hash, "updatedAt": at},
		"$unset": bson.M{"resetTokenHash": "", "resetExpiresAt": ""},
	})
}

// updateUser применяет точечное обновление. Полная перезапись документа
// затёрла бы снимок подписки, записанный вебхуком параллельно.
func (s *Storage) updateUser(ctx context.Context, op, id string, update bson.M) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

// SetCustomerCode запоминает код клиента шлюза для последующей привязки вебхуков.
func (s *Storage) SetCustomerCode(ctx context.Context, userID, code string) error {
	return s.updateUser(ctx, "mongostore.SetCustomerCode", userID, bson.M{
		"$set": bson.M{"providerCustomerCode": code, "updatedAt": time.Now().UTC()},
	})
}
