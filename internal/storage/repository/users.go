package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/storage"
)

const userColumns = `id, email, phone, name, password_hash, role,
	sub_status, sub_plan, sub_start_date, sub_end_date, sub_payment_method, sub_auto_renew,
	email_verified, verification_token_hash, verification_expires_at,
	reset_token_hash, reset_expires_at, provider_customer_code,
	is_active, last_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var (
		phone, verification, reset, customer sql.NullString
		subStart, subEnd, verifyExp          sql.NullTime
		resetExp, lastActive                 sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &phone, &u.Name, &u.PasswordHash, &u.Role,
		&u.Subscription.Status, &u.Subscription.Plan, &subStart, &subEnd,
		&u.Subscription.PaymentMethod, &u.Subscription.AutoRenew,
		&u.EmailVerified, &verification, &verifyExp,
		&reset, &resetExp, &customer,
		&u.IsActive, &lastActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Phone = phone.String
	u.VerificationTokenHash = verification.String
	u.ResetTokenHash = reset.String
	u.ProviderCustomerCode = customer.String
	u.Subscription.StartDate = timePtr(subStart)
	u.Subscription.EndDate = timePtr(subEnd)
	u.VerificationExpiresAt = timePtr(verifyExp)
	u.ResetExpiresAt = timePtr(resetExp)
	u.LastActive = timePtr(lastActive)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// CreateUser сохраняет нового пользователя. Занятые email или телефон дают storage.ErrUserExists.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	user.Normalize()
	query := `INSERT INTO users (` + userColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			          $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	sub := user.Subscription
	_, err := s.DB.ExecContext(ctx, query,
		user.ID, user.Email, nullString(user.Phone), user.Name, user.PasswordHash, user.Role,
		sub.Status, sub.Plan, nullTime(sub.StartDate), nullTime(sub.EndDate), sub.PaymentMethod, sub.AutoRenew,
		user.EmailVerified, nullString(user.VerificationTokenHash), nullTime(user.VerificationExpiresAt),
		nullString(user.ResetTokenHash), nullTime(user.ResetExpiresAt), nullString(user.ProviderCustomerCode),
		user.IsActive, nullTime(user.LastActive), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, "storage.GetUserByID", "id = $1", id)
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, "storage.GetUserByEmail", "email = $1", models.NormalizeEmail(email))
}

// GetUserByCustomerCode возвращает пользователя по коду клиента в платёжном шлюзе.
func (s *Storage) GetUserByCustomerCode(ctx context.Context, code string) (*models.User, error) {
	return s.findUser(ctx, "storage.GetUserByCustomerCode", "provider_customer_code = $1", code)
}

// GetUserByVerificationHash ищет пользователя по хешу токена подтверждения email.
func (s *Storage) GetUserByVerificationHash(ctx context.Context, hash string) (*models.User, error) {
	return s.findUser(ctx, "storage.GetUserByVerificationHash", "verification_token_hash = $1", hash)
}

// GetUserByResetHash ищет пользователя по хешу токена сброса пароля.
func (s *Storage) GetUserByResetHash(ctx context.Context, hash string) (*models.User, error) {
	return s.findUser(ctx, "storage.GetUserByResetHash", "reset_token_hash = $1", hash)
}

func (s *Storage) findUser(ctx context.Context, op, where, arg string) (*models.User, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if arg == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// TouchLastActive отмечает время последнего входа.
func (s *Storage) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return s.updateUser(ctx, "storage.TouchLastActive",
		`UPDATE users SET last_active = $2, updated_at = $2 WHERE id = $1`, id, at)
}

// MarkEmailVerified подтверждает email и гасит токен подтверждения.
func (s *Storage) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return s.updateUser(ctx, "storage.MarkEmailVerified",
		`UPDATE users SET email_verified = TRUE, verification_token_hash = NULL,
		     verification_expires_at = NULL, updated_at = $2
		 WHERE id = $1`, id, at)
}

// SetResetToken сохраняет хеш токена сброса пароля и срок его действия.
func (s *Storage) SetResetToken(ctx context.Context, id, hash string, expires, at time.Time) error {
	return s.updateUser(ctx, "storage.SetResetToken",
		`UPDATE users SET reset_token_hash = $2, reset_expires_at = $3, updated_at = $4 WHERE id = $1`,
		id, hash, expires, at)
}

// SetPassword меняет хеш пароля и гасит токен сброса.
func (s *Storage) SetPassword(ctx context.Context, id, hash string, at time.Time) error {
	return s.updateUser(ctx, "storage.SetPassword",
		`UPDATE users SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL,
		     updated_at = $3
		 WHERE id = $1`, id, hash, at)
}

// updateUser выполняет точечный UPDATE одной строки. Колонки sub_* пишет только SaveTransition.
func (s *Storage) updateUser(ctx context.Context, op, query string, args ...any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return checkAffected(op, res)
}

// SetCustomerCode запоминает код клиента шлюза для последующей привязки вебхуков.
func (s *Storage) SetCustomerCode(ctx context.Context, userID, code string) error {
	return s.updateUser(ctx, "storage.SetCustomerCode",
		`UPDATE users SET provider_customer_code = $2, updated_at = NOW() WHERE id = $1`,
		userID, nullString(code))
}

func checkAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}
