// Package services содержит логику регистрации, входа и жизненного цикла токенов.
//
// Токен доступа проверяется только криптографически. Токен обновления дополнительно
// сверяется с единственной сессией пользователя в кэше, поэтому выход, новый вход
// и повторное использование устаревшего токена обрабатываются одинаково.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan/internal/cache"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/jwt"
	"github.com/magabrotheeeer/mealplan/internal/lib/password"
	"github.com/magabrotheeeer/mealplan/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan/internal/lib/securetoken"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/metrics"
	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/storage"
)

const msgInvalidCredentials = "Invalid credentials"

// UserRepository описывает контракт хранилища пользователей.
// Методы записи меняют только поля учётной записи: снимок подписки и код клиента
// шлюза принадлежат платёжному сервису и здесь не перезаписываются.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByVerificationHash(ctx context.Context, hash string) (*models.User, error)
	GetUserByResetHash(ctx context.Context, hash string) (*models.User, error)
	TouchLastActive(ctx context.Context, id string, at time.Time) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	SetResetToken(ctx context.Context, id, hash string, expires, at time.Time) error
	SetPassword(ctx context.Context, id, hash string, at time.Time) error
}

// SessionStore единственная сессия обновления на пользователя.
type SessionStore interface {
	PutSession(ctx context.Context, userID, token string, ttl time.Duration) error
	GetSession(ctx context.Context, userID string) (string, error)
	RemoveSession(ctx context.Context, userID string) error
	SwapSession(ctx context.Context, userID, old, next string, ttl time.Duration) (bool, error)
}

// TokenMaker выпускает и проверяет JWT.
type TokenMaker interface {
	GenerateAccessToken(id, email, role string) (string, error)
	GenerateRefreshToken(id string) (string, error)
	ParseAccessToken(token string) (*jwt.AccessClaims, error)
	ParseRefreshToken(token string) (*jwt.RefreshClaims, error)
	RefreshTTL() time.Duration
}

// PasswordHasher хеширование и сравнение паролей.
type PasswordHasher interface {
	Hash(raw string) (string, error)
	Compare(hash, raw string) error
	CompareDummy(raw string) error
}

// Publisher отправляет уведомления в шину.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg any) error
}

// Options настройки сервиса.
type Options struct {
	// AppURL база для ссылок в письмах.
	AppURL          string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	// RotateRefresh включает одноразовые токены обновления.
	RotateRefresh bool
}

// TokenPair пара токенов, которую получает клиент.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

// AuthResult ответ на регистрацию и вход.
type AuthResult struct {
	User   models.PublicUser `json:"user"`
	Tokens TokenPair         `json:"tokens"`
}

// RegisterInput данные регистрации.
type RegisterInput struct {
	Email    string
	Phone    string
	Name     string
	Password string
}

// AuthService отвечает за регистрацию, вход, обновление и отзыв токенов.
type AuthService struct {
	users     UserRepository
	sessions  SessionStore
	tokens    TokenMaker
	hasher    PasswordHasher
	publisher Publisher
	metrics   metrics.Recorder
	log       *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(
	log *slog.Logger,
	users UserRepository,
	sessions SessionStore,
	tokens TokenMaker,
	hasher PasswordHasher,
	publisher Publisher,
	rec metrics.Recorder,
	opts Options,
) *AuthService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if publisher == nil {
		publisher = rabbitmq.Nop{}
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		hasher:    hasher,
		publisher: publisher,
		metrics:   rec,
		log:       log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register создаёт неподтверждённого пользователя с ролью user и сразу выдаёт пару токенов.
// Ссылка подтверждения email уходит в шину уведомлений.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	const op = "services.AuthService.Register"
	log := s.log.With(slog.String("op", op))

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, tokenHash, err := securetoken.Generate()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	expires := now.Add(s.opts.VerificationTTL)
	user := &models.User{
		ID:                    uuid.NewString(),
		Email:                 in.Email,
		Phone:                 in.Phone,
		Name:                  in.Name,
		PasswordHash:          hashed,
		Role:                  models.RoleUser,
		Subscription:          models.UserSubscription{Status: models.StatusFree},
		VerificationTokenHash: tokenHash,
		VerificationExpiresAt: &expires,
		IsActive:              true,
		LastActive:            &now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	user.Normalize()

	if err := s.users.CreateUser(ctx, user); err != nil {
		s.metrics.RecordAuth("register", "failure")
		if errors.Is(err, storage.ErrUserExists) {
			return nil, apperr.Wrap(apperr.Conflict, "User with this email or phone already exists", err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.notify(ctx, models.Notification{
		Kind:  models.NotifyEmailVerification,
		Email: user.Email,
		Name:  user.Name,
		Link:  s.opts.AppURL + "/auth/verify-email/" + raw,
	})
	s.metrics.RecordAuth("register", "success")
	log.Info("user registered", sl.UserID(user.ID))

	return &AuthResult{User: user.Public(), Tokens: pair}, nil
}

// Login проверяет пароль и выдаёт новую пару токенов, вытесняя прежнюю сессию.
// Ветки "нет пользователя" и "неверный пароль" выполняют одинаковую работу bcrypt.
func (s *AuthService) Login(ctx context.Context, email, rawPassword string) (*AuthResult, error) {
	const op = "services.AuthService.Login"
	log := s.log.With(slog.String("op", op))

	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			_ = s.hasher.CompareDummy(rawPassword)
			s.metrics.RecordAuth("login", "failure")
			return nil, apperr.New(apperr.Authentication, msgInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.hasher.Compare(user.PasswordHash, rawPassword); err != nil {
		s.metrics.RecordAuth("login", "failure")
		if errors.Is(err, password.ErrMismatch) {
			return nil, apperr.New(apperr.Authentication, msgInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		s.metrics.RecordAuth("login", "failure")
		return nil, apperr.New(apperr.Authorization, "Account is deactivated")
	}

	now := s.now()
	user.LastActive = &now
	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		log.Warn("failed to update last active", sl.UserID(user.ID), sl.Err(err))
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.RecordAuth("login", "success")
	return &AuthResult{User: user.Public(), Tokens: pair}, nil
}

// Refresh обменивает токен обновления на новый токен доступа.
// При ротации токен обновления одноразовый: из конкурентных запросов с одним
// токеном успешен только один.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "services.AuthService.Refresh"

	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		s.metrics.RecordAuth("refresh", "failure")
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, apperr.Wrap(apperr.Authentication, "Refresh token expired", err)
		}
		return nil, apperr.Wrap(apperr.Authentication, "Invalid refresh token", err)
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.metrics.RecordAuth("refresh", "failure")
			return nil, apperr.New(apperr.Authentication, "Invalid refresh token")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		s.metrics.RecordAuth("refresh", "failure")
		return nil, apperr.New(apperr.Authorization, "Account is deactivated")
	}

	access, err := s.tokens.GenerateAccessToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.opts.RotateRefresh {
		current, err := s.sessions.GetSession(ctx, user.ID)
		if err != nil && !errors.Is(err, cache.ErrSessionNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err != nil || current != refreshToken {
			s.metrics.RecordAuth("refresh", "failure")
			return nil, apperr.New(apperr.Authentication, "Invalid refresh token")
		}
		s.metrics.RecordAuth("refresh", "success")
		return &TokenPair{AccessToken: access, RefreshToken: refreshToken, TokenType: "Bearer"}, nil
	}

	next, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	swapped, err := s.sessions.SwapSession(ctx, user.ID, refreshToken, next, s.tokens.RefreshTTL())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !swapped {
		s.metrics.RecordAuth("refresh", "failure")
		return nil, apperr.New(apperr.Authentication, "Invalid refresh token")
	}
	s.metrics.RecordAuth("refresh", "success")
	return &TokenPair{AccessToken: access, RefreshToken: next, TokenType: "Bearer"}, nil
}

// Logout отзывает сессию обновления. Токен доступа продолжает работать до истечения.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	const op = "services.AuthService.Logout"
	if err := s.sessions.RemoveSession(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.RecordAuth("logout", "success")
	return nil
}

// Authenticate проверяет токен доступа без обращения к хранилищам.
func (s *AuthService) Authenticate(_ context.Context, accessToken string) (*jwt.AccessClaims, error) {
	claims, err := s.tokens.ParseAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, apperr.Wrap(apperr.Authentication, "Token expired", err)
		}
		return nil, apperr.Wrap(apperr.Authentication, "Invalid token", err)
	}
	return claims, nil
}

// VerifyEmail подтверждает email по одноразовому токену из письма.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) (*models.PublicUser, error) {
	const op = "services.AuthService.VerifyEmail"

	user, err := s.users.GetUserByVerificationHash(ctx, securetoken.Hash(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, apperr.New(apperr.Validation, "Invalid or expired verification token")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if expired(user.VerificationExpiresAt, now) {
		return nil, apperr.New(apperr.Validation, "Invalid or expired verification token")
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.EmailVerified = true
	user.VerificationTokenHash = ""
	user.VerificationExpiresAt = nil
	s.metrics.RecordAuth("verify_email", "success")
	pub := user.Public()
	return &pub, nil
}

// ForgotPassword выпускает токен сброса пароля. Для неизвестного email ничего
// не делает и ошибки не возвращает, чтобы ответ не раскрывал наличие аккаунта.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	const op = "services.AuthService.ForgotPassword"

	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	raw, tokenHash, err := securetoken.Generate()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, now.Add(s.opts.ResetTTL), now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.notify(ctx, models.Notification{
		Kind:  models.NotifyPasswordReset,
		Email: user.Email,
		Name:  user.Name,
		Link:  s.opts.AppURL + "/auth/reset-password/" + raw,
	})
	s.metrics.RecordAuth("forgot_password", "success")
	return nil
}

// ResetPassword задаёт новый пароль по токену сброса и отзывает сессию обновления.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	const op = "services.AuthService.ResetPassword"

	user, err := s.users.GetUserByResetHash(ctx, securetoken.Hash(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return apperr.New(apperr.Validation, "Invalid or expired reset token")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if expired(user.ResetExpiresAt, now) {
		return apperr.New(apperr.Validation, "Invalid or expired reset token")
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// SetPassword гасит и токен сброса, поэтому ссылка одноразовая
	if err := s.users.SetPassword(ctx, user.ID, hashed, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.sessions.RemoveSession(ctx, user.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.notify(ctx, models.Notification{
		Kind:  models.NotifyPasswordChanged,
		Email: user.Email,
		Name:  user.Name,
	})
	s.metrics.RecordAuth("reset_password", "success")
	return nil
}

// issue выпускает пару и записывает токен обновления в единственный слот сессии.
func (s *AuthService) issue(ctx context.Context, user *models.User) (TokenPair, error) {
	access, err := s.tokens.GenerateAccessToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.PutSession(ctx, user.ID, refresh, s.tokens.RefreshTTL()); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}, nil
}

// notify публикует уведомление. Ошибка шины только логируется.
func (s *AuthService) notify(ctx context.Context, n models.Notification) {
	n.CreatedAt = s.now()
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingKeyFor(n.Kind), n); err != nil {
		s.log.Error("failed to publish notification",
			slog.String("kind", string(n.Kind)), sl.Err(err))
	}
}

func expired(at *time.Time, now time.Time) bool {
	return at == nil || now.After(*at)
}
