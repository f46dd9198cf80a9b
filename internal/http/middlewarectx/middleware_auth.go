// Package middlewarectx содержит HTTP-middleware аутентификации, проверки роли
// и ограничения частоты запросов, а также ключи значений контекста запроса.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/jwt"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

// Key тип ключей контекста запроса.
type Key string

const (
	// UserID идентификатор аутентифицированного пользователя.
	UserID Key = "user_id"
	// Email адрес аутентифицированного пользователя.
	Email Key = "email"
	// Role роль аутентифицированного пользователя.
	Role Key = "role"
)

// Authenticator проверяет токен доступа.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*jwt.AccessClaims, error)
}

// JWTMiddleware пропускает запрос только с действительным токеном доступа
// и кладёт идентификатор, email и роль пользователя в контекст.
func JWTMiddleware(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token, ok := bearerToken(r)
			if !ok {
				log.Warn("missing or malformed authorization header")
				response.WriteError(w, r, apperr.New(apperr.Authentication, "Authorization token required"))
				return
			}

			claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				log.Warn("token rejected", sl.Err(err))
				response.WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// OptionalJWTMiddleware заполняет контекст, если токен передан и действителен.
// Отсутствующий или недействительный токен не прерывает запрос: он обрабатывается анонимно.
func OptionalJWTMiddleware(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				log.Debug("optional auth degraded to anonymous",
					slog.String("op", "middlewarectx.OptionalJWTMiddleware"), sl.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// RequireRole пропускает только пользователей с одной из ролей.
// Ставится после JWTMiddleware.
func RequireRole(log *slog.Logger, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(Role).(string)
			for _, allowed := range roles {
				if models.Role(role) == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.Warn("access denied",
				slog.String("op", "middlewarectx.RequireRole"),
				slog.String("role", role),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
			response.WriteError(w, r, apperr.New(apperr.Authorization, "Insufficient permissions"))
		})
	}
}

// UserIDFrom возвращает идентификатор пользователя из контекста.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserID).(string)
	return id, ok && id != ""
}

func withClaims(ctx context.Context, claims *jwt.AccessClaims) context.Context {
	ctx = context.WithValue(ctx, UserID, claims.UserID)
	ctx = context.WithValue(ctx, Email, claims.Email)
	return context.WithValue(ctx, Role, claims.Role)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
