// Package logout обрабатывает выход пользователя.
package logout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

// Service отзывает сессию пользователя.
type Service interface {
	Logout(ctx context.Context, userID string) error
}

// Handler обработчик POST /auth/logout.
type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Выход
// @Description Отзывает refresh-токен. Выданный токен доступа действует до истечения срока.
// @Tags Auth
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response "Сессия отозвана"
// @Failure 401 {object} response.ErrorResponse "Нет токена доступа"
// @Router /auth/logout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.logout"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		response.WriteError(w, r, apperr.New(apperr.Authentication, "Authorization token required"))
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil {
		log.Error("logout failed", sl.UserID(userID), sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	log.Info("user logged out", sl.UserID(userID))
	render.JSON(w, r, response.OK())
}
