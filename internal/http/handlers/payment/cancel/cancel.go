// Package cancel отменяет премиум-подписку пользователя.
package cancel

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
	"github.com/magabrotheeeer/mealplan/internal/models"
)

// Service отключает подписку у шлюза и применяет отмену.
type Service interface {
	Cancel(ctx context.Context, userID string) (*models.UserSubscription, error)
}

// Handler обработчик POST /payments/cancel.
type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Доступно для статусов premium и past_due. Возвращает обновлённый снимок подписки.
// @Tags Payments
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.UserSubscription} "Подписка отменена"
// @Failure 400 {object} response.ErrorResponse "Нет активной подписки"
// @Failure 401 {object} response.ErrorResponse "Нет токена доступа"
// @Failure 502 {object} response.ErrorResponse "Шлюз недоступен"
// @Router /payments/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.cancel"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		response.WriteError(w, r, apperr.New(apperr.Authentication, "Authorization token required"))
		return
	}

	snap, err := h.service.Cancel(r.Context(), userID)
	if err != nil {
		log.Warn("cancel failed", sl.UserID(userID), sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	log.Info("subscription cancelled", sl.UserID(userID), slog.String("status", string(snap.Status)))
	render.JSON(w, r, response.OKWithData(snap))
}
