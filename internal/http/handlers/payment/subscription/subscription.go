// Package subscription отдаёт снимок подписки пользователя и журнал её записей.
package subscription

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

// Service читает подписку пользователя.
type Service interface {
	Subscription(ctx context.Context, userID string) (*models.SubscriptionView, error)
}

// Handler обработчик GET /payments/subscription.
type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Моя подписка
// @Tags Payments
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.SubscriptionView} "Снимок и история"
// @Failure 401 {object} response.ErrorResponse "Нет токена доступа"
// @Router /payments/subscription [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.subscription"

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		response.WriteError(w, r, apperr.New(apperr.Authentication, "Authorization token required"))
		return
	}

	view, err := h.service.Subscription(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to load subscription",
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.UserID(userID), sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(view))
}
