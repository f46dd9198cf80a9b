// Package plans отдаёт каталог тарифных планов.
package plans

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

// Service каталог планов и текущая подписка.
type Service interface {
	Plans() []config.Plan
	Subscription(ctx context.Context, userID string) (*models.SubscriptionView, error)
}

// Result каталог и, для вошедшего пользователя, его текущая подписка.
type Result struct {
	Plans   []config.Plan            `json:"plans"`
	Current *models.UserSubscription `json:"current,omitempty"`
}

// Handler обработчик GET /payments/plans.
type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Тарифные планы
// @Description Доступно без входа. С токеном доступа в ответ добавляется текущая подписка.
// @Tags Payments
// @Produce  json
// @Success 200 {object} response.Response{data=Result} "Каталог планов"
// @Router /payments/plans [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.plans"

	res := Result{Plans: h.service.Plans()}

	if userID, ok := middlewarectx.UserIDFrom(r.Context()); ok {
		view, err := h.service.Subscription(r.Context(), userID)
		if err != nil {
			// каталог важнее, ошибка снимка не прерывает ответ
			h.log.Warn("failed to load current subscription",
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				sl.UserID(userID), sl.Err(err))
		} else {
			res.Current = &view.Current
		}
	}

	render.JSON(w, r, response.OKWithData(res))
}
