// Package subscribe начинает оформление премиум-подписки.
package subscribe

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
)

// Request выбранный тарифный план.
type Request struct {
	Plan string `json:"plan" validate:"required"`
}

// Service инициализирует платёж у шлюза.
type Service interface {
	Subscribe(ctx context.Context, userID, planCode string) (*paymentprovider.InitializeResponse, error)
}

// Handler обработчик POST /payments/subscribe.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New хендлер оформления подписки.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оформить подписку
// @Description Возвращает ссылку на страницу оплаты шлюза. Статус меняется только по вебхуку или проверке платежа.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Код плана"
// @Success 200 {object} response.Response{data=paymentprovider.InitializeResponse} "Ссылка на оплату"
// @Failure 400 {object} response.ErrorResponse "Неизвестный план"
// @Failure 401 {object} response.ErrorResponse "Нет токена доступа"
// @Failure 409 {object} response.ErrorResponse "Подписка уже активна"
// @Failure 502 {object} response.ErrorResponse "Шлюз недоступен"
// @Router /payments/subscribe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.subscribe"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		response.WriteError(w, r, apperr.New(apperr.Authentication, "Authorization token required"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.WriteBadRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.WriteBadRequest(w, r, err)
		return
	}

	checkout, err := h.service.Subscribe(r.Context(), userID, req.Plan)
	if err != nil {
		log.Warn("subscribe failed", sl.UserID(userID), sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	log.Info("checkout initialized", sl.UserID(userID), slog.String("reference", checkout.Reference))
	render.JSON(w, r, response.OKWithData(checkout))
}
