// Package verify проверяет платёж по ссылке после возврата со страницы оплаты.
package verify

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
)

// Service запрашивает платёж у шлюза и применяет его, если он оплачен.
type Service interface {
	Verify(ctx context.Context, userID, reference string) (*paymentprovider.Transaction, error)
}

// Result итог проверки платежа.
type Result struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Paid      bool   `json:"paid"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Plan      string `json:"plan,omitempty"`
}

// Handler обработчик GET /payments/verify/{reference}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New хендлер сверки платежа по reference.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Проверить платёж
// @Description Повторная проверка и последующий вебхук того же платежа не применяются дважды.
// @Tags Payments
// @Produce  json
// @Security BearerAuth
// @Param reference path string true "Ссылка платежа"
// @Success 200 {object} response.Response{data=Result} "Состояние платежа"
// @Failure 404 {object} response.ErrorResponse "Платёж не найден"
// @Failure 502 {object} response.ErrorResponse "Шлюз недоступен"
// @Router /payments/verify/{reference} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.verify"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		response.WriteError(w, r, apperr.New(apperr.Authentication, "Authorization token required"))
		return
	}
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		response.WriteError(w, r, apperr.New(apperr.Validation, "Reference is required"))
		return
	}

	tx, err := h.service.Verify(r.Context(), userID, reference)
	if err != nil {
		log.Warn("verify failed", sl.UserID(userID), slog.String("reference", reference), sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(Result{
		Reference: tx.Reference,
		Status:    tx.Status,
		Paid:      tx.Paid(),
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Plan:      tx.Plan.PlanCode,
	}))
}
