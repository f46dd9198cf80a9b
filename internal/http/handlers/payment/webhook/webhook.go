// Package webhook принимает события платёжного шлюза.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

// SignatureHeader заголовок с HMAC-SHA512 подписью тела.
const SignatureHeader = "x-paystack-signature"

const maxBodyBytes = 1 << 20

// Service проверяет подпись и применяет событие.
type Service interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (string, error)
}

// Handler обработчик POST /payments/webhook.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New хендлер вебхуков платёжного шлюза. Подпись проверяет сервис.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного шлюза
// @Description Подпись проверяется по сырому телу. Повторная доставка подтверждается кодом 200.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param x-paystack-signature header string true "HMAC-SHA512 тела запроса"
// @Success 200 {object} response.Response "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или тело"
// @Failure 500 {object} response.ErrorResponse "Сбой обработки, шлюз повторит доставку"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		response.WriteError(w, r, apperr.Wrap(apperr.Validation, "Malformed webhook payload", err))
		return
	}

	outcome, err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		render.JSON(w, r, response.OKWithData(map[string]string{"outcome": outcome}))
	case apperr.Is(err, apperr.IdempotentNoop):
		render.JSON(w, r, response.OKWithData(map[string]string{"outcome": outcome}))
	default:
		log.Warn("webhook rejected", slog.String("outcome", outcome), sl.Err(err))
		response.WriteError(w, r, err)
	}
}
