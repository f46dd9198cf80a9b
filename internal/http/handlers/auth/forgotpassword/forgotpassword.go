// Package forgotpassword обрабатывает запрос ссылки для сброса пароля.
package forgotpassword

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

// Request тело запроса.
type Request struct {
	Email string `json:"email" validate:"required,email"`
}

// Service выпускает токен сброса и отправляет письмо.
type Service interface {
	ForgotPassword(ctx context.Context, email string) error
}

// Handler обработчик POST /auth/forgot-password.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Запрос сброса пароля
// @Description Ответ одинаков для существующего и неизвестного email.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body Request true "Email"
// @Success 200 {object} response.Response "Письмо отправлено, если адрес зарегистрирован"
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации"
// @Router /auth/forgot-password [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.forgotpassword"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		log.Error("forgot password failed", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]string{
		"message": "If the email is registered, a reset link has been sent",
	}))
}
