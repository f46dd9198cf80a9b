// Package resetpassword обрабатывает установку нового пароля по токену сброса.
package resetpassword

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

// Request новый пароль.
type Request struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Service меняет пароль и отзывает сессию.
type Service interface {
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
}

// Handler обработчик POST /auth/reset-password/{token}.
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
// @Summary Сброс пароля
// @Description Устанавливает новый пароль. Действующий refresh-токен отзывается.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param token path string true "Токен из письма"
// @Param request body Request true "Новый пароль"
// @Success 200 {object} response.Response "Пароль изменён"
// @Failure 400 {object} response.ErrorResponse "Токен недействителен или ошибка валидации"
// @Router /auth/reset-password/{token} [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.resetpassword"

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

	if err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password); err != nil {
		log.Info("password reset failed", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]string{
		"message": "Password has been reset",
	}))
}
