// Package verifyemail обрабатывает переход по ссылке подтверждения email.
package verifyemail

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

// Service подтверждает email по одноразовому токену.
type Service interface {
	VerifyEmail(ctx context.Context, rawToken string) (*models.PublicUser, error)
}

// Handler обработчик GET /auth/verify-email/{token}.
type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Подтверждение email
// @Tags Auth
// @Produce  json
// @Param token path string true "Токен из письма"
// @Success 200 {object} response.Response{data=models.PublicUser} "Email подтверждён"
// @Failure 400 {object} response.ErrorResponse "Токен недействителен или истёк"
// @Router /auth/verify-email/{token} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.verifyemail"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	user, err := h.service.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		log.Info("email verification failed", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	log.Info("email verified", sl.UserID(user.ID))
	render.JSON(w, r, response.OKWithData(user))
}
