// Package usersubscriptions отдаёт администратору подписку любого пользователя.
package usersubscriptions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

// Service читает подписку пользователя.
type Service interface {
	Subscription(ctx context.Context, userID string) (*models.SubscriptionView, error)
}

// Handler обработчик GET /admin/users/{id}/subscriptions.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New хендлер просмотра подписки произвольного пользователя.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Подписки пользователя
// @Description Только для роли admin.
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID пользователя"
// @Success 200 {object} response.Response{data=models.SubscriptionView} "Снимок и история"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /admin/users/{id}/subscriptions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.usersubscriptions"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := chi.URLParam(r, "id")
	view, err := h.service.Subscription(r.Context(), userID)
	if err != nil {
		log.Warn("failed to load user subscriptions", sl.UserID(userID), sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	adminID, _ := middlewarectx.UserIDFrom(r.Context())
	log.Info("admin read user subscriptions", slog.String("admin_id", adminID), sl.UserID(userID))
	render.JSON(w, r, response.OKWithData(view))
}
