// Package main Meal Plan API
//
// @title           Meal Plan API
// @version         1.0
// @description     Аутентификация пользователей и премиум-подписки сервиса планирования питания

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/mealplan/internal/app/api"
	"github.com/magabrotheeeer/mealplan/internal/app/infra"
	"github.com/magabrotheeeer/mealplan/internal/config"
)

func main() {
	cfg := config.MustLoad()
	logger := infra.NewLogger(cfg.Env)

	logger.Info("starting mealplan api", slog.String("env", cfg.Env))
	logger.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := api.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("app stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("mealplan api stopped gracefully")
}
