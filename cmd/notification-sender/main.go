package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/mealplan/internal/app/infra"
	"github.com/magabrotheeeer/mealplan/internal/app/sender"
	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := infra.NewLogger(cfg.Env)
	logger.Info("starting notification-sender", slog.String("env", cfg.Env), slog.String("mail_driver", cfg.MailDriver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := sender.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize notification-sender", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("notification-sender stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("notification-sender stopped gracefully")
}
