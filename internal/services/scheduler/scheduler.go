// Package services содержит фоновую задачу отмены подписок, просроченных дольше льготного периода.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

// GraceExpirer отменяет просроченные подписки и возвращает их число.
type GraceExpirer interface {
	ExpireGracePeriod(ctx context.Context) (int, error)
}

// SchedulerService периодически запускает проход по просроченным подпискам.
type SchedulerService struct {
	expirer  GraceExpirer
	interval time.Duration
	log      *slog.Logger
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(expirer GraceExpirer, interval time.Duration, log *slog.Logger) *SchedulerService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SchedulerService{
		expirer:  expirer,
		interval: interval,
		log:      log,
	}
}

// Run выполняет проход сразу и затем по тикеру, пока не отменён ctx.
func (s *SchedulerService) Run(ctx context.Context) {
	s.runSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("grace period sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *SchedulerService) runSweep(ctx context.Context) {
	s.log.Info("starting grace period sweep")
	n, err := s.expirer.ExpireGracePeriod(ctx)
	if err != nil {
		s.log.Error("grace period sweep finished with errors", slog.Int("cancelled", n), sl.Err(err))
		return
	}
	if n == 0 {
		s.log.Info("no subscriptions past grace period")
		return
	}
	s.log.Info("cancelled subscriptions past grace period", slog.Int("count", n))
}
