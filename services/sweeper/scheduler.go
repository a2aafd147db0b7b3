package sweeper

import (
	"context"
	"errors"
	"time"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(cfg *config.Config, svc *Service) *Scheduler {
	interval := cfg.Sweeper.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{service: svc, interval: interval}
}

// StartScheduler enqueues a sweep every SWEEPER.INTERVAL while the app runs.
func StartScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Sweeper.Enabled {
		zap.L().Info("[Scheduler] sweeper disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stop.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.service.Enqueue(ctx, TriggerInterval, s.interval)
	switch {
	case errors.Is(err, task.ErrDuplicate):
		zap.L().Debug("[Scheduler] sweep for this window already queued")
	case err != nil:
		zap.L().Error("[Scheduler] failed to enqueue sweep", zap.Error(err))
	}
}
