// sweeper.go — фоновая очистка брошенных сессий загрузки.
//
// Каждый цикл:
//  1. pending-файлы старше таймаута сессии переводятся в failed (reason=timeout)
//  2. закрываются резервирования, оставшиеся открытыми у failed/deleted файлов
//
// Запускается как горутина с периодическим тикером (AC_UPLOAD_SWEEP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ac_upload_sweep_runs_total",
		Help: "Количество запусков очистки сессий загрузки",
	})

	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ac_upload_sweep_expired_total",
		Help: "Количество сессий, переведённых в failed по таймауту",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ac_upload_sweep_duration_seconds",
		Help:    "Длительность цикла очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// sweepBatch — максимум сессий за один цикл.
const sweepBatch = 500

// StaleUploadExpirer — реестр с операциями очистки.
type StaleUploadExpirer interface {
	ExpireStaleUploads(ctx context.Context, before time.Time, limit int) (int, error)
	ActiveUploads(ctx context.Context) (int, error)
}

// OrphanReleaser — закрытие потерянных резервирований.
type OrphanReleaser interface {
	ReleaseOrphans(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// SweepResult — результат одного цикла очистки.
type SweepResult struct {
	Expired  int
	Released int
	Errors   int
	Duration time.Duration
}

// UploadSweeper — фоновая очистка сессий загрузки.
type UploadSweeper struct {
	registry StaleUploadExpirer
	orphans  OrphanReleaser
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUploadSweeper создаёт сервис очистки.
func NewUploadSweeper(
	registry StaleUploadExpirer,
	orphans OrphanReleaser,
	timeout, interval time.Duration,
	logger *slog.Logger,
) *UploadSweeper {
	return &UploadSweeper{
		registry: registry,
		orphans:  orphans,
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "upload_sweeper")),
	}
}

// Start запускает фоновую горутину.
func (s *UploadSweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Очистка сессий загрузки запущена",
		slog.String("interval", s.interval.String()),
		slog.String("session_timeout", s.timeout.String()),
	)
}

// Stop останавливает фоновую горутину и дожидается её завершения.
func (s *UploadSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Очистка сессий загрузки остановлена")
}

func (s *UploadSweeper) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки. Потокобезопасен.
func (s *UploadSweeper) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	cutoff := s.now().Add(-s.timeout)

	expired, err := s.registry.ExpireStaleUploads(ctx, cutoff, sweepBatch)
	result.Expired = expired
	if err != nil {
		result.Errors++
		s.logger.Error("Ошибка перевода брошенных сессий в failed",
			slog.String("error", err.Error()),
		)
	}

	released, err := s.orphans.ReleaseOrphans(ctx, cutoff, sweepBatch)
	result.Released = released
	if err != nil {
		result.Errors++
		s.logger.Error("Ошибка закрытия потерянных резервирований",
			slog.String("error", err.Error()),
		)
	}

	if _, err := s.registry.ActiveUploads(ctx); err != nil {
		result.Errors++
		s.logger.Warn("Не удалось обновить число активных сессий",
			slog.String("error", err.Error()),
		)
	}

	result.Duration = time.Since(start)
	sweepRunsTotal.Inc()
	sweepExpiredTotal.Add(float64(result.Expired))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	if result.Expired > 0 || result.Released > 0 {
		s.logger.Info("Очистка сессий загрузки завершена",
			slog.Int("expired", result.Expired),
			slog.Int("released", result.Released),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}
	return result
}
