// reports.go — агрегаты для дашборда. Только чтение.
package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
)

// Ограничения параметров отчётов.
const (
	maxSeriesDays    = 366
	defaultSeriesDay = 30
	maxActivity      = 200
)

// UploadCounters — источник счётчиков загрузок (реестр).
type UploadCounters interface {
	ActiveUploads(ctx context.Context) (int, error)
	UploadErrors() int64
}

// ReportService — сводки, ряды и лента активности.
type ReportService struct {
	stats   repository.StatsRepository
	volumes repository.VolumeRepository
	uploads UploadCounters
	now     func() time.Time
}

// NewReportService создаёт сервис отчётов.
func NewReportService(
	stats repository.StatsRepository,
	volumes repository.VolumeRepository,
	uploads UploadCounters,
) *ReportService {
	return &ReportService{
		stats:   stats,
		volumes: volumes,
		uploads: uploads,
		now:     time.Now,
	}
}

// Summary собирает сводку параллельными запросами.
func (s *ReportService) Summary(ctx context.Context) (*model.Summary, error) {
	var (
		files                         model.Summary
		products, versions, downloads int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		products, err = s.stats.CountProducts(gctx)
		return err
	})
	g.Go(func() (err error) {
		versions, err = s.stats.CountVersions(gctx)
		return err
	})
	g.Go(func() (err error) {
		downloads, err = s.stats.CountDownloads(gctx)
		return err
	})
	g.Go(func() (err error) {
		files, err = s.stats.FileTotals(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("сводка: %w", err)
	}

	files.Products = products
	files.Versions = versions
	files.Downloads = downloads
	return &files, nil
}

// VolumeUsage возвращает все тома с занятым местом.
func (s *ReportService) VolumeUsage(ctx context.Context) ([]*model.Volume, error) {
	vols, err := s.volumes.List(ctx, nil, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("использование томов: %w", err)
	}
	return vols, nil
}

// ProductsByType возвращает распределение продуктов по типам.
func (s *ReportService) ProductsByType(ctx context.Context) ([]model.TypeCount, error) {
	items, err := s.stats.ProductsByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("продукты по типам: %w", err)
	}
	return items, nil
}

// seriesStart возвращает начало ряда за days суток (включая сегодня), UTC.
func (s *ReportService) seriesStart(days int) (time.Time, error) {
	if days == 0 {
		days = defaultSeriesDay
	}
	if days < 1 || days > maxSeriesDays {
		return time.Time{}, fmt.Errorf("%w: days должен быть в диапазоне 1-%d", ErrValidation, maxSeriesDays)
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -(days - 1)), nil
}

// UploadsPerDay — завершённые загрузки по дням.
func (s *ReportService) UploadsPerDay(ctx context.Context, days int) ([]model.DayCount, error) {
	since, err := s.seriesStart(days)
	if err != nil {
		return nil, err
	}
	items, err := s.stats.UploadsPerDay(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("загрузки по дням: %w", err)
	}
	return items, nil
}

// DownloadsPerDay — скачивания по дням.
func (s *ReportService) DownloadsPerDay(ctx context.Context, days int) ([]model.DayCount, error) {
	since, err := s.seriesStart(days)
	if err != nil {
		return nil, err
	}
	items, err := s.stats.DownloadsPerDay(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("скачивания по дням: %w", err)
	}
	return items, nil
}

// RecentActivity — последние события.
func (s *ReportService) RecentActivity(ctx context.Context, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxActivity {
		return nil, fmt.Errorf("%w: limit не более %d", ErrValidation, maxActivity)
	}
	items, err := s.stats.RecentActivity(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("лента активности: %w", err)
	}
	return items, nil
}

// HealthCounters — счётчики состояния загрузок.
func (s *ReportService) HealthCounters(ctx context.Context) (*model.HealthCounters, error) {
	active, err := s.uploads.ActiveUploads(ctx)
	if err != nil {
		return nil, fmt.Errorf("активные сессии: %w", err)
	}
	failed, err := s.stats.CountFailedSince(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("неудачные загрузки: %w", err)
	}
	return &model.HealthCounters{
		ActiveUploads:     active,
		FailedLast24h:     failed,
		UploadErrorsTotal: s.uploads.UploadErrors(),
	}, nil
}
