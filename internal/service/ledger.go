// ledger.go — журнал скачиваний (только добавление).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
)

var downloadsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ac_downloads_recorded_total",
	Help: "Количество записей журнала скачиваний",
}, []string{"file_deleted"})

// LedgerService — запись и чтение журнала скачиваний.
// Флаг удаления файла фиксируется в момент записи и далее не меняется.
type LedgerService struct {
	repo   repository.DownloadRepository
	logger *slog.Logger
}

// NewLedgerService создаёт сервис журнала скачиваний.
func NewLedgerService(repo repository.DownloadRepository, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		repo:   repo,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// RecordDownload добавляет запись о скачивании файла.
// Мягко удалённые файлы допустимы, неизвестный ID — ErrNotFound.
func (s *LedgerService) RecordDownload(ctx context.Context, fileID int64, usuario string) (*model.DownloadRecord, error) {
	if err := validateDownload(fileID, usuario); err != nil {
		return nil, err
	}

	rec, err := s.repo.Record(ctx, fileID, usuario)
	if err != nil {
		return nil, mapRepoErr("запись скачивания", err)
	}
	s.observe(rec)
	return rec, nil
}

// RecordDownloads записывает скачивание нескольких файлов атомарно:
// при неизвестном ID не записывается ничего.
func (s *LedgerService) RecordDownloads(ctx context.Context, fileIDs []int64, usuario string) ([]*model.DownloadRecord, error) {
	for _, id := range fileIDs {
		if err := validateDownload(id, usuario); err != nil {
			return nil, err
		}
	}

	recs, err := s.repo.RecordMany(ctx, fileIDs, usuario)
	if err != nil {
		return nil, mapRepoErr("запись скачиваний", err)
	}
	for _, rec := range recs {
		s.observe(rec)
	}
	return recs, nil
}

// List возвращает записи журнала и общее количество.
func (s *LedgerService) List(ctx context.Context, filter model.DownloadFilter) ([]*model.DownloadRecord, int, error) {
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, mapRepoErr("журнал скачиваний", err)
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, mapRepoErr("подсчёт скачиваний", err)
	}
	return items, total, nil
}

func validateDownload(fileID int64, usuario string) error {
	if fileID <= 0 {
		return fmt.Errorf("%w: некорректный arquivo_id %d", ErrValidation, fileID)
	}
	if strings.TrimSpace(usuario) == "" {
		return fmt.Errorf("%w: usuario обязателен", ErrValidation)
	}
	return nil
}

func (s *LedgerService) observe(rec *model.DownloadRecord) {
	downloadsRecordedTotal.WithLabelValues(strconv.FormatBool(rec.FileDeleted)).Inc()
	s.logger.Info("Скачивание записано",
		slog.Int64("file_id", rec.FileID),
		slog.String("usuario", rec.Usuario),
		slog.Bool("file_deleted", rec.FileDeleted),
	)
}
