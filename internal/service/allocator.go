// allocator.go — распределение файлов по томам хранения.
//
// Политика выбора: активный том с наибольшим свободным местом,
// при равенстве — с меньшим ID. Выбор и увеличение used_bytes
// выполняются одним SQL-оператором под блокировкой строки тома.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
)

var (
	volumeReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_volume_reservations_total",
		Help: "Количество попыток резервирования места по результату",
	}, []string{"result"})

	volumeReleasedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ac_volume_released_bytes_total",
		Help: "Объём места, возвращённого томам, в байтах",
	})
)

// reserveAttempts — число попыток при конкурентном изменении выбранного тома.
const reserveAttempts = 3

// AllocatorService — резервирование места и администрирование томов.
type AllocatorService struct {
	repo   repository.VolumeRepository
	logger *slog.Logger
}

// NewAllocatorService создаёт сервис распределения по томам.
func NewAllocatorService(repo repository.VolumeRepository, logger *slog.Logger) *AllocatorService {
	return &AllocatorService{
		repo:   repo,
		logger: logger.With(slog.String("component", "allocator")),
	}
}

// Reserve резервирует sizeBytes на подходящем томе.
// Нехватка места возвращается сразу как ErrCapacityExceeded.
func (s *AllocatorService) Reserve(ctx context.Context, sizeBytes int64) (*model.Reservation, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: размер должен быть > 0", ErrValidation)
	}

	for attempt := 1; attempt <= reserveAttempts; attempt++ {
		res, err := s.repo.ReserveOnce(ctx, sizeBytes)
		switch {
		case err == nil:
			volumeReservationsTotal.WithLabelValues("ok").Inc()
			s.logger.Debug("Место зарезервировано",
				slog.String("reservation_id", res.ID.String()),
				slog.Int64("volume_id", res.VolumeID),
				slog.Int64("size_bytes", sizeBytes),
			)
			return res, nil
		case errors.Is(err, repository.ErrContended):
			s.logger.Debug("Том изменён конкурентно, повтор",
				slog.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, repository.ErrNoCapacity):
			volumeReservationsTotal.WithLabelValues("capacity_exceeded").Inc()
			return nil, fmt.Errorf("%w: запрошено %d байт", ErrCapacityExceeded, sizeBytes)
		default:
			volumeReservationsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("резервирование места: %w", err)
		}
	}

	volumeReservationsTotal.WithLabelValues("contended").Inc()
	return nil, fmt.Errorf("%w: том изменяется конкурентно, повторите запрос", ErrConflict)
}

// Release возвращает место резервирования тому.
// Повторный вызов для того же резервирования ничего не меняет.
func (s *AllocatorService) Release(ctx context.Context, reservationID uuid.UUID) error {
	released, err := s.repo.Release(ctx, reservationID)
	if err != nil {
		return mapRepoErr("освобождение резервирования", err)
	}
	if released > 0 {
		volumeReleasedBytesTotal.Add(float64(released))
		s.logger.Debug("Резервирование закрыто",
			slog.String("reservation_id", reservationID.String()),
			slog.Int64("size_bytes", released),
		)
	}
	return nil
}

// ReleaseOrphans закрывает резервирования, оставшиеся открытыми после
// неудачного освобождения, и резервирования без файла старше olderThan.
func (s *AllocatorService) ReleaseOrphans(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ids, err := s.repo.ListOrphanReservations(ctx, olderThan, limit)
	if err != nil {
		return 0, mapRepoErr("поиск потерянных резервирований", err)
	}

	released := 0
	for _, id := range ids {
		if err := s.Release(ctx, id); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// CreateVolume регистрирует новый том.
func (s *AllocatorService) CreateVolume(ctx context.Context, v *model.Volume) error {
	v.Name = strings.TrimSpace(v.Name)
	if v.Name == "" {
		return fmt.Errorf("%w: имя тома обязательно", ErrValidation)
	}
	if strings.TrimSpace(v.MountPath) == "" {
		return fmt.Errorf("%w: mount_path обязателен", ErrValidation)
	}
	if v.CapacityBytes <= 0 {
		return fmt.Errorf("%w: ёмкость должна быть > 0", ErrValidation)
	}

	if err := s.repo.Create(ctx, v); err != nil {
		return mapRepoErr("создание тома", err)
	}

	s.logger.Info("Том создан",
		slog.Int64("volume_id", v.ID),
		slog.String("name", v.Name),
		slog.Int64("capacity_bytes", v.CapacityBytes),
	)
	return nil
}

// GetVolume возвращает том.
func (s *AllocatorService) GetVolume(ctx context.Context, id int64) (*model.Volume, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr("получение тома", err)
	}
	return v, nil
}

// ListVolumes возвращает тома и общее количество.
func (s *AllocatorService) ListVolumes(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, int, error) {
	items, err := s.repo.List(ctx, active, limit, offset)
	if err != nil {
		return nil, 0, mapRepoErr("список томов", err)
	}
	total, err := s.repo.Count(ctx, active)
	if err != nil {
		return nil, 0, mapRepoErr("подсчёт томов", err)
	}
	return items, total, nil
}

// UpdateVolume обновляет том. Ёмкость не может стать меньше занятого места.
func (s *AllocatorService) UpdateVolume(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: имя тома не может быть пустым", ErrValidation)
	}
	if upd.MountPath != nil && strings.TrimSpace(*upd.MountPath) == "" {
		return nil, fmt.Errorf("%w: mount_path не может быть пустым", ErrValidation)
	}
	if upd.CapacityBytes != nil && *upd.CapacityBytes <= 0 {
		return nil, fmt.Errorf("%w: ёмкость должна быть > 0", ErrValidation)
	}

	v, err := s.repo.Update(ctx, id, upd)
	if err != nil {
		return nil, mapRepoErr("обновление тома", err)
	}

	s.logger.Info("Том обновлён",
		slog.Int64("volume_id", v.ID),
		slog.Bool("active", v.Active),
		slog.Int64("capacity_bytes", v.CapacityBytes),
	)
	return v, nil
}

// DeleteVolume удаляет том без файлов.
func (s *AllocatorService) DeleteVolume(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapRepoErr("удаление тома", err)
	}
	s.logger.Info("Том удалён", slog.Int64("volume_id", id))
	return nil
}
