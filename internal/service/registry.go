// registry.go — реестр продуктов, версий и файлов.
//
// Жизненный цикл файла: pending → completed → deleted, либо pending → failed.
// Место на томе резервируется до создания записи файла и возвращается
// при переходе в failed или deleted.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
)

var (
	uploadSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ac_upload_sessions_active",
		Help: "Количество открытых сессий загрузки (pending)",
	})

	uploadErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_upload_errors_total",
		Help: "Количество неудачных загрузок по причине",
	}, []string{"reason"})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_uploads_total",
		Help: "Количество завершённых сессий загрузки по результату",
	}, []string{"result"})
)

// maxResolveIDs — максимальное число файлов в одном запросе путей.
const maxResolveIDs = 1000

// CapacityAllocator — резервирование места для реестра.
type CapacityAllocator interface {
	Reserve(ctx context.Context, sizeBytes int64) (*model.Reservation, error)
	Release(ctx context.Context, reservationID uuid.UUID) error
}

// TileInvalidator — сброс кэша тайлов продукта.
type TileInvalidator interface {
	InvalidateProduct(ctx context.Context, productID int64)
}

// BeginUploadRequest — параметры открытия сессии загрузки.
type BeginUploadRequest struct {
	VersionID int64
	Nome      string
	Extensao  string
	SizeBytes int64
	// Checksum — заявленный SHA-256 (64 hex-символа)
	Checksum string
	Usuario  string
}

// RegistryService — реестр продуктов, версий и файлов.
type RegistryService struct {
	products   repository.ProductRepository
	versions   repository.VersionRepository
	files      repository.FileRepository
	allocator  CapacityAllocator
	invalidate TileInvalidator
	logger     *slog.Logger

	uploadErrors atomic.Int64
}

// NewRegistryService создаёт сервис реестра.
// invalidate может быть nil, если кэш тайлов не используется.
func NewRegistryService(
	products repository.ProductRepository,
	versions repository.VersionRepository,
	files repository.FileRepository,
	allocator CapacityAllocator,
	invalidate TileInvalidator,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		products:   products,
		versions:   versions,
		files:      files,
		allocator:  allocator,
		invalidate: invalidate,
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// CreateVersion создаёт версию продукта; продукт создаётся по MI, если его нет.
func (s *RegistryService) CreateVersion(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error) {
	ref.MI = strings.TrimSpace(ref.MI)
	ref.TipoProduto = strings.TrimSpace(ref.TipoProduto)
	meta.Versao = strings.TrimSpace(meta.Versao)

	switch {
	case ref.MI == "":
		return nil, nil, fmt.Errorf("%w: mi обязателен", ErrValidation)
	case ref.TipoProduto == "":
		return nil, nil, fmt.Errorf("%w: tipo_produto обязателен", ErrValidation)
	case meta.Versao == "":
		return nil, nil, fmt.Errorf("%w: versao обязательна", ErrValidation)
	case meta.Usuario == "":
		return nil, nil, fmt.Errorf("%w: usuario обязателен", ErrValidation)
	}

	product, version, err := s.products.CreateVersion(ctx, ref, meta)
	if err != nil {
		return nil, nil, mapRepoErr("создание версии", err)
	}

	s.invalidateTiles(ctx, product.ID)

	s.logger.Info("Версия создана",
		slog.Int64("product_id", product.ID),
		slog.String("mi", product.MI),
		slog.Int64("version_id", version.ID),
		slog.String("versao", version.Versao),
		slog.String("usuario", meta.Usuario),
	)
	return product, version, nil
}

// BeginUpload открывает сессию загрузки: резервирует место и создаёт
// файл в статусе pending.
func (s *RegistryService) BeginUpload(ctx context.Context, req BeginUploadRequest) (*model.File, error) {
	checksum, err := validateUpload(&req)
	if err != nil {
		return nil, err
	}

	version, err := s.versions.GetByID(ctx, req.VersionID)
	if err != nil {
		return nil, mapRepoErr("получение версии", err)
	}

	res, err := s.allocator.Reserve(ctx, req.SizeBytes)
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			uploadErrorsTotal.WithLabelValues("capacity_exceeded").Inc()
		}
		return nil, err
	}

	f := &model.File{
		VersionID:     version.ID,
		VolumeID:      res.VolumeID,
		ReservationID: res.ID,
		Nome:          req.Nome,
		Extensao:      req.Extensao,
		RelativePath:  relativePath(version, req.Nome, req.Extensao),
		SizeBytes:     req.SizeBytes,
		Checksum:      checksum,
		Usuario:       req.Usuario,
	}
	if err := s.files.Create(ctx, f); err != nil {
		if relErr := s.allocator.Release(ctx, res.ID); relErr != nil {
			s.logger.Error("Не удалось освободить резервирование после ошибки регистрации",
				slog.String("reservation_id", res.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
		return nil, mapRepoErr("регистрация файла", err)
	}

	uploadSessionsActive.Inc()
	s.logger.Info("Сессия загрузки открыта",
		slog.Int64("file_id", f.ID),
		slog.Int64("version_id", f.VersionID),
		slog.Int64("volume_id", f.VolumeID),
		slog.Int64("size_bytes", f.SizeBytes),
	)
	return f, nil
}

// validateUpload проверяет параметры загрузки и возвращает checksum
// в нижнем регистре.
func validateUpload(req *BeginUploadRequest) (string, error) {
	req.Nome = strings.TrimSpace(req.Nome)
	req.Extensao = strings.TrimPrefix(strings.TrimSpace(req.Extensao), ".")
	req.Usuario = strings.TrimSpace(req.Usuario)

	switch {
	case req.VersionID <= 0:
		return "", fmt.Errorf("%w: некорректный versao_id", ErrValidation)
	case req.Nome == "":
		return "", fmt.Errorf("%w: имя файла обязательно", ErrValidation)
	case strings.ContainsAny(req.Nome, `/\`) || req.Nome == "." || req.Nome == "..":
		return "", fmt.Errorf("%w: недопустимое имя файла %q", ErrValidation, req.Nome)
	case strings.ContainsAny(req.Extensao, `/\.`):
		return "", fmt.Errorf("%w: недопустимое расширение %q", ErrValidation, req.Extensao)
	case req.SizeBytes <= 0:
		return "", fmt.Errorf("%w: размер должен быть > 0", ErrValidation)
	case req.Usuario == "":
		return "", fmt.Errorf("%w: usuario обязателен", ErrValidation)
	}

	checksum, ok := normalizeChecksum(req.Checksum)
	if !ok {
		return "", fmt.Errorf("%w: checksum должен содержать 64 hex-символа", ErrValidation)
	}
	return checksum, nil
}

// normalizeChecksum проверяет SHA-256 в hex и приводит к нижнему регистру.
func normalizeChecksum(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 64 {
		return "", false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", false
	}
	return s, true
}

// relativePath строит путь файла относительно тома: <mi>/<versao_id>/<nome>.<ext>.
func relativePath(v *model.Version, nome, ext string) string {
	name := nome
	if ext != "" {
		name += "." + ext
	}
	mi := strings.NewReplacer("/", "_", `\`, "_").Replace(v.ProductMI)
	return path.Join(mi, fmt.Sprintf("%d", v.ID), name)
}

// CompleteUpload подтверждает загрузку. При расхождении размера или
// checksum файл переходит в failed, резервирование освобождается.
func (s *RegistryService) CompleteUpload(ctx context.Context, fileID int64, actualSize int64, checksum string) (*model.File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, mapRepoErr("получение файла", err)
	}
	if f.Status != model.FileStatusPending {
		return nil, fmt.Errorf("%w: файл %d в статусе %s", ErrInvalidState, fileID, f.Status)
	}

	if actualSize != f.SizeBytes {
		if _, err := s.failUpload(ctx, f, model.FailureSizeMismatch); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: заявлено %d байт, получено %d", ErrSizeMismatch, f.SizeBytes, actualSize)
	}
	if !strings.EqualFold(strings.TrimSpace(checksum), f.Checksum) {
		if _, err := s.failUpload(ctx, f, model.FailureChecksumMismatch); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: файл %d", ErrChecksumMismatch, fileID)
	}

	done, err := s.files.Complete(ctx, fileID)
	if err != nil {
		return nil, mapRepoErr("завершение загрузки", err)
	}

	uploadSessionsActive.Dec()
	uploadsTotal.WithLabelValues("completed").Inc()
	s.logger.Info("Загрузка завершена",
		slog.Int64("file_id", done.ID),
		slog.Int64("size_bytes", done.SizeBytes),
	)
	return done, nil
}

// AbortUpload явно прерывает сессию загрузки.
func (s *RegistryService) AbortUpload(ctx context.Context, fileID int64, reason string) (*model.File, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.FailureAborted
	}

	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, mapRepoErr("получение файла", err)
	}
	if f.Status != model.FileStatusPending {
		return nil, fmt.Errorf("%w: файл %d в статусе %s", ErrInvalidState, fileID, f.Status)
	}
	return s.failUpload(ctx, f, reason)
}

// failUpload переводит pending → failed и освобождает резервирование.
// Условный UPDATE гарантирует, что конкурентное завершение не пройдёт дважды.
func (s *RegistryService) failUpload(ctx context.Context, f *model.File, reason string) (*model.File, error) {
	failed, err := s.files.MarkFailed(ctx, f.ID, reason)
	if err != nil {
		return nil, mapRepoErr("перевод файла в failed", err)
	}

	if err := s.allocator.Release(ctx, f.ReservationID); err != nil {
		// Резервирование останется открытым и будет закрыто фоновой очисткой.
		s.logger.Error("Не удалось освободить резервирование",
			slog.Int64("file_id", f.ID),
			slog.String("reservation_id", f.ReservationID.String()),
			slog.String("error", err.Error()),
		)
	}

	uploadSessionsActive.Dec()
	uploadsTotal.WithLabelValues("failed").Inc()
	if reason != model.FailureAborted {
		s.uploadErrors.Add(1)
		uploadErrorsTotal.WithLabelValues(reason).Inc()
	}

	s.logger.Warn("Загрузка не удалась",
		slog.Int64("file_id", f.ID),
		slog.String("reason", reason),
	)
	return failed, nil
}

// SoftDelete помечает файл удалённым и освобождает место.
// Запись остаётся доступной при выборке с удалёнными.
func (s *RegistryService) SoftDelete(ctx context.Context, fileID int64, reason, usuario string) (*model.File, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: причина удаления обязательна", ErrValidation)
	}
	if strings.TrimSpace(usuario) == "" {
		return nil, fmt.Errorf("%w: usuario обязателен", ErrValidation)
	}

	f, err := s.files.SoftDelete(ctx, fileID, reason, usuario)
	if err != nil {
		return nil, mapRepoErr("удаление файла", err)
	}

	if err := s.allocator.Release(ctx, f.ReservationID); err != nil {
		s.logger.Error("Не удалось освободить резервирование удалённого файла",
			slog.Int64("file_id", f.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Файл удалён",
		slog.Int64("file_id", f.ID),
		slog.String("reason", reason),
		slog.String("usuario", usuario),
	)
	return f, nil
}

// List возвращает файлы по фильтру и общее количество.
func (s *RegistryService) List(ctx context.Context, filter model.FileFilter) ([]*model.File, int, error) {
	if filter.CreatedAfter != nil && filter.CreatedBefore != nil && !filter.CreatedAfter.Before(*filter.CreatedBefore) {
		return nil, 0, fmt.Errorf("%w: пустой интервал дат", ErrValidation)
	}

	items, err := s.files.List(ctx, filter)
	if err != nil {
		return nil, 0, mapRepoErr("список файлов", err)
	}
	total, err := s.files.Count(ctx, filter)
	if err != nil {
		return nil, 0, mapRepoErr("подсчёт файлов", err)
	}
	return items, total, nil
}

// GetFile возвращает файл в любом статусе.
func (s *RegistryService) GetFile(ctx context.Context, fileID int64) (*model.File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, mapRepoErr("получение файла", err)
	}
	return f, nil
}

// GetProduct возвращает продукт.
func (s *RegistryService) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, mapRepoErr("получение продукта", err)
	}
	return p, nil
}

// ListProducts возвращает продукты и общее количество.
func (s *RegistryService) ListProducts(ctx context.Context, filter repository.ProductFilter, limit, offset int) ([]*model.Product, int, error) {
	items, err := s.products.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, mapRepoErr("список продуктов", err)
	}
	total, err := s.products.Count(ctx, filter)
	if err != nil {
		return nil, 0, mapRepoErr("подсчёт продуктов", err)
	}
	return items, total, nil
}

// ListVersions возвращает версии продукта.
func (s *RegistryService) ListVersions(ctx context.Context, productID int64) ([]*model.Version, error) {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, mapRepoErr("получение продукта", err)
	}
	versions, err := s.versions.ListByProduct(ctx, productID)
	if err != nil {
		return nil, mapRepoErr("список версий", err)
	}
	return versions, nil
}

// RecentDeletions возвращает последние удаления.
func (s *RegistryService) RecentDeletions(ctx context.Context, limit int) ([]*model.DeletedFile, error) {
	items, err := s.files.RecentDeletions(ctx, limit)
	if err != nil {
		return nil, mapRepoErr("недавние удаления", err)
	}
	return items, nil
}

// ResolvePaths возвращает физические пути файлов в порядке ids.
func (s *RegistryService) ResolvePaths(ctx context.Context, ids []int64) ([]model.FilePath, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: список arquivos_id пуст", ErrValidation)
	}
	if len(ids) > maxResolveIDs {
		return nil, fmt.Errorf("%w: не более %d файлов за запрос", ErrValidation, maxResolveIDs)
	}
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: некорректный arquivo_id %d", ErrValidation, id)
		}
	}

	paths, err := s.files.ResolvePaths(ctx, ids)
	if err != nil {
		return nil, mapRepoErr("получение путей", err)
	}
	return paths, nil
}

// ImportGeometry заменяет геометрию продукта объектами FeatureCollection.
func (s *RegistryService) ImportGeometry(ctx context.Context, productID int64, fc *geojson.FeatureCollection) (*model.Product, error) {
	if fc == nil {
		return nil, fmt.Errorf("%w: FeatureCollection обязательна", ErrValidation)
	}

	features := make([]model.Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			return nil, fmt.Errorf("%w: объект %d без геометрии", ErrValidation, i)
		}
		features = append(features, model.Feature{
			Properties: map[string]any(f.Properties),
			Geometry:   f.Geometry,
		})
	}

	p, err := s.products.ReplaceFeatures(ctx, productID, features)
	if err != nil {
		return nil, mapRepoErr("импорт геометрии", err)
	}

	s.invalidateTiles(ctx, productID)

	s.logger.Info("Геометрия продукта заменена",
		slog.Int64("product_id", productID),
		slog.Int("features", len(features)),
		slog.Int64("version_stamp", p.VersionStamp),
	)
	return p, nil
}

// ExpireStaleUploads переводит в failed сессии, открытые раньше before.
// Возвращает количество обработанных сессий.
func (s *RegistryService) ExpireStaleUploads(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.files.ListStalePending(ctx, before, limit)
	if err != nil {
		return 0, mapRepoErr("поиск брошенных сессий", err)
	}

	expired := 0
	for _, f := range stale {
		if _, err := s.failUpload(ctx, f, model.FailureTimeout); err != nil {
			if errors.Is(err, ErrInvalidState) {
				// Сессия завершилась между выборкой и обновлением
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// ActiveUploads возвращает количество открытых сессий загрузки.
func (s *RegistryService) ActiveUploads(ctx context.Context) (int, error) {
	n, err := s.files.CountByStatus(ctx, model.FileStatusPending)
	if err != nil {
		return 0, mapRepoErr("подсчёт сессий", err)
	}
	uploadSessionsActive.Set(float64(n))
	return n, nil
}

// UploadErrors возвращает число ошибок загрузки с момента запуска процесса.
func (s *RegistryService) UploadErrors() int64 {
	return s.uploadErrors.Load()
}

func (s *RegistryService) invalidateTiles(ctx context.Context, productID int64) {
	if s.invalidate != nil {
		s.invalidate.InvalidateProduct(ctx, productID)
	}
}
