// handler.go — основной обработчик API, реализующий openapi.ServerInterface.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"

	apierrors "github.com/bigkaa/goartstore/acervo-module/internal/api/errors"
	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
	"github.com/bigkaa/goartstore/acervo-module/internal/service"
	"github.com/bigkaa/goartstore/acervo-module/internal/tile"
)

// VolumeAllocator — операции с томами.
type VolumeAllocator interface {
	CreateVolume(ctx context.Context, v *model.Volume) error
	GetVolume(ctx context.Context, id int64) (*model.Volume, error)
	ListVolumes(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, int, error)
	UpdateVolume(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error)
	DeleteVolume(ctx context.Context, id int64) error
}

// Registry — реестр продуктов, версий и файлов.
type Registry interface {
	CreateVersion(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error)
	BeginUpload(ctx context.Context, req service.BeginUploadRequest) (*model.File, error)
	CompleteUpload(ctx context.Context, fileID int64, actualSize int64, checksum string) (*model.File, error)
	AbortUpload(ctx context.Context, fileID int64, reason string) (*model.File, error)
	SoftDelete(ctx context.Context, fileID int64, reason, usuario string) (*model.File, error)
	List(ctx context.Context, filter model.FileFilter) ([]*model.File, int, error)
	GetFile(ctx context.Context, fileID int64) (*model.File, error)
	GetProduct(ctx context.Context, productID int64) (*model.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter, limit, offset int) ([]*model.Product, int, error)
	ListVersions(ctx context.Context, productID int64) ([]*model.Version, error)
	RecentDeletions(ctx context.Context, limit int) ([]*model.DeletedFile, error)
	ResolvePaths(ctx context.Context, ids []int64) ([]model.FilePath, error)
	ImportGeometry(ctx context.Context, productID int64, fc *geojson.FeatureCollection) (*model.Product, error)
}

// Ledger — журнал скачиваний.
type Ledger interface {
	RecordDownload(ctx context.Context, fileID int64, usuario string) (*model.DownloadRecord, error)
	RecordDownloads(ctx context.Context, fileIDs []int64, usuario string) ([]*model.DownloadRecord, error)
	List(ctx context.Context, filter model.DownloadFilter) ([]*model.DownloadRecord, int, error)
}

// TileRenderer — выдача векторных тайлов.
type TileRenderer interface {
	GetTile(ctx context.Context, productID, z, x, y int64) (*tile.Result, error)
}

// Reports — данные панели мониторинга.
type Reports interface {
	Summary(ctx context.Context) (*model.Summary, error)
	VolumeUsage(ctx context.Context) ([]*model.Volume, error)
	ProductsByType(ctx context.Context) ([]model.TypeCount, error)
	UploadsPerDay(ctx context.Context, days int) ([]model.DayCount, error)
	DownloadsPerDay(ctx context.Context, days int) ([]model.DayCount, error)
	RecentActivity(ctx context.Context, limit int) ([]model.Activity, error)
	HealthCounters(ctx context.Context) (*model.HealthCounters, error)
}

// Services — зависимости APIHandler.
type Services struct {
	Volumes  VolumeAllocator
	Registry Registry
	Ledger   Ledger
	Tiles    TileRenderer
	Reports  Reports
}

// APIHandler — основной обработчик API Acervo.
type APIHandler struct {
	health   *HealthHandler
	volumes  VolumeAllocator
	registry Registry
	ledger   Ledger
	tiles    TileRenderer
	reports  Reports
	// tileMaxAge — значение max-age в Cache-Control тайлов
	tileMaxAge time.Duration
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	svc Services,
	tileMaxAge time.Duration,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		volumes:    svc.Volumes,
		registry:   svc.Registry,
		ledger:     svc.Ledger,
		tiles:      svc.Tiles,
		reports:    svc.Reports,
		tileMaxAge: tileMaxAge,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// fail отвечает ошибкой сервисного слоя. Ошибки 5xx логируются целиком,
// клиент получает internalMessage.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error, internalMessage string) {
	if status, _ := apierrors.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(internalMessage,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromService(w, err, internalMessage)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса. При ошибке отвечает 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit, offset *int) (limitVal, offsetVal int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// intOrZero разыменовывает необязательный параметр.
func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
