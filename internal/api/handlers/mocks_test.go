package handlers

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
	"github.com/bigkaa/goartstore/acervo-module/internal/service"
	"github.com/bigkaa/goartstore/acervo-module/internal/tile"
)

type mockVolumes struct {
	createFn func(ctx context.Context, v *model.Volume) error
	getFn    func(ctx context.Context, id int64) (*model.Volume, error)
	listFn   func(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, int, error)
	updateFn func(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error)
	deleteFn func(ctx context.Context, id int64) error
}

func (m *mockVolumes) CreateVolume(ctx context.Context, v *model.Volume) error {
	return m.createFn(ctx, v)
}

func (m *mockVolumes) GetVolume(ctx context.Context, id int64) (*model.Volume, error) {
	return m.getFn(ctx, id)
}

func (m *mockVolumes) ListVolumes(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, int, error) {
	return m.listFn(ctx, active, limit, offset)
}

func (m *mockVolumes) UpdateVolume(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error) {
	return m.updateFn(ctx, id, upd)
}

func (m *mockVolumes) DeleteVolume(ctx context.Context, id int64) error {
	return m.deleteFn(ctx, id)
}

type mockRegistry struct {
	createVersionFn   func(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error)
	beginUploadFn     func(ctx context.Context, req service.BeginUploadRequest) (*model.File, error)
	completeUploadFn  func(ctx context.Context, id, size int64, checksum string) (*model.File, error)
	abortUploadFn     func(ctx context.Context, id int64, reason string) (*model.File, error)
	softDeleteFn      func(ctx context.Context, id int64, reason, usuario string) (*model.File, error)
	listFn            func(ctx context.Context, filter model.FileFilter) ([]*model.File, int, error)
	getFileFn         func(ctx context.Context, id int64) (*model.File, error)
	getProductFn      func(ctx context.Context, id int64) (*model.Product, error)
	listProductsFn    func(ctx context.Context, filter repository.ProductFilter, limit, offset int) ([]*model.Product, int, error)
	listVersionsFn    func(ctx context.Context, id int64) ([]*model.Version, error)
	recentDeletionsFn func(ctx context.Context, limit int) ([]*model.DeletedFile, error)
	resolvePathsFn    func(ctx context.Context, ids []int64) ([]model.FilePath, error)
	importGeometryFn  func(ctx context.Context, id int64, fc *geojson.FeatureCollection) (*model.Product, error)
}

func (m *mockRegistry) CreateVersion(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error) {
	return m.createVersionFn(ctx, ref, meta)
}

func (m *mockRegistry) BeginUpload(ctx context.Context, req service.BeginUploadRequest) (*model.File, error) {
	return m.beginUploadFn(ctx, req)
}

func (m *mockRegistry) CompleteUpload(ctx context.Context, id, size int64, checksum string) (*model.File, error) {
	return m.completeUploadFn(ctx, id, size, checksum)
}

func (m *mockRegistry) AbortUpload(ctx context.Context, id int64, reason string) (*model.File, error) {
	return m.abortUploadFn(ctx, id, reason)
}

func (m *mockRegistry) SoftDelete(ctx context.Context, id int64, reason, usuario string) (*model.File, error) {
	return m.softDeleteFn(ctx, id, reason, usuario)
}

func (m *mockRegistry) List(ctx context.Context, filter model.FileFilter) ([]*model.File, int, error) {
	return m.listFn(ctx, filter)
}

func (m *mockRegistry) GetFile(ctx context.Context, id int64) (*model.File, error) {
	return m.getFileFn(ctx, id)
}

func (m *mockRegistry) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return m.getProductFn(ctx, id)
}

func (m *mockRegistry) ListProducts(ctx context.Context, filter repository.ProductFilter, limit, offset int) ([]*model.Product, int, error) {
	return m.listProductsFn(ctx, filter, limit, offset)
}

func (m *mockRegistry) ListVersions(ctx context.Context, id int64) ([]*model.Version, error) {
	return m.listVersionsFn(ctx, id)
}

func (m *mockRegistry) RecentDeletions(ctx context.Context, limit int) ([]*model.DeletedFile, error) {
	return m.recentDeletionsFn(ctx, limit)
}

func (m *mockRegistry) ResolvePaths(ctx context.Context, ids []int64) ([]model.FilePath, error) {
	return m.resolvePathsFn(ctx, ids)
}

func (m *mockRegistry) ImportGeometry(ctx context.Context, id int64, fc *geojson.FeatureCollection) (*model.Product, error) {
	return m.importGeometryFn(ctx, id, fc)
}

type mockLedger struct {
	recordFn     func(ctx context.Context, fileID int64, usuario string) (*model.DownloadRecord, error)
	recordManyFn func(ctx context.Context, ids []int64, usuario string) ([]*model.DownloadRecord, error)
	listFn       func(ctx context.Context, filter model.DownloadFilter) ([]*model.DownloadRecord, int, error)
}

func (m *mockLedger) RecordDownload(ctx context.Context, fileID int64, usuario string) (*model.DownloadRecord, error) {
	return m.recordFn(ctx, fileID, usuario)
}

func (m *mockLedger) RecordDownloads(ctx context.Context, ids []int64, usuario string) ([]*model.DownloadRecord, error) {
	return m.recordManyFn(ctx, ids, usuario)
}

func (m *mockLedger) List(ctx context.Context, filter model.DownloadFilter) ([]*model.DownloadRecord, int, error) {
	return m.listFn(ctx, filter)
}

type mockTiles struct {
	getTileFn func(ctx context.Context, productID, z, x, y int64) (*tile.Result, error)
}

func (m *mockTiles) GetTile(ctx context.Context, productID, z, x, y int64) (*tile.Result, error) {
	return m.getTileFn(ctx, productID, z, x, y)
}

type mockReports struct {
	summaryFn         func(ctx context.Context) (*model.Summary, error)
	volumeUsageFn     func(ctx context.Context) ([]*model.Volume, error)
	productsByTypeFn  func(ctx context.Context) ([]model.TypeCount, error)
	uploadsPerDayFn   func(ctx context.Context, days int) ([]model.DayCount, error)
	downloadsPerDayFn func(ctx context.Context, days int) ([]model.DayCount, error)
	activityFn        func(ctx context.Context, limit int) ([]model.Activity, error)
	healthCountersFn  func(ctx context.Context) (*model.HealthCounters, error)
}

func (m *mockReports) Summary(ctx context.Context) (*model.Summary, error) {
	return m.summaryFn(ctx)
}

func (m *mockReports) VolumeUsage(ctx context.Context) ([]*model.Volume, error) {
	return m.volumeUsageFn(ctx)
}

func (m *mockReports) ProductsByType(ctx context.Context) ([]model.TypeCount, error) {
	return m.productsByTypeFn(ctx)
}

func (m *mockReports) UploadsPerDay(ctx context.Context, days int) ([]model.DayCount, error) {
	return m.uploadsPerDayFn(ctx, days)
}

func (m *mockReports) DownloadsPerDay(ctx context.Context, days int) ([]model.DayCount, error) {
	return m.downloadsPerDayFn(ctx, days)
}

func (m *mockReports) RecentActivity(ctx context.Context, limit int) ([]model.Activity, error) {
	return m.activityFn(ctx, limit)
}

func (m *mockReports) HealthCounters(ctx context.Context) (*model.HealthCounters, error) {
	return m.healthCountersFn(ctx)
}

type staticChecker struct {
	status, message string
}

func (c staticChecker) CheckReady() (string, string) {
	return c.status, c.message
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandler собирает APIHandler с заданными моками.
func newTestHandler(svc Services) *APIHandler {
	health := NewHealthHandler(staticChecker{status: statusOK}, staticChecker{status: statusOK}, nil)
	return NewAPIHandler(health, svc, time.Hour, testLogger())
}
