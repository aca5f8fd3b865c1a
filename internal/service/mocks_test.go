package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
)

// mockVolumeRepo — мок VolumeRepository для unit-тестов.
type mockVolumeRepo struct {
	createFn      func(ctx context.Context, v *model.Volume) error
	getByIDFn     func(ctx context.Context, id int64) (*model.Volume, error)
	listFn        func(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, error)
	countFn       func(ctx context.Context, active *bool) (int, error)
	updateFn      func(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error)
	deleteFn      func(ctx context.Context, id int64) error
	reserveOnceFn func(ctx context.Context, sizeBytes int64) (*model.Reservation, error)
	releaseFn     func(ctx context.Context, id uuid.UUID) (int64, error)
	orphansFn     func(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

func (m *mockVolumeRepo) Create(ctx context.Context, v *model.Volume) error {
	if m.createFn != nil {
		return m.createFn(ctx, v)
	}
	v.ID = 1
	return nil
}

func (m *mockVolumeRepo) GetByID(ctx context.Context, id int64) (*model.Volume, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockVolumeRepo) List(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, error) {
	if m.listFn != nil {
		return m.listFn(ctx, active, limit, offset)
	}
	return nil, nil
}

func (m *mockVolumeRepo) Count(ctx context.Context, active *bool) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, active)
	}
	return 0, nil
}

func (m *mockVolumeRepo) Update(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, upd)
	}
	return nil, repository.ErrNotFound
}

func (m *mockVolumeRepo) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockVolumeRepo) ReserveOnce(ctx context.Context, sizeBytes int64) (*model.Reservation, error) {
	if m.reserveOnceFn != nil {
		return m.reserveOnceFn(ctx, sizeBytes)
	}
	return nil, repository.ErrNoCapacity
}

func (m *mockVolumeRepo) Release(ctx context.Context, id uuid.UUID) (int64, error) {
	if m.releaseFn != nil {
		return m.releaseFn(ctx, id)
	}
	return 0, nil
}

func (m *mockVolumeRepo) ListOrphanReservations(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	if m.orphansFn != nil {
		return m.orphansFn(ctx, olderThan, limit)
	}
	return nil, nil
}

// mockProductRepo — мок ProductRepository.
type mockProductRepo struct {
	createVersionFn   func(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error)
	getByIDFn         func(ctx context.Context, id int64) (*model.Product, error)
	replaceFeaturesFn func(ctx context.Context, productID int64, features []model.Feature) (*model.Product, error)
}

func (m *mockProductRepo) CreateVersion(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error) {
	if m.createVersionFn != nil {
		return m.createVersionFn(ctx, ref, meta)
	}
	return nil, nil, repository.ErrConflict
}

func (m *mockProductRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockProductRepo) List(_ context.Context, _ repository.ProductFilter, _, _ int) ([]*model.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) Count(_ context.Context, _ repository.ProductFilter) (int, error) {
	return 0, nil
}

func (m *mockProductRepo) TileInfo(_ context.Context, _ int64) (*model.TileInfo, error) {
	return nil, repository.ErrNotFound
}

func (m *mockProductRepo) ReplaceFeatures(ctx context.Context, productID int64, features []model.Feature) (*model.Product, error) {
	if m.replaceFeaturesFn != nil {
		return m.replaceFeaturesFn(ctx, productID, features)
	}
	return nil, repository.ErrNotFound
}

func (m *mockProductRepo) FeaturesInBound(_ context.Context, _ int64, _ orb.Bound) ([]model.Feature, error) {
	return nil, nil
}

// mockVersionRepo — мок VersionRepository.
type mockVersionRepo struct {
	getByIDFn func(ctx context.Context, id int64) (*model.Version, error)
}

func (m *mockVersionRepo) GetByID(ctx context.Context, id int64) (*model.Version, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockVersionRepo) ListByProduct(_ context.Context, _ int64) ([]*model.Version, error) {
	return nil, nil
}

// memFileRepo — файловый репозиторий в памяти с условными переходами,
// как у настоящего UPDATE … WHERE status = $2.
type memFileRepo struct {
	mu     sync.Mutex
	nextID int64
	files  map[int64]*model.File

	createErr error
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{files: make(map[int64]*model.File)}
}

func (r *memFileRepo) Create(_ context.Context, f *model.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	f.ID = r.nextID
	f.Status = model.FileStatusPending
	f.CreatedAt = time.Now()
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *memFileRepo) GetByID(_ context.Context, id int64) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *memFileRepo) List(_ context.Context, filter model.FileFilter) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.File
	for id := int64(1); id <= r.nextID; id++ {
		f, ok := r.files[id]
		if !ok {
			continue
		}
		if f.Status == model.FileStatusDeleted && !filter.IncludeDeleted {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memFileRepo) Count(ctx context.Context, filter model.FileFilter) (int, error) {
	items, err := r.List(ctx, filter)
	return len(items), err
}

func (r *memFileRepo) transition(id int64, from, to model.FileStatus, apply func(f *model.File)) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if f.Status != from {
		return nil, repository.ErrStatusMismatch
	}
	f.Status = to
	apply(f)
	cp := *f
	return &cp, nil
}

func (r *memFileRepo) Complete(_ context.Context, id int64) (*model.File, error) {
	return r.transition(id, model.FileStatusPending, model.FileStatusCompleted, func(f *model.File) {
		now := time.Now()
		f.CompletedAt = &now
	})
}

func (r *memFileRepo) MarkFailed(_ context.Context, id int64, reason string) (*model.File, error) {
	return r.transition(id, model.FileStatusPending, model.FileStatusFailed, func(f *model.File) {
		f.Failure = &model.Failure{Reason: reason}
	})
}

func (r *memFileRepo) SoftDelete(_ context.Context, id int64, reason, by string) (*model.File, error) {
	return r.transition(id, model.FileStatusCompleted, model.FileStatusDeleted, func(f *model.File) {
		f.Deletion = &model.Deletion{Reason: reason, At: time.Now(), By: by}
	})
}

func (r *memFileRepo) ListStalePending(_ context.Context, before time.Time, limit int) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.File
	for id := int64(1); id <= r.nextID && len(out) < limit; id++ {
		f, ok := r.files[id]
		if ok && f.Status == model.FileStatusPending && f.CreatedAt.Before(before) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memFileRepo) CountByStatus(_ context.Context, status model.FileStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.files {
		if f.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memFileRepo) RecentDeletions(_ context.Context, _ int) ([]*model.DeletedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DeletedFile
	for id := r.nextID; id >= 1; id-- {
		if f, ok := r.files[id]; ok && f.Status == model.FileStatusDeleted {
			out = append(out, &model.DeletedFile{File: *f})
		}
	}
	return out, nil
}

func (r *memFileRepo) ResolvePaths(_ context.Context, ids []int64) ([]model.FilePath, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.FilePath, 0, len(ids))
	for _, id := range ids {
		f, ok := r.files[id]
		if !ok {
			return nil, repository.ErrNotFound
		}
		out = append(out, model.FilePath{
			FileID:   f.ID,
			VolumeID: f.VolumeID,
			Path:     "/mnt/" + f.RelativePath,
			Deleted:  f.Status == model.FileStatusDeleted,
		})
	}
	return out, nil
}

// fakeAllocator — один том в памяти; резервирование под мьютексом,
// повторное освобождение ничего не меняет.
type fakeAllocator struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	open     map[uuid.UUID]int64

	releaseErr error
}

func newFakeAllocator(capacity, used int64) *fakeAllocator {
	return &fakeAllocator{capacity: capacity, used: used, open: make(map[uuid.UUID]int64)}
}

func (a *fakeAllocator) Reserve(_ context.Context, sizeBytes int64) (*model.Reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capacity-a.used < sizeBytes {
		return nil, ErrCapacityExceeded
	}
	a.used += sizeBytes
	res := &model.Reservation{ID: uuid.New(), VolumeID: 1, SizeBytes: sizeBytes, ReservedAt: time.Now()}
	a.open[res.ID] = sizeBytes
	return res, nil
}

func (a *fakeAllocator) Release(_ context.Context, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.releaseErr != nil {
		return a.releaseErr
	}
	if size, ok := a.open[id]; ok {
		a.used -= size
		delete(a.open, id)
	}
	return nil
}

func (a *fakeAllocator) Used() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// recordingInvalidator запоминает продукты, чей кэш тайлов сброшен.
type recordingInvalidator struct {
	mu       sync.Mutex
	products []int64
}

func (r *recordingInvalidator) InvalidateProduct(_ context.Context, productID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products = append(r.products, productID)
}
