// pipeline.go — генерация векторных тайлов по геометрии продукта.
//
// Этапы: проверка адреса → version_stamp продукта → кэш → выборка объектов
// из PostGIS по охвату тайла с буфером → проекция в пиксели тайла →
// отсечение → упрощение Дугласа-Пекера → кодирование MVT.
// Одинаковые запросы, пришедшие одновременно, выполняются один раз.
package tile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
	"github.com/bigkaa/goartstore/acervo-module/internal/tile/encoder"
)

var (
	tilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_tiles_total",
		Help: "Количество запросов тайлов по результату",
	}, []string{"result"})

	tileGenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ac_tile_generation_duration_seconds",
		Help:    "Время генерации тайла без учёта кэша",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

// renderTimeout — предел времени одной генерации. Генерация не зависит
// от контекста запроса: её результат ждут все совпавшие запросы.
const renderTimeout = 30 * time.Second

// ErrProductNotFound — продукт тайла не найден.
var ErrProductNotFound = errors.New("продукт не найден")

// FeatureSource — источник геометрии продукта.
type FeatureSource interface {
	TileInfo(ctx context.Context, productID int64) (*model.TileInfo, error)
	FeaturesInBound(ctx context.Context, productID int64, bound orb.Bound) ([]model.Feature, error)
}

// Options — параметры генерации.
type Options struct {
	LayerName string
	Extent    uint32
	// Buffer — буфер вокруг тайла в пикселях
	Buffer  int
	MaxZoom int
}

// Result — готовый тайл. Пустой Data означает пустой тайл.
type Result struct {
	Data         []byte
	VersionStamp int64
}

// Empty сообщает, что в тайле нет объектов.
func (r *Result) Empty() bool {
	return len(r.Data) == 0
}

// Pipeline — конвейер генерации тайлов.
type Pipeline struct {
	src    FeatureSource
	cache  Cache
	opts   Options
	group  singleflight.Group
	logger *slog.Logger
}

// NewPipeline создаёт конвейер. cache может быть nil.
func NewPipeline(src FeatureSource, cache Cache, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Extent == 0 {
		opts.Extent = mvt.DefaultExtent
	}
	if opts.LayerName == "" {
		opts.LayerName = "produto"
	}
	if opts.MaxZoom <= 0 || opts.MaxZoom > MaxZoomLimit {
		opts.MaxZoom = MaxZoomLimit
	}
	return &Pipeline{
		src:    src,
		cache:  cache,
		opts:   opts,
		logger: logger.With(slog.String("component", "tile_pipeline")),
	}
}

// GetTile возвращает тайл (productID, z, x, y).
func (p *Pipeline) GetTile(ctx context.Context, productID, z, x, y int64) (*Result, error) {
	t, err := ValidateAddress(z, x, y, p.opts.MaxZoom)
	if err != nil {
		tilesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	info, err := p.src.TileInfo(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
		tilesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("получение продукта: %w", err)
	}

	key := Key{ProductID: productID, Z: uint32(t.Z), X: t.X, Y: t.Y, VersionStamp: info.VersionStamp}
	if p.cache != nil {
		if data, ok := p.cache.Get(ctx, key); ok {
			tilesTotal.WithLabelValues("hit").Inc()
			return &Result{Data: data, VersionStamp: info.VersionStamp}, nil
		}
	}

	renderCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key.String(), func() (any, error) {
		rctx, cancel := context.WithTimeout(renderCtx, renderTimeout)
		defer cancel()
		return p.render(rctx, productID, info, t)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		tilesTotal.WithLabelValues("error").Inc()
		return nil, res.Err
	}
	data := res.Val.([]byte)

	if p.cache != nil {
		if data == nil {
			data = []byte{}
		}
		p.cache.Set(ctx, key, data)
	}

	if len(data) == 0 {
		tilesTotal.WithLabelValues("empty").Inc()
	} else {
		tilesTotal.WithLabelValues("generated").Inc()
	}
	return &Result{Data: data, VersionStamp: info.VersionStamp}, nil
}

// render строит тайл по геометрии. nil — пустой тайл.
// Тайл вне охвата продукта пуст без запроса к базе.
func (p *Pipeline) render(ctx context.Context, productID int64, info *model.TileInfo, t maptile.Tile) ([]byte, error) {
	start := time.Now()
	defer func() {
		tileGenerationDuration.Observe(time.Since(start).Seconds())
	}()

	bound := queryBound(t, p.opts.Buffer, p.opts.Extent)
	if !info.HasExtent || !info.Extent.Intersects(bound) {
		return nil, nil
	}

	features, err := p.src.FeaturesInBound(ctx, productID, bound)
	if err != nil {
		return nil, fmt.Errorf("выборка объектов тайла: %w", err)
	}
	if len(features) == 0 {
		return nil, nil
	}

	layer := &mvt.Layer{
		Name:     p.opts.LayerName,
		Version:  encoder.Version,
		Extent:   p.opts.Extent,
		Features: make([]*geojson.Feature, 0, len(features)),
	}
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		gf.Properties = geojson.Properties(f.Properties)
		layer.Features = append(layer.Features, gf)
	}

	layer.ProjectToTile(t)
	layer.Clip(clipBound(p.opts.Buffer, p.opts.Extent))
	layer.Simplify(simplify.DouglasPeucker(simplifyTolerance(t.Z)))
	layer.RemoveEmpty(1.0, 1.0)

	out := encoder.Layer{
		Name:     layer.Name,
		Extent:   layer.Extent,
		Features: make([]encoder.Feature, 0, len(layer.Features)),
	}
	for _, gf := range layer.Features {
		id, _ := gf.ID.(int64)
		out.Features = append(out.Features, encoder.Feature{
			ID:         uint64(id),
			Properties: gf.Properties,
			Geometry:   gf.Geometry,
		})
	}

	data := encoder.Encode(out)
	p.logger.Debug("Тайл сгенерирован",
		slog.Int64("product_id", productID),
		slog.String("tile", fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)),
		slog.Int("features", len(out.Features)),
		slog.Int("bytes", len(data)),
	)
	return data, nil
}

// simplifyTolerance — допуск упрощения в пикселях тайла; на мелких
// масштабах грубее.
func simplifyTolerance(z maptile.Zoom) float64 {
	switch {
	case z < 6:
		return 2
	case z < 12:
		return 1
	default:
		return 0.5
	}
}

// InvalidateProduct сбрасывает кэш тайлов продукта.
func (p *Pipeline) InvalidateProduct(ctx context.Context, productID int64) {
	if p.cache == nil {
		return
	}
	p.cache.InvalidateProduct(ctx, productID)
	p.logger.Debug("Кэш тайлов продукта сброшен", slog.Int64("product_id", productID))
}
