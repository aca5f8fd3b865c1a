package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

// ProductRepository — продукты, их версии и геометрия.
type ProductRepository interface {
	// CreateVersion создаёт продукт по MI, если его нет, добавляет версию
	// и увеличивает version_stamp. Поля существующего продукта не меняются.
	CreateVersion(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error)
	// GetByID возвращает продукт.
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	// List возвращает продукты с фильтрацией.
	List(ctx context.Context, filter ProductFilter, limit, offset int) ([]*model.Product, error)
	// Count возвращает количество продуктов.
	Count(ctx context.Context, filter ProductFilter) (int, error)
	// TileInfo возвращает ID, version_stamp и охват для тайлового конвейера.
	TileInfo(ctx context.Context, id int64) (*model.TileInfo, error)
	// ReplaceFeatures заменяет геометрию продукта, пересчитывает охват
	// и увеличивает version_stamp.
	ReplaceFeatures(ctx context.Context, productID int64, features []model.Feature) (*model.Product, error)
	// FeaturesInBound возвращает объекты, пересекающие bound (EPSG:4326),
	// упорядоченные по ID.
	FeaturesInBound(ctx context.Context, productID int64, bound orb.Bound) ([]model.Feature, error)
}

// ProductFilter — фильтры списка продуктов.
type ProductFilter struct {
	TipoProduto *string
	// MI — поиск по префиксу номенклатуры
	MI *string
}

type productRepo struct {
	db DBTX
	tx *TxRunner
}

// NewProductRepository создаёт репозиторий продуктов.
func NewProductRepository(db TxBeginner) ProductRepository {
	return &productRepo{db: db, tx: NewTxRunner(db)}
}

const productColumns = `id, mi, inom, nome, tipo_produto, escala,
	ST_XMin(extent), ST_YMin(extent), ST_XMax(extent), ST_YMax(extent),
	version_stamp, created_at, updated_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	p := &model.Product{}
	var minX, minY, maxX, maxY *float64
	err := row.Scan(&p.ID, &p.MI, &p.Inom, &p.Nome, &p.TipoProduto, &p.Escala,
		&minX, &minY, &maxX, &maxY,
		&p.VersionStamp, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if minX != nil && minY != nil && maxX != nil && maxY != nil {
		p.Extent = orb.Bound{Min: orb.Point{*minX, *minY}, Max: orb.Point{*maxX, *maxY}}
		p.HasExtent = true
	}
	return p, nil
}

func (r *productRepo) CreateVersion(ctx context.Context, ref model.ProductRef, meta model.VersionMeta) (*model.Product, *model.Version, error) {
	var (
		product *model.Product
		version = &model.Version{
			Versao:        meta.Versao,
			TipoVersao:    meta.TipoVersao,
			OrgaoProdutor: meta.OrgaoProdutor,
			Usuario:       meta.Usuario,
		}
	)

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		// Для существующего продукта меняется только version_stamp.
		p, err := scanProduct(tx.QueryRow(ctx, `
			INSERT INTO products (mi, inom, nome, tipo_produto, escala)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (mi) DO UPDATE
				SET version_stamp = products.version_stamp + 1, updated_at = NOW()
			RETURNING `+productColumns,
			ref.MI, ref.Inom, ref.Nome, ref.TipoProduto, ref.Escala,
		))
		if err != nil {
			return fmt.Errorf("ошибка создания продукта: %w", err)
		}
		product = p

		version.ProductID = p.ID
		version.ProductMI = p.MI
		err = tx.QueryRow(ctx, `
			INSERT INTO versions (product_id, versao, tipo_versao, orgao_produtor, usuario)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			p.ID, meta.Versao, meta.TipoVersao, meta.OrgaoProdutor, meta.Usuario,
		).Scan(&version.ID, &version.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: версия %q продукта %s уже существует", ErrConflict, meta.Versao, ref.MI)
			}
			return fmt.Errorf("ошибка создания версии: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return product, version, nil
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения продукта: %w", err)
	}
	return p, nil
}

const productWhere = `
	WHERE ($1::text IS NULL OR tipo_produto = $1)
		AND ($2::text IS NULL OR mi LIKE $2 || '%')`

func (r *productRepo) List(ctx context.Context, filter ProductFilter, limit, offset int) ([]*model.Product, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := r.db.Query(ctx,
		`SELECT `+productColumns+` FROM products`+productWhere+` ORDER BY mi LIMIT $3 OFFSET $4`,
		filter.TipoProduto, filter.MI, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка продуктов: %w", err)
	}
	defer rows.Close()

	var result []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования продукта: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *productRepo) Count(ctx context.Context, filter ProductFilter) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+productWhere,
		filter.TipoProduto, filter.MI).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта продуктов: %w", err)
	}
	return count, nil
}

func (r *productRepo) TileInfo(ctx context.Context, id int64) (*model.TileInfo, error) {
	info := &model.TileInfo{}
	var minX, minY, maxX, maxY *float64
	err := r.db.QueryRow(ctx,
		`SELECT id, version_stamp,
			ST_XMin(extent), ST_YMin(extent), ST_XMax(extent), ST_YMax(extent)
		FROM products WHERE id = $1`, id,
	).Scan(&info.ProductID, &info.VersionStamp, &minX, &minY, &maxX, &maxY)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения продукта: %w", err)
	}
	if minX != nil && minY != nil && maxX != nil && maxY != nil {
		info.Extent = orb.Bound{Min: orb.Point{*minX, *minY}, Max: orb.Point{*maxX, *maxY}}
		info.HasExtent = true
	}
	return info, nil
}

func (r *productRepo) ReplaceFeatures(ctx context.Context, productID int64, features []model.Feature) (*model.Product, error) {
	var product *model.Product

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка блокировки продукта: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM product_features WHERE product_id = $1`, productID); err != nil {
			return fmt.Errorf("ошибка удаления геометрии: %w", err)
		}

		batch := &pgx.Batch{}
		for _, f := range features {
			data, err := wkb.Marshal(f.Geometry)
			if err != nil {
				return fmt.Errorf("ошибка кодирования геометрии: %w", err)
			}
			props := f.Properties
			if props == nil {
				props = map[string]any{}
			}
			batch.Queue(`
				INSERT INTO product_features (product_id, properties, geom)
				VALUES ($1, $2, ST_GeomFromWKB($3, 4326))`,
				productID, props, data)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("ошибка вставки геометрии: %w", err)
			}
		}

		p, err := scanProduct(tx.QueryRow(ctx, `
			UPDATE products SET
				extent = (SELECT ST_SetSRID(ST_Extent(geom)::geometry, 4326)
					FROM product_features WHERE product_id = $1),
				version_stamp = version_stamp + 1,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+productColumns, productID))
		if err != nil {
			return fmt.Errorf("ошибка обновления охвата продукта: %w", err)
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (r *productRepo) FeaturesInBound(ctx context.Context, productID int64, bound orb.Bound) ([]model.Feature, error) {
	query := `
		SELECT id, properties, ST_AsBinary(geom)
		FROM product_features
		WHERE product_id = $1
			AND ST_Intersects(geom, ST_MakeEnvelope($2, $3, $4, $5, 4326))
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, productID,
		bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки геометрии: %w", err)
	}
	defer rows.Close()

	var result []model.Feature
	for rows.Next() {
		var (
			f    model.Feature
			data []byte
		)
		if err := rows.Scan(&f.ID, &f.Properties, &data); err != nil {
			return nil, fmt.Errorf("ошибка сканирования геометрии: %w", err)
		}
		f.Geometry, err = wkb.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("ошибка декодирования WKB объекта %d: %w", f.ID, err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}
