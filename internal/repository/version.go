package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

// VersionRepository — чтение версий продуктов.
// Версии создаются вместе с продуктом (ProductRepository.CreateVersion).
type VersionRepository interface {
	// GetByID возвращает версию вместе с MI продукта.
	GetByID(ctx context.Context, id int64) (*model.Version, error)
	// ListByProduct возвращает версии продукта в порядке создания.
	ListByProduct(ctx context.Context, productID int64) ([]*model.Version, error)
}

type versionRepo struct {
	db DBTX
}

// NewVersionRepository создаёт репозиторий версий.
func NewVersionRepository(db DBTX) VersionRepository {
	return &versionRepo{db: db}
}

const versionSelect = `
	SELECT v.id, v.product_id, p.mi, v.versao, v.tipo_versao, v.orgao_produtor,
		v.usuario, v.created_at
	FROM versions v
	JOIN products p ON p.id = v.product_id`

func scanVersion(row pgx.Row) (*model.Version, error) {
	v := &model.Version{}
	err := row.Scan(&v.ID, &v.ProductID, &v.ProductMI, &v.Versao, &v.TipoVersao,
		&v.OrgaoProdutor, &v.Usuario, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *versionRepo) GetByID(ctx context.Context, id int64) (*model.Version, error) {
	v, err := scanVersion(r.db.QueryRow(ctx, versionSelect+` WHERE v.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения версии: %w", err)
	}
	return v, nil
}

func (r *versionRepo) ListByProduct(ctx context.Context, productID int64) ([]*model.Version, error) {
	rows, err := r.db.Query(ctx,
		versionSelect+` WHERE v.product_id = $1 ORDER BY v.created_at, v.id`, productID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения версий: %w", err)
	}
	defer rows.Close()

	var result []*model.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования версии: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
