package model

import (
	"time"

	"github.com/paulmach/orb"
)

// Product — картографический продукт (ключ — номенклатура MI).
// Идентификационные поля не меняются после создания.
type Product struct {
	ID          int64
	MI          string
	Inom        string
	Nome        string
	TipoProduto string
	Escala      string
	// Extent — охват продукта, действителен при HasExtent
	Extent    orb.Bound
	HasExtent bool
	// VersionStamp — растёт при изменении набора версий или геометрии
	VersionStamp int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProductRef — идентификационные поля продукта для CreateVersion.
type ProductRef struct {
	MI          string
	Inom        string
	Nome        string
	TipoProduto string
	Escala      string
}

// TileInfo — минимальные сведения о продукте для тайлового конвейера.
type TileInfo struct {
	ProductID    int64
	VersionStamp int64
	// Extent — охват геометрии продукта, действителен при HasExtent
	Extent    orb.Bound
	HasExtent bool
}

// Feature — объект геометрии продукта.
type Feature struct {
	ID         int64
	Properties map[string]any
	Geometry   orb.Geometry
}
