package model

import "time"

// Version — версия продукта. Принадлежит ровно одному продукту, не удаляется.
type Version struct {
	ID        int64
	ProductID int64
	// ProductMI — номенклатура продукта (для путей файлов)
	ProductMI     string
	Versao        string
	TipoVersao    string
	OrgaoProdutor string
	Usuario       string
	CreatedAt     time.Time
}

// VersionMeta — метаданные новой версии.
type VersionMeta struct {
	Versao        string
	TipoVersao    string
	OrgaoProdutor string
	Usuario       string
}
