package model

import (
	"time"

	"github.com/google/uuid"
)

// DownloadRecord — запись журнала скачиваний (только добавление).
type DownloadRecord struct {
	ID           uuid.UUID
	FileID       int64
	Usuario      string
	DownloadedAt time.Time
	// FileDeleted — был ли файл мягко удалён в момент записи
	FileDeleted bool
}

// DownloadFilter — параметры выборки журнала.
type DownloadFilter struct {
	FileID  *int64
	Usuario *string
	Limit   int
	Offset  int
}
