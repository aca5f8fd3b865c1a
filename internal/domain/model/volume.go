package model

import (
	"time"

	"github.com/google/uuid"
)

// Volume — том хранения файлов.
// Хранится в таблице volumes.
type Volume struct {
	// ID — идентификатор тома
	ID int64
	// Name — уникальное имя тома
	Name string
	// MountPath — точка монтирования (корень для relative_path файлов)
	MountPath string
	// CapacityBytes — ёмкость тома в байтах
	CapacityBytes int64
	// UsedBytes — сумма незакрытых резервирований
	UsedBytes int64
	// Active — участвует ли том в выборе при резервировании
	Active bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// FreeBytes возвращает свободное место тома.
func (v *Volume) FreeBytes() int64 {
	return v.CapacityBytes - v.UsedBytes
}

// Reservation — резервирование места на томе под один файл.
// Хранится в таблице volume_reservations.
type Reservation struct {
	ID         uuid.UUID
	VolumeID   int64
	SizeBytes  int64
	ReservedAt time.Time
	// ReleasedAt — nil, пока байты учтены в used_bytes тома
	ReleasedAt *time.Time
}

// VolumeUpdate — изменяемые поля тома. nil — поле не меняется.
type VolumeUpdate struct {
	Name          *string
	MountPath     *string
	CapacityBytes *int64
	Active        *bool
}
