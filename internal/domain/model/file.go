package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileStatus — состояние файла в реестре.
type FileStatus string

const (
	// FileStatusPending — сессия загрузки открыта, место зарезервировано
	FileStatusPending FileStatus = "pending"
	// FileStatusCompleted — файл загружен и проверен
	FileStatusCompleted FileStatus = "completed"
	// FileStatusFailed — загрузка не удалась, резервирование снято
	FileStatusFailed FileStatus = "failed"
	// FileStatusDeleted — мягкое удаление, запись сохраняется
	FileStatusDeleted FileStatus = "deleted"
)

// Причины перевода в failed, выставляемые самим сервисом.
const (
	FailureSizeMismatch     = "size_mismatch"
	FailureChecksumMismatch = "checksum_mismatch"
	FailureTimeout          = "timeout"
	FailureAborted          = "aborted"
)

// validTransitions — допустимые переходы между состояниями файла.
// Из failed и deleted переходов нет: повторная загрузка идёт новой сессией.
var validTransitions = map[FileStatus]map[FileStatus]bool{
	FileStatusPending:   {FileStatusCompleted: true, FileStatusFailed: true},
	FileStatusCompleted: {FileStatusDeleted: true},
	FileStatusFailed:    {},
	FileStatusDeleted:   {},
}

// Valid проверяет, что статус известен.
func (s FileStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo проверяет допустимость перехода.
func (s FileStatus) CanTransitionTo(target FileStatus) bool {
	return validTransitions[s][target]
}

// ParseFileStatus разбирает строковый статус.
func ParseFileStatus(s string) (FileStatus, error) {
	st := FileStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("неизвестный статус файла: %q", s)
	}
	return st, nil
}

// Deletion — сведения о мягком удалении.
type Deletion struct {
	Reason string
	At     time.Time
	By     string
}

// Failure — причина неудачной загрузки.
type Failure struct {
	Reason string
}

// File — физический файл версии продукта.
// Хранится в таблице files. Deletion заполнен только для deleted,
// Failure — только для failed.
type File struct {
	ID            int64
	VersionID     int64
	VolumeID      int64
	ReservationID uuid.UUID
	Nome          string
	Extensao      string
	// RelativePath — путь относительно точки монтирования тома
	RelativePath string
	SizeBytes    int64
	// Checksum — SHA-256 в hex (нижний регистр), не меняется
	Checksum    string
	Status      FileStatus
	Failure     *Failure
	Deletion    *Deletion
	Usuario     string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SizeMB возвращает размер в мегабайтах.
func (f *File) SizeMB() float64 {
	return float64(f.SizeBytes) / (1024 * 1024)
}

// FileFilter — параметры выборки файлов.
type FileFilter struct {
	ProductID     *int64
	VersionID     *int64
	VolumeID      *int64
	Status        *FileStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// IncludeDeleted — включать мягко удалённые файлы
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// FilePath — физическое расположение файла.
type FilePath struct {
	FileID   int64
	VolumeID int64
	// Path — mount_path тома + relative_path файла
	Path    string
	Deleted bool
}

// DeletedFile — строка отчёта о недавних удалениях.
type DeletedFile struct {
	File
	ProductMI string
	Versao    string
}
