package model

import "time"

// Summary — сводные показатели архива.
type Summary struct {
	Products     int
	Versions     int
	ActiveFiles  int
	PendingFiles int
	DeletedFiles int
	// ActiveBytes — суммарный размер завершённых файлов
	ActiveBytes int64
	Downloads   int
}

// TypeCount — количество продуктов одного типа.
type TypeCount struct {
	TipoProduto string
	Count       int
}

// DayCount — значение временного ряда за сутки (UTC).
type DayCount struct {
	Day   time.Time
	Count int
}

// Виды событий ленты активности.
const (
	ActivityUpload   = "upload"
	ActivityDownload = "download"
	ActivityDeletion = "deletion"
)

// Activity — событие ленты активности.
type Activity struct {
	Kind    string
	FileID  int64
	Nome    string
	Usuario string
	At      time.Time
}

// HealthCounters — счётчики состояния загрузок.
type HealthCounters struct {
	ActiveUploads     int
	FailedLast24h     int
	UploadErrorsTotal int64
}
