package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

// DownloadRepository — журнал скачиваний. Изменение и удаление записей
// не предусмотрены.
type DownloadRepository interface {
	// Record добавляет запись. Флаг file_deleted вычисляется тем же
	// запросом по текущему статусу файла.
	Record(ctx context.Context, fileID int64, usuario string) (*model.DownloadRecord, error)
	// RecordMany добавляет записи для всех файлов в одной транзакции.
	// Если хотя бы одного файла нет, ничего не записывается.
	RecordMany(ctx context.Context, fileIDs []int64, usuario string) ([]*model.DownloadRecord, error)
	// List возвращает записи, новые первыми.
	List(ctx context.Context, filter model.DownloadFilter) ([]*model.DownloadRecord, error)
	// Count возвращает количество записей.
	Count(ctx context.Context, filter model.DownloadFilter) (int, error)
}

type downloadRepo struct {
	db DBTX
	tx *TxRunner
}

// NewDownloadRepository создаёт репозиторий журнала скачиваний.
func NewDownloadRepository(db TxBeginner) DownloadRepository {
	return &downloadRepo{db: db, tx: NewTxRunner(db)}
}

const insertDownload = `
	INSERT INTO download_records (id, file_id, usuario, downloaded_at, file_deleted)
	SELECT $1, f.id, $3, NOW(), f.status = 'deleted'
	FROM files f
	WHERE f.id = $2
	RETURNING id, file_id, usuario, downloaded_at, file_deleted`

func recordDownload(ctx context.Context, db DBTX, fileID int64, usuario string) (*model.DownloadRecord, error) {
	rec := &model.DownloadRecord{}
	err := db.QueryRow(ctx, insertDownload, uuid.New(), fileID, usuario).
		Scan(&rec.ID, &rec.FileID, &rec.Usuario, &rec.DownloadedAt, &rec.FileDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: файл %d", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("ошибка записи скачивания: %w", err)
	}
	return rec, nil
}

func (r *downloadRepo) Record(ctx context.Context, fileID int64, usuario string) (*model.DownloadRecord, error) {
	return recordDownload(ctx, r.db, fileID, usuario)
}

func (r *downloadRepo) RecordMany(ctx context.Context, fileIDs []int64, usuario string) ([]*model.DownloadRecord, error) {
	result := make([]*model.DownloadRecord, 0, len(fileIDs))

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		for _, id := range fileIDs {
			rec, err := recordDownload(ctx, tx, id, usuario)
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

const downloadWhere = `
	WHERE ($1::bigint IS NULL OR file_id = $1)
		AND ($2::text IS NULL OR usuario = $2)`

func (r *downloadRepo) List(ctx context.Context, filter model.DownloadFilter) ([]*model.DownloadRecord, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, `
		SELECT id, file_id, usuario, downloaded_at, file_deleted
		FROM download_records`+downloadWhere+`
		ORDER BY downloaded_at DESC, id
		LIMIT $3 OFFSET $4`,
		filter.FileID, filter.Usuario, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала скачиваний: %w", err)
	}
	defer rows.Close()

	var result []*model.DownloadRecord
	for rows.Next() {
		rec := &model.DownloadRecord{}
		if err := rows.Scan(&rec.ID, &rec.FileID, &rec.Usuario, &rec.DownloadedAt, &rec.FileDeleted); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *downloadRepo) Count(ctx context.Context, filter model.DownloadFilter) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM download_records`+downloadWhere,
		filter.FileID, filter.Usuario).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта скачиваний: %w", err)
	}
	return count, nil
}
