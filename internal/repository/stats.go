package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

// StatsRepository — агрегирующие запросы для дашборда. Только чтение.
type StatsRepository interface {
	CountProducts(ctx context.Context) (int, error)
	CountVersions(ctx context.Context) (int, error)
	CountDownloads(ctx context.Context) (int, error)
	// FileTotals заполняет файловые поля сводки.
	FileTotals(ctx context.Context) (model.Summary, error)
	ProductsByType(ctx context.Context) ([]model.TypeCount, error)
	// UploadsPerDay — завершённые загрузки по дням начиная с since.
	UploadsPerDay(ctx context.Context, since time.Time) ([]model.DayCount, error)
	// DownloadsPerDay — скачивания по дням начиная с since.
	DownloadsPerDay(ctx context.Context, since time.Time) ([]model.DayCount, error)
	// RecentActivity — последние загрузки, скачивания и удаления вперемешку.
	RecentActivity(ctx context.Context, limit int) ([]model.Activity, error)
	// CountFailedSince — неудачные загрузки, созданные после since.
	CountFailedSince(ctx context.Context, since time.Time) (int, error)
}

type statsRepo struct {
	db DBTX
}

// NewStatsRepository создаёт репозиторий статистики.
func NewStatsRepository(db DBTX) StatsRepository {
	return &statsRepo{db: db}
}

func (r *statsRepo) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта: %w", err)
	}
	return n, nil
}

func (r *statsRepo) CountProducts(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM products`)
}

func (r *statsRepo) CountVersions(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM versions`)
}

func (r *statsRepo) CountDownloads(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM download_records`)
}

func (r *statsRepo) CountFailedSince(ctx context.Context, since time.Time) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM files WHERE status = 'failed' AND created_at >= $1`, since)
}

func (r *statsRepo) FileTotals(ctx context.Context) (model.Summary, error) {
	var s model.Summary
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'deleted'),
			COALESCE(SUM(size_bytes) FILTER (WHERE status = 'completed'), 0)::bigint
		FROM files`,
	).Scan(&s.ActiveFiles, &s.PendingFiles, &s.DeletedFiles, &s.ActiveBytes)
	if err != nil {
		return s, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return s, nil
}

func (r *statsRepo) ProductsByType(ctx context.Context) ([]model.TypeCount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tipo_produto, COUNT(*)
		FROM products
		GROUP BY tipo_produto
		ORDER BY COUNT(*) DESC, tipo_produto`)
	if err != nil {
		return nil, fmt.Errorf("ошибка группировки продуктов: %w", err)
	}
	defer rows.Close()

	var result []model.TypeCount
	for rows.Next() {
		var tc model.TypeCount
		if err := rows.Scan(&tc.TipoProduto, &tc.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования группы: %w", err)
		}
		result = append(result, tc)
	}
	return result, rows.Err()
}

// perDay строит ряд по дням с нулями для дней без событий.
func (r *statsRepo) perDay(ctx context.Context, table, column, extra string, since time.Time) ([]model.DayCount, error) {
	query := fmt.Sprintf(`
		SELECT d::date, COUNT(t.%[2]s)
		FROM generate_series(($1::timestamptz AT TIME ZONE 'UTC')::date,
			(NOW() AT TIME ZONE 'UTC')::date, INTERVAL '1 day') AS d
		LEFT JOIN %[1]s t
			ON (t.%[2]s AT TIME ZONE 'UTC')::date = d::date %[3]s
		GROUP BY d
		ORDER BY d`, table, column, extra)

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка построения ряда %s: %w", table, err)
	}
	defer rows.Close()

	var result []model.DayCount
	for rows.Next() {
		var dc model.DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования ряда: %w", err)
		}
		result = append(result, dc)
	}
	return result, rows.Err()
}

func (r *statsRepo) UploadsPerDay(ctx context.Context, since time.Time) ([]model.DayCount, error) {
	return r.perDay(ctx, "files", "completed_at", "AND t.status IN ('completed', 'deleted')", since)
}

func (r *statsRepo) DownloadsPerDay(ctx context.Context, since time.Time) ([]model.DayCount, error) {
	return r.perDay(ctx, "download_records", "downloaded_at", "", since)
}

func (r *statsRepo) RecentActivity(ctx context.Context, limit int) ([]model.Activity, error) {
	limit, _ = normalizePage(limit, 0)

	rows, err := r.db.Query(ctx, `
		(SELECT 'upload', f.id, f.nome, f.usuario, f.completed_at
			FROM files f WHERE f.completed_at IS NOT NULL
			ORDER BY f.completed_at DESC LIMIT $1)
		UNION ALL
		(SELECT 'download', d.file_id, f.nome, d.usuario, d.downloaded_at
			FROM download_records d JOIN files f ON f.id = d.file_id
			ORDER BY d.downloaded_at DESC LIMIT $1)
		UNION ALL
		(SELECT 'deletion', f.id, f.nome, COALESCE(f.deleted_by, ''), f.deleted_at
			FROM files f WHERE f.status = 'deleted'
			ORDER BY f.deleted_at DESC LIMIT $1)
		ORDER BY 5 DESC, 2 DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активности: %w", err)
	}
	defer rows.Close()

	var result []model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.Kind, &a.FileID, &a.Nome, &a.Usuario, &a.At); err != nil {
			return nil, fmt.Errorf("ошибка сканирования активности: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
