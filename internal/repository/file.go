package repository

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

// FileRepository — реестр файлов версий.
type FileRepository interface {
	// Create регистрирует файл в статусе pending.
	Create(ctx context.Context, f *model.File) error
	// GetByID возвращает файл по ID (включая удалённые).
	GetByID(ctx context.Context, id int64) (*model.File, error)
	// List возвращает файлы с фильтрацией.
	List(ctx context.Context, filter model.FileFilter) ([]*model.File, error)
	// Count возвращает количество файлов с фильтрацией (без пагинации).
	Count(ctx context.Context, filter model.FileFilter) (int, error)
	// Complete переводит pending → completed.
	Complete(ctx context.Context, id int64) (*model.File, error)
	// MarkFailed переводит pending → failed.
	MarkFailed(ctx context.Context, id int64, reason string) (*model.File, error)
	// SoftDelete переводит completed → deleted.
	SoftDelete(ctx context.Context, id int64, reason, by string) (*model.File, error)
	// ListStalePending возвращает pending-файлы, созданные раньше before.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.File, error)
	// CountByStatus возвращает количество файлов в статусе.
	CountByStatus(ctx context.Context, status model.FileStatus) (int, error)
	// RecentDeletions возвращает последние мягкие удаления.
	RecentDeletions(ctx context.Context, limit int) ([]*model.DeletedFile, error)
	// ResolvePaths возвращает физические пути в порядке ids.
	ResolvePaths(ctx context.Context, ids []int64) ([]model.FilePath, error)
}

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

const fileColumns = `f.id, f.version_id, f.volume_id, f.reservation_id, f.nome, f.extensao,
	f.relative_path, f.size_bytes, f.checksum, f.status, f.failure_reason,
	f.delete_reason, f.deleted_at, f.deleted_by, f.usuario, f.created_at, f.completed_at`

// fileScanner — общий набор полей для сканирования строки files.
type fileScanner struct {
	f             model.File
	status        string
	failureReason *string
	deleteReason  *string
	deletedAt     *time.Time
	deletedBy     *string
}

func (s *fileScanner) dest() []any {
	return []any{
		&s.f.ID, &s.f.VersionID, &s.f.VolumeID, &s.f.ReservationID, &s.f.Nome, &s.f.Extensao,
		&s.f.RelativePath, &s.f.SizeBytes, &s.f.Checksum, &s.status, &s.failureReason,
		&s.deleteReason, &s.deletedAt, &s.deletedBy, &s.f.Usuario, &s.f.CreatedAt, &s.f.CompletedAt,
	}
}

func (s *fileScanner) file() *model.File {
	f := s.f
	f.Status = model.FileStatus(s.status)
	switch f.Status {
	case model.FileStatusFailed:
		f.Failure = &model.Failure{}
		if s.failureReason != nil {
			f.Failure.Reason = *s.failureReason
		}
	case model.FileStatusDeleted:
		f.Deletion = &model.Deletion{}
		if s.deleteReason != nil {
			f.Deletion.Reason = *s.deleteReason
		}
		if s.deletedAt != nil {
			f.Deletion.At = *s.deletedAt
		}
		if s.deletedBy != nil {
			f.Deletion.By = *s.deletedBy
		}
	}
	return &f
}

func scanFile(row pgx.Row) (*model.File, error) {
	var s fileScanner
	if err := row.Scan(s.dest()...); err != nil {
		return nil, err
	}
	return s.file(), nil
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	query := `
		INSERT INTO files (version_id, volume_id, reservation_id, nome, extensao,
			relative_path, size_bytes, checksum, status, usuario)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		f.VersionID, f.VolumeID, f.ReservationID, f.Nome, f.Extensao,
		f.RelativePath, f.SizeBytes, f.Checksum, f.Usuario,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: версия, том или резервирование не существуют", ErrNotFound)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	f.Status = model.FileStatusPending
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, id int64) (*model.File, error) {
	f, err := scanFile(r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files f WHERE f.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// buildFileWhere строит WHERE-условие и аргументы для фильтрации файлов.
// Удалённые файлы исключаются, если не запрошены явно.
func buildFileWhere(filter model.FileFilter, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if filter.ProductID != nil {
		add("f.version_id IN (SELECT id FROM versions WHERE product_id = $%d)", *filter.ProductID)
	}
	if filter.VersionID != nil {
		add("f.version_id = $%d", *filter.VersionID)
	}
	if filter.VolumeID != nil {
		add("f.volume_id = $%d", *filter.VolumeID)
	}
	if filter.Status != nil {
		add("f.status = $%d", string(*filter.Status))
	} else if !filter.IncludeDeleted {
		conditions = append(conditions, "f.status <> 'deleted'")
	}
	if filter.CreatedAfter != nil {
		add("f.created_at >= $%d", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		add("f.created_at < $%d", *filter.CreatedBefore)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *fileRepo) List(ctx context.Context, filter model.FileFilter) ([]*model.File, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)
	where, args := buildFileWhere(filter, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM files f
		%s
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT $%d OFFSET $%d`, fileColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)
	return r.queryFiles(ctx, query, args...)
}

func (r *fileRepo) queryFiles(ctx context.Context, query string, args ...any) ([]*model.File, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) Count(ctx context.Context, filter model.FileFilter) (int, error) {
	where, args := buildFileWhere(filter, 1)

	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files f `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

// transition выполняет условный переход статуса: UPDATE ... WHERE status = from.
// Если строка не обновлена, различает отсутствие файла и чужой статус.
func (r *fileRepo) transition(ctx context.Context, id int64, from model.FileStatus, set string, args ...any) (*model.File, error) {
	query := fmt.Sprintf(`
		UPDATE files f SET %s
		WHERE f.id = $1 AND f.status = $2
		RETURNING %s`, set, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, append([]any{id, string(from)}, args...)...))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка смены статуса файла: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, fmt.Errorf("%w: файл %d в статусе %s, ожидался %s",
		ErrStatusMismatch, id, current.Status, from)
}

func (r *fileRepo) Complete(ctx context.Context, id int64) (*model.File, error) {
	return r.transition(ctx, id, model.FileStatusPending,
		`status = 'completed', completed_at = NOW()`)
}

func (r *fileRepo) MarkFailed(ctx context.Context, id int64, reason string) (*model.File, error) {
	return r.transition(ctx, id, model.FileStatusPending,
		`status = 'failed', failure_reason = $3`, reason)
}

func (r *fileRepo) SoftDelete(ctx context.Context, id int64, reason, by string) (*model.File, error) {
	return r.transition(ctx, id, model.FileStatusCompleted,
		`status = 'deleted', delete_reason = $3, deleted_by = $4, deleted_at = NOW()`, reason, by)
}

func (r *fileRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.File, error) {
	limit, _ = normalizePage(limit, 0)
	return r.queryFiles(ctx, `
		SELECT `+fileColumns+`
		FROM files f
		WHERE f.status = 'pending' AND f.created_at < $1
		ORDER BY f.created_at
		LIMIT $2`, before, limit)
}

func (r *fileRepo) CountByStatus(ctx context.Context, status model.FileStatus) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM files WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *fileRepo) RecentDeletions(ctx context.Context, limit int) ([]*model.DeletedFile, error) {
	limit, _ = normalizePage(limit, 0)

	rows, err := r.db.Query(ctx, `
		SELECT `+fileColumns+`, p.mi, v.versao
		FROM files f
		JOIN versions v ON v.id = f.version_id
		JOIN products p ON p.id = v.product_id
		WHERE f.status = 'deleted'
		ORDER BY f.deleted_at DESC, f.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения удалённых файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.DeletedFile
	for rows.Next() {
		var (
			s      fileScanner
			mi     string
			versao string
		)
		if err := rows.Scan(append(s.dest(), &mi, &versao)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, &model.DeletedFile{File: *s.file(), ProductMI: mi, Versao: versao})
	}
	return result, rows.Err()
}

func (r *fileRepo) ResolvePaths(ctx context.Context, ids []int64) ([]model.FilePath, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT f.id, f.volume_id, vol.mount_path, f.relative_path, f.status = 'deleted'
		FROM files f
		JOIN volumes vol ON vol.id = f.volume_id
		WHERE f.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения путей файлов: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]model.FilePath, len(ids))
	for rows.Next() {
		var (
			fp        model.FilePath
			mountPath string
			relPath   string
		)
		if err := rows.Scan(&fp.FileID, &fp.VolumeID, &mountPath, &relPath, &fp.Deleted); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пути файла: %w", err)
		}
		fp.Path = path.Join(mountPath, relPath)
		found[fp.FileID] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения путей файлов: %w", err)
	}

	result := make([]model.FilePath, 0, len(ids))
	for _, id := range ids {
		fp, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: файл %d", ErrNotFound, id)
		}
		result = append(result, fp)
	}
	return result, nil
}
