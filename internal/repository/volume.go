package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

// VolumeRepository — тома хранения и резервирования места.
type VolumeRepository interface {
	// Create создаёт том.
	Create(ctx context.Context, v *model.Volume) error
	// GetByID возвращает том по ID.
	GetByID(ctx context.Context, id int64) (*model.Volume, error)
	// List возвращает тома, отсортированные по ID.
	List(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, error)
	// Count возвращает количество томов.
	Count(ctx context.Context, active *bool) (int, error)
	// Update применяет частичное обновление.
	Update(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error)
	// Delete удаляет том, на который не ссылается ни один файл.
	Delete(ctx context.Context, id int64) error

	// ReserveOnce делает одну попытку резервирования: выбор тома с
	// наибольшим свободным местом, увеличение used_bytes и запись
	// резервирования в одной транзакции.
	ReserveOnce(ctx context.Context, sizeBytes int64) (*model.Reservation, error)
	// Release закрывает резервирование и возвращает место тому.
	// Возвращает освобождённый объём; 0 — резервирование уже было закрыто.
	Release(ctx context.Context, reservationID uuid.UUID) (int64, error)
	// ListOrphanReservations возвращает открытые резервирования, чьи
	// файлы уже failed/deleted, либо без файла старше olderThan.
	ListOrphanReservations(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

type volumeRepo struct {
	db DBTX
	tx *TxRunner
}

// NewVolumeRepository создаёт репозиторий томов.
func NewVolumeRepository(db TxBeginner) VolumeRepository {
	return &volumeRepo{db: db, tx: NewTxRunner(db)}
}

const volumeColumns = `id, name, mount_path, capacity_bytes, used_bytes, active, created_at, updated_at`

func scanVolume(row pgx.Row) (*model.Volume, error) {
	v := &model.Volume{}
	err := row.Scan(&v.ID, &v.Name, &v.MountPath, &v.CapacityBytes, &v.UsedBytes,
		&v.Active, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *volumeRepo) Create(ctx context.Context, v *model.Volume) error {
	query := `
		INSERT INTO volumes (name, mount_path, capacity_bytes, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, used_bytes, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, v.Name, v.MountPath, v.CapacityBytes, v.Active).
		Scan(&v.ID, &v.UsedBytes, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: том %q уже существует", ErrConflict, v.Name)
		}
		return fmt.Errorf("ошибка создания тома: %w", err)
	}
	return nil
}

func (r *volumeRepo) GetByID(ctx context.Context, id int64) (*model.Volume, error) {
	query := `SELECT ` + volumeColumns + ` FROM volumes WHERE id = $1`

	v, err := scanVolume(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения тома: %w", err)
	}
	return v, nil
}

func (r *volumeRepo) List(ctx context.Context, active *bool, limit, offset int) ([]*model.Volume, error) {
	limit, offset = normalizePage(limit, offset)

	query := `
		SELECT ` + volumeColumns + `
		FROM volumes
		WHERE ($1::boolean IS NULL OR active = $1)
		ORDER BY id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, active, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка томов: %w", err)
	}
	defer rows.Close()

	var result []*model.Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования тома: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (r *volumeRepo) Count(ctx context.Context, active *bool) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM volumes WHERE ($1::boolean IS NULL OR active = $1)`, active,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта томов: %w", err)
	}
	return count, nil
}

func (r *volumeRepo) Update(ctx context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error) {
	var sets []string
	args := []any{id}

	add := func(column string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.MountPath != nil {
		add("mount_path", *upd.MountPath)
	}
	if upd.CapacityBytes != nil {
		add("capacity_bytes", *upd.CapacityBytes)
	}
	if upd.Active != nil {
		add("active", *upd.Active)
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	query := fmt.Sprintf(`
		UPDATE volumes SET %s, updated_at = NOW()
		WHERE id = $1
		RETURNING %s`, strings.Join(sets, ", "), volumeColumns)

	v, err := scanVolume(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrNotFound
		case isUniqueViolation(err):
			return nil, fmt.Errorf("%w: том с таким именем уже существует", ErrConflict)
		case isCheckViolation(err):
			return nil, fmt.Errorf("%w: ёмкость меньше занятого места", ErrConflict)
		}
		return nil, fmt.Errorf("ошибка обновления тома: %w", err)
	}
	return v, nil
}

func (r *volumeRepo) Delete(ctx context.Context, id int64) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var hasFiles bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM files WHERE volume_id = $1)`, id,
		).Scan(&hasFiles)
		if err != nil {
			return fmt.Errorf("ошибка проверки файлов тома: %w", err)
		}
		if hasFiles {
			return fmt.Errorf("%w: на томе есть файлы", ErrConflict)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM volumes WHERE id = $1`, id)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: на том есть ссылки", ErrConflict)
			}
			return fmt.Errorf("ошибка удаления тома: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *volumeRepo) ReserveOnce(ctx context.Context, sizeBytes int64) (*model.Reservation, error) {
	// FOR UPDATE блокирует выбранную строку; условие в UPDATE повторно
	// проверяется по актуальной версии строки после ожидания блокировки.
	pick := `
		WITH candidate AS (
			SELECT id FROM volumes
			WHERE active AND capacity_bytes - used_bytes >= $1
			ORDER BY capacity_bytes - used_bytes DESC, id ASC
			LIMIT 1
			FOR UPDATE
		)
		UPDATE volumes v
		SET used_bytes = v.used_bytes + $1, updated_at = NOW()
		FROM candidate c
		WHERE v.id = c.id AND v.active AND v.capacity_bytes - v.used_bytes >= $1
		RETURNING v.id`

	res := &model.Reservation{ID: uuid.New(), SizeBytes: sizeBytes}

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, pick, sizeBytes).Scan(&res.VolumeID)
		if errors.Is(err, pgx.ErrNoRows) {
			var fits bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM volumes WHERE active AND capacity_bytes - used_bytes >= $1)`,
				sizeBytes,
			).Scan(&fits); err != nil {
				return fmt.Errorf("ошибка проверки свободного места: %w", err)
			}
			if fits {
				return ErrContended
			}
			return ErrNoCapacity
		}
		if err != nil {
			return fmt.Errorf("ошибка выбора тома: %w", err)
		}

		return tx.QueryRow(ctx, `
			INSERT INTO volume_reservations (id, volume_id, size_bytes)
			VALUES ($1, $2, $3)
			RETURNING reserved_at`,
			res.ID, res.VolumeID, sizeBytes,
		).Scan(&res.ReservedAt)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *volumeRepo) Release(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	var released int64

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var volumeID, size int64
		err := tx.QueryRow(ctx, `
			UPDATE volume_reservations SET released_at = NOW()
			WHERE id = $1 AND released_at IS NULL
			RETURNING volume_id, size_bytes`, reservationID,
		).Scan(&volumeID, &size)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM volume_reservations WHERE id = $1)`, reservationID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("ошибка проверки резервирования: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка закрытия резервирования: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE volumes SET used_bytes = used_bytes - $2, updated_at = NOW()
			WHERE id = $1`, volumeID, size,
		); err != nil {
			return fmt.Errorf("ошибка возврата места тому: %w", err)
		}
		released = size
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

func (r *volumeRepo) ListOrphanReservations(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	limit, _ = normalizePage(limit, 0)

	query := `
		SELECT r.id
		FROM volume_reservations r
		LEFT JOIN files f ON f.reservation_id = r.id
		WHERE r.released_at IS NULL
			AND (f.status IN ('failed', 'deleted') OR (f.id IS NULL AND r.reserved_at < $1))
		ORDER BY r.reserved_at
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска потерянных резервирований: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования резервирования: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
