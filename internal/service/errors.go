// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся или используемый ресурс).
	ErrConflict = errors.New("конфликт")
	// ErrInvalidState — операция недопустима в текущем статусе файла.
	ErrInvalidState = errors.New("недопустимый статус для операции")
	// ErrCapacityExceeded — ни на одном активном томе нет места.
	ErrCapacityExceeded = errors.New("недостаточно места на томах")
	// ErrChecksumMismatch — контрольная сумма не совпала с заявленной.
	ErrChecksumMismatch = errors.New("контрольная сумма не совпадает")
	// ErrSizeMismatch — фактический размер не совпал с заявленным.
	ErrSizeMismatch = errors.New("размер файла не совпадает")
)

// mapRepoErr переводит ошибки репозитория в ошибки сервиса.
// Прочие ошибки оборачиваются с контекстом op.
func mapRepoErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repository.ErrStatusMismatch):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	case errors.Is(err, repository.ErrNoCapacity):
		return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
