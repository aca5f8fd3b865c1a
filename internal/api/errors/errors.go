// Пакет errors — ответы с ошибками в едином формате Acervo.
// Формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/acervo-module/internal/service"
	"github.com/bigkaa/goartstore/acervo-module/internal/tile"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidTileAddress = "INVALID_TILE_ADDRESS"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeInvalidState       = "INVALID_STATE"
	CodeChecksumMismatch   = "CHECKSUM_MISMATCH"
	CodeSizeMismatch       = "SIZE_MISMATCH"
	CodeCapacityExceeded   = "CAPACITY_EXCEEDED"
	CodeInternalError      = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError — 500 внутренняя ошибка. Подробности в ответ не попадают.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// Classify возвращает HTTP-статус и код ответа для ошибки сервисного
// или тайлового слоя. Неизвестные ошибки — 500 INTERNAL_ERROR.
func Classify(err error) (status int, code string) {
	switch {
	case stderrors.Is(err, tile.ErrInvalidTileAddress):
		return http.StatusBadRequest, CodeInvalidTileAddress
	case stderrors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, CodeValidationError
	case stderrors.Is(err, service.ErrNotFound), stderrors.Is(err, tile.ErrProductNotFound):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, service.ErrConflict):
		return http.StatusConflict, CodeConflict
	case stderrors.Is(err, service.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case stderrors.Is(err, service.ErrChecksumMismatch):
		return http.StatusUnprocessableEntity, CodeChecksumMismatch
	case stderrors.Is(err, service.ErrSizeMismatch):
		return http.StatusUnprocessableEntity, CodeSizeMismatch
	case stderrors.Is(err, service.ErrCapacityExceeded):
		return http.StatusInsufficientStorage, CodeCapacityExceeded
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromService записывает ответ для ошибки сервисного слоя.
// Для клиентских ошибок сообщение берётся из err; для 500 — internalMessage.
func FromService(w http.ResponseWriter, err error, internalMessage string) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError {
		InternalError(w, internalMessage)
		return
	}
	WriteError(w, status, code, err.Error())
}
