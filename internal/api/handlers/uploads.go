// uploads.go — сессии загрузки файлов.
package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/acervo-module/internal/api/errors"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/acervo-module/internal/service"
)

type uploadBeginRequest struct {
	VersaoID     int64  `json:"versao_id"`
	Nome         string `json:"nome"`
	Extensao     string `json:"extensao"`
	TamanhoBytes int64  `json:"tamanho_bytes"`
	Checksum     string `json:"checksum"`
}

type uploadCompleteRequest struct {
	TamanhoBytes int64  `json:"tamanho_bytes"`
	Checksum     string `json:"checksum"`
}

type reasonRequest struct {
	Motivo string `json:"motivo"`
}

// BeginUpload — POST /api/v1/uploads. Резервирует место и открывает сессию.
func (h *APIHandler) BeginUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadBeginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, err := h.registry.BeginUpload(r.Context(), service.BeginUploadRequest{
		VersionID: req.VersaoID,
		Nome:      req.Nome,
		Extensao:  req.Extensao,
		SizeBytes: req.TamanhoBytes,
		Checksum:  req.Checksum,
		Usuario:   middleware.UsuarioFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err, "Ошибка открытия сессии загрузки")
		return
	}
	writeJSON(w, http.StatusCreated, toFileDTO(f))
}

// CompleteUpload — POST /api/v1/uploads/{arquivo_id}/complete.
// При расхождении размера или контрольной суммы файл переходит в failed,
// клиент получает 422.
func (h *APIHandler) CompleteUpload(w http.ResponseWriter, r *http.Request, arquivoID int64) {
	var req uploadCompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, err := h.registry.CompleteUpload(r.Context(), arquivoID, req.TamanhoBytes, req.Checksum)
	if err != nil {
		h.fail(w, r, err, "Ошибка завершения загрузки")
		return
	}
	writeJSON(w, http.StatusOK, toFileDTO(f))
}

// AbortUpload — POST /api/v1/uploads/{arquivo_id}/abort. Тело необязательно.
func (h *APIHandler) AbortUpload(w http.ResponseWriter, r *http.Request, arquivoID int64) {
	var req reasonRequest
	data, err := io.ReadAll(r.Body)
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
		return
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
			return
		}
	}

	f, err := h.registry.AbortUpload(r.Context(), arquivoID, req.Motivo)
	if err != nil {
		h.fail(w, r, err, "Ошибка отмены загрузки")
		return
	}
	writeJSON(w, http.StatusOK, toFileDTO(f))
}
