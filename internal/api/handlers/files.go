// files.go — обработчики реестра файлов, журнала скачиваний и /path_download.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/acervo-module/internal/api/errors"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

type pathDownloadRequest struct {
	ArquivosID []int64 `json:"arquivos_id"`
}

type pathDownloadResponse struct {
	Arquivos []pathDTO `json:"arquivos"`
}

type downloadListResponse struct {
	Downloads []downloadDTO `json:"downloads"`
	Total     int           `json:"total"`
}

// ListFiles — GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request, params openapi.ListFilesParams) {
	limit, offset := paginationDefaults(params.Limit, params.Offset)
	filter := model.FileFilter{
		ProductID:     params.ProdutoId,
		VersionID:     params.VersaoId,
		VolumeID:      params.VolumeId,
		CreatedAfter:  params.CriadoApos,
		CreatedBefore: params.CriadoAntes,
		Limit:         limit,
		Offset:        offset,
	}
	if params.IncluirApagados != nil {
		filter.IncludeDeleted = *params.IncluirApagados
	}
	if params.Status != nil {
		st, err := model.ParseFileStatus(*params.Status)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Status = &st
	}

	items, total, err := h.registry.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения списка файлов")
		return
	}

	resp := fileListDTO{Arquivos: make([]fileDTO, 0, len(items)), Total: total, Limit: limit, Offset: offset}
	for _, f := range items {
		resp.Arquivos = append(resp.Arquivos, toFileDTO(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDeletedFiles — GET /api/v1/files/deleted. Новые удаления первыми.
func (h *APIHandler) ListDeletedFiles(w http.ResponseWriter, r *http.Request, params openapi.ListDeletedFilesParams) {
	limit, _ := paginationDefaults(params.Limit, nil)
	items, err := h.registry.RecentDeletions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения удалённых файлов")
		return
	}

	resp := fileListDTO{Arquivos: make([]fileDTO, 0, len(items)), Total: len(items), Limit: limit}
	for _, d := range items {
		dto := toFileDTO(&d.File)
		dto.ProdutoMI = d.ProductMI
		dto.Versao = d.Versao
		resp.Arquivos = append(resp.Arquivos, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFile — GET /api/v1/files/{arquivo_id}. Возвращает файл в любом статусе.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request, arquivoID int64) {
	f, err := h.registry.GetFile(r.Context(), arquivoID)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения файла")
		return
	}
	writeJSON(w, http.StatusOK, toFileDTO(f))
}

// DeleteFile — POST /api/v1/files/{arquivo_id}/delete (мягкое удаление).
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request, arquivoID int64) {
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, err := h.registry.SoftDelete(r.Context(), arquivoID, req.Motivo, middleware.UsuarioFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, "Ошибка удаления файла")
		return
	}
	writeJSON(w, http.StatusOK, toFileDTO(f))
}

// RecordDownload — POST /api/v1/files/{arquivo_id}/downloads.
func (h *APIHandler) RecordDownload(w http.ResponseWriter, r *http.Request, arquivoID int64) {
	rec, err := h.ledger.RecordDownload(r.Context(), arquivoID, middleware.UsuarioFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, "Ошибка записи скачивания")
		return
	}
	writeJSON(w, http.StatusCreated, toDownloadDTO(rec))
}

// ListDownloads — GET /api/v1/downloads.
func (h *APIHandler) ListDownloads(w http.ResponseWriter, r *http.Request, params openapi.ListDownloadsParams) {
	limit, offset := paginationDefaults(params.Limit, params.Offset)
	items, total, err := h.ledger.List(r.Context(), model.DownloadFilter{
		FileID:  params.ArquivoId,
		Usuario: params.Usuario,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.fail(w, r, err, "Ошибка получения журнала скачиваний")
		return
	}

	resp := downloadListResponse{Downloads: make([]downloadDTO, 0, len(items)), Total: total}
	for _, d := range items {
		resp.Downloads = append(resp.Downloads, toDownloadDTO(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PathDownload — POST /path_download.
// Пути разрешаются до записи в журнал: неизвестный файл даёт 404
// без единой записи скачивания.
func (h *APIHandler) PathDownload(w http.ResponseWriter, r *http.Request) {
	var req pathDownloadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	paths, err := h.registry.ResolvePaths(r.Context(), req.ArquivosID)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения путей файлов")
		return
	}

	if _, err := h.ledger.RecordDownloads(r.Context(), req.ArquivosID, middleware.UsuarioFromContext(r.Context())); err != nil {
		h.fail(w, r, err, "Ошибка записи скачиваний")
		return
	}

	resp := pathDownloadResponse{Arquivos: make([]pathDTO, 0, len(paths))}
	for _, p := range paths {
		resp.Arquivos = append(resp.Arquivos, pathDTO{
			ArquivoID: p.FileID,
			VolumeID:  p.VolumeID,
			Caminho:   p.Path,
			Apagado:   p.Deleted,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
