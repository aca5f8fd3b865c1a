// volumes.go — обработчики /api/v1/volumes.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/acervo-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

type volumeCreateRequest struct {
	Nome            string  `json:"nome"`
	CaminhoMontagem string  `json:"caminho_montagem"`
	CapacidadeGB    float64 `json:"capacidade_gb"`
	Ativo           *bool   `json:"ativo"`
}

type volumeUpdateRequest struct {
	Nome            *string  `json:"nome"`
	CaminhoMontagem *string  `json:"caminho_montagem"`
	CapacidadeGB    *float64 `json:"capacidade_gb"`
	Ativo           *bool    `json:"ativo"`
}

// ListVolumes — GET /api/v1/volumes.
func (h *APIHandler) ListVolumes(w http.ResponseWriter, r *http.Request, params openapi.ListVolumesParams) {
	limit, offset := paginationDefaults(params.Limit, params.Offset)
	items, total, err := h.volumes.ListVolumes(r.Context(), params.Ativo, limit, offset)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения списка томов")
		return
	}
	writeJSON(w, http.StatusOK, toVolumeList(items, total))
}

// CreateVolume — POST /api/v1/volumes. Новый том активен, если ativo не задан.
func (h *APIHandler) CreateVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v := &model.Volume{
		Name:          req.Nome,
		MountPath:     req.CaminhoMontagem,
		CapacityBytes: fromGB(req.CapacidadeGB),
		Active:        true,
	}
	if req.Ativo != nil {
		v.Active = *req.Ativo
	}

	if err := h.volumes.CreateVolume(r.Context(), v); err != nil {
		h.fail(w, r, err, "Ошибка создания тома")
		return
	}
	writeJSON(w, http.StatusCreated, toVolumeDTO(v))
}

// GetVolume — GET /api/v1/volumes/{volume_id}.
func (h *APIHandler) GetVolume(w http.ResponseWriter, r *http.Request, volumeID int64) {
	v, err := h.volumes.GetVolume(r.Context(), volumeID)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения тома")
		return
	}
	writeJSON(w, http.StatusOK, toVolumeDTO(v))
}

// UpdateVolume — PATCH /api/v1/volumes/{volume_id}.
func (h *APIHandler) UpdateVolume(w http.ResponseWriter, r *http.Request, volumeID int64) {
	var req volumeUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	upd := model.VolumeUpdate{
		Name:      req.Nome,
		MountPath: req.CaminhoMontagem,
		Active:    req.Ativo,
	}
	if req.CapacidadeGB != nil {
		capacity := fromGB(*req.CapacidadeGB)
		upd.CapacityBytes = &capacity
	}

	v, err := h.volumes.UpdateVolume(r.Context(), volumeID, upd)
	if err != nil {
		h.fail(w, r, err, "Ошибка обновления тома")
		return
	}
	writeJSON(w, http.StatusOK, toVolumeDTO(v))
}

// DeleteVolume — DELETE /api/v1/volumes/{volume_id}.
func (h *APIHandler) DeleteVolume(w http.ResponseWriter, r *http.Request, volumeID int64) {
	if err := h.volumes.DeleteVolume(r.Context(), volumeID); err != nil {
		h.fail(w, r, err, "Ошибка удаления тома")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
