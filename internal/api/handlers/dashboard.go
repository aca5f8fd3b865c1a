// dashboard.go — обработчики /api/v1/dashboard/*.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/acervo-module/internal/api/openapi"
)

type summaryResponse struct {
	Produtos          int     `json:"produtos"`
	Versoes           int     `json:"versoes"`
	ArquivosAtivos    int     `json:"arquivos_ativos"`
	ArquivosPendentes int     `json:"arquivos_pendentes"`
	ArquivosApagados  int     `json:"arquivos_apagados"`
	TamanhoAtivoBytes int64   `json:"tamanho_ativo_bytes"`
	TamanhoAtivoGB    float64 `json:"tamanho_ativo_gb"`
	Downloads         int     `json:"downloads"`
}

type typeCountDTO struct {
	TipoProduto string `json:"tipo_produto"`
	Total       int    `json:"total"`
}

type activityDTO struct {
	Tipo      string `json:"tipo"`
	ArquivoID int64  `json:"arquivo_id"`
	Nome      string `json:"nome"`
	Usuario   string `json:"usuario"`
	Em        string `json:"em"`
}

type healthCountersResponse struct {
	UploadsAtivos    int   `json:"uploads_ativos"`
	Falhas24h        int   `json:"falhas_24h"`
	ErrosUploadTotal int64 `json:"erros_upload_total"`
}

// DashboardSummary — сводные показатели.
func (h *APIHandler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.reports.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err, "Ошибка получения сводки")
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Produtos:          s.Products,
		Versoes:           s.Versions,
		ArquivosAtivos:    s.ActiveFiles,
		ArquivosPendentes: s.PendingFiles,
		ArquivosApagados:  s.DeletedFiles,
		TamanhoAtivoBytes: s.ActiveBytes,
		TamanhoAtivoGB:    toGB(s.ActiveBytes),
		Downloads:         s.Downloads,
	})
}

// DashboardVolumes — заполненность томов.
func (h *APIHandler) DashboardVolumes(w http.ResponseWriter, r *http.Request) {
	vols, err := h.reports.VolumeUsage(r.Context())
	if err != nil {
		h.fail(w, r, err, "Ошибка получения заполненности томов")
		return
	}
	writeJSON(w, http.StatusOK, toVolumeList(vols, len(vols)))
}

// DashboardProductsByType — продукты по типам.
func (h *APIHandler) DashboardProductsByType(w http.ResponseWriter, r *http.Request) {
	items, err := h.reports.ProductsByType(r.Context())
	if err != nil {
		h.fail(w, r, err, "Ошибка получения продуктов по типам")
		return
	}
	out := make([]typeCountDTO, 0, len(items))
	for _, it := range items {
		out = append(out, typeCountDTO{TipoProduto: it.TipoProduto, Total: it.Count})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tipos": out})
}

// DashboardUploadsPerDay — завершённые загрузки по дням.
func (h *APIHandler) DashboardUploadsPerDay(w http.ResponseWriter, r *http.Request, params openapi.SeriesParams) {
	items, err := h.reports.UploadsPerDay(r.Context(), intOrZero(params.Dias))
	if err != nil {
		h.fail(w, r, err, "Ошибка получения загрузок по дням")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serie": toDaySeries(items)})
}

// DashboardDownloadsPerDay — скачивания по дням.
func (h *APIHandler) DashboardDownloadsPerDay(w http.ResponseWriter, r *http.Request, params openapi.SeriesParams) {
	items, err := h.reports.DownloadsPerDay(r.Context(), intOrZero(params.Dias))
	if err != nil {
		h.fail(w, r, err, "Ошибка получения скачиваний по дням")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serie": toDaySeries(items)})
}

// DashboardActivity — лента последних событий.
func (h *APIHandler) DashboardActivity(w http.ResponseWriter, r *http.Request, params openapi.ActivityParams) {
	items, err := h.reports.RecentActivity(r.Context(), intOrZero(params.Limit))
	if err != nil {
		h.fail(w, r, err, "Ошибка получения ленты активности")
		return
	}
	out := make([]activityDTO, 0, len(items))
	for _, a := range items {
		out = append(out, activityDTO{
			Tipo:      a.Kind,
			ArquivoID: a.FileID,
			Nome:      a.Nome,
			Usuario:   a.Usuario,
			Em:        a.At.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"atividades": out})
}

// DashboardHealth — счётчики состояния загрузок.
func (h *APIHandler) DashboardHealth(w http.ResponseWriter, r *http.Request) {
	c, err := h.reports.HealthCounters(r.Context())
	if err != nil {
		h.fail(w, r, err, "Ошибка получения счётчиков загрузок")
		return
	}
	writeJSON(w, http.StatusOK, healthCountersResponse{
		UploadsAtivos:    c.ActiveUploads,
		Falhas24h:        c.FailedLast24h,
		ErrosUploadTotal: c.UploadErrorsTotal,
	})
}
