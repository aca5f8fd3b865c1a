// tiles.go — выдача векторных тайлов GET /{produto_id}/{z}/{x}/{y}.mvt.
// Операция публичная; gzip навешивается на уровне сервера.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ContentTypeMVT — тип содержимого векторного тайла.
const ContentTypeMVT = "application/x-protobuf"

// GetTile отдаёт тайл продукта. ETag строится по version stamp продукта:
// тайл меняется только вместе с ним.
func (h *APIHandler) GetTile(w http.ResponseWriter, r *http.Request, produtoID, z, x, y int64) {
	res, err := h.tiles.GetTile(r.Context(), produtoID, z, x, y)
	if err != nil {
		h.fail(w, r, err, "Ошибка генерации тайла")
		return
	}

	etag := fmt.Sprintf(`"%d-%d"`, produtoID, res.VersionStamp)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.tileMaxAge.Seconds())))

	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if res.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", ContentTypeMVT)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// etagMatch проверяет If-None-Match: список тегов через запятую или "*".
// Сравнение слабое, префикс W/ не учитывается.
func etagMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == etag {
			return true
		}
	}
	return false
}
