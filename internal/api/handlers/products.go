// products.go — обработчики продуктов, версий и геометрии.
package handlers

import (
	"io"
	"net/http"

	"github.com/paulmach/orb/geojson"

	apierrors "github.com/bigkaa/goartstore/acervo-module/internal/api/errors"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
)

// maxGeometryBody — предел размера FeatureCollection.
const maxGeometryBody = 64 << 20

type versionCreateRequest struct {
	Produto struct {
		MI          string `json:"mi"`
		Inom        string `json:"inom"`
		Nome        string `json:"nome"`
		TipoProduto string `json:"tipo_produto"`
		Escala      string `json:"escala"`
	} `json:"produto"`
	Versao        string `json:"versao"`
	TipoVersao    string `json:"tipo_versao"`
	OrgaoProdutor string `json:"orgao_produtor"`
}

type productListResponse struct {
	Produtos []productDTO `json:"produtos"`
	Total    int          `json:"total"`
}

type versionListResponse struct {
	Versoes []versionDTO `json:"versoes"`
}

type versionCreatedResponse struct {
	Produto productDTO `json:"produto"`
	Versao  versionDTO `json:"versao"`
}

// ListProducts — GET /api/v1/products.
func (h *APIHandler) ListProducts(w http.ResponseWriter, r *http.Request, params openapi.ListProductsParams) {
	limit, offset := paginationDefaults(params.Limit, params.Offset)
	filter := repository.ProductFilter{TipoProduto: params.TipoProduto, MI: params.Mi}

	items, total, err := h.registry.ListProducts(r.Context(), filter, limit, offset)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения списка продуктов")
		return
	}

	resp := productListResponse{Produtos: make([]productDTO, 0, len(items)), Total: total}
	for _, p := range items {
		resp.Produtos = append(resp.Produtos, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetProduct — GET /api/v1/products/{produto_id}.
func (h *APIHandler) GetProduct(w http.ResponseWriter, r *http.Request, produtoID int64) {
	p, err := h.registry.GetProduct(r.Context(), produtoID)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения продукта")
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// ListProductVersions — GET /api/v1/products/{produto_id}/versions.
func (h *APIHandler) ListProductVersions(w http.ResponseWriter, r *http.Request, produtoID int64) {
	items, err := h.registry.ListVersions(r.Context(), produtoID)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения версий продукта")
		return
	}

	resp := versionListResponse{Versoes: make([]versionDTO, 0, len(items))}
	for _, v := range items {
		resp.Versoes = append(resp.Versoes, toVersionDTO(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplaceProductGeometry — PUT /api/v1/products/{produto_id}/geometry.
// Тело — GeoJSON FeatureCollection, заменяет всю геометрию продукта.
func (h *APIHandler) ReplaceProductGeometry(w http.ResponseWriter, r *http.Request, produtoID int64) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxGeometryBody+1))
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
		return
	}
	if len(data) > maxGeometryBody {
		apierrors.ValidationError(w, "Слишком большая FeatureCollection")
		return
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный GeoJSON: "+err.Error())
		return
	}

	p, err := h.registry.ImportGeometry(r.Context(), produtoID, fc)
	if err != nil {
		h.fail(w, r, err, "Ошибка импорта геометрии")
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// CreateVersion — POST /api/v1/versions.
// Продукт создаётся при первой версии, usuario берётся из токена.
func (h *APIHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req versionCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ref := model.ProductRef{
		MI:          req.Produto.MI,
		Inom:        req.Produto.Inom,
		Nome:        req.Produto.Nome,
		TipoProduto: req.Produto.TipoProduto,
		Escala:      req.Produto.Escala,
	}
	meta := model.VersionMeta{
		Versao:        req.Versao,
		TipoVersao:    req.TipoVersao,
		OrgaoProdutor: req.OrgaoProdutor,
		Usuario:       middleware.UsuarioFromContext(r.Context()),
	}

	p, v, err := h.registry.CreateVersion(r.Context(), ref, meta)
	if err != nil {
		h.fail(w, r, err, "Ошибка создания версии")
		return
	}
	writeJSON(w, http.StatusCreated, versionCreatedResponse{Produto: toProductDTO(p), Versao: toVersionDTO(v)})
}
