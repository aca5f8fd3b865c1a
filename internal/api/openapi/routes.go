// routes.go — операции контракта, привязка параметров и регистрация
// маршрутов на chi. Параметры пути и запроса разбираются
// oapi-codegen/runtime по правилам сериализации OpenAPI.
package openapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/acervo-module/internal/api/errors"
)

// Scopes операций.
var (
	scopesRead  = []string{"files:read"}
	scopesWrite = []string{"files:write"}
)

// Пути операций вне контракта.
const (
	TilePath        = "/{produto_id}/{z}/{x}/{y}.mvt"
	HealthLivePath  = "/health/live"
	HealthReadyPath = "/health/ready"
	MetricsPath     = "/metrics"
)

// PageParams — параметры постраничной выборки.
type PageParams struct {
	Limit  *int `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *int `form:"offset,omitempty" json:"offset,omitempty"`
}

// ListVolumesParams — параметры GET /api/v1/volumes.
type ListVolumesParams struct {
	Ativo *bool `form:"ativo,omitempty" json:"ativo,omitempty"`
	PageParams
}

// ListProductsParams — параметры GET /api/v1/products.
type ListProductsParams struct {
	TipoProduto *string `form:"tipo_produto,omitempty" json:"tipo_produto,omitempty"`
	Mi          *string `form:"mi,omitempty" json:"mi,omitempty"`
	PageParams
}

// ListFilesParams — параметры GET /api/v1/files.
type ListFilesParams struct {
	ProdutoId       *int64     `form:"produto_id,omitempty" json:"produto_id,omitempty"`
	VersaoId        *int64     `form:"versao_id,omitempty" json:"versao_id,omitempty"`
	VolumeId        *int64     `form:"volume_id,omitempty" json:"volume_id,omitempty"`
	Status          *string    `form:"status,omitempty" json:"status,omitempty"`
	CriadoApos      *time.Time `form:"criado_apos,omitempty" json:"criado_apos,omitempty"`
	CriadoAntes     *time.Time `form:"criado_antes,omitempty" json:"criado_antes,omitempty"`
	IncluirApagados *bool      `form:"incluir_apagados,omitempty" json:"incluir_apagados,omitempty"`
	PageParams
}

// ListDownloadsParams — параметры GET /api/v1/downloads.
type ListDownloadsParams struct {
	ArquivoId *int64  `form:"arquivo_id,omitempty" json:"arquivo_id,omitempty"`
	Usuario   *string `form:"usuario,omitempty" json:"usuario,omitempty"`
	PageParams
}

// ListDeletedFilesParams — параметры GET /api/v1/files/deleted.
type ListDeletedFilesParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// SeriesParams — параметры временных рядов.
type SeriesParams struct {
	Dias *int `form:"dias,omitempty" json:"dias,omitempty"`
}

// ActivityParams — параметры ленты активности.
type ActivityParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// ServerInterface — обработчики всех операций сервиса.
type ServerInterface interface {
	// (POST /path_download)
	PathDownload(w http.ResponseWriter, r *http.Request)

	// (GET /api/v1/volumes)
	ListVolumes(w http.ResponseWriter, r *http.Request, params ListVolumesParams)
	// (POST /api/v1/volumes)
	CreateVolume(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/volumes/{volume_id})
	GetVolume(w http.ResponseWriter, r *http.Request, volumeID int64)
	// (PATCH /api/v1/volumes/{volume_id})
	UpdateVolume(w http.ResponseWriter, r *http.Request, volumeID int64)
	// (DELETE /api/v1/volumes/{volume_id})
	DeleteVolume(w http.ResponseWriter, r *http.Request, volumeID int64)

	// (GET /api/v1/products)
	ListProducts(w http.ResponseWriter, r *http.Request, params ListProductsParams)
	// (GET /api/v1/products/{produto_id})
	GetProduct(w http.ResponseWriter, r *http.Request, produtoID int64)
	// (GET /api/v1/products/{produto_id}/versions)
	ListProductVersions(w http.ResponseWriter, r *http.Request, produtoID int64)
	// (PUT /api/v1/products/{produto_id}/geometry)
	ReplaceProductGeometry(w http.ResponseWriter, r *http.Request, produtoID int64)

	// (POST /api/v1/versions)
	CreateVersion(w http.ResponseWriter, r *http.Request)

	// (POST /api/v1/uploads)
	BeginUpload(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/uploads/{arquivo_id}/complete)
	CompleteUpload(w http.ResponseWriter, r *http.Request, arquivoID int64)
	// (POST /api/v1/uploads/{arquivo_id}/abort)
	AbortUpload(w http.ResponseWriter, r *http.Request, arquivoID int64)

	// (GET /api/v1/files)
	ListFiles(w http.ResponseWriter, r *http.Request, params ListFilesParams)
	// (GET /api/v1/files/deleted)
	ListDeletedFiles(w http.ResponseWriter, r *http.Request, params ListDeletedFilesParams)
	// (GET /api/v1/files/{arquivo_id})
	GetFile(w http.ResponseWriter, r *http.Request, arquivoID int64)
	// (POST /api/v1/files/{arquivo_id}/delete)
	DeleteFile(w http.ResponseWriter, r *http.Request, arquivoID int64)
	// (POST /api/v1/files/{arquivo_id}/downloads)
	RecordDownload(w http.ResponseWriter, r *http.Request, arquivoID int64)

	// (GET /api/v1/downloads)
	ListDownloads(w http.ResponseWriter, r *http.Request, params ListDownloadsParams)

	// (GET /api/v1/dashboard/summary)
	DashboardSummary(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/dashboard/volumes)
	DashboardVolumes(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/dashboard/products-by-type)
	DashboardProductsByType(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/dashboard/uploads-per-day)
	DashboardUploadsPerDay(w http.ResponseWriter, r *http.Request, params SeriesParams)
	// (GET /api/v1/dashboard/downloads-per-day)
	DashboardDownloadsPerDay(w http.ResponseWriter, r *http.Request, params SeriesParams)
	// (GET /api/v1/dashboard/activity)
	DashboardActivity(w http.ResponseWriter, r *http.Request, params ActivityParams)
	// (GET /api/v1/dashboard/health)
	DashboardHealth(w http.ResponseWriter, r *http.Request)

	// (GET /{produto_id}/{z}/{x}/{y}.mvt)
	GetTile(w http.ResponseWriter, r *http.Request, produtoID, z, x, y int64)

	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
}

// MiddlewareFunc — middleware отдельной операции.
type MiddlewareFunc func(http.Handler) http.Handler

type scopesKey struct{}

// RequiredScopes возвращает scopes операции текущего запроса.
// nil — операция публичная.
func RequiredScopes(ctx context.Context) []string {
	scopes, _ := ctx.Value(scopesKey{}).([]string)
	return scopes
}

// InvalidParamFormatError — параметр не разобран.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %v", e.ParamName, e.Err)
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ServerInterfaceWrapper разбирает параметры и вызывает обработчик
// через middleware операций.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

// serve выполняет h с scopes операции в контексте. Middleware
// выполняются в порядке HandlerMiddlewares.
func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, scopes []string, h http.HandlerFunc) {
	ctx := r.Context()
	if scopes != nil {
		ctx = context.WithValue(ctx, scopesKey{}, scopes)
	}

	var handler http.Handler = h
	for i := len(siw.HandlerMiddlewares) - 1; i >= 0; i-- {
		handler = siw.HandlerMiddlewares[i](handler)
	}
	handler.ServeHTTP(w, r.WithContext(ctx))
}

// pathInt64 разбирает целочисленный параметр пути.
func (siw *ServerInterfaceWrapper) pathInt64(w http.ResponseWriter, r *http.Request, name string, dest *int64) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

// query разбирает необязательный параметр запроса.
func (siw *ServerInterfaceWrapper) query(w http.ResponseWriter, r *http.Request, name string, dest any) bool {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) page(w http.ResponseWriter, r *http.Request, p *PageParams) bool {
	return siw.query(w, r, "limit", &p.Limit) && siw.query(w, r, "offset", &p.Offset)
}

// withID — операция с одним целочисленным параметром пути.
func (siw *ServerInterfaceWrapper) withID(name string, scopes []string, call func(w http.ResponseWriter, r *http.Request, id int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id int64
		if !siw.pathInt64(w, r, name, &id) {
			return
		}
		siw.serve(w, r, scopes, func(w http.ResponseWriter, r *http.Request) { call(w, r, id) })
	}
}

// plain — операция без параметров.
func (siw *ServerInterfaceWrapper) plain(scopes []string, call http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siw.serve(w, r, scopes, call)
	}
}

// ListVolumes разбирает параметры ListVolumes.
func (siw *ServerInterfaceWrapper) ListVolumes(w http.ResponseWriter, r *http.Request) {
	var params ListVolumesParams
	if !siw.query(w, r, "ativo", &params.Ativo) || !siw.page(w, r, &params.PageParams) {
		return
	}
	siw.serve(w, r, scopesRead, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListVolumes(w, r, params)
	})
}

// ListProducts разбирает параметры ListProducts.
func (siw *ServerInterfaceWrapper) ListProducts(w http.ResponseWriter, r *http.Request) {
	var params ListProductsParams
	if !siw.query(w, r, "tipo_produto", &params.TipoProduto) ||
		!siw.query(w, r, "mi", &params.Mi) ||
		!siw.page(w, r, &params.PageParams) {
		return
	}
	siw.serve(w, r, scopesRead, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListProducts(w, r, params)
	})
}

// ListFiles разбирает параметры ListFiles.
func (siw *ServerInterfaceWrapper) ListFiles(w http.ResponseWriter, r *http.Request) {
	var params ListFilesParams
	ok := siw.query(w, r, "produto_id", &params.ProdutoId) &&
		siw.query(w, r, "versao_id", &params.VersaoId) &&
		siw.query(w, r, "volume_id", &params.VolumeId) &&
		siw.query(w, r, "status", &params.Status) &&
		siw.query(w, r, "criado_apos", &params.CriadoApos) &&
		siw.query(w, r, "criado_antes", &params.CriadoAntes) &&
		siw.query(w, r, "incluir_apagados", &params.IncluirApagados) &&
		siw.page(w, r, &params.PageParams)
	if !ok {
		return
	}
	siw.serve(w, r, scopesRead, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListFiles(w, r, params)
	})
}

// ListDeletedFiles разбирает параметры ListDeletedFiles.
func (siw *ServerInterfaceWrapper) ListDeletedFiles(w http.ResponseWriter, r *http.Request) {
	var params ListDeletedFilesParams
	if !siw.query(w, r, "limit", &params.Limit) {
		return
	}
	siw.serve(w, r, scopesRead, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListDeletedFiles(w, r, params)
	})
}

// ListDownloads разбирает параметры ListDownloads.
func (siw *ServerInterfaceWrapper) ListDownloads(w http.ResponseWriter, r *http.Request) {
	var params ListDownloadsParams
	if !siw.query(w, r, "arquivo_id", &params.ArquivoId) ||
		!siw.query(w, r, "usuario", &params.Usuario) ||
		!siw.page(w, r, &params.PageParams) {
		return
	}
	siw.serve(w, r, scopesRead, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListDownloads(w, r, params)
	})
}

func (siw *ServerInterfaceWrapper) series(call func(w http.ResponseWriter, r *http.Request, params SeriesParams)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params SeriesParams
		if !siw.query(w, r, "dias", &params.Dias) {
			return
		}
		siw.serve(w, r, scopesRead, func(w http.ResponseWriter, r *http.Request) { call(w, r, params) })
	}
}

// DashboardActivity разбирает параметры DashboardActivity.
func (siw *ServerInterfaceWrapper) DashboardActivity(w http.ResponseWriter, r *http.Request) {
	var params ActivityParams
	if !siw.query(w, r, "limit", &params.Limit) {
		return
	}
	siw.serve(w, r, scopesRead, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DashboardActivity(w, r, params)
	})
}

// GetTile разбирает адрес тайла. Проверку диапазонов выполняет конвейер.
func (siw *ServerInterfaceWrapper) GetTile(w http.ResponseWriter, r *http.Request) {
	var produtoID, z, x, y int64
	if !siw.pathInt64(w, r, "produto_id", &produtoID) ||
		!siw.pathInt64(w, r, "z", &z) ||
		!siw.pathInt64(w, r, "x", &x) ||
		!siw.pathInt64(w, r, "y", &y) {
		return
	}
	siw.serve(w, r, nil, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetTile(w, r, produtoID, z, x, y)
	})
}

// ChiServerOptions — параметры регистрации маршрутов.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Handler создаёт chi-роутер со всеми операциями.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerFromMux регистрирует операции на существующем роутере.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions регистрирует операции с заданными параметрами.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			apierrors.ValidationError(w, err.Error())
		}
	}

	siw := &ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}
	base := options.BaseURL

	r.Get(base+HealthLivePath, siw.plain(nil, si.HealthLive))
	r.Get(base+HealthReadyPath, siw.plain(nil, si.HealthReady))
	r.Get(base+MetricsPath, siw.plain(nil, si.GetMetrics))
	r.Get(base+TilePath, siw.GetTile)

	r.Post(base+"/path_download", siw.plain(scopesRead, si.PathDownload))

	r.Route(base+"/api/v1", func(r chi.Router) {
		r.Get("/volumes", siw.ListVolumes)
		r.Post("/volumes", siw.plain(scopesWrite, si.CreateVolume))
		r.Get("/volumes/{volume_id}", siw.withID("volume_id", scopesRead, si.GetVolume))
		r.Patch("/volumes/{volume_id}", siw.withID("volume_id", scopesWrite, si.UpdateVolume))
		r.Delete("/volumes/{volume_id}", siw.withID("volume_id", scopesWrite, si.DeleteVolume))

		r.Get("/products", siw.ListProducts)
		r.Get("/products/{produto_id}", siw.withID("produto_id", scopesRead, si.GetProduct))
		r.Get("/products/{produto_id}/versions", siw.withID("produto_id", scopesRead, si.ListProductVersions))
		r.Put("/products/{produto_id}/geometry", siw.withID("produto_id", scopesWrite, si.ReplaceProductGeometry))

		r.Post("/versions", siw.plain(scopesWrite, si.CreateVersion))

		r.Post("/uploads", siw.plain(scopesWrite, si.BeginUpload))
		r.Post("/uploads/{arquivo_id}/complete", siw.withID("arquivo_id", scopesWrite, si.CompleteUpload))
		r.Post("/uploads/{arquivo_id}/abort", siw.withID("arquivo_id", scopesWrite, si.AbortUpload))

		r.Get("/files", siw.ListFiles)
		r.Get("/files/deleted", siw.ListDeletedFiles)
		r.Get("/files/{arquivo_id}", siw.withID("arquivo_id", scopesRead, si.GetFile))
		r.Post("/files/{arquivo_id}/delete", siw.withID("arquivo_id", scopesWrite, si.DeleteFile))
		r.Post("/files/{arquivo_id}/downloads", siw.withID("arquivo_id", scopesRead, si.RecordDownload))

		r.Get("/downloads", siw.ListDownloads)

		r.Get("/dashboard/summary", siw.plain(scopesRead, si.DashboardSummary))
		r.Get("/dashboard/volumes", siw.plain(scopesRead, si.DashboardVolumes))
		r.Get("/dashboard/products-by-type", siw.plain(scopesRead, si.DashboardProductsByType))
		r.Get("/dashboard/uploads-per-day", siw.series(si.DashboardUploadsPerDay))
		r.Get("/dashboard/downloads-per-day", siw.series(si.DashboardDownloadsPerDay))
		r.Get("/dashboard/activity", siw.DashboardActivity)
		r.Get("/dashboard/health", siw.plain(scopesRead, si.DashboardHealth))
	})

	return r
}
