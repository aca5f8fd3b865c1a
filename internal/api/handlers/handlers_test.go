package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/acervo-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
	"github.com/bigkaa/goartstore/acervo-module/internal/service"
	"github.com/bigkaa/goartstore/acervo-module/internal/tile"
)

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// serve прогоняет запрос через маршруты openapi от имени пользователя usuario.
func serve(h *APIHandler, method, target, body, usuario string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if usuario != "" {
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.AuthClaims{
			Subject:           "sub-" + usuario,
			SubjectType:       middleware.SubjectTypeUser,
			PreferredUsername: usuario,
			Role:              middleware.RoleAdmin,
		}))
	}
	rec := httptest.NewRecorder()
	openapi.Handler(h).ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
}

func TestCreateVolume_ConvertsGB(t *testing.T) {
	var got *model.Volume
	h := newTestHandler(Services{Volumes: &mockVolumes{
		createFn: func(_ context.Context, v *model.Volume) error {
			got = v
			v.ID = 7
			return nil
		},
	}})

	rec := serve(h, http.MethodPost, "/api/v1/volumes",
		`{"nome":"vol-a","caminho_montagem":"/mnt/a","capacidade_gb":2}`, "admin")
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if got.CapacityBytes != 2<<30 || !got.Active {
		t.Errorf("том = %+v", got)
	}

	var resp volumeDTO
	decodeBody(t, rec, &resp)
	if resp.ID != 7 || resp.CapacidadeGB != 2 || resp.LivreGB != 2 || resp.UsadoGB != 0 {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestUpdateVolume_OnlyGivenFields(t *testing.T) {
	var got model.VolumeUpdate
	h := newTestHandler(Services{Volumes: &mockVolumes{
		updateFn: func(_ context.Context, id int64, upd model.VolumeUpdate) (*model.Volume, error) {
			got = upd
			return &model.Volume{ID: id, Name: "vol-a", CapacityBytes: 1 << 30}, nil
		},
	}})

	rec := serve(h, http.MethodPatch, "/api/v1/volumes/3", `{"ativo":false}`, "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if got.Active == nil || *got.Active || got.Name != nil || got.CapacityBytes != nil {
		t.Errorf("VolumeUpdate = %+v", got)
	}
}

func TestBeginUpload(t *testing.T) {
	checksum := strings.Repeat("ab", 32)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"успех", nil, http.StatusCreated, ""},
		{"нет места", fmt.Errorf("%w: свободно 0", service.ErrCapacityExceeded), http.StatusInsufficientStorage, "CAPACITY_EXCEEDED"},
		{"нет версии", fmt.Errorf("%w: версия 9", service.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"дубликат", service.ErrConflict, http.StatusConflict, "CONFLICT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got service.BeginUploadRequest
			h := newTestHandler(Services{Registry: &mockRegistry{
				beginUploadFn: func(_ context.Context, req service.BeginUploadRequest) (*model.File, error) {
					got = req
					if tt.err != nil {
						return nil, tt.err
					}
					return &model.File{ID: 11, VersionID: req.VersionID, Status: model.FileStatusPending, SizeBytes: req.SizeBytes}, nil
				},
			}})

			body := fmt.Sprintf(`{"versao_id":9,"nome":"carta","extensao":"tif","tamanho_bytes":1048576,"checksum":"%s"}`, checksum)
			rec := serve(h, http.MethodPost, "/api/v1/uploads", body, "maria")
			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
			}
			if got.Usuario != "maria" || got.VersionID != 9 || got.SizeBytes != 1048576 {
				t.Errorf("запрос = %+v", got)
			}
			if tt.wantCode != "" {
				var resp errorResponse
				decodeBody(t, rec, &resp)
				if resp.Error.Code != tt.wantCode {
					t.Errorf("code = %s, ожидался %s", resp.Error.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestCompleteUpload_ChecksumMismatch(t *testing.T) {
	h := newTestHandler(Services{Registry: &mockRegistry{
		completeUploadFn: func(_ context.Context, id, _ int64, _ string) (*model.File, error) {
			return nil, fmt.Errorf("%w: файл %d", service.ErrChecksumMismatch, id)
		},
	}})

	rec := serve(h, http.MethodPost, "/api/v1/uploads/5/complete", `{"tamanho_bytes":10,"checksum":"00"}`, "maria")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("статус = %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error.Code != "CHECKSUM_MISMATCH" {
		t.Errorf("code = %s", resp.Error.Code)
	}
}

func TestAbortUpload_BodyOptional(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantReason string
		wantStatus int
	}{
		{"без тела", "", "", http.StatusOK},
		{"с причиной", `{"motivo":"отменено оператором"}`, "отменено оператором", http.StatusOK},
		{"битый json", `{"motivo":`, "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReason string
			h := newTestHandler(Services{Registry: &mockRegistry{
				abortUploadFn: func(_ context.Context, id int64, reason string) (*model.File, error) {
					gotReason = reason
					return &model.File{ID: id, Status: model.FileStatusFailed, Failure: &model.Failure{Reason: "aborted"}}, nil
				},
			}})

			rec := serve(h, http.MethodPost, "/api/v1/uploads/5/abort", tt.body, "maria")
			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
			}
			if gotReason != tt.wantReason {
				t.Errorf("reason = %q, ожидалась %q", gotReason, tt.wantReason)
			}
		})
	}
}

func TestListFiles_BindsFilter(t *testing.T) {
	var got model.FileFilter
	h := newTestHandler(Services{Registry: &mockRegistry{
		listFn: func(_ context.Context, filter model.FileFilter) ([]*model.File, int, error) {
			got = filter
			return []*model.File{{ID: 1, Status: model.FileStatusDeleted, Deletion: &model.Deletion{Reason: "dup", By: "ana"}}}, 1, nil
		},
	}})

	rec := serve(h, http.MethodGet,
		"/api/v1/files?status=deleted&volume_id=3&limit=5000&criado_apos=2024-01-01T00:00:00Z&incluir_apagados=true", "", "ana")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if got.Status == nil || *got.Status != model.FileStatusDeleted {
		t.Errorf("Status = %v", got.Status)
	}
	if got.VolumeID == nil || *got.VolumeID != 3 {
		t.Errorf("VolumeID = %v", got.VolumeID)
	}
	if got.Limit != 1000 || got.Offset != 0 || !got.IncludeDeleted {
		t.Errorf("пагинация = %d/%d, IncludeDeleted = %v", got.Limit, got.Offset, got.IncludeDeleted)
	}
	if got.CreatedAfter == nil || !got.CreatedAfter.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAfter = %v", got.CreatedAfter)
	}

	var resp fileListDTO
	decodeBody(t, rec, &resp)
	if resp.Total != 1 || resp.Arquivos[0].Apagado == nil || resp.Arquivos[0].Apagado.Por != "ana" {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestListFiles_InvalidParams(t *testing.T) {
	h := newTestHandler(Services{Registry: &mockRegistry{
		listFn: func(context.Context, model.FileFilter) ([]*model.File, int, error) {
			t.Error("реестр не должен вызываться")
			return nil, 0, nil
		},
	}})

	for _, target := range []string{
		"/api/v1/files?status=expired",
		"/api/v1/files?volume_id=abc",
		"/api/v1/files?criado_apos=yesterday",
	} {
		rec := serve(h, http.MethodGet, target, "", "ana")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: статус = %d", target, rec.Code)
		}
	}
}

func TestPathDownload(t *testing.T) {
	t.Run("неизвестный файл", func(t *testing.T) {
		h := newTestHandler(Services{
			Registry: &mockRegistry{
				resolvePathsFn: func(context.Context, []int64) ([]model.FilePath, error) {
					return nil, fmt.Errorf("%w: файл 99", service.ErrNotFound)
				},
			},
			Ledger: &mockLedger{
				recordManyFn: func(context.Context, []int64, string) ([]*model.DownloadRecord, error) {
					t.Error("журнал не должен пополняться")
					return nil, nil
				},
			},
		})

		rec := serve(h, http.MethodPost, "/path_download", `{"arquivos_id":[1,99]}`, "joao")
		if rec.Code != http.StatusNotFound {
			t.Errorf("статус = %d", rec.Code)
		}
	})

	t.Run("успех", func(t *testing.T) {
		var recorded []int64
		var usuario string
		h := newTestHandler(Services{
			Registry: &mockRegistry{
				resolvePathsFn: func(_ context.Context, ids []int64) ([]model.FilePath, error) {
					return []model.FilePath{
						{FileID: ids[0], VolumeID: 1, Path: "/mnt/a/x.tif"},
						{FileID: ids[1], VolumeID: 2, Path: "/mnt/b/y.tif", Deleted: true},
					}, nil
				},
			},
			Ledger: &mockLedger{
				recordManyFn: func(_ context.Context, ids []int64, u string) ([]*model.DownloadRecord, error) {
					recorded, usuario = ids, u
					return nil, nil
				},
			},
		})

		rec := serve(h, http.MethodPost, "/path_download", `{"arquivos_id":[4,8]}`, "joao")
		if rec.Code != http.StatusOK {
			t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
		}
		if len(recorded) != 2 || usuario != "joao" {
			t.Errorf("записано %v от %q", recorded, usuario)
		}

		var resp pathDownloadResponse
		decodeBody(t, rec, &resp)
		if len(resp.Arquivos) != 2 || resp.Arquivos[0].Caminho != "/mnt/a/x.tif" || !resp.Arquivos[1].Apagado {
			t.Errorf("ответ = %+v", resp)
		}
	})
}

func TestRecordDownload(t *testing.T) {
	id := uuid.New()
	h := newTestHandler(Services{Ledger: &mockLedger{
		recordFn: func(_ context.Context, fileID int64, usuario string) (*model.DownloadRecord, error) {
			return &model.DownloadRecord{ID: id, FileID: fileID, Usuario: usuario, FileDeleted: true}, nil
		},
	}})

	rec := serve(h, http.MethodPost, "/api/v1/files/12/downloads", "", "ana")
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d", rec.Code)
	}
	var resp downloadDTO
	decodeBody(t, rec, &resp)
	if resp.ID != id || resp.ArquivoID != 12 || resp.Usuario != "ana" || !resp.ArquivoApagado {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestGetFile_HidesInternalError(t *testing.T) {
	h := newTestHandler(Services{Registry: &mockRegistry{
		getFileFn: func(context.Context, int64) (*model.File, error) {
			return nil, errors.New("conn refused 10.0.0.5:5432")
		},
	}})

	rec := serve(h, http.MethodGet, "/api/v1/files/1", "", "ana")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("статус = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("внутренние детали в ответе: %s", rec.Body.String())
	}
}

func TestGetTile(t *testing.T) {
	tests := []struct {
		name        string
		result      *tile.Result
		err         error
		ifNoneMatch string
		wantStatus  int
	}{
		{"тайл", &tile.Result{Data: []byte{0x1a, 0x02}, VersionStamp: 3}, nil, "", http.StatusOK},
		{"пустой", &tile.Result{VersionStamp: 3}, nil, "", http.StatusNoContent},
		{"не изменился", &tile.Result{Data: []byte{0x1a}, VersionStamp: 3}, nil, `"5-3"`, http.StatusNotModified},
		{"устаревший etag", &tile.Result{Data: []byte{0x1a}, VersionStamp: 4}, nil, `"5-3"`, http.StatusOK},
		{"список etag", &tile.Result{Data: []byte{0x1a}, VersionStamp: 3}, nil, `"1-1", "5-3"`, http.StatusNotModified},
		{"слабый etag", &tile.Result{Data: []byte{0x1a}, VersionStamp: 3}, nil, `W/"5-3"`, http.StatusNotModified},
		{"любой etag", &tile.Result{Data: []byte{0x1a}, VersionStamp: 3}, nil, `*`, http.StatusNotModified},
		{"адрес", nil, fmt.Errorf("%w: x вне сетки", tile.ErrInvalidTileAddress), "", http.StatusBadRequest},
		{"нет продукта", nil, tile.ErrProductNotFound, "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotZ, gotX, gotY int64
			h := newTestHandler(Services{Tiles: &mockTiles{
				getTileFn: func(_ context.Context, _, z, x, y int64) (*tile.Result, error) {
					gotZ, gotX, gotY = z, x, y
					return tt.result, tt.err
				},
			}})

			req := httptest.NewRequest(http.MethodGet, "/5/2/1/3.mvt", nil)
			if tt.ifNoneMatch != "" {
				req.Header.Set("If-None-Match", tt.ifNoneMatch)
			}
			rec := httptest.NewRecorder()
			openapi.Handler(h).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
			}
			if gotZ != 2 || gotX != 1 || gotY != 3 {
				t.Errorf("адрес = %d/%d/%d", gotZ, gotX, gotY)
			}
			if tt.err != nil {
				return
			}
			if rec.Header().Get("ETag") == "" || rec.Header().Get("Cache-Control") != "public, max-age=3600" {
				t.Errorf("заголовки = %v", rec.Header())
			}
			if tt.wantStatus == http.StatusOK && rec.Header().Get("Content-Type") != ContentTypeMVT {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestETagMatch(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"5-3"`, true},
		{`"5-4"`, false},
		{`W/"5-3"`, true},
		{` "1-1" ,W/"5-3"`, true},
		{`"1-1", "2-2"`, false},
		{"*", true},
		{`5-3`, false},
	}

	for _, tt := range tests {
		if got := etagMatch(tt.header, `"5-3"`); got != tt.want {
			t.Errorf("etagMatch(%q) = %v, ожидалось %v", tt.header, got, tt.want)
		}
	}
}

func TestDashboardUploadsPerDay(t *testing.T) {
	var gotDays int
	h := newTestHandler(Services{Reports: &mockReports{
		uploadsPerDayFn: func(_ context.Context, days int) ([]model.DayCount, error) {
			gotDays = days
			return []model.DayCount{{Day: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Count: 4}}, nil
		},
	}})

	rec := serve(h, http.MethodGet, "/api/v1/dashboard/uploads-per-day?dias=7", "", "ana")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if gotDays != 7 {
		t.Errorf("days = %d", gotDays)
	}
	var resp struct {
		Serie []dayCountDTO `json:"serie"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Serie) != 1 || resp.Serie[0].Dia != "2024-03-01" || resp.Serie[0].Total != 4 {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestDashboardSummary(t *testing.T) {
	h := newTestHandler(Services{Reports: &mockReports{
		summaryFn: func(context.Context) (*model.Summary, error) {
			return &model.Summary{Products: 2, ActiveFiles: 3, ActiveBytes: 3 << 30, Downloads: 9}, nil
		},
	}})

	rec := serve(h, http.MethodGet, "/api/v1/dashboard/summary", "", "ana")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	var resp summaryResponse
	decodeBody(t, rec, &resp)
	if resp.Produtos != 2 || resp.TamanhoAtivoGB != 3 || resp.Downloads != 9 {
		t.Errorf("ответ = %+v", resp)
	}
}
