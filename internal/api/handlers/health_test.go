package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		statuses []string
		want     string
	}{
		{[]string{"ok", "ok"}, "ok"},
		{[]string{"ok", "degraded"}, "degraded"},
		{[]string{"degraded", "fail"}, "fail"},
		{nil, "ok"},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.statuses...); got != tt.want {
			t.Errorf("overallStatus(%v) = %s, ожидался %s", tt.statuses, got, tt.want)
		}
	}
}

func TestHealthReady(t *testing.T) {
	ok := staticChecker{status: statusOK}
	fail := staticChecker{status: statusFail, message: "нет соединения"}

	tests := []struct {
		name       string
		pg, idp    ReadinessChecker
		redis      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"все доступны", ok, ok, nil, http.StatusOK, statusOK},
		{"PostgreSQL недоступен", fail, ok, nil, http.StatusServiceUnavailable, statusFail},
		{"IdP не инициализирован", ok, nil, nil, http.StatusServiceUnavailable, statusFail},
		{"Redis недоступен", ok, ok, fail, http.StatusOK, statusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.idp, tt.redis)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("декодирование: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("status = %s, ожидался %s", resp.Status, tt.wantBody)
			}
			if (tt.redis != nil) != (resp.Checks.Redis != nil) {
				t.Errorf("checks.redis = %+v", resp.Checks.Redis)
			}
		})
	}
}

type fakeDeps map[string]bool

func (f fakeDeps) Health() map[string]bool { return f }

func TestDependencyChecker(t *testing.T) {
	tests := []struct {
		name   string
		health fakeDeps
		want   string
	}{
		{"ещё не проверялся", fakeDeps{"postgresql:db:5432": true}, statusDegraded},
		{"доступен", fakeDeps{"identity-provider:idp:443": true}, statusOK},
		{"недоступен", fakeDeps{"identity-provider:idp:443": false}, statusFail},
		{"один из эндпоинтов недоступен", fakeDeps{"identity-provider:a:443": true, "identity-provider:b:443": false}, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := NewDependencyChecker(tt.health, "identity-provider").CheckReady()
			if got != tt.want {
				t.Errorf("CheckReady() = %s, ожидался %s", got, tt.want)
			}
		})
	}
}

func TestPingChecker(t *testing.T) {
	up := NewPingChecker("Redis", func(context.Context) error { return nil })
	if status, _ := up.CheckReady(); status != statusOK {
		t.Errorf("status = %s", status)
	}

	down := NewPingChecker("Redis", func(context.Context) error { return errors.New("connection refused") })
	if status, msg := down.CheckReady(); status != statusFail || msg == "" {
		t.Errorf("status = %s, message = %q", status, msg)
	}
}
