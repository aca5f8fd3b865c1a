// health.go — обработчики health endpoints Acervo.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL + identity provider, Redis если включён)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/acervo-module/internal/config"
)

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	pgChecker    ReadinessChecker
	idpChecker   ReadinessChecker
	redisChecker ReadinessChecker
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker и idpChecker могут быть nil (readiness вернёт "fail").
// redisChecker равен nil, если тайловый кэш в памяти процесса.
func NewHealthHandler(pgChecker, idpChecker, redisChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		pgChecker:    pgChecker,
		idpChecker:   idpChecker,
		redisChecker: redisChecker,
		promHandler:  promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		PostgreSQL       healthCheckResult  `json:"postgresql"`
		IdentityProvider healthCheckResult  `json:"identity_provider"`
		Redis            *healthCheckResult `json:"redis,omitempty"`
	} `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "acervo-module",
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthReady — readiness probe.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "acervo-module",
	}

	resp.Checks.PostgreSQL = check(h.pgChecker)
	resp.Checks.IdentityProvider = check(h.idpChecker)
	statuses := []string{resp.Checks.PostgreSQL.Status, resp.Checks.IdentityProvider.Status}

	// Недоступный Redis не останавливает выдачу тайлов: кэш пропускается
	if h.redisChecker != nil {
		res := check(h.redisChecker)
		if res.Status == statusFail {
			res.Status = statusDegraded
		}
		resp.Checks.Redis = &res
		statuses = append(statuses, res.Status)
	}

	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func check(c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	status, msg := c.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}

// DependencySource — источник состояния зависимостей (dephealth).
type DependencySource interface {
	Health() map[string]bool
}

// DependencyChecker — проверка готовности по результатам dephealth.
type DependencyChecker struct {
	source DependencySource
	name   string
}

// NewDependencyChecker создаёт проверку зависимости name.
func NewDependencyChecker(source DependencySource, name string) *DependencyChecker {
	return &DependencyChecker{source: source, name: name}
}

// CheckReady возвращает "degraded", пока dephealth не выполнил первую проверку.
func (c *DependencyChecker) CheckReady() (status, message string) {
	ok, found := findHealthByPrefix(c.source.Health(), c.name)
	switch {
	case !found:
		return statusDegraded, "проверка ещё не выполнялась"
	case !ok:
		return statusFail, fmt.Sprintf("%s недоступен", c.name)
	default:
		return statusOK, "доступен"
	}
}

// findHealthByPrefix ищет статус зависимости по префиксу имени.
// Health() возвращает ключи формата "dependency:host:port".
// Если найдено несколько — ok только если все healthy.
func findHealthByPrefix(health map[string]bool, prefix string) (ok, found bool) {
	ok = true
	for key, healthy := range health {
		if strings.HasPrefix(key, prefix+":") || key == prefix {
			found = true
			if !healthy {
				ok = false
			}
		}
	}
	return ok && found, found
}

// PingChecker — проверка готовности через Ping.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker создаёт проверку с вызовом ping.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// CheckReady вызывает ping с таймаутом 3 секунды.
func (c *PingChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return statusFail, fmt.Sprintf("%s недоступен: %v", c.name, err)
	}
	return statusOK, "подключение активно"
}
