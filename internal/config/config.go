// Пакет config — загрузка и валидация конфигурации Acervo Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды кэша тайлов.
const (
	TileCacheMemory = "memory"
	TileCacheRedis  = "redis"
)

// Config содержит все параметры конфигурации Acervo Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL / PostGIS ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT (токены выдаёт внешний Identity Provider) ---

	// URL JWKS endpoint Identity Provider
	JWTJWKSURL string
	// Ожидаемый issuer (пустой — не проверяется)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату Identity Provider (опционально)
	AuthCACertPath string
	// Группы IdP, дающие роль admin
	RoleAdminGroups []string
	// Группы IdP, дающие роль readonly
	RoleReadonlyGroups []string

	// --- Тайлы ---

	// Имя слоя MVT
	TileLayerName string
	// Размер сетки тайла (extent)
	TileExtent uint32
	// Буфер вокруг тайла в единицах сетки
	TileBuffer int
	// Максимальный уровень zoom
	TileMaxZoom int
	// Бэкенд кэша: memory или redis
	TileCacheBackend string
	// Максимальное количество тайлов в in-memory кэше
	TileCacheSize int
	// Время жизни тайла в кэше
	TileCacheTTL time.Duration
	// URL Redis (обязателен для TileCacheBackend=redis)
	RedisURL string

	// --- Сессии загрузки ---

	// Через сколько pending-сессия считается брошенной
	UploadSessionTimeout time.Duration
	// Интервал фоновой очистки брошенных сессий
	UploadSweepInterval time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo,cyclop // линейная последовательность проверок
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AC_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("AC_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("AC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AC_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// AC_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AC_LOG_LEVEL: %w", err)
	}

	// AC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("AC_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AC_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("AC_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AC_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("AC_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AC_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("AC_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("AC_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AC_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("AC_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("AC_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("AC_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("AC_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("AC_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// AC_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("AC_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("AC_JWT_ISSUER", "")

	cfg.JWTLeeway, err = getEnvDuration("AC_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AC_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("AC_JWKS_CLIENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AC_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("AC_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AC_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.AuthCACertPath = getEnvDefault("AC_AUTH_CA_CERT_PATH", "")

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("AC_ROLE_ADMIN_GROUPS", "acervo-admins"))
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault("AC_ROLE_READONLY_GROUPS", "acervo-viewers"))

	// --- Тайлы ---

	cfg.TileLayerName = getEnvDefault("AC_TILE_LAYER_NAME", "produto")

	extent, err := getEnvInt("AC_TILE_EXTENT", 4096)
	if err != nil {
		return nil, fmt.Errorf("AC_TILE_EXTENT: %w", err)
	}
	if extent < 256 || extent > 65536 {
		return nil, fmt.Errorf("AC_TILE_EXTENT: значение %d вне допустимого диапазона 256-65536", extent)
	}
	cfg.TileExtent = uint32(extent)

	cfg.TileBuffer, err = getEnvInt("AC_TILE_BUFFER", 64)
	if err != nil {
		return nil, fmt.Errorf("AC_TILE_BUFFER: %w", err)
	}
	if cfg.TileBuffer < 0 || cfg.TileBuffer > extent/2 {
		return nil, fmt.Errorf("AC_TILE_BUFFER: значение %d вне допустимого диапазона 0-%d", cfg.TileBuffer, extent/2)
	}

	cfg.TileMaxZoom, err = getEnvInt("AC_TILE_MAX_ZOOM", 24)
	if err != nil {
		return nil, fmt.Errorf("AC_TILE_MAX_ZOOM: %w", err)
	}
	if cfg.TileMaxZoom < 0 || cfg.TileMaxZoom > 30 {
		return nil, fmt.Errorf("AC_TILE_MAX_ZOOM: значение %d вне допустимого диапазона 0-30", cfg.TileMaxZoom)
	}

	cfg.TileCacheBackend = getEnvDefault("AC_TILE_CACHE_BACKEND", TileCacheMemory)
	if cfg.TileCacheBackend != TileCacheMemory && cfg.TileCacheBackend != TileCacheRedis {
		return nil, fmt.Errorf("AC_TILE_CACHE_BACKEND: недопустимое значение %q, допустимые: memory, redis", cfg.TileCacheBackend)
	}

	cfg.TileCacheSize, err = getEnvInt("AC_TILE_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("AC_TILE_CACHE_SIZE: %w", err)
	}
	if cfg.TileCacheSize < 1 {
		return nil, fmt.Errorf("AC_TILE_CACHE_SIZE: значение должно быть > 0")
	}

	cfg.TileCacheTTL, err = getEnvDuration("AC_TILE_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AC_TILE_CACHE_TTL: %w", err)
	}

	cfg.RedisURL = getEnvDefault("AC_REDIS_URL", "")
	if cfg.TileCacheBackend == TileCacheRedis && cfg.RedisURL == "" {
		return nil, fmt.Errorf("AC_REDIS_URL: обязателен при AC_TILE_CACHE_BACKEND=redis")
	}

	// --- Сессии загрузки ---

	cfg.UploadSessionTimeout, err = getEnvDuration("AC_UPLOAD_SESSION_TIMEOUT", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AC_UPLOAD_SESSION_TIMEOUT: %w", err)
	}
	if cfg.UploadSessionTimeout <= 0 {
		return nil, fmt.Errorf("AC_UPLOAD_SESSION_TIMEOUT: значение должно быть > 0")
	}
	cfg.UploadSweepInterval, err = getEnvDuration("AC_UPLOAD_SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AC_UPLOAD_SWEEP_INTERVAL: %w", err)
	}
	if cfg.UploadSweepInterval <= 0 {
		return nil, fmt.Errorf("AC_UPLOAD_SWEEP_INTERVAL: значение должно быть > 0")
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("AC_DEPHEALTH_GROUP", "acervo")
	cfg.DephealthCheckInterval, err = getEnvDuration("AC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("AC_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов dephealth).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
